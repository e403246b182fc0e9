package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
)

// TestCase is one line of the bootstrap test manifest:
// `filename|expected-first-line-of-stdout`.
type TestCase struct {
	File     string
	Expected string
}

// TestResult pairs a case with what actually happened.
type TestResult struct {
	Case     TestCase
	Got      string
	Passed   bool
	Err      error
	Duration time.Duration
}

// ParseManifest reads the plain-text manifest format: one test per
// line, blank lines and lines starting with # ignored.
func ParseManifest(r io.Reader) ([]TestCase, error) {
	var cases []TestCase
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		file, expected, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("manifest line %d: missing '|' separator", lineNo)
		}
		cases = append(cases, TestCase{File: strings.TrimSpace(file), Expected: expected})
	}
	return cases, scanner.Err()
}

// RunManifest compiles and executes each case with the given compiler
// binary and compares the first line of stdout against the expectation.
func RunManifest(ctx context.Context, compiler string, cases []TestCase) []TestResult {
	results := make([]TestResult, 0, len(cases))
	for _, tc := range cases {
		results = append(results, runCase(ctx, compiler, tc))
	}
	return results
}

func runCase(ctx context.Context, compiler string, tc TestCase) TestResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, compiler, "run", tc.File)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	got := FirstLine(stdout.String())
	return TestResult{
		Case:     tc,
		Got:      got,
		Passed:   err == nil && got == tc.Expected,
		Err:      err,
		Duration: time.Since(start),
	}
}

// FirstLine extracts the comparison line from captured stdout.
func FirstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimRight(line, "\r")
}

// ReportTests renders one colored line per case plus a tally, and
// returns the count of failures.
func ReportTests(w io.Writer, results []TestResult) int {
	failed := 0
	for _, r := range results {
		if r.Passed {
			fmt.Fprintf(w, "%s %s (%s)\n", color.GreenString("passed"), r.Case.File, r.Duration.Round(time.Millisecond))
			continue
		}
		failed++
		if r.Err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", color.RedString("failed"), r.Case.File, r.Err)
		} else {
			fmt.Fprintf(w, "%s %s: expected %q, got %q\n", color.RedString("failed"), r.Case.File, r.Case.Expected, r.Got)
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed\n", len(results)-failed, failed)
	return failed
}
