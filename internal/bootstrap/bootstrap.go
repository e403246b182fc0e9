// Package bootstrap implements the three-stage fixed-point check that
// gates release: Stage0 (a foreign binary) compiles the self-hosted
// source into Stage1; Stage1 recompiles the same source into Stage2;
// Stage2 compiles it once more into Stage3. The check passes iff the
// Stage2 and Stage3 emitted IR are byte-for-byte identical. A mismatch
// means codegen is nondeterministic — historically HashMap iteration
// order leaking into emission — and is fatal.
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jpillora/backoff"
)

// Stages in the fixed-point chain.
const (
	Stage1 = 1
	Stage2 = 2
	Stage3 = 3
)

type Verifier struct {
	// Stage0 is the foreign compiler binary that starts the chain.
	Stage0 string
	// Source is the self-hosted compiler source file.
	Source string
	// WorkDir receives the stage binaries and emitted IR; a temp
	// directory when empty.
	WorkDir string
	// Timeout bounds each stage's compile; zero means 10 minutes.
	Timeout time.Duration
}

// StageResult is one stage's compile outcome.
type StageResult struct {
	Stage    int
	Binary   string
	IR       string // path of the emitted .ll
	Duration time.Duration
}

// Result is the whole chain's outcome.
type Result struct {
	Stages     []StageResult
	FixedPoint bool
	// Divergence is a short description of the first differing line
	// (or of the line counts) between Stage2 and Stage3 IR when
	// FixedPoint is false.
	Divergence string
}

// Run drives the chain. Every stage compiles the same source with the
// previous stage's binary; the driver pipeline's --emit-ir flag makes
// each stage leave its IR next to its output for the byte comparison.
func (v *Verifier) Run(ctx context.Context) (*Result, error) {
	work := v.WorkDir
	if work == "" {
		var err error
		work, err = os.MkdirTemp("", "bmb-bootstrap-")
		if err != nil {
			return nil, fmt.Errorf("bootstrap: workdir: %w", err)
		}
	}
	timeout := v.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}

	res := &Result{}
	compiler := v.Stage0
	for stage := Stage1; stage <= Stage3; stage++ {
		out := filepath.Join(work, fmt.Sprintf("stage%d", stage))
		start := time.Now()
		if err := v.compileStage(ctx, compiler, out, timeout); err != nil {
			return res, fmt.Errorf("bootstrap: stage%d compile with %s: %w", stage, filepath.Base(compiler), err)
		}
		sr := StageResult{
			Stage:    stage,
			Binary:   out,
			IR:       out + ".ll",
			Duration: time.Since(start),
		}
		res.Stages = append(res.Stages, sr)
		compiler = out
	}

	ir2, err := os.ReadFile(res.Stages[1].IR)
	if err != nil {
		return res, fmt.Errorf("bootstrap: reading stage2 IR: %w", err)
	}
	ir3, err := os.ReadFile(res.Stages[2].IR)
	if err != nil {
		return res, fmt.Errorf("bootstrap: reading stage3 IR: %w", err)
	}
	res.FixedPoint, res.Divergence = CompareIR(ir2, ir3)
	return res, nil
}

// compileStage invokes one stage's compiler. Process-start failures are
// retried with backoff; a compile that ran and failed is terminal.
func (v *Verifier) compileStage(ctx context.Context, compiler, out string, timeout time.Duration) error {
	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 3 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		cmd := exec.CommandContext(runCtx, compiler, "build", v.Source, "-o", out, "--emit-ir")
		var stderr strings.Builder
		cmd.Stderr = &stderr
		lastErr = cmd.Run()
		cancel()
		if lastErr == nil {
			return nil
		}
		if _, isExit := lastErr.(*exec.ExitError); isExit {
			return fmt.Errorf("%w (stderr: %s)", lastErr, strings.TrimSpace(stderr.String()))
		}
		time.Sleep(b.Duration())
	}
	return lastErr
}

// CompareIR reports whether two IR byte slices are identical, and on
// mismatch names the first diverging line so the nondeterminism is
// locatable without a manual diff.
func CompareIR(a, b []byte) (bool, string) {
	if bytes.Equal(a, b) {
		return true, ""
	}
	// A trailing newline ends the last line rather than starting an
	// empty one, so IR that only gains or loses lines at the end is
	// reported by line count.
	al := bytes.Split(bytes.TrimSuffix(a, []byte("\n")), []byte("\n"))
	bl := bytes.Split(bytes.TrimSuffix(b, []byte("\n")), []byte("\n"))
	n := len(al)
	if len(bl) < n {
		n = len(bl)
	}
	for i := 0; i < n; i++ {
		if !bytes.Equal(al[i], bl[i]) {
			return false, fmt.Sprintf("line %d: stage2 %q vs stage3 %q", i+1, truncate(al[i]), truncate(bl[i]))
		}
	}
	if len(al) == len(bl) {
		return false, "stage2 and stage3 differ only in a trailing newline"
	}
	return false, fmt.Sprintf("stage2 has %d lines, stage3 has %d", len(al), len(bl))
}

func truncate(b []byte) string {
	s := string(b)
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

// Report renders the chain's outcome in the harness's pass/fail idiom.
func (r *Result) Report() string {
	var sb strings.Builder
	for _, s := range r.Stages {
		fmt.Fprintf(&sb, "stage%d: %s (%s)\n", s.Stage, s.Binary, s.Duration.Round(time.Millisecond))
	}
	if r.FixedPoint {
		fmt.Fprintf(&sb, "%s bootstrap fixed point: stage2 IR == stage3 IR\n", color.GreenString("passed"))
	} else {
		fmt.Fprintf(&sb, "%s bootstrap fixed point: %s\n", color.RedString("failed"), r.Divergence)
	}
	return sb.String()
}
