package diag

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/xrash/smetrics"
)

// Printer renders diagnostics with a colorized severity tag and a
// caret-annotated source snippet.
type Printer struct {
	Out    io.Writer
	Source map[string][]byte // file name -> full contents, for snippet rendering
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{Out: out, Source: map[string][]byte{}}
}

func (p *Printer) tag(sev Severity) string {
	switch sev {
	case SevError, SevInternal:
		return color.RedString(sev.String())
	case SevWarning:
		return color.YellowString(sev.String())
	default:
		return color.CyanString(sev.String())
	}
}

// Print writes one diagnostic: "file:line:col: [tag] Kind: message",
// followed by the offending source line and a caret, and the
// counterexample bindings when present.
func (p *Printer) Print(d Diagnostic) {
	fmt.Fprintf(p.Out, "%s: [%s] %s: %s\n", d.Span, p.tag(d.Severity), d.Kind, d.Message)
	if d.Suggestion != "" {
		fmt.Fprintf(p.Out, "  %s did you mean %q?\n", color.CyanString("help:"), d.Suggestion)
	}
	if line := p.snippet(d.Span); line != "" {
		fmt.Fprintf(p.Out, "  %s\n", line)
		fmt.Fprintf(p.Out, "  %s%s\n", strings.Repeat(" ", max(0, d.Span.Col-1)), color.RedString("^"))
	}
	if len(d.Counterexample) > 0 {
		fmt.Fprintln(p.Out, "  counterexample:")
		for k, v := range d.Counterexample {
			fmt.Fprintf(p.Out, "    %s = %s\n", k, v)
		}
	}
}

func (p *Printer) snippet(sp Span) string {
	contents, ok := p.Source[sp.File]
	if !ok {
		return ""
	}
	lines := strings.Split(string(contents), "\n")
	if sp.Line-1 < 0 || sp.Line-1 >= len(lines) {
		return ""
	}
	return lines[sp.Line-1]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Suggest picks the closest candidate to `name` by Jaro-Winkler
// similarity, used for "undefined name" / "unknown runtime call"
// diagnostics. Returns "" if nothing clears the acceptance threshold.
func Suggest(name string, candidates []string) string {
	best := ""
	bestScore := 0.0
	const threshold = 0.82
	for _, c := range candidates {
		score := smetrics.JaroWinkler(name, c, 0.7, 4)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < threshold {
		return ""
	}
	return best
}
