package driver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/parser"
	"github.com/bmb-lang/bmb/internal/types"
)

// REPL reads top-level declarations from in, one blank-line-terminated
// chunk at a time, and runs the frontend over the accumulated program.
// Declarations that fail to check are dropped from the session; the
// rest persist, so later input can reference earlier definitions.
func (p *Pipeline) REPL(in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "bmb repl — blank line submits, ctrl-d exits")
	scanner := bufio.NewScanner(in)
	printer := diag.NewPrinter(out)

	var session []string
	var chunk []string
	prompt := func() { fmt.Fprint(out, "> ") }
	prompt()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			chunk = append(chunk, line)
			prompt()
			continue
		}
		if len(chunk) == 0 {
			prompt()
			continue
		}
		candidate := append(append([]string{}, session...), chunk...)
		chunk = nil

		src := strings.Join(candidate, "\n")
		sink := diag.NewSink()
		lx := lexer.New("<repl>", []byte(src), sink)
		tokens := lx.Scan()
		if !lx.HadError() {
			ps := parser.New("<repl>", tokens, sink)
			mod := ps.ParseModule("repl")
			if !ps.Failed() && !sink.HasErrors() {
				types.NewChecker(sink).CheckModule(mod)
			}
		}
		if sink.HasErrors() {
			for _, d := range sink.Diagnostics() {
				printer.Print(d)
			}
		} else {
			session = candidate
			fmt.Fprintln(out, "ok")
		}
		prompt()
	}
}
