// bmb-bootstrap is the release gate's entry point: it drives the
// three-stage bootstrap fixed-point check and the manifest-driven
// end-to-end test suite against a candidate compiler binary.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/bmb-lang/bmb/internal/bootstrap"
)

func main() {
	app := &cli.App{
		Name:  "bmb-bootstrap",
		Usage: "three-stage bootstrap verification for the bmb compiler",
		Commands: []*cli.Command{
			{
				Name:  "verify",
				Usage: "compile stage1..stage3 and require stage2 IR == stage3 IR",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "stage0", Required: true, Usage: "path to the foreign stage-0 compiler binary"},
					&cli.StringFlag{Name: "source", Required: true, Usage: "self-hosted compiler source file"},
					&cli.StringFlag{Name: "workdir", Usage: "directory for stage binaries and IR (temp dir if unset)"},
					&cli.DurationFlag{Name: "stage-timeout", Value: 10 * time.Minute, Usage: "per-stage compile timeout"},
				},
				Action: func(c *cli.Context) error {
					v := &bootstrap.Verifier{
						Stage0:  c.String("stage0"),
						Source:  c.String("source"),
						WorkDir: c.String("workdir"),
						Timeout: c.Duration("stage-timeout"),
					}
					res, err := v.Run(c.Context)
					if res != nil {
						fmt.Fprint(c.App.Writer, res.Report())
					}
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					if !res.FixedPoint {
						return cli.Exit("bootstrap fixed point not reached", 1)
					}
					return nil
				},
			},
			{
				Name:  "test",
				Usage: "run a bootstrap test manifest against a compiler binary",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "compiler", Required: true, Usage: "compiler binary to test"},
					&cli.StringFlag{Name: "manifest", Required: true, Usage: "manifest file: filename|expected-first-line per line"},
				},
				Action: func(c *cli.Context) error {
					f, err := os.Open(c.String("manifest"))
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					defer f.Close()
					cases, err := bootstrap.ParseManifest(f)
					if err != nil {
						return cli.Exit(err.Error(), 2)
					}
					results := bootstrap.RunManifest(c.Context, c.String("compiler"), cases)
					if failed := bootstrap.ReportTests(c.App.Writer, results); failed > 0 {
						return cli.Exit("", 1)
					}
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
