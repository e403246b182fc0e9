// Package driver wires the compilation phases end to end: parse →
// type-check → verify → lower → emit → opt → llc → link. The in-process
// phases accumulate diagnostics into one sink per compilation unit; a
// phase that errors stops downstream phases for that unit only. The
// external tool stages (opt, llc, the C linker driver) are retried with
// bounded backoff, since they can transiently fail under parallel
// worker fan-out.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/cache"
	"github.com/bmb-lang/bmb/internal/codegen/llvm"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/mir"
	"github.com/bmb-lang/bmb/internal/parser"
	"github.com/bmb-lang/bmb/internal/smt"
	"github.com/bmb-lang/bmb/internal/types"
)

// Options carries the compiler flags and environment variables.
type Options struct {
	EmitIR        bool   // --emit-ir: keep the .ll next to the output
	EmitSMT       bool   // --emit-smt: persist query text in the cache
	VerifyTimeout int    // --verify-timeout, milliseconds
	StrictVerify  bool   // treat solver unknown as an error
	LTO           bool   // --lto
	PGO           string // --pgo=generate|use, empty when off
	Triple        string // target triple for the emitter
	RuntimePath   string // BMB_RUNTIME_PATH: the runtime archive
	CacheDir      string // BMB_CACHE_DIR
	SolverBin     string // external SMT solver, default z3
	OptBin        string // default "opt"
	LLCBin        string // default "llc"
	CCBin         string // default "cc"
	Workers       int    // parallel module workers; <=1 means serial
}

// FromEnv fills the environment-driven fields that are unset.
func (o Options) FromEnv() Options {
	if o.RuntimePath == "" {
		o.RuntimePath = os.Getenv("BMB_RUNTIME_PATH")
	}
	if o.CacheDir == "" {
		o.CacheDir = os.Getenv("BMB_CACHE_DIR")
	}
	if o.VerifyTimeout == 0 {
		if ms, err := strconv.Atoi(os.Getenv("BMB_SMT_TIMEOUT_MS")); err == nil && ms > 0 {
			o.VerifyTimeout = ms
		}
	}
	if o.OptBin == "" {
		o.OptBin = "opt"
	}
	if o.LLCBin == "" {
		o.LLCBin = "llc"
	}
	if o.CCBin == "" {
		o.CCBin = "cc"
	}
	return o
}

// BuildResult is one compilation unit's outcome.
type BuildResult struct {
	File     string
	Output   string // produced object/binary path, empty on failure
	Sink     *diag.Sink
	Duration time.Duration
}

func (r BuildResult) Failed() bool { return r.Sink.HasErrors() }

type Pipeline struct {
	Opts  Options
	cache *cache.Cache
}

func NewPipeline(opts Options) (*Pipeline, error) {
	opts = opts.FromEnv()
	c, err := cache.Open(opts.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Opts: opts, cache: c}, nil
}

// frontend runs the in-process phases shared by build/check/verify:
// lex, parse, type-check. Returns nil when any phase errored.
func (p *Pipeline) frontend(file string, src []byte, sink *diag.Sink) *ast.Module {
	lx := lexer.New(file, src, sink)
	tokens := lx.Scan()
	if lx.HadError() {
		return nil
	}
	ps := parser.New(file, tokens, sink)
	mod := ps.ParseModule(moduleName(file))
	if ps.Failed() || sink.HasErrors() {
		return nil
	}
	types.NewChecker(sink).CheckModule(mod)
	if sink.HasErrors() {
		return nil
	}
	return mod
}

func moduleName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Check runs lex/parse/type-check only (the `check` subcommand).
func (p *Pipeline) Check(file string) BuildResult {
	start := time.Now()
	sink := diag.NewSink()
	src, err := os.ReadFile(file)
	if err != nil {
		sink.Errorf(diag.KindLex, diag.Span{File: file}, "cannot read source: %v", err)
		return BuildResult{File: file, Sink: sink, Duration: time.Since(start)}
	}
	p.frontend(file, src, sink)
	return BuildResult{File: file, Sink: sink, Duration: time.Since(start)}
}

// Verify runs the frontend plus SMT discharge (the `verify` subcommand).
func (p *Pipeline) Verify(ctx context.Context, file string) BuildResult {
	start := time.Now()
	sink := diag.NewSink()
	src, err := os.ReadFile(file)
	if err != nil {
		sink.Errorf(diag.KindLex, diag.Span{File: file}, "cannot read source: %v", err)
		return BuildResult{File: file, Sink: sink, Duration: time.Since(start)}
	}
	mod := p.frontend(file, src, sink)
	if mod != nil {
		p.verify(ctx, mod, sink)
	}
	return BuildResult{File: file, Sink: sink, Duration: time.Since(start)}
}

func (p *Pipeline) verify(ctx context.Context, mod *ast.Module, sink *diag.Sink) {
	solver := smt.NewSolver(p.Opts.SolverBin, p.Opts.VerifyTimeout)
	v := smt.NewVerifier(solver, sink)
	v.VerifyModule(ctx, mod)
}

// Build runs the whole pipeline to a linked native binary. The link step
// always runs; the runtime archive is added to the link line only when
// one is configured.
func (p *Pipeline) Build(ctx context.Context, file, out string) BuildResult {
	start := time.Now()
	sink := diag.NewSink()
	res := BuildResult{File: file, Sink: sink}

	src, err := os.ReadFile(file)
	if err != nil {
		sink.Errorf(diag.KindLex, diag.Span{File: file}, "cannot read source: %v", err)
		res.Duration = time.Since(start)
		return res
	}

	srcHash := cache.Hash("build", cache.Version, p.Opts.Triple, string(src))
	if obj, ok := p.cache.GetPhase(srcHash, "o"); ok && out != "" {
		// Phase-output cache hit: the object bytes for this exact source
		// and target are already known; only the link step remains.
		cachedObj := filepath.Join(os.TempDir(), "bmb-"+uuid.NewString()+".o")
		if err := os.WriteFile(cachedObj, obj, 0o644); err == nil {
			linkErr := p.link(ctx, cachedObj, out, sink)
			os.Remove(cachedObj)
			if linkErr == nil {
				res.Output = out
				res.Duration = time.Since(start)
				return res
			}
		}
	}

	mod := p.frontend(file, src, sink)
	if mod == nil {
		res.Duration = time.Since(start)
		return res
	}

	p.verify(ctx, mod, sink)
	if sink.HasErrors() {
		res.Duration = time.Since(start)
		return res
	}

	lowered := mir.NewLowerer(sink).LowerModule(mod)
	if sink.HasErrors() {
		res.Duration = time.Since(start)
		return res
	}

	ir := llvm.NewEmitter(p.Opts.Triple, sink).Emit(lowered)
	if sink.HasErrors() {
		res.Duration = time.Since(start)
		return res
	}

	workDir := os.TempDir()
	base := filepath.Join(workDir, "bmb-"+uuid.NewString())
	llPath := base + ".ll"
	optPath := base + ".opt.ll"
	objPath := base + ".o"
	defer func() {
		if !p.Opts.EmitIR {
			os.Remove(llPath)
		}
		os.Remove(optPath)
		os.Remove(objPath)
	}()

	if err := os.WriteFile(llPath, []byte(ir), 0o644); err != nil {
		sink.Errorf(diag.KindCodegen, diag.Span{File: file}, "writing IR: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	if p.Opts.EmitIR {
		irOut := strings.TrimSuffix(out, filepath.Ext(out)) + ".ll"
		if out == "" {
			irOut = strings.TrimSuffix(file, filepath.Ext(file)) + ".ll"
		}
		os.WriteFile(irOut, []byte(ir), 0o644)
	}

	if err := p.optimize(ctx, llPath, optPath, lowered, sink); err != nil {
		res.Duration = time.Since(start)
		return res
	}
	if err := p.assemble(ctx, optPath, objPath, sink); err != nil {
		res.Duration = time.Since(start)
		return res
	}
	if obj, err := os.ReadFile(objPath); err == nil {
		p.cache.PutPhase(srcHash, "o", obj)
	}
	if out == "" {
		out = strings.TrimSuffix(file, filepath.Ext(file)) + ".o"
	}
	if err := p.link(ctx, objPath, out, sink); err != nil {
		res.Duration = time.Since(start)
		return res
	}

	res.Output = out
	res.Duration = time.Since(start)
	return res
}

// optArgs picks the optimizer invocation. The global default is -O2
// with --slp-max-vf=1 (the integer-division scalarization regression on
// x86-64); modules containing a @pure function with preconditions over
// by-value stack arrays stay on plain -O2 as well, never -O3, per the
// documented opt dominance error.
func optArgs(m *mir.Module) []string {
	args := []string{"-O2", "--slp-max-vf=1"}
	for _, fn := range m.Funcs {
		if fn.HasPreOverStackArray {
			return []string{"-O2"}
		}
	}
	return args
}

func (p *Pipeline) optimize(ctx context.Context, in, out string, m *mir.Module, sink *diag.Sink) error {
	args := append(optArgs(m), "-S", in, "-o", out)
	return p.runTool(ctx, sink, p.Opts.OptBin, args...)
}

func (p *Pipeline) assemble(ctx context.Context, in, out string, sink *diag.Sink) error {
	args := []string{"-O3", "-filetype=obj", in, "-o", out}
	return p.runTool(ctx, sink, p.Opts.LLCBin, args...)
}

func (p *Pipeline) link(ctx context.Context, obj, out string, sink *diag.Sink) error {
	args := []string{obj, "-o", out}
	if p.Opts.RuntimePath != "" {
		args = append(args, p.Opts.RuntimePath)
	}
	if p.Opts.LTO {
		args = append(args, "-flto")
	}
	switch p.Opts.PGO {
	case "generate":
		args = append(args, "-fprofile-generate")
	case "use":
		args = append(args, "-fprofile-use")
	}
	return p.runTool(ctx, sink, p.Opts.CCBin, args...)
}

// runTool invokes one external tool with bounded exponential backoff on
// process-start failures. A tool that ran and exited non-zero reported
// a real error; its stderr becomes the diagnostic and there is no retry.
func (p *Pipeline) runTool(ctx context.Context, sink *diag.Sink, bin string, args ...string) error {
	b := &backoff.Backoff{Min: 50 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		cmd := exec.CommandContext(ctx, bin, args...)
		var stderr strings.Builder
		cmd.Stderr = &stderr
		lastErr = cmd.Run()
		if lastErr == nil {
			return nil
		}
		if _, isExit := lastErr.(*exec.ExitError); isExit {
			sink.Errorf(diag.KindCodegen, diag.Span{}, "%s failed: %s", bin, strings.TrimSpace(stderr.String()))
			return lastErr
		}
		time.Sleep(b.Duration())
	}
	sink.Errorf(diag.KindCodegen, diag.Span{}, "cannot invoke %s: %v", bin, lastErr)
	return lastErr
}

// BuildAll compiles independent modules in parallel. Each worker owns
// its own sink, AST, MIR, and emission buffers; jobs are handed out over
// a channel and each result is stored at its own index of a shared slice
// under a mutex. Beyond that slice, no mutable state crosses worker
// boundaries except the file-locked persistent cache.
func (p *Pipeline) BuildAll(ctx context.Context, files []string) []BuildResult {
	workers := p.Opts.Workers
	if workers <= 1 || len(files) <= 1 {
		results := make([]BuildResult, len(files))
		for i, f := range files {
			results[i] = p.Build(ctx, f, outputFor(f))
		}
		return results
	}

	type job struct {
		idx  int
		file string
	}
	jobs := make(chan job)
	results := make([]BuildResult, len(files))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				r := p.Build(ctx, j.file, outputFor(j.file))
				mu.Lock()
				results[j.idx] = r
				mu.Unlock()
			}
		}()
	}
	for i, f := range files {
		jobs <- job{idx: i, file: f}
	}
	close(jobs)
	wg.Wait()
	return results
}

func outputFor(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file)) + ".out"
}

// Summarize prints one line per result plus a colored tally, the same
// pass/fail rendering the comparison harness uses.
func Summarize(w io.Writer, results []BuildResult) int {
	printer := diag.NewPrinter(w)
	passed, failed := 0, 0
	exit := 0
	for _, r := range results {
		for _, d := range r.Sink.Diagnostics() {
			printer.Print(d)
		}
		if r.Failed() {
			failed++
			fmt.Fprintf(w, "%s %s (%s)\n", color.RedString("failed"), r.File, r.Duration.Round(time.Millisecond))
		} else {
			passed++
			fmt.Fprintf(w, "%s %s (%s)\n", color.GreenString("passed"), r.File, r.Duration.Round(time.Millisecond))
		}
		if c := r.Sink.ExitCode(); c > exit {
			exit = c
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed\n", passed, failed)
	return exit
}
