package driver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmb-lang/bmb/internal/mir"
)

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(Options{CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func writeSource(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.bmb")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckAcceptsValidProgram(t *testing.T) {
	p := testPipeline(t)
	res := p.Check(writeSource(t, `fn main() -> i64 = { println(1); 0 };`))
	if res.Failed() {
		t.Fatalf("diagnostics: %v", res.Sink.Diagnostics())
	}
	if res.Sink.ExitCode() != 0 {
		t.Errorf("exit code %d", res.Sink.ExitCode())
	}
}

func TestCheckStopsAtFirstFailedPhase(t *testing.T) {
	p := testPipeline(t)
	res := p.Check(writeSource(t, `fn main() -> i64 = undefined_name;`))
	if !res.Failed() {
		t.Fatal("expected a TypeError")
	}
	if res.Sink.ExitCode() != 1 {
		t.Errorf("exit code %d, want 1", res.Sink.ExitCode())
	}
}

func TestCheckMissingFile(t *testing.T) {
	p := testPipeline(t)
	res := p.Check(filepath.Join(t.TempDir(), "nope.bmb"))
	if !res.Failed() {
		t.Fatal("expected a failure for a missing file")
	}
}

func TestOptArgsDefault(t *testing.T) {
	m := &mir.Module{Funcs: []*mir.Func{{Name: "f"}}}
	args := optArgs(m)
	if strings.Join(args, " ") != "-O2 --slp-max-vf=1" {
		t.Errorf("default opt args: %v", args)
	}
}

// @pure functions with preconditions over by-value stack arrays stay on
// plain -O2, the documented dominance-error workaround.
func TestOptArgsPureWithPreOverStackArray(t *testing.T) {
	m := &mir.Module{Funcs: []*mir.Func{
		{Name: "plain"},
		{Name: "risky", HasPreOverStackArray: true},
	}}
	args := optArgs(m)
	if strings.Join(args, " ") != "-O2" {
		t.Errorf("workaround opt args: %v", args)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("BMB_SMT_TIMEOUT_MS", "1234")
	t.Setenv("BMB_RUNTIME_PATH", "/tmp/libbmbrt.a")
	o := Options{}.FromEnv()
	if o.VerifyTimeout != 1234 {
		t.Errorf("timeout %d", o.VerifyTimeout)
	}
	if o.RuntimePath != "/tmp/libbmbrt.a" {
		t.Errorf("runtime path %q", o.RuntimePath)
	}
	if o.OptBin != "opt" || o.LLCBin != "llc" || o.CCBin != "cc" {
		t.Errorf("tool defaults: %+v", o)
	}
}

func TestModuleName(t *testing.T) {
	if got := moduleName("/path/to/widget.bmb"); got != "widget" {
		t.Errorf("got %q", got)
	}
}

func TestSummarizeCountsAndExitCode(t *testing.T) {
	p := testPipeline(t)
	good := p.Check(writeSource(t, `fn main() -> i64 = 0;`))
	bad := p.Check(writeSource(t, `fn main() -> i64 = nope;`))
	var out strings.Builder
	exit := Summarize(&out, []BuildResult{good, bad})
	if exit != 1 {
		t.Errorf("exit %d, want 1", exit)
	}
	if !strings.Contains(out.String(), "1 passed, 1 failed") {
		t.Errorf("summary: %s", out.String())
	}
}
