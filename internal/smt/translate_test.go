package smt

import (
	"strings"
	"testing"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/contract"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/parser"
)

func parseSrc(t *testing.T, src string) *ast.Module {
	t.Helper()
	sink := diag.NewSink()
	toks := lexer.New("test.bmb", []byte(src), sink).Scan()
	mod := parser.New("test.bmb", toks, sink).ParseModule("test")
	if sink.HasErrors() {
		t.Fatalf("frontend: %v", sink.Diagnostics())
	}
	return mod
}

func firstFn(t *testing.T, mod *ast.Module) *ast.FnDecl {
	t.Helper()
	for _, d := range mod.Decls {
		if fn, ok := d.(*ast.FnDecl); ok {
			return fn
		}
	}
	t.Fatal("no function")
	return nil
}

func TestObligationQueryShape(t *testing.T) {
	mod := parseSrc(t, `fn abs(x: i64) -> i64 post ret >= 0 = if x >= 0 { x } else { 0 - x };`)
	fn := firstFn(t, mod)
	fo := contract.Extract(fn)
	if len(fo.Obligations) != 1 {
		t.Fatalf("obligations: %v", fo.Obligations)
	}
	q := TranslateObligation(fn, fo, fo.Obligations[0], nil)
	for _, want := range []string{
		"(declare-const x Int)",
		"(declare-const ret Int)",
		"(assert (not (>= ret 0)))",
		"(check-sat)",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}

func TestPreconditionsAssumedForPostconditions(t *testing.T) {
	mod := parseSrc(t, `fn f(a: i64, b: i64) -> i64 pre b != 0 post ret * b <= a = a / b;`)
	fn := firstFn(t, mod)
	fo := contract.Extract(fn)
	var post contract.Obligation
	for _, ob := range fo.Obligations {
		if ob.Kind == contract.KindPostcondition {
			post = ob
		}
	}
	q := TranslateObligation(fn, fo, post, nil)
	if !strings.Contains(q, "(assert (not (= b 0)))") {
		t.Errorf("precondition not assumed:\n%s", q)
	}
}

func TestOldSnapshotsDeclared(t *testing.T) {
	mod := parseSrc(t, `fn bump(x: i64) -> i64 post ret > old(x) = x + 1;`)
	fn := firstFn(t, mod)
	fo := contract.Extract(fn)
	q := TranslateObligation(fn, fo, fo.Obligations[0], []string{"x"})
	if !strings.Contains(q, "(declare-const old_x Int)") {
		t.Errorf("old snapshot not declared:\n%s", q)
	}
	if !strings.Contains(q, "(> ret old_x)") {
		t.Errorf("old(x) not translated:\n%s", q)
	}
}

// The divide(10, 0) scenario: the call-site obligation substitutes the
// literal arguments into the callee's refinement, producing a goal the
// solver will refute with b = 0.
func TestCallSiteObligationForRefinedParam(t *testing.T) {
	mod := parseSrc(t, `
fn divide(a: i64, b: i64{it != 0}) -> i64 = a / b;
fn main() -> i64 = { println(divide(10, 0)); 0 };`)
	fns := map[string]*ast.FnDecl{}
	var mainFn *ast.FnDecl
	for _, d := range mod.Decls {
		fn := d.(*ast.FnDecl)
		fns[fn.Name] = fn
		if fn.Name == "main" {
			mainFn = fn
		}
	}
	obs := CollectCallSites(mainFn, fns)
	if len(obs) != 1 {
		t.Fatalf("got %d call-site obligations, want 1", len(obs))
	}
	ob := obs[0]
	if ob.Kind != contract.KindRefinement {
		t.Errorf("kind %s", ob.Kind)
	}
	if !strings.Contains(ob.Goal, "(not (= 0 0))") {
		t.Errorf("goal did not substitute the argument: %s", ob.Goal)
	}
	q := TranslateCallSite(ob)
	if !strings.Contains(q, "(assert (not (not (= 0 0))))") {
		t.Errorf("query shape:\n%s", q)
	}
}

func TestCallSitePreconditionsSubstituteArguments(t *testing.T) {
	mod := parseSrc(t, `
fn divide(a: i64, b: i64) -> i64 pre b != 0 = a / b;
fn use2(x: i64) -> i64 pre x != 0 = divide(10, x);`)
	fns := map[string]*ast.FnDecl{}
	var caller *ast.FnDecl
	for _, d := range mod.Decls {
		fn := d.(*ast.FnDecl)
		fns[fn.Name] = fn
		if fn.Name == "use2" {
			caller = fn
		}
	}
	obs := CollectCallSites(caller, fns)
	if len(obs) != 1 {
		t.Fatalf("obligations: %d", len(obs))
	}
	if !strings.Contains(obs[0].Goal, "(not (= x 0))") {
		t.Errorf("argument substitution: %s", obs[0].Goal)
	}
	// The caller's own precondition is assumed, making the goal provable.
	q := TranslateCallSite(obs[0])
	if !strings.Contains(q, "(assert (not (= x 0)))") {
		t.Errorf("caller precondition not assumed:\n%s", q)
	}
}

// @trust on the callee leaves the caller's obligations intact.
func TestTrustDoesNotSuppressCallerObligations(t *testing.T) {
	mod := parseSrc(t, `
@trust
fn divide(a: i64, b: i64) -> i64 pre b != 0 = a / b;
fn main() -> i64 = divide(10, 0);`)
	fns := map[string]*ast.FnDecl{}
	var mainFn *ast.FnDecl
	for _, d := range mod.Decls {
		fn := d.(*ast.FnDecl)
		fns[fn.Name] = fn
		if fn.Name == "main" {
			mainFn = fn
		}
	}
	if obs := CollectCallSites(mainFn, fns); len(obs) != 1 {
		t.Fatalf("trust removed the caller-side obligation: %d", len(obs))
	}
}

func TestClassifySolverOutput(t *testing.T) {
	if r, _, _ := classify("unsat\n"); r != Proved {
		t.Errorf("unsat: %v", r)
	}
	r, model, _ := classify("sat\n(model (define-fun b () Int 0))")
	if r != Counterexample {
		t.Errorf("sat: %v", r)
	}
	if model["b"] != "0" {
		t.Errorf("model: %v", model)
	}
	if r, _, _ := classify("unknown\n"); r != Unknown {
		t.Errorf("unknown: %v", r)
	}
}

func TestProofCacheKeySensitivity(t *testing.T) {
	modA := parseSrc(t, `fn f(a: i64) -> i64 pre a > 0 = a;`)
	modB := parseSrc(t, `fn f(a: i64) -> i64 pre a > 1 = a;`)
	fnA, fnB := firstFn(t, modA), firstFn(t, modB)
	foA, foB := contract.Extract(fnA), contract.Extract(fnB)
	cache := NewProofCache()
	kA := cache.Key(fnA, foA, foA.Obligations[0])
	kB := cache.Key(fnB, foB, foB.Obligations[0])
	if kA == kB {
		t.Error("contract change did not change the cache key")
	}
	kA2 := cache.Key(fnA, foA, foA.Obligations[0])
	if kA != kA2 {
		t.Error("cache key is not deterministic")
	}

	cache.Put(kA, Proved, nil)
	if r, _, err := cache.Get(kA); err != nil || r != Proved {
		t.Errorf("cache roundtrip: %v %v", r, err)
	}
	if _, _, err := cache.Get(kB); err == nil {
		t.Error("expected a miss for the changed contract")
	}
}
