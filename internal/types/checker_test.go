package types

import (
	"testing"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/parser"
)

func check(t *testing.T, src string) (*ast.Module, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	toks := lexer.New("test.bmb", []byte(src), sink).Scan()
	mod := parser.New("test.bmb", toks, sink).ParseModule("test")
	if sink.HasErrors() {
		t.Fatalf("frontend errors before checking: %v", sink.Diagnostics())
	}
	NewChecker(sink).CheckModule(mod)
	return mod, sink
}

func checkOK(t *testing.T, src string) *ast.Module {
	t.Helper()
	mod, sink := check(t, src)
	if sink.HasErrors() {
		t.Fatalf("unexpected type errors: %v", sink.Diagnostics())
	}
	return mod
}

func fnDecl(t *testing.T, mod *ast.Module, name string) *ast.FnDecl {
	t.Helper()
	for _, d := range mod.Decls {
		if fn, ok := d.(*ast.FnDecl); ok && fn.Name == name {
			return fn
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

func TestSimpleInference(t *testing.T) {
	checkOK(t, `fn main() -> i64 = { let x = 1; let y = x + 2; y };`)
}

func TestReturnTypeMismatch(t *testing.T) {
	_, sink := check(t, `fn f() -> i64 = "nope";`)
	if !sink.HasErrors() {
		t.Fatal("expected a TypeError")
	}
}

// The generic-struct-field-access regression: a generic struct used as
// a parameter must register its base name so field indices resolve;
// field types must substitute the concrete arguments.
func TestGenericStructFieldAccess(t *testing.T) {
	mod := checkOK(t, `
struct Pair<A, B> { fst: A, snd: B }
fn useit() -> i64 = { let p = new Pair<i64, i64> { fst: 1, snd: 2 }; p.fst + p.snd };`)
	fn := fnDecl(t, mod, "useit")
	chain := fn.Body.(*ast.BlockExpr).Chain
	le := chain.(*ast.LetExpr)
	st, ok := ast.Underlying(le.Value.GetType()).(*ast.StructType)
	if !ok {
		t.Fatalf("struct literal typed as %T", le.Value.GetType())
	}
	if st.MonomorphName() != "Pair$i64$i64" {
		t.Errorf("monomorph name: %q", st.MonomorphName())
	}
	add := le.Body.(*ast.BinaryExpr)
	fst := add.Left.(*ast.FieldAccessExpr)
	snd := add.Right.(*ast.FieldAccessExpr)
	if fst.GetType().String() != "i64" || snd.GetType().String() != "i64" {
		t.Errorf("field types: fst=%s snd=%s", fst.GetType(), snd.GetType())
	}
}

func TestGenericParamRegistersVarStructType(t *testing.T) {
	checkOK(t, `
struct Pair<A, B> { fst: A, snd: B }
fn fst(p: Pair<i64, i64>) -> i64 = p.fst;
fn snd(p: Pair<i64, i64>) -> i64 = p.snd;`)
}

// Nullability: null unifies with T?, T auto-wraps, and an if joining T
// with null infers T?.
func TestNullabilityRules(t *testing.T) {
	checkOK(t, `fn f(x: i64) -> i64? = if x > 0 { x } else { null };`)

	mod := checkOK(t, `fn g(v: string) -> i64 = { let dir = if len(v) > 0 { v } else { "default" }; len(dir) };`)
	fn := fnDecl(t, mod, "g")
	le := fn.Body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
	if le.Value.GetType().String() != "string" {
		t.Errorf("join of two strings typed %s", le.Value.GetType())
	}
}

func TestNullJoinInfersNullable(t *testing.T) {
	mod := checkOK(t, `fn f(x: i64) -> i64? = { let r = if x > 0 { x } else { null }; r };`)
	fn := fnDecl(t, mod, "f")
	le := fn.Body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
	if !ast.IsNullable(le.Value.GetType()) {
		t.Errorf("if-null join typed %s, want nullable", le.Value.GetType())
	}
}

// Index through a reference produces the element type without copying.
func TestIndexThroughReference(t *testing.T) {
	mod := checkOK(t, `fn g(a: &[i64; 10], i: i64) -> i64 = a[i];`)
	fn := fnDecl(t, mod, "g")
	if fn.Body.GetType().String() != "i64" {
		t.Errorf("a[i] typed %s", fn.Body.GetType())
	}
}

func TestStringIndexing(t *testing.T) {
	checkOK(t, `fn f(s: string) -> i64 = s[0];`)
}

func TestBuiltinResolution(t *testing.T) {
	checkOK(t, `
fn main() -> i64 = {
  let v = vec_new();
  let x = vec_push(v, 7);
  let m = hashmap_new();
  let y = hashmap_insert(m, 42, 100);
  println(hashmap_get(m, 42));
  0
};`)
}

func TestUndefinedNameSuggestion(t *testing.T) {
	_, sink := check(t, `fn main() -> i64 = { let count = 1; cuont };`)
	if !sink.HasErrors() {
		t.Fatal("expected a TypeError")
	}
	found := false
	for _, d := range sink.Diagnostics() {
		if d.Suggestion == "count" {
			found = true
		}
	}
	if !found {
		t.Errorf("no did-you-mean suggestion in %v", sink.Diagnostics())
	}
}

func TestArityMismatch(t *testing.T) {
	_, sink := check(t, `
fn add(a: i64, b: i64) -> i64 = a + b;
fn main() -> i64 = add(1);`)
	if !sink.HasErrors() {
		t.Fatal("expected a TypeError for wrong arity")
	}
}

func TestMatchExhaustiveness(t *testing.T) {
	// Enum scrutinee with a missing variant and no wildcard must error.
	_, sink := check(t, `
enum Color { Red, Green, Blue }
fn f(c: Color) -> i64 = match c {
  Color::Red => 1,
  Color::Green => 2,
};`)
	if !sink.HasErrors() {
		t.Fatal("expected an exhaustiveness TypeError for the missing Blue variant")
	}

	// Adding the missing variant (or a wildcard) makes it pass.
	checkOK(t, `
enum Color { Red, Green, Blue }
fn f(c: Color) -> i64 = match c {
  Color::Red => 1,
  Color::Green => 2,
  _ => 3,
};`)
}

func TestFreeReturnsI64(t *testing.T) {
	// free composes in conditional branches because it returns i64.
	checkOK(t, `fn f(v: i64, flag: bool) -> i64 = if flag { free(v) } else { 0 };`)
}

func TestAccumulatesMultipleErrors(t *testing.T) {
	_, sink := check(t, `
fn f() -> i64 = missing_one;
fn g() -> i64 = missing_two;`)
	errs := 0
	for _, d := range sink.Diagnostics() {
		if d.Severity >= diag.SevError {
			errs++
		}
	}
	if errs < 2 {
		t.Errorf("got %d errors, want one per function", errs)
	}
}
