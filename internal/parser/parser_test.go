package parser

import (
	"testing"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
)

func parse(t *testing.T, src string) (*ast.Module, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	toks := lexer.New("test.bmb", []byte(src), sink).Scan()
	if sink.HasErrors() {
		t.Fatalf("lex errors: %v", sink.Diagnostics())
	}
	mod := New("test.bmb", toks, sink).ParseModule("test")
	return mod, sink
}

func parseOK(t *testing.T, src string) *ast.Module {
	t.Helper()
	mod, sink := parse(t, src)
	if sink.HasErrors() {
		t.Fatalf("parse errors: %v", sink.Diagnostics())
	}
	return mod
}

func fnBody(t *testing.T, mod *ast.Module, name string) ast.Expr {
	t.Helper()
	for _, d := range mod.Decls {
		if fn, ok := d.(*ast.FnDecl); ok && fn.Name == name {
			return fn.Body
		}
	}
	t.Fatalf("no function %q", name)
	return nil
}

// chainOf unwraps the BlockExpr the statement-flavored block production
// returns and walks the right-nested Let chain, returning the bound
// names in order plus the tail.
func chainOf(t *testing.T, e ast.Expr) ([]string, ast.Expr) {
	t.Helper()
	if be, ok := e.(*ast.BlockExpr); ok {
		e = be.Chain
	}
	var names []string
	for {
		le, ok := e.(*ast.LetExpr)
		if !ok {
			return names, e
		}
		names = append(names, le.Name)
		e = le.Body
	}
}

func TestBlockDesugarsToNestedLets(t *testing.T) {
	mod := parseOK(t, `fn f() -> i64 = { let x = 1; let y = 2; x + y };`)
	names, tail := chainOf(t, fnBody(t, mod, "f"))
	if len(names) != 2 || names[0] != "x" || names[1] != "y" {
		t.Fatalf("got bindings %v", names)
	}
	if _, ok := tail.(*ast.BinaryExpr); !ok {
		t.Fatalf("tail is %T, want BinaryExpr", tail)
	}
}

// The same desugaring must apply at every block-producing site: while
// body, for body, loop body, lambda body, spawn body.
func TestLetChainUniformAcrossBlockSites(t *testing.T) {
	cases := []struct {
		name string
		src  string
		dig  func(t *testing.T, body ast.Expr) ast.Expr
	}{
		{"while", `fn f() -> i64 = { while true { let a = 1; let b = 2; a + b }; 0 };`,
			func(t *testing.T, body ast.Expr) ast.Expr {
				le := body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
				return le.Value.(*ast.WhileExpr).Body
			}},
		{"for", `fn f() -> i64 = { for i in 0..3 { let a = 1; let b = 2; a + b }; 0 };`,
			func(t *testing.T, body ast.Expr) ast.Expr {
				le := body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
				return le.Value.(*ast.ForExpr).Body
			}},
		{"loop", `fn f() -> i64 = { loop { let a = 1; let b = 2; break }; 0 };`,
			func(t *testing.T, body ast.Expr) ast.Expr {
				le := body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
				return le.Value.(*ast.LoopExpr).Body
			}},
		{"lambda", `fn f() -> i64 = { let g = |x: i64| { let a = 1; let b = 2; a + b + x }; 0 };`,
			func(t *testing.T, body ast.Expr) ast.Expr {
				le := body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
				return le.Value.(*ast.LambdaExpr).Body
			}},
		{"spawn", `fn f() -> i64 = { spawn { let a = 1; let b = 2; a + b }; 0 };`,
			func(t *testing.T, body ast.Expr) ast.Expr {
				le := body.(*ast.BlockExpr).Chain.(*ast.LetExpr)
				return le.Value.(*ast.SpawnExpr).Body
			}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mod := parseOK(t, tc.src)
			inner := tc.dig(t, fnBody(t, mod, "f"))
			names, _ := chainOf(t, inner)
			if len(names) != 2 || names[0] != "a" || names[1] != "b" {
				t.Errorf("inner block bindings: got %v, want [a b]", names)
			}
		})
	}
}

func TestStructLiteralAndFieldStore(t *testing.T) {
	mod := parseOK(t, `
struct P { a: i64, b: i64 }
fn f(p: P) -> i64 = { set p.a = 3; new P { a: 1, b: 2 }.a };`)
	body := fnBody(t, mod, "f")
	chain := body.(*ast.BlockExpr).Chain
	le, ok := chain.(*ast.LetExpr)
	if !ok {
		t.Fatalf("statement chain is %T", chain)
	}
	if _, ok := le.Value.(*ast.FieldStoreExpr); !ok {
		t.Errorf("first statement is %T, want FieldStoreExpr", le.Value)
	}
	fa, ok := le.Body.(*ast.FieldAccessExpr)
	if !ok {
		t.Fatalf("tail is %T, want FieldAccessExpr", le.Body)
	}
	sl, ok := fa.Object.(*ast.StructLitExpr)
	if !ok || sl.StructName != "P" || len(sl.Fields) != 2 {
		t.Errorf("struct literal: %+v", fa.Object)
	}
}

func TestContractClauses(t *testing.T) {
	mod := parseOK(t, `
@pure
fn divide(a: i64, b: i64) -> i64 pre b != 0 post ret * b <= a where { small: a < 1000 } = a / b;`)
	fn := mod.Decls[0].(*ast.FnDecl)
	if !fn.Attrs.Pure {
		t.Error("missing @pure")
	}
	if len(fn.Contract.Pre) != 1 || len(fn.Contract.Post) != 1 {
		t.Fatalf("pre/post counts: %d/%d", len(fn.Contract.Pre), len(fn.Contract.Post))
	}
	if len(fn.Contract.Where) != 1 || fn.Contract.Where[0].Name != "small" {
		t.Errorf("where clauses: %+v", fn.Contract.Where)
	}
}

func TestRefinementTypeSyntax(t *testing.T) {
	mod := parseOK(t, `fn divide(a: i64, b: i64{it != 0}) -> i64 = a / b;`)
	fn := mod.Decls[0].(*ast.FnDecl)
	rt, ok := fn.Params[1].Type.(*ast.RefinementType)
	if !ok {
		t.Fatalf("param type is %T, want RefinementType", fn.Params[1].Type)
	}
	if _, ok := ast.Underlying(rt).(*ast.Primitive); !ok {
		t.Errorf("refinement base is %T", rt.Base)
	}
	if _, ok := rt.Predicate.(*ast.BinaryExpr); !ok {
		t.Errorf("predicate is %T", rt.Predicate)
	}
}

func TestNullableTypeSyntax(t *testing.T) {
	mod := parseOK(t, `fn f(x: i64?) -> i64? = x;`)
	fn := mod.Decls[0].(*ast.FnDecl)
	if _, ok := fn.Params[0].Type.(*ast.NullableType); !ok {
		t.Errorf("param type is %T, want NullableType", fn.Params[0].Type)
	}
}

func TestMatchWithGuardsAndVariants(t *testing.T) {
	mod := parseOK(t, `
enum Shape { Circle(i64), Square(i64) }
fn area(s: Shape) -> i64 = match s {
  Shape::Circle(r) if r > 0 => 3 * r * r,
  Shape::Circle(r) => 0,
  Shape::Square(w) => w * w,
  _ => 0,
};`)
	fn := mod.Decls[1].(*ast.FnDecl)
	me, ok := fn.Body.(*ast.MatchExpr)
	if !ok {
		t.Fatalf("body is %T", fn.Body)
	}
	if len(me.Arms) != 4 {
		t.Fatalf("got %d arms", len(me.Arms))
	}
	if me.Arms[0].Guard == nil {
		t.Error("first arm lost its guard")
	}
	vp, ok := me.Arms[0].Pattern.(*ast.VariantPattern)
	if !ok || vp.EnumName != "Shape" || vp.VariantName != "Circle" {
		t.Errorf("first pattern: %+v", me.Arms[0].Pattern)
	}
	if _, ok := me.Arms[3].Pattern.(*ast.WildcardPattern); !ok {
		t.Errorf("last pattern is %T, want wildcard", me.Arms[3].Pattern)
	}
}

func TestParseErrorRecoversNothingPastItem(t *testing.T) {
	_, sink := parse(t, `fn f( = 1;`)
	if !sink.HasErrors() {
		t.Fatal("expected a ParseError")
	}
}

// Parsing is repeatable: parsing the same source twice yields Let chains
// of the same shape.
func TestParseIdempotence(t *testing.T) {
	src := `fn f() -> i64 = { let x = 1; let y = x + 2; if y > 2 { y } else { x } };`
	m1 := parseOK(t, src)
	m2 := parseOK(t, src)
	n1, _ := chainOf(t, fnBody(t, m1, "f"))
	n2, _ := chainOf(t, fnBody(t, m2, "f"))
	if len(n1) != len(n2) {
		t.Fatalf("chains differ: %v vs %v", n1, n2)
	}
	for i := range n1 {
		if n1[i] != n2[i] {
			t.Errorf("binding %d: %q vs %q", i, n1[i], n2[i])
		}
	}
}
