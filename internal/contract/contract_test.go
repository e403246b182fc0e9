package contract

import (
	"testing"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/parser"
)

func parseFn(t *testing.T, src string) *ast.FnDecl {
	t.Helper()
	sink := diag.NewSink()
	toks := lexer.New("test.bmb", []byte(src), sink).Scan()
	mod := parser.New("test.bmb", toks, sink).ParseModule("test")
	if sink.HasErrors() {
		t.Fatalf("frontend: %v", sink.Diagnostics())
	}
	return mod.Decls[0].(*ast.FnDecl)
}

func TestExtractOrder(t *testing.T) {
	fn := parseFn(t, `
fn f(a: i64, b: i64{it > 0}) -> i64{it >= 0} pre a >= 0 post ret >= a where { bounded: a < 100 } = a + b;`)
	fo := Extract(fn)
	kinds := make([]ObligationKind, len(fo.Obligations))
	for i, ob := range fo.Obligations {
		kinds[i] = ob.Kind
	}
	want := []ObligationKind{
		KindPrecondition, KindRefinement, KindPostcondition, KindWhereClause, KindRefinement,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("obligation %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
	// The trailing refinement is the return type's, named ret.
	if fo.Obligations[4].Name != "ret" {
		t.Errorf("return refinement named %q", fo.Obligations[4].Name)
	}
	if fo.Obligations[1].Name != "b" {
		t.Errorf("parameter refinement named %q", fo.Obligations[1].Name)
	}
}

// @trust keeps the obligations (for callers) but opts out of proof.
func TestTrustSkipsProofButKeepsContract(t *testing.T) {
	fn := parseFn(t, `
@trust
fn f(a: i64) -> i64 pre a > 0 post ret > 0 = a;`)
	fo := Extract(fn)
	if !fo.Trust {
		t.Fatal("@trust not extracted")
	}
	if len(fo.Obligations) != 2 {
		t.Fatalf("trust dropped obligations: %v", fo.Obligations)
	}
	if fo.RequiresProof() {
		t.Error("@trust function must not require proof")
	}
}

func TestNoContractNoProof(t *testing.T) {
	fn := parseFn(t, `fn f(a: i64) -> i64 = a;`)
	if Extract(fn).RequiresProof() {
		t.Error("contract-free function must not require proof")
	}
}
