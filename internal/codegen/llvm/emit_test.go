package llvm

import (
	"strings"
	"testing"

	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/mir"
	"github.com/bmb-lang/bmb/internal/parser"
	"github.com/bmb-lang/bmb/internal/types"
)

func emit(t *testing.T, src string) (string, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	toks := lexer.New("test.bmb", []byte(src), sink).Scan()
	mod := parser.New("test.bmb", toks, sink).ParseModule("test")
	if sink.HasErrors() {
		t.Fatalf("frontend errors: %v", sink.Diagnostics())
	}
	types.NewChecker(sink).CheckModule(mod)
	if sink.HasErrors() {
		t.Fatalf("type errors: %v", sink.Diagnostics())
	}
	lowered := mir.NewLowerer(sink).LowerModule(mod)
	if sink.HasErrors() {
		t.Fatalf("lowering errors: %v", sink.Diagnostics())
	}
	return NewEmitter("", sink).Emit(lowered), sink
}

func emitOK(t *testing.T, src string) string {
	t.Helper()
	ir, sink := emit(t, src)
	if sink.HasErrors() {
		t.Fatalf("emission errors: %v\n%s", sink.Diagnostics(), ir)
	}
	return ir
}

func TestModuleHeader(t *testing.T) {
	ir := emitOK(t, `fn main() -> i64 = 0;`)
	if !strings.Contains(ir, `target triple = "x86_64-unknown-linux-gnu"`) {
		t.Error("missing target triple")
	}
	if !strings.Contains(ir, "%BmbString = type { ptr, i64, i64 }") {
		t.Error("missing BmbString type definition")
	}
}

func TestUserMainBecomesBmbUserMain(t *testing.T) {
	ir := emitOK(t, `fn main() -> i64 = 0;`)
	if !strings.Contains(ir, "define i64 @bmb_user_main(") {
		t.Errorf("user main not renamed:\n%s", ir)
	}
	if strings.Contains(ir, "define i64 @main(") {
		t.Error("raw @main define would collide with the runtime's main")
	}
}

func TestRuntimeDeclarationsFromTable(t *testing.T) {
	ir := emitOK(t, `fn main() -> i64 = 0;`)
	for _, want := range []string{
		"declare ptr @bmb_string_concat(ptr, ptr)",
		"declare ptr @bmb_string_slice(ptr, i64, i64)",
		"declare ptr @bmb_read_file(ptr)",
		"declare i64 @bmb_write_file(ptr, ptr)",
		"declare i64 @bmb_arg_count()",
		"declare ptr @bmb_get_arg(i64)",
		"declare i64 @hashmap_get(i64, i64)",
		"declare void @bmb_println_i64(i64)",
	} {
		if !strings.Contains(ir, want) {
			t.Errorf("missing runtime declaration %q", want)
		}
	}
}

// The phi merging a string literal with a string-returning call must be
// phi ptr, never phi i64.
func TestPhiPointerWidening(t *testing.T) {
	ir := emitOK(t, `
fn pick(v: string) -> string = { let dir = if len(v) > 0 { v } else { "default" }; dir };`)
	if !strings.Contains(ir, "phi ptr") {
		t.Errorf("expected phi ptr:\n%s", ir)
	}
	if strings.Contains(ir, "phi i64 [") && strings.Contains(ir, "@.str.") {
		for _, line := range strings.Split(ir, "\n") {
			if strings.Contains(line, "phi i64") && strings.Contains(line, "@.str.") {
				t.Errorf("string phi emitted as i64: %s", line)
			}
		}
	}
}

func TestStructReturnIsPtrWithPtrPhi(t *testing.T) {
	ir := emitOK(t, `
struct P { a: i64, b: i64 }
fn inc(p: P, c: i64) -> P = if c == 1 { new P { a: p.a + 1, b: p.b } } else { p };`)
	if !strings.Contains(ir, "define ptr @inc(") {
		t.Errorf("struct return must lower to ptr:\n%s", ir)
	}
	if !strings.Contains(ir, "phi ptr") {
		t.Errorf("struct merge must be phi ptr:\n%s", ir)
	}
}

// Field access is a typed GEP off the struct definition, never byte
// arithmetic on an opaque pointer.
func TestFieldAccessUsesTypedGEP(t *testing.T) {
	ir := emitOK(t, `
struct P { a: i64, b: i64 }
fn get(p: P) -> i64 = p.b;`)
	if !strings.Contains(ir, "getelementptr %P, ptr %p, i32 0, i32 1") {
		t.Errorf("p.b must be a typed GEP at index 1:\n%s", ir)
	}
}

func TestStructTypeDefinition(t *testing.T) {
	ir := emitOK(t, `
struct P { a: i64, b: i64 }
fn get(p: P) -> i64 = p.a;`)
	if !strings.Contains(ir, "%P = type { i64, i64 }") {
		t.Errorf("missing struct type definition:\n%s", ir)
	}
}

func TestStringConstants(t *testing.T) {
	ir := emitOK(t, `fn main() -> i64 = { let s = "hi"; println(len(s)); 0 };`)
	if !strings.Contains(ir, `c"hi"`) {
		t.Errorf("missing string data:\n%s", ir)
	}
	if !strings.Contains(ir, "%BmbString { ptr @.str.1.data, i64 2, i64 2 }") {
		t.Errorf("missing BmbString record global:\n%s", ir)
	}
	if !strings.Contains(ir, "call i64 @bmb_string_len(ptr") {
		t.Errorf("len must call bmb_string_len with a ptr argument:\n%s", ir)
	}
}

func TestPureFunctionAttributes(t *testing.T) {
	ir := emitOK(t, `
@pure
fn double(x: i64) -> i64 = x * 2;`)
	if !strings.Contains(ir, "define i64 @double(i64 %x) readonly nounwind") {
		t.Errorf("@pure must emit readonly nounwind:\n%s", ir)
	}
}

func TestReferenceParamAttributes(t *testing.T) {
	ir := emitOK(t, `fn g(a: &[i64; 10], i: i64) -> i64 = a[i];`)
	if !strings.Contains(ir, "noalias nonnull %a") {
		t.Errorf("reference parameter must carry noalias nonnull:\n%s", ir)
	}
	// Index through the reference is a GEP plus load, not an aggregate
	// copy.
	if !strings.Contains(ir, "getelementptr i64, ptr") {
		t.Errorf("reference indexing must GEP through the pointer:\n%s", ir)
	}
}

func TestMonomorphizedFunctionInternalLinkage(t *testing.T) {
	ir := emitOK(t, `
struct Pair<A, B> { fst: A, snd: B }
fn fst<A, B>(p: Pair<A, B>) -> A = p.fst;
fn main() -> i64 = { let p = new Pair<i64, i64> { fst: 1, snd: 2 }; fst(p) };`)
	if !strings.Contains(ir, "define internal i64 @fst$i64$i64(") {
		t.Errorf("monomorphized function must get internal linkage:\n%s", ir)
	}
}

// Handle-typed runtime calls must convert between i64 handles and ptr
// parameters so pointers are never silently truncated.
func TestRuntimeCallBoundaryCasts(t *testing.T) {
	ir := emitOK(t, `fn main() -> i64 = { let v = vec_new(); let x = free(v); x };`)
	if !strings.Contains(ir, "inttoptr i64") {
		t.Errorf("free(handle) must inttoptr its argument:\n%s", ir)
	}
}

// The emitted IR for each e2e scenario shape must reference the right
// ABI types end to end.
func TestEndToEndScenarioShapes(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []string
	}{
		{"vector", `fn main() -> i64 = { let v = vec_new(); let a = vec_push(v, 7); let b = vec_push(a, 8); println(vec_get(b, 1)); 0 };`,
			[]string{"call i64 @bmb_vec_new()", "call i64 @bmb_vec_push(i64", "call void @bmb_println_i64(i64"}},
		{"hashmap", `fn main() -> i64 = { let m = hashmap_new(); let x = hashmap_insert(m, 42, 100); println(hashmap_get(m, 42)); 0 };`,
			[]string{"call i64 @hashmap_new()", "call i64 @hashmap_insert(i64", "call i64 @hashmap_get(i64"}},
		{"fib", `fn fib(n: i64) -> i64 = if n < 2 { n } else { fib(n - 1) + fib(n - 2) }; fn main() -> i64 = { println(fib(10)); 0 };`,
			[]string{"define i64 @fib(i64 %n)", "call i64 @fib(i64", "phi i64"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ir := emitOK(t, tc.src)
			for _, w := range tc.want {
				if !strings.Contains(ir, w) {
					t.Errorf("missing %q in:\n%s", w, ir)
				}
			}
		})
	}
}
