package mir

import (
	"testing"

	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/lexer"
	"github.com/bmb-lang/bmb/internal/parser"
	"github.com/bmb-lang/bmb/internal/types"
)

func lower(t *testing.T, src string) (*Module, *diag.Sink) {
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
	return NewLowerer(sink).LowerModule(mod), sink
}

func lowerOK(t *testing.T, src string) *Module {
	t.Helper()
	m, sink := lower(t, src)
	if sink.HasErrors() {
		t.Fatalf("lowering errors: %v", sink.Diagnostics())
	}
	return m
}

func fnByName(t *testing.T, m *Module, name string) *Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("no lowered function %q (have %v)", name, funcNames(m))
	return nil
}

func funcNames(m *Module) []string {
	var names []string
	for _, f := range m.Funcs {
		names = append(names, f.Name)
	}
	return names
}

func findPhis(f *Func) []*Phi {
	var phis []*Phi
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if p, ok := in.(*Phi); ok {
				phis = append(phis, p)
			}
		}
	}
	return phis
}

// Every phi's result type must be in the local type map at creation.
func TestPhiTypeRegisteredAtCreation(t *testing.T) {
	m := lowerOK(t, `fn f(x: i64) -> i64 = if x > 0 { 1 } else { 2 };`)
	f := fnByName(t, m, "f")
	phis := findPhis(f)
	if len(phis) != 1 {
		t.Fatalf("got %d phis, want 1", len(phis))
	}
	got, ok := f.TypeOf(phis[0].Dest)
	if !ok {
		t.Fatal("phi destination missing from the local type map")
	}
	if got != I64 {
		t.Errorf("phi type %s, want i64", got)
	}
}

// A struct-typed if joins through a ptr-typed phi, and the destination
// carries the struct tag.
func TestStructReturningIfLowersToPtrPhi(t *testing.T) {
	m := lowerOK(t, `
struct P { a: i64, b: i64 }
fn inc(p: P, c: i64) -> P = if c == 1 { new P { a: p.a + 1, b: p.b } } else { p };`)
	f := fnByName(t, m, "inc")
	phis := findPhis(f)
	if len(phis) != 1 {
		t.Fatalf("got %d phis, want 1", len(phis))
	}
	if got, _ := f.TypeOf(phis[0].Dest); got != Ptr {
		t.Errorf("struct phi typed %s, want ptr", got)
	}
}

// Struct-typed call results must register in StructOf so later field
// access resolves.
func TestStructCallResultRegistered(t *testing.T) {
	m := lowerOK(t, `
struct P { a: i64, b: i64 }
fn make() -> P = new P { a: 10, b: 20 };
fn main() -> i64 = { let y = make(); y.a };`)
	f := fnByName(t, m, "main")
	var call *Call
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if c, ok := in.(*Call); ok && c.Callee == "make" {
				call = c
			}
		}
	}
	if call == nil {
		t.Fatal("no call to make")
	}
	if call.StructName != "P" {
		t.Errorf("call struct tag %q, want P", call.StructName)
	}
	if f.StructOf[call.Dest] != "P" {
		t.Errorf("call destination not registered in StructOf")
	}
}

// Field access on a parameter reads the SSA value directly; on a local
// it loads from the stack slot first.
func TestParamVsLocalFieldAccess(t *testing.T) {
	m := lowerOK(t, `
struct P { a: i64, b: i64 }
fn viaParam(p: P) -> i64 = p.a;
fn viaLocal() -> i64 = { let q = new P { a: 1, b: 2 }; q.b };`)

	vp := fnByName(t, m, "viaParam")
	var paramLoad *FieldLoad
	for _, b := range vp.Blocks {
		for _, in := range b.Instrs {
			if fl, ok := in.(*FieldLoad); ok {
				paramLoad = fl
			}
		}
	}
	if paramLoad == nil {
		t.Fatal("viaParam has no field load")
	}
	if paramLoad.Base != "p" {
		t.Errorf("param field access base %q, want the parameter SSA value p", paramLoad.Base)
	}

	vl := fnByName(t, m, "viaLocal")
	var localLoadBeforeField bool
	var prevWasLocalLoad bool
	var localLoadDest string
	for _, b := range vl.Blocks {
		for _, in := range b.Instrs {
			if ll, ok := in.(*LocalLoad); ok && ll.Slot == "q" {
				prevWasLocalLoad = true
				localLoadDest = ll.Dest
				continue
			}
			if fl, ok := in.(*FieldLoad); ok && prevWasLocalLoad && fl.Base == localLoadDest {
				localLoadBeforeField = true
			}
			prevWasLocalLoad = false
		}
	}
	if !localLoadBeforeField {
		t.Error("viaLocal must load q from its stack slot before the field access")
	}
	if paramLoad.FieldIndex != 0 {
		t.Errorf("p.a resolved to index %d, want 0", paramLoad.FieldIndex)
	}
}

// The generic-field-access regression at the MIR level: distinct fields
// of a monomorphized generic struct must resolve to distinct indices.
func TestGenericFieldIndicesDistinct(t *testing.T) {
	m := lowerOK(t, `
struct Pair<A, B> { fst: A, snd: B }
fn main() -> i64 = { let p = new Pair<i64, i64> { fst: 1, snd: 2 }; p.fst + p.snd };`)
	f := fnByName(t, m, "main")
	var indices []int
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if fl, ok := in.(*FieldLoad); ok {
				indices = append(indices, fl.FieldIndex)
			}
		}
	}
	if len(indices) != 2 || indices[0] == indices[1] {
		t.Fatalf("field indices %v: fst and snd must differ", indices)
	}
	if _, ok := m.StructByName("Pair$i64$i64"); !ok {
		t.Error("monomorphized struct layout Pair$i64$i64 not registered")
	}
}

// Generic functions materialize one concrete copy per type-argument
// tuple, with a deterministic suffix.
func TestGenericFunctionMonomorphized(t *testing.T) {
	m := lowerOK(t, `
struct Pair<A, B> { fst: A, snd: B }
fn fst<A, B>(p: Pair<A, B>) -> A = p.fst;
fn main() -> i64 = { let p = new Pair<i64, i64> { fst: 1, snd: 2 }; fst(p) };`)
	if f := fnByName(t, m, "fst$i64$i64"); f == nil {
		t.Fatal("no monomorphized fst")
	}
	// The generic template itself must not be lowered.
	for _, f := range m.Funcs {
		if f.Name == "fst" {
			t.Error("generic template fst was lowered without substitution")
		}
	}
}

// Runtime calls take their return type from the authoritative table.
func TestRuntimeCallReturnTypes(t *testing.T) {
	m := lowerOK(t, `
fn main() -> i64 = {
  let v = vec_new();
  let s = int_to_string(42);
  let n = len(s);
  println(n);
  0
};`)
	f := fnByName(t, m, "main")
	byCallee := map[string]*RuntimeCall{}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if rc, ok := in.(*RuntimeCall); ok {
				byCallee[rc.Callee] = rc
			}
		}
	}
	if rc := byCallee["bmb_vec_new"]; rc == nil || rc.RetType != I64 {
		t.Errorf("vec_new: %+v, want i64 return", rc)
	}
	if rc := byCallee["bmb_int_to_string"]; rc == nil || rc.RetType != Ptr {
		t.Errorf("int_to_string: %+v, want ptr return", rc)
	}
	if rc := byCallee["bmb_string_len"]; rc == nil || rc.RetType != I64 {
		t.Errorf("len: %+v, want i64 return", rc)
	}
	if rc := byCallee["bmb_println_i64"]; rc == nil || rc.RetType != Void {
		t.Errorf("println: %+v, want void return", rc)
	}
}

// Every place any instruction defines must be in the local type map.
func TestEveryValueHasAType(t *testing.T) {
	m := lowerOK(t, `
fn factorial(n: i64) -> i64 = {
  var acc = 1;
  var i = 1;
  while i <= n {
    acc = acc * i;
    i = i + 1
  };
  acc
};
fn main() -> i64 = { println(factorial(5)); 0 };`)
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				for _, dest := range destsOf(in) {
					if dest == "" {
						continue
					}
					if _, ok := f.TypeOf(dest); !ok {
						t.Errorf("%s: %s defines %q with no type map entry", f.Name, in, dest)
					}
				}
			}
		}
	}
}

func destsOf(in Instr) []string {
	switch i := in.(type) {
	case *Const:
		return []string{i.Dest}
	case *Move:
		return []string{i.Dest}
	case *BinOp:
		return []string{i.Dest}
	case *UnOp:
		return []string{i.Dest}
	case *Call:
		return []string{i.Dest}
	case *RuntimeCall:
		return []string{i.Dest}
	case *FieldLoad:
		return []string{i.Dest}
	case *IndexLoad:
		return []string{i.Dest}
	case *Alloca:
		return []string{i.Dest}
	case *MallocWrap:
		return []string{i.Dest}
	case *StructConstruct:
		return []string{i.Dest}
	case *VariantConstruct:
		return []string{i.Dest}
	case *VariantTest:
		return []string{i.Dest}
	case *VariantExtract:
		return []string{i.Dest}
	case *Phi:
		return []string{i.Dest}
	case *LocalLoad:
		return []string{i.Dest}
	}
	return nil
}

// Each block ends in exactly one terminator.
func TestBlocksTerminated(t *testing.T) {
	m := lowerOK(t, `
fn fib(n: i64) -> i64 = if n < 2 { n } else { fib(n - 1) + fib(n - 2) };
fn main() -> i64 = { println(fib(10)); 0 };`)
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			if b.Term == nil {
				t.Errorf("%s: block %s has no terminator", f.Name, b.Label)
			}
		}
	}
}
