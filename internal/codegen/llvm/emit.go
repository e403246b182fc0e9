// Package llvm emits textual LLVM IR from MIR. Emission is staged the
// way a backend stays reviewable: header, struct types, string
// constants, runtime declarations, then one function at a time into a single
// strings.Builder. The emitter honors the §4.6 contracts: phi operands
// widen pointer-over-integer, struct returns are ptr, field access is a
// typed getelementptr off the struct definition's ordered field list,
// and every runtime call's types come from the authoritative ABI table.
package llvm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/mir"
	"github.com/bmb-lang/bmb/internal/runtimeabi"
)

// DefaultTriple is the emitter's default target. The driver overrides
// it per-platform; x86_64-pc-windows-gnu is the other first-class
// triple.
const DefaultTriple = "x86_64-unknown-linux-gnu"

type Emitter struct {
	Triple string
	sink   *diag.Sink
}

func NewEmitter(triple string, sink *diag.Sink) *Emitter {
	if triple == "" {
		triple = DefaultTriple
	}
	return &Emitter{Triple: triple, sink: sink}
}

// Emit renders the whole module. A CodegenError diagnostic (type not in
// the local map, unknown struct layout) marks a compiler bug; emission
// continues so one bad function doesn't hide sibling output, but the
// driver will not hand the IR to opt.
func (e *Emitter) Emit(m *mir.Module) string {
	var sb strings.Builder
	e.writeHeader(&sb, m)
	e.writeStructTypes(&sb, m)
	e.writeStrings(&sb, m)
	e.writeRuntimeDecls(&sb)
	for _, fn := range m.Funcs {
		e.writeFunction(&sb, m, fn)
	}
	return sb.String()
}

func (e *Emitter) writeHeader(sb *strings.Builder, m *mir.Module) {
	fmt.Fprintf(sb, "; module %s\n", m.Name)
	fmt.Fprintf(sb, "target triple = \"%s\"\n\n", e.Triple)
	// The string record every string-related signature references by
	// pointer. Declared before anything can mention it.
	sb.WriteString("%BmbString = type { ptr, i64, i64 }\n\n")
}

func (e *Emitter) writeStructTypes(sb *strings.Builder, m *mir.Module) {
	for _, def := range m.Structs {
		fields := make([]string, len(def.FieldTypes))
		for i, t := range def.FieldTypes {
			fields[i] = fieldLLVM(t)
		}
		fmt.Fprintf(sb, "%%%s = type { %s }\n", mangle(def.Name), strings.Join(fields, ", "))
	}
	if len(m.Structs) > 0 {
		sb.WriteString("\n")
	}
}

// fieldLLVM maps a MIR type to its in-memory field spelling; i1 fields
// are stored as i8 so struct layouts stay byte-addressable.
func fieldLLVM(t mir.Type) string {
	if t == mir.I1 {
		return "i8"
	}
	if t == mir.Void {
		return "i64"
	}
	return t.LLVM()
}

func (e *Emitter) writeStrings(sb *strings.Builder, m *mir.Module) {
	for _, s := range m.Strings {
		data := escapeBytes(s.Value)
		n := len(s.Value)
		fmt.Fprintf(sb, "@%s.data = private unnamed_addr constant [%d x i8] c\"%s\"\n", s.Label, n, data)
		fmt.Fprintf(sb, "@%s = private unnamed_addr constant %%BmbString { ptr @%s.data, i64 %d, i64 %d }\n",
			s.Label, s.Label, n, n)
	}
	if len(m.Strings) > 0 {
		sb.WriteString("\n")
	}
}

func (e *Emitter) writeRuntimeDecls(sb *strings.Builder) {
	for _, sig := range runtimeabi.Signatures() {
		params := make([]string, len(sig.Params))
		for i, p := range sig.Params {
			params[i] = p.LLVM()
		}
		fmt.Fprintf(sb, "declare %s @%s(%s)\n", sig.Ret.LLVM(), sig.Name, strings.Join(params, ", "))
	}
	sb.WriteString("\n")
}

// fnEmit is the per-function emission state: the operand alias map
// (constants fold into immediates; string labels into globals) and the
// owning function's type maps.
type fnEmit struct {
	m    *mir.Module
	fn   *mir.Func
	ops  map[string]string // place -> rendered operand
	gep  int               // per-function counter for synthesized temps
}

func (fe *fnEmit) operand(place string) string {
	if v, ok := fe.ops[place]; ok {
		return v
	}
	return "%" + place
}

func (fe *fnEmit) temp() string {
	fe.gep++
	return fmt.Sprintf("%%g%d", fe.gep)
}

// typeOf resolves a place's LLVM type from the function's local type
// map. A miss is a CodegenError, reported once by the caller.
func (fe *fnEmit) typeOf(place string) (mir.Type, bool) {
	return fe.fn.TypeOf(place)
}

func (e *Emitter) writeFunction(sb *strings.Builder, m *mir.Module, fn *mir.Func) {
	fe := &fnEmit{m: m, fn: fn, ops: map[string]string{}}

	name := fn.Name
	if name == "main" {
		// The runtime owns main(argc, argv); user main becomes
		// bmb_user_main, called after argc/argv are stashed.
		name = "bmb_user_main"
	}

	linkage := ""
	if !fn.Pub && name != "bmb_user_main" && (strings.Contains(fn.Name, "$") || strings.Contains(fn.Name, "::")) {
		linkage = "internal "
	}

	var attrs []string
	if fn.Pure {
		attrs = append(attrs, "readonly", "nounwind")
	}
	if fn.Inline {
		attrs = append(attrs, "alwaysinline")
	}

	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		pa := ""
		if p.Ref {
			pa = "noalias nonnull "
		}
		params[i] = fmt.Sprintf("%s %s%%%s", p.Type.LLVM(), pa, p.Name)
	}

	fmt.Fprintf(sb, "define %s%s @%s(%s)", linkage, fn.RetType.LLVM(), mangle(name), strings.Join(params, ", "))
	if len(attrs) > 0 {
		fmt.Fprintf(sb, " %s", strings.Join(attrs, " "))
	}
	sb.WriteString(" {\n")

	for _, b := range fn.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Label)
		for _, in := range b.Instrs {
			e.writeInstr(sb, fe, in)
		}
		e.writeTerm(sb, fe, b)
	}
	sb.WriteString("}\n\n")
}

func (e *Emitter) codegenErr(format string, args ...any) {
	e.sink.Errorf(diag.KindCodegen, diag.Span{}, format, args...)
}

func (e *Emitter) writeInstr(sb *strings.Builder, fe *fnEmit, in mir.Instr) {
	switch ins := in.(type) {
	case *mir.Const:
		switch {
		case ins.Type == mir.Ptr && strings.HasPrefix(ins.Value, ".str."):
			fe.ops[ins.Dest] = "@" + ins.Value
		case ins.Type == mir.Ptr && strings.HasPrefix(ins.Value, "@"):
			fe.ops[ins.Dest] = ins.Value
		case ins.Type == mir.Ptr && ins.Value == "null":
			fe.ops[ins.Dest] = "null"
		case ins.Type == mir.F64:
			fe.ops[ins.Dest] = floatImmediate(ins.Value)
		default:
			fe.ops[ins.Dest] = ins.Value
		}

	case *mir.Move:
		fe.ops[ins.Dest] = fe.operand(ins.Src)

	case *mir.BinOp:
		e.writeBinOp(sb, fe, ins)

	case *mir.UnOp:
		switch ins.Op {
		case mir.Neg:
			if ins.Type == mir.F64 {
				fmt.Fprintf(sb, "  %%%s = fneg double %s\n", ins.Dest, fe.operand(ins.Operand))
			} else {
				fmt.Fprintf(sb, "  %%%s = sub %s 0, %s\n", ins.Dest, ins.Type.LLVM(), fe.operand(ins.Operand))
			}
		case mir.Not:
			fmt.Fprintf(sb, "  %%%s = xor i1 %s, true\n", ins.Dest, fe.operand(ins.Operand))
		case mir.BitNot:
			fmt.Fprintf(sb, "  %%%s = xor %s %s, -1\n", ins.Dest, ins.Type.LLVM(), fe.operand(ins.Operand))
		}

	case *mir.Call:
		e.writeCall(sb, fe, ins.Dest, mangle(ins.Callee), ins.Args, ins.RetType)

	case *mir.RuntimeCall:
		// The ABI table is authoritative for both the return type and
		// each parameter type; a disagreement between the lowered
		// destination type and the table is a compiler bug.
		sig, ok := runtimeabi.Lookup(ins.Callee)
		if !ok {
			e.codegenErr("runtime call to %q has no ABI table entry", ins.Callee)
			return
		}
		if sig.Ret != ins.RetType {
			e.codegenErr("runtime call %q lowered with return type %s but the ABI table says %s", ins.Callee, ins.RetType, sig.Ret)
		}
		e.writeRuntimeCall(sb, fe, ins, sig)

	case *mir.FieldLoad:
		def, ok := fe.m.StructByName(ins.StructName)
		if !ok {
			e.codegenErr("field load through unregistered struct %q", ins.StructName)
			return
		}
		ptr := fe.temp()
		fmt.Fprintf(sb, "  %s = getelementptr %%%s, ptr %s, i32 0, i32 %d\n",
			ptr, mangle(def.Name), fe.operand(ins.Base), ins.FieldIndex)
		fmt.Fprintf(sb, "  %%%s = load %s, ptr %s\n", ins.Dest, fieldLLVM(ins.Type), ptr)

	case *mir.FieldStore:
		def, ok := fe.m.StructByName(ins.StructName)
		if !ok {
			e.codegenErr("field store through unregistered struct %q", ins.StructName)
			return
		}
		ptr := fe.temp()
		fmt.Fprintf(sb, "  %s = getelementptr %%%s, ptr %s, i32 0, i32 %d\n",
			ptr, mangle(def.Name), fe.operand(ins.Base), ins.FieldIndex)
		fmt.Fprintf(sb, "  store %s %s, ptr %s\n", fieldLLVM(ins.Type), fe.operand(ins.Value), ptr)

	case *mir.IndexLoad:
		ptr := fe.temp()
		fmt.Fprintf(sb, "  %s = getelementptr %s, ptr %s, i64 %s\n",
			ptr, ins.Type.LLVM(), fe.operand(ins.Base), fe.operand(ins.Index))
		fmt.Fprintf(sb, "  %%%s = load %s, ptr %s\n", ins.Dest, ins.Type.LLVM(), ptr)

	case *mir.IndexStore:
		ptr := fe.temp()
		fmt.Fprintf(sb, "  %s = getelementptr %s, ptr %s, i64 %s\n",
			ptr, ins.Type.LLVM(), fe.operand(ins.Base), fe.operand(ins.Index))
		fmt.Fprintf(sb, "  store %s %s, ptr %s\n", ins.Type.LLVM(), fe.operand(ins.Value), ptr)

	case *mir.Alloca:
		fmt.Fprintf(sb, "  %%%s.addr = alloca %s\n", ins.Dest, fieldLLVM(ins.Type))

	case *mir.LocalLoad:
		fmt.Fprintf(sb, "  %%%s = load %s, ptr %%%s.addr\n", ins.Dest, fieldLLVM(ins.Type), ins.Slot)

	case *mir.LocalStore:
		fmt.Fprintf(sb, "  store %s %s, ptr %%%s.addr\n", fieldLLVM(ins.Type), fe.operand(ins.Value), ins.Slot)

	case *mir.MallocWrap:
		fmt.Fprintf(sb, "  %%%s = call ptr @bmb_malloc(i64 %s)\n", ins.Dest, fe.operand(ins.Size))

	case *mir.StructConstruct:
		// Structs are always heap records: malloc, then one typed GEP +
		// store per field in declaration order.
		size := 8 * len(ins.Fields)
		if size == 0 {
			size = 8
		}
		fmt.Fprintf(sb, "  %%%s = call ptr @bmb_malloc(i64 %d)\n", ins.Dest, size)
		for i, v := range ins.Fields {
			if v == "" {
				continue
			}
			ptr := fe.temp()
			fmt.Fprintf(sb, "  %s = getelementptr %%%s, ptr %%%s, i32 0, i32 %d\n",
				ptr, mangle(ins.StructName), ins.Dest, i)
			fmt.Fprintf(sb, "  store %s %s, ptr %s\n", fieldLLVM(ins.FieldTypes[i]), fe.operand(v), ptr)
		}

	case *mir.VariantConstruct:
		size := 8 * (1 + len(ins.Payload))
		fmt.Fprintf(sb, "  %%%s = call ptr @bmb_malloc(i64 %d)\n", ins.Dest, size)
		fmt.Fprintf(sb, "  store i64 %d, ptr %%%s\n", ins.Tag, ins.Dest)
		for i, v := range ins.Payload {
			ptr := fe.temp()
			fmt.Fprintf(sb, "  %s = getelementptr i64, ptr %%%s, i64 %d\n", ptr, ins.Dest, 1+i)
			fmt.Fprintf(sb, "  store i64 %s, ptr %s\n", fe.operand(v), ptr)
		}

	case *mir.VariantTest:
		tag := fe.temp()
		fmt.Fprintf(sb, "  %s = load i64, ptr %s\n", tag, fe.operand(ins.Base))
		fmt.Fprintf(sb, "  %%%s = icmp eq i64 %s, %d\n", ins.Dest, tag, ins.Tag)

	case *mir.VariantExtract:
		ptr := fe.temp()
		fmt.Fprintf(sb, "  %s = getelementptr i64, ptr %s, i64 %d\n", ptr, fe.operand(ins.Base), 1+ins.Index)
		if ins.Type == mir.Ptr {
			raw := fe.temp()
			fmt.Fprintf(sb, "  %s = load i64, ptr %s\n", raw, ptr)
			fmt.Fprintf(sb, "  %%%s = inttoptr i64 %s to ptr\n", ins.Dest, raw)
		} else {
			fmt.Fprintf(sb, "  %%%s = load %s, ptr %s\n", ins.Dest, ins.Type.LLVM(), ptr)
		}

	case *mir.Phi:
		e.writePhi(sb, fe, ins)

	case *mir.Cast:
		e.writeCast(sb, fe, ins)

	default:
		e.codegenErr("instruction %T not handled by the emitter", in)
	}
}

func (e *Emitter) writeBinOp(sb *strings.Builder, fe *fnEmit, ins *mir.BinOp) {
	lhs, rhs := fe.operand(ins.Left), fe.operand(ins.Right)
	if ins.Op.IsCompare() {
		if ins.Type == mir.F64 {
			cmp := map[mir.BinOpKind]string{mir.Eq: "oeq", mir.Ne: "one", mir.Lt: "olt", mir.Le: "ole", mir.Gt: "ogt", mir.Ge: "oge"}
			fmt.Fprintf(sb, "  %%%s = fcmp %s double %s, %s\n", ins.Dest, cmp[ins.Op], lhs, rhs)
		} else {
			cmp := map[mir.BinOpKind]string{mir.Eq: "eq", mir.Ne: "ne", mir.Lt: "slt", mir.Le: "sle", mir.Gt: "sgt", mir.Ge: "sge"}
			ty := ins.Type.LLVM()
			if ins.Type == mir.Void {
				ty = "i64"
			}
			fmt.Fprintf(sb, "  %%%s = icmp %s %s %s, %s\n", ins.Dest, cmp[ins.Op], ty, lhs, rhs)
		}
		return
	}
	var op string
	if ins.Type == mir.F64 {
		fop := map[mir.BinOpKind]string{mir.Add: "fadd", mir.Sub: "fsub", mir.Mul: "fmul", mir.Div: "fdiv", mir.Mod: "frem"}
		op = fop[ins.Op]
	} else {
		// Integer division truncates toward zero (sdiv): the locked
		// integer-preserving division semantics.
		iop := map[mir.BinOpKind]string{
			mir.Add: "add", mir.Sub: "sub", mir.Mul: "mul", mir.Div: "sdiv", mir.Mod: "srem",
			mir.And: "and", mir.Or: "or", mir.Xor: "xor", mir.Shl: "shl", mir.Shr: "ashr",
		}
		op = iop[ins.Op]
	}
	fmt.Fprintf(sb, "  %%%s = %s %s %s, %s\n", ins.Dest, op, ins.Type.LLVM(), lhs, rhs)
}

func (e *Emitter) writeCall(sb *strings.Builder, fe *fnEmit, dest, callee string, args []string, ret mir.Type) {
	parts := make([]string, len(args))
	for i, a := range args {
		t, ok := fe.typeOf(a)
		if !ok {
			// Operands that folded to immediates (constants) have no map
			// entry; they carry their own type from the fold.
			if v, aliased := fe.ops[a]; aliased {
				t = inferImmediateType(v)
			} else {
				e.codegenErr("call operand %%%s has no entry in the local type map", a)
				t = mir.I64
			}
		}
		parts[i] = fmt.Sprintf("%s %s", t.LLVM(), fe.operand(a))
	}
	if ret == mir.Void || dest == "" {
		fmt.Fprintf(sb, "  call %s @%s(%s)\n", ret.LLVM(), callee, strings.Join(parts, ", "))
		return
	}
	fmt.Fprintf(sb, "  %%%s = call %s @%s(%s)\n", dest, ret.LLVM(), callee, strings.Join(parts, ", "))
}

// writeRuntimeCall types every argument from the ABI signature rather
// than the local map, inserting the int<->ptr boundary casts that keep
// handle-typed values (vectors, hashmaps, builders) from being
// dereferenced as pointers.
func (e *Emitter) writeRuntimeCall(sb *strings.Builder, fe *fnEmit, ins *mir.RuntimeCall, sig runtimeabi.Signature) {
	parts := make([]string, len(ins.Args))
	for i, a := range ins.Args {
		want := mir.I64
		if i < len(sig.Params) {
			want = sig.Params[i]
		}
		op := fe.operand(a)
		have, ok := fe.typeOf(a)
		if !ok {
			have = inferImmediateType(op)
		}
		if have == mir.Ptr && want == mir.I64 {
			t := fe.temp()
			fmt.Fprintf(sb, "  %s = ptrtoint ptr %s to i64\n", t, op)
			op = t
		} else if have == mir.I64 && want == mir.Ptr {
			t := fe.temp()
			fmt.Fprintf(sb, "  %s = inttoptr i64 %s to ptr\n", t, op)
			op = t
		} else if have == mir.I1 && want == mir.I64 {
			t := fe.temp()
			fmt.Fprintf(sb, "  %s = zext i1 %s to i64\n", t, op)
			op = t
		}
		parts[i] = fmt.Sprintf("%s %s", want.LLVM(), op)
	}
	if sig.Ret == runtimeabi.Void || ins.Dest == "" {
		fmt.Fprintf(sb, "  call %s @%s(%s)\n", sig.Ret.LLVM(), sig.Name, strings.Join(parts, ", "))
		return
	}
	fmt.Fprintf(sb, "  %%%s = call %s @%s(%s)\n", ins.Dest, sig.Ret.LLVM(), sig.Name, strings.Join(parts, ", "))
}

// writePhi applies the pointer-over-integer widening rule: when the
// incoming operands' LLVM types disagree, ptr wins. Integers can be
// reinterpreted as pointers only by defeating alias analysis; pointers
// carry strictly more information, so the phi is ptr and integer
// incomings are inttoptr'd in their predecessor — here folded as a
// constant expression when the operand is an immediate.
func (e *Emitter) writePhi(sb *strings.Builder, fe *fnEmit, ins *mir.Phi) {
	ty := ins.Type
	for _, edge := range ins.Edges {
		if t, ok := fe.typeOf(edge.Value); ok && t == mir.Ptr {
			ty = mir.Ptr
		}
	}
	parts := make([]string, len(ins.Edges))
	for i, edge := range ins.Edges {
		op := fe.operand(edge.Value)
		if t, ok := fe.typeOf(edge.Value); ok && ty == mir.Ptr && t == mir.I64 {
			op = fmt.Sprintf("inttoptr (i64 %s to ptr)", op)
		}
		parts[i] = fmt.Sprintf("[ %s, %%%s ]", op, edge.Pred)
	}
	fmt.Fprintf(sb, "  %%%s = phi %s %s\n", ins.Dest, ty.LLVM(), strings.Join(parts, ", "))
}

func (e *Emitter) writeCast(sb *strings.Builder, fe *fnEmit, ins *mir.Cast) {
	src := fe.operand(ins.Src)
	switch {
	case ins.From == ins.To:
		fe.ops[ins.Dest] = src
	case ins.From == mir.I64 && ins.To == mir.Ptr:
		fmt.Fprintf(sb, "  %%%s = inttoptr i64 %s to ptr\n", ins.Dest, src)
	case ins.From == mir.Ptr && ins.To == mir.I64:
		fmt.Fprintf(sb, "  %%%s = ptrtoint ptr %s to i64\n", ins.Dest, src)
	case ins.From == mir.I64 && ins.To == mir.F64:
		fmt.Fprintf(sb, "  %%%s = sitofp i64 %s to double\n", ins.Dest, src)
	case ins.From == mir.F64 && ins.To == mir.I64:
		fmt.Fprintf(sb, "  %%%s = fptosi double %s to i64\n", ins.Dest, src)
	case ins.From == mir.I1 && ins.To == mir.I64:
		fmt.Fprintf(sb, "  %%%s = zext i1 %s to i64\n", ins.Dest, src)
	case ins.From == mir.I64 && ins.To == mir.I1:
		fmt.Fprintf(sb, "  %%%s = icmp ne i64 %s, 0\n", ins.Dest, src)
	default:
		fe.ops[ins.Dest] = src
	}
}

func (e *Emitter) writeTerm(sb *strings.Builder, fe *fnEmit, b *mir.Block) {
	switch t := b.Term.(type) {
	case nil:
		// Unterminated blocks only arise after a reported CodegenError;
		// keep the IR loadable.
		sb.WriteString("  unreachable\n")
	case *mir.Br:
		fmt.Fprintf(sb, "  br label %%%s\n", t.Target)
	case *mir.CondBr:
		fmt.Fprintf(sb, "  br i1 %s, label %%%s, label %%%s\n", fe.operand(t.Cond), t.True, t.False)
	case *mir.Ret:
		if t.Value == "" || fe.fn.RetType == mir.Void {
			if fe.fn.RetType == mir.Void {
				sb.WriteString("  ret void\n")
			} else {
				fmt.Fprintf(sb, "  ret %s 0\n", fe.fn.RetType.LLVM())
			}
			return
		}
		op := fe.operand(t.Value)
		if have, ok := fe.typeOf(t.Value); ok && have != fe.fn.RetType {
			if have == mir.I64 && fe.fn.RetType == mir.Ptr {
				tmp := fe.temp()
				fmt.Fprintf(sb, "  %s = inttoptr i64 %s to ptr\n", tmp, op)
				op = tmp
			} else if have == mir.Ptr && fe.fn.RetType == mir.I64 {
				tmp := fe.temp()
				fmt.Fprintf(sb, "  %s = ptrtoint ptr %s to i64\n", tmp, op)
				op = tmp
			} else if have == mir.I1 && fe.fn.RetType == mir.I64 {
				tmp := fe.temp()
				fmt.Fprintf(sb, "  %s = zext i1 %s to i64\n", tmp, op)
				op = tmp
			}
		}
		fmt.Fprintf(sb, "  ret %s %s\n", fe.fn.RetType.LLVM(), op)
	}
}

// inferImmediateType classifies a folded operand's type from its text.
func inferImmediateType(op string) mir.Type {
	switch {
	case op == "null" || strings.HasPrefix(op, "@") || strings.HasPrefix(op, "inttoptr"):
		return mir.Ptr
	case strings.ContainsAny(op, ".eE") && !strings.HasPrefix(op, "%"):
		return mir.F64
	case op == "true" || op == "false":
		return mir.I1
	default:
		return mir.I64
	}
}

// floatImmediate normalizes a float lexeme to the exponent spelling
// LLVM's IR parser accepts (it rejects dot-less forms like "1e9").
func floatImmediate(raw string) string {
	clean := strings.ReplaceAll(raw, "_", "")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return clean
	}
	return strconv.FormatFloat(v, 'e', 6, 64)
}

// mangle rewrites method-path separators into LLVM-legal identifier
// text. `$` (monomorphization suffixes) is already legal.
func mangle(name string) string {
	return strings.ReplaceAll(name, "::", "__")
}

func escapeBytes(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 0x20 && b < 0x7f && b != '"' && b != '\\' {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "\\%02X", b)
		}
	}
	return sb.String()
}
