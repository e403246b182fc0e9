// Package mir defines BMB's mid-level IR: a function is a
// list of blocks, each block a straight-line sequence of typed
// instructions ending in a branch, conditional branch, or return. Every
// value ("place") has an explicit Type recorded in the owning
// function's local type map at the moment the value is created — phis
// included. Struct-typed values are opaque pointers with the struct
// name tagged in the function's StructOf map.
package mir

import (
	"fmt"
	"strings"

	"github.com/bmb-lang/bmb/internal/runtimeabi"
)

// Type is the MIR-level value type. It deliberately reuses the runtime
// ABI's type set: by the time code reaches MIR, every value is one of
// the shapes that can cross the ABI (contracts have been erased, proofs
// cached).
type Type = runtimeabi.Type

const (
	Void = runtimeabi.Void
	I1   = runtimeabi.I1
	I64  = runtimeabi.I64
	F64  = runtimeabi.F64
	Ptr  = runtimeabi.Ptr
)

// Instr is any non-terminator instruction.
type Instr interface {
	fmt.Stringer
	isInstr()
}

// Term is a block terminator.
type Term interface {
	fmt.Stringer
	isTerm()
}

type Const struct {
	Dest  string
	Type  Type
	Value string // literal text: integer, float, or a string-constant label
}

func (c *Const) isInstr() {}
func (c *Const) String() string {
	return fmt.Sprintf("%%%s = const %s %s", c.Dest, c.Type, c.Value)
}

type Move struct {
	Dest string
	Src  string
	Type Type
}

func (m *Move) isInstr() {}
func (m *Move) String() string {
	return fmt.Sprintf("%%%s = move %s %%%s", m.Dest, m.Type, m.Src)
}

type BinOpKind int

const (
	Add BinOpKind = iota
	Sub
	Mul
	Div
	Mod
	And
	Or
	Xor
	Shl
	Shr
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
)

var binOpNames = map[BinOpKind]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	And: "and", Or: "or", Xor: "xor", Shl: "shl", Shr: "shr",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
}

func (k BinOpKind) String() string { return binOpNames[k] }

// IsCompare reports whether the op produces an i1 regardless of its
// operand type.
func (k BinOpKind) IsCompare() bool { return k >= Eq }

type BinOp struct {
	Dest        string
	Op          BinOpKind
	Type        Type // operand type; compares still record the operand type here
	Left, Right string
}

func (b *BinOp) isInstr() {}
func (b *BinOp) String() string {
	return fmt.Sprintf("%%%s = %s %s %%%s, %%%s", b.Dest, b.Op, b.Type, b.Left, b.Right)
}

type UnOpKind int

const (
	Neg UnOpKind = iota
	Not
	BitNot
)

type UnOp struct {
	Dest    string
	Op      UnOpKind
	Type    Type
	Operand string
}

func (u *UnOp) isInstr() {}
func (u *UnOp) String() string {
	names := map[UnOpKind]string{Neg: "neg", Not: "not", BitNot: "bitnot"}
	return fmt.Sprintf("%%%s = %s %s %%%s", u.Dest, names[u.Op], u.Type, u.Operand)
}

// Call is a call to a user function. RetType tags the destination per
// the call carries its own return-type tag.
type Call struct {
	Dest    string // empty for void calls
	Callee  string
	Args    []string
	RetType Type
	// StructName is non-empty when the callee returns a named struct;
	// the lowerer registers Dest in the function's StructOf map with it.
	StructName string
}

func (c *Call) isInstr() {}
func (c *Call) String() string {
	return fmt.Sprintf("%%%s = call %s @%s(%s)", c.Dest, c.RetType, c.Callee, joinOperands(c.Args))
}

// RuntimeCall is a call into the runtime library. Kept distinct from
// Call so the emitter knows to consult the ABI table rather than a user
// function's signature.
type RuntimeCall struct {
	Dest    string
	Callee  string // ABI-level symbol, e.g. bmb_string_concat
	Args    []string
	RetType Type
}

func (c *RuntimeCall) isInstr() {}
func (c *RuntimeCall) String() string {
	return fmt.Sprintf("%%%s = rtcall %s @%s(%s)", c.Dest, c.RetType, c.Callee, joinOperands(c.Args))
}

type FieldLoad struct {
	Dest       string
	Base       string
	StructName string
	FieldIndex int
	Type       Type // the loaded field's type
}

func (f *FieldLoad) isInstr() {}
func (f *FieldLoad) String() string {
	return fmt.Sprintf("%%%s = fieldload %s %%%s.%d (%s)", f.Dest, f.Type, f.Base, f.FieldIndex, f.StructName)
}

type FieldStore struct {
	Base       string
	StructName string
	FieldIndex int
	Value      string
	Type       Type
}

func (f *FieldStore) isInstr() {}
func (f *FieldStore) String() string {
	return fmt.Sprintf("fieldstore %%%s.%d = %s %%%s (%s)", f.Base, f.FieldIndex, f.Type, f.Value, f.StructName)
}

type IndexLoad struct {
	Dest  string
	Base  string
	Index string
	Type  Type // element type
}

func (i *IndexLoad) isInstr() {}
func (i *IndexLoad) String() string {
	return fmt.Sprintf("%%%s = indexload %s %%%s[%%%s]", i.Dest, i.Type, i.Base, i.Index)
}

type IndexStore struct {
	Base  string
	Index string
	Value string
	Type  Type
}

func (i *IndexStore) isInstr() {}
func (i *IndexStore) String() string {
	return fmt.Sprintf("indexstore %%%s[%%%s] = %s %%%s", i.Base, i.Index, i.Type, i.Value)
}

// Alloca reserves a stack slot. Dest is the slot's place name; reads of
// a local go through its slot (`name.addr` at emission), unlike reads
// of a parameter, which use the SSA value directly.
type Alloca struct {
	Dest string
	Type Type
}

func (a *Alloca) isInstr() {}
func (a *Alloca) String() string {
	return fmt.Sprintf("%%%s = alloca %s", a.Dest, a.Type)
}

// MallocWrap heap-allocates Size bytes through the runtime.
type MallocWrap struct {
	Dest string
	Size string
}

func (m *MallocWrap) isInstr() {}
func (m *MallocWrap) String() string {
	return fmt.Sprintf("%%%s = malloc %%%s", m.Dest, m.Size)
}

// StructConstruct heap-allocates a struct and stores each field in
// declaration order. The destination is always Ptr-typed with
// StructName tagged in StructOf.
type StructConstruct struct {
	Dest       string
	StructName string
	Fields     []string // values in field-declaration order
	FieldTypes []Type
}

func (s *StructConstruct) isInstr() {}
func (s *StructConstruct) String() string {
	return fmt.Sprintf("%%%s = struct %s {%s}", s.Dest, s.StructName, joinOperands(s.Fields))
}

// VariantConstruct builds an enum value: a heap record of
// {tag, payload...}.
type VariantConstruct struct {
	Dest     string
	EnumName string
	Tag      int
	Payload  []string
}

func (v *VariantConstruct) isInstr() {}
func (v *VariantConstruct) String() string {
	return fmt.Sprintf("%%%s = variant %s#%d(%s)", v.Dest, v.EnumName, v.Tag, joinOperands(v.Payload))
}

// VariantTest yields i1: does Base carry Tag?
type VariantTest struct {
	Dest string
	Base string
	Tag  int
}

func (v *VariantTest) isInstr() {}
func (v *VariantTest) String() string {
	return fmt.Sprintf("%%%s = varianttest %%%s#%d", v.Dest, v.Base, v.Tag)
}

// VariantExtract pulls payload element Index out of an enum value.
type VariantExtract struct {
	Dest  string
	Base  string
	Index int
	Type  Type
}

func (v *VariantExtract) isInstr() {}
func (v *VariantExtract) String() string {
	return fmt.Sprintf("%%%s = variantextract %s %%%s.%d", v.Dest, v.Type, v.Base, v.Index)
}

// PhiEdge is one (value, predecessor-block) pair.
type PhiEdge struct {
	Value string
	Pred  string
}

// Phi merges values at a join point. Its Type is fixed at creation time
// and must already be in the owning function's type map; it is never
// inferred later from the operands.
type Phi struct {
	Dest  string
	Type  Type
	Edges []PhiEdge
}

func (p *Phi) isInstr() {}
func (p *Phi) String() string {
	parts := make([]string, len(p.Edges))
	for i, e := range p.Edges {
		parts[i] = fmt.Sprintf("[%%%s, %%%s]", e.Value, e.Pred)
	}
	return fmt.Sprintf("%%%s = phi %s %s", p.Dest, p.Type, strings.Join(parts, ", "))
}

type Cast struct {
	Dest string
	Src  string
	From Type
	To   Type
}

func (c *Cast) isInstr() {}
func (c *Cast) String() string {
	return fmt.Sprintf("%%%s = cast %%%s %s to %s", c.Dest, c.Src, c.From, c.To)
}

// LocalLoad reads a local's current value out of its stack slot.
type LocalLoad struct {
	Dest string
	Slot string
	Type Type
}

func (l *LocalLoad) isInstr() {}
func (l *LocalLoad) String() string {
	return fmt.Sprintf("%%%s = load %s %%%s.addr", l.Dest, l.Type, l.Slot)
}

// LocalStore writes a value into a local's stack slot.
type LocalStore struct {
	Slot  string
	Value string
	Type  Type
}

func (l *LocalStore) isInstr() {}
func (l *LocalStore) String() string {
	return fmt.Sprintf("store %s %%%s, %%%s.addr", l.Type, l.Value, l.Slot)
}

type Br struct{ Target string }

func (b *Br) isTerm()        {}
func (b *Br) String() string { return fmt.Sprintf("br %%%s", b.Target) }

type CondBr struct {
	Cond        string
	True, False string
}

func (c *CondBr) isTerm() {}
func (c *CondBr) String() string {
	return fmt.Sprintf("condbr %%%s, %%%s, %%%s", c.Cond, c.True, c.False)
}

type Ret struct {
	Value string // empty for void
	Type  Type
}

func (r *Ret) isTerm() {}
func (r *Ret) String() string {
	if r.Value == "" {
		return "ret void"
	}
	return fmt.Sprintf("ret %s %%%s", r.Type, r.Value)
}

// Block is a straight-line instruction sequence with one terminator.
type Block struct {
	Label  string
	Instrs []Instr
	Term   Term
}

func (b *Block) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", b.Label)
	for _, in := range b.Instrs {
		fmt.Fprintf(&sb, "  %s\n", in)
	}
	if b.Term != nil {
		fmt.Fprintf(&sb, "  %s\n", b.Term)
	}
	return sb.String()
}

type Param struct {
	Name string
	Type Type
	// StructName tags struct-typed parameters so field access through
	// them resolves indices; empty otherwise.
	StructName string
	// Ref marks reference-typed parameters, which the emitter may
	// attribute noalias/nonnull.
	Ref bool
}

// Func is one lowered function. TypeMap is the local type map: every
// place name created during lowering has an entry. A
// missing entry at emission time is a CodegenError, never a default.
type Func struct {
	Name    string
	Params  []Param
	RetType Type
	// RetStruct is the returned struct's name when RetType is Ptr
	// because the function returns a named struct.
	RetStruct string
	Blocks    []*Block
	TypeMap   map[string]Type
	// StructOf tags Ptr-typed places with the struct they point at.
	StructOf map[string]string
	Pub      bool
	Pure     bool
	Inline   bool
	// HasPreOverStackArray marks @pure functions carrying preconditions
	// over by-value array parameters; the driver selects plain -O2 for
	// modules containing one (the documented opt dominance workaround).
	HasPreOverStackArray bool
}

func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s(", f.Name)
	for i, p := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%%%s: %s", p.Name, p.Type)
	}
	fmt.Fprintf(&sb, ") -> %s {\n", f.RetType)
	for _, b := range f.Blocks {
		sb.WriteString(b.String())
	}
	sb.WriteString("}\n")
	return sb.String()
}

// SetType records a place's type. It is the only way lowering assigns
// types; going through one chokepoint keeps the "registered at
// creation" invariant auditable.
func (f *Func) SetType(place string, t Type) {
	f.TypeMap[place] = t
}

// TypeOf looks a place up in the local type map. The bool result forces
// callers to treat a miss as the internal error it is.
func (f *Func) TypeOf(place string) (Type, bool) {
	t, ok := f.TypeMap[place]
	return t, ok
}

// StructDef is the ordered field layout the emitter turns into a named
// LLVM struct type and GEP indices.
type StructDef struct {
	Name       string
	FieldNames []string
	FieldTypes []Type
}

// FieldIndex resolves a field name to its GEP index.
func (s *StructDef) FieldIndex(name string) (int, bool) {
	for i, n := range s.FieldNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// StringConst is a string literal hoisted to module scope.
type StringConst struct {
	Label string
	Value string // unescaped bytes, as the lexer produced them
}

// Module is a lowered compilation unit.
type Module struct {
	Name    string
	Structs []*StructDef
	Strings []StringConst
	Funcs   []*Func
}

// StructByName finds a struct layout; the emitter treats a miss as a
// CodegenError.
func (m *Module) StructByName(name string) (*StructDef, bool) {
	for _, s := range m.Structs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func joinOperands(ops []string) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = "%" + o
	}
	return strings.Join(parts, ", ")
}
