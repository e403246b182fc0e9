package ast

import (
	"fmt"
	"strings"
)

// Type is the closed set of BMB types: primitive, array, slice,
// reference, raw pointer, nullable, tuple, named struct, generic struct
// application, enum, function, trait object, type variable, refinement.
// Every Type in a finalized AST is fully resolved except where the
// checker intentionally defers to monomorphization.
type Type interface {
	isType()
	String() string
}

type Primitive struct{ Name string } // i8,i16,i32,i64,f32,f64,bool,string,unit,never

func (*Primitive) isType()         {}
func (p *Primitive) String() string { return p.Name }

var (
	I8     = &Primitive{"i8"}
	I16    = &Primitive{"i16"}
	I32    = &Primitive{"i32"}
	I64    = &Primitive{"i64"}
	F32    = &Primitive{"f32"}
	F64    = &Primitive{"f64"}
	Bool   = &Primitive{"bool"}
	Str    = &Primitive{"string"}
	Unit   = &Primitive{"unit"}
	Never  = &Primitive{"never"}
)

type ArrayType struct {
	Elem Type
	Len  int
}

func (*ArrayType) isType() {}
func (a *ArrayType) String() string { return fmt.Sprintf("[%s; %d]", a.Elem, a.Len) }

type SliceType struct{ Elem Type }

func (*SliceType) isType()         {}
func (s *SliceType) String() string { return fmt.Sprintf("&[%s]", s.Elem) }

type RefType struct {
	Elem Type
	Mut  bool
}

func (*RefType) isType() {}
func (r *RefType) String() string {
	if r.Mut {
		return fmt.Sprintf("&mut %s", r.Elem)
	}
	return fmt.Sprintf("&%s", r.Elem)
}

// PtrType is the raw, nullable pointer used for cyclic data.
type PtrType struct{ Elem Type }

func (*PtrType) isType()         {}
func (p *PtrType) String() string { return fmt.Sprintf("*%s", p.Elem) }

type NullableType struct{ Elem Type }

func (*NullableType) isType()         {}
func (n *NullableType) String() string { return fmt.Sprintf("%s?", n.Elem) }

type TupleType struct{ Elems []Type }

func (*TupleType) isType() {}
func (t *TupleType) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

type StructField struct {
	Name string
	Type Type
}

// StructType is a named struct with an ordered field list, optionally
// generic. BaseName is the unparameterized declaration name; Args is
// non-empty for a monomorphized or still-generic application.
type StructType struct {
	BaseName string
	Args     []Type
	Fields   []StructField
}

func (*StructType) isType() {}
func (s *StructType) String() string {
	if len(s.Args) == 0 {
		return s.BaseName
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s<%s>", s.BaseName, strings.Join(parts, ","))
}

// MonomorphName returns the deterministic suffixed name a generic
// application lowers to, e.g. Pair<i64,i64> -> Pair$i64$i64.
func (s *StructType) MonomorphName() string {
	if len(s.Args) == 0 {
		return s.BaseName
	}
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		parts[i] = a.String()
	}
	return s.BaseName + "$" + strings.Join(parts, "$")
}

type EnumVariant struct {
	Name   string
	Fields []Type
}

type EnumType struct {
	Name     string
	Variants []EnumVariant
}

func (*EnumType) isType()         {}
func (e *EnumType) String() string { return e.Name }

type FuncType struct {
	Params []Type
	Ret    Type
}

func (*FuncType) isType() {}
func (f *FuncType) String() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("fn(%s)->%s", strings.Join(parts, ","), f.Ret)
}

// TraitObjectType is either a sealed (closed-world, exhaustively known
// implementors) or open trait object.
type TraitObjectType struct {
	Name   string
	Sealed bool
}

func (*TraitObjectType) isType()         {}
func (t *TraitObjectType) String() string { return "dyn " + t.Name }

// TypeVar is an as-yet-unresolved inference variable.
type TypeVar struct {
	ID   int
	Name string // empty unless user-named (generic parameter)
}

func (*TypeVar) isType() {}
func (t *TypeVar) String() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("?%d", t.ID)
}

// RefinementType attaches a predicate to a base type: `{T | predicate(it)}`,
// surface syntax `T{it OP expr}`. Predicate is an Expr referencing the
// bound name `it`.
type RefinementType struct {
	Base      Type
	BoundName string // usually "it"
	Predicate Expr
	Source    string // original surface text, for diagnostics
}

func (*RefinementType) isType()         {}
func (r *RefinementType) String() string { return fmt.Sprintf("%s{%s}", r.Base, r.Source) }

// Underlying strips any refinement wrapper, returning the base type.
func Underlying(t Type) Type {
	for {
		r, ok := t.(*RefinementType)
		if !ok {
			return t
		}
		t = r.Base
	}
}

// IsNullable reports whether t is a NullableType (possibly through a
// refinement wrapper — refinements only attach to base value types in
// BMB, but callers defensively unwrap).
func IsNullable(t Type) bool {
	_, ok := Underlying(t).(*NullableType)
	return ok
}
