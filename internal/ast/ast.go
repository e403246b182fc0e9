// Package ast defines the BMB abstract syntax tree. Every node carries
// a Span and a settable Type slot, filled in by the type checker, so
// types and contracts travel with the tree through every phase.
package ast

import "github.com/bmb-lang/bmb/internal/diag"

// Node is embedded by every AST node for its span.
type Node struct {
	Span diag.Span
}

func (n Node) GetSpan() diag.Span { return n.Span }

type Spanner interface {
	GetSpan() diag.Span
}

// Typed is embedded by every Expr for its inferred-type slot.
type Typed struct {
	Type Type
}

func (t *Typed) GetType() Type     { return t.Type }
func (t *Typed) SetType(ty Type)   { t.Type = ty }

// Module is the top-level translation unit: a sequence of items.
type Module struct {
	Node
	Name  string
	Decls []Decl
}

// Decl is any top-level item.
type Decl interface {
	Spanner
	declNode()
}

// Attrs holds the function attributes: @pure, @decreases, @trust,
// @inline.
type Attrs struct {
	Pure      bool
	Decreases Expr // nil if absent
	Trust     bool
	Inline    bool
}

// Contract holds a function's pre/post/where clauses.
type Contract struct {
	Pre   []Expr
	Post  []Expr
	Where []NamedClause
}

type NamedClause struct {
	Name string
	Expr Expr
}

type Param struct {
	Name string
	Type Type
	Mut  bool
}

// FnDecl is a function declaration/definition. Body is nil for trait
// method signatures without a default implementation.
type FnDecl struct {
	Node
	Pub      bool
	Attrs    Attrs
	Name     string
	Generics []string
	Params   []Param
	RetType  Type
	Contract Contract
	Body     Expr // expression body per `fn f(...) -> T = expr;`
}

func (*FnDecl) declNode()           {}
func (f *FnDecl) GetSpan() diag.Span { return f.Span }

type StructDecl struct {
	Node
	Pub      bool
	Name     string
	Generics []string
	Fields   []StructField
}

func (*StructDecl) declNode() {}

type EnumDecl struct {
	Node
	Pub      bool
	Name     string
	Generics []string
	Variants []EnumVariant
}

func (*EnumDecl) declNode() {}

type TraitMethod struct {
	Name    string
	Params  []Param
	RetType Type
	Default Expr // nil if no default body
}

type TraitDecl struct {
	Node
	Pub     bool
	Name    string
	Methods []TraitMethod
}

func (*TraitDecl) declNode() {}

type ImplBlock struct {
	Node
	TraitName string // empty for an inherent impl
	TypeName  string
	Generics  []string
	Methods   []*FnDecl
}

func (*ImplBlock) declNode() {}

// UseDecl carries a `use` path. Package discovery happens outside the
// compiler core; the node exists only so the parser can consume and
// ignore `use` paths without producing a ParseError.
type UseDecl struct {
	Node
	Path []string
}

func (*UseDecl) declNode() {}
