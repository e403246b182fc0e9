package ast

import "github.com/bmb-lang/bmb/internal/token"

// Expr is any expression. A block `{ let x=a; let y=b; tail }`
// desugars uniformly, at parse time, into nested LetExpr nodes
// (Let(x, a, Let(y, b, tail))) — there is no separate "Block" statement
// list in the finalized AST; BlockExpr below is kept only as a thin span
// wrapper produced by the parser's single statement-flavored block
// production, wrapping the already-nested Let chain it built.
type Expr interface {
	Spanner
	GetType() Type
	SetType(Type)
	exprNode()
}

type BaseExpr struct {
	Node
	Typed
}

// LetExpr represents one binding in a desugared block: `let name [: Type] = Value; Body`.
// `Mutable` distinguishes `var` bindings, the only assignable kind.
type LetExpr struct {
	BaseExpr
	Name     string
	Declared Type // nil if the let omitted a type annotation
	Mutable  bool
	Value    Expr
	Body     Expr // the rest of the block; never nil (tail expression terminates the chain)
}

func (*LetExpr) exprNode() {}

// BlockExpr wraps the top of a desugared Let chain (or a bare tail
// expression, for an empty block) so the parser can attach one span to
// "the whole block" without inventing a second statement-list shape.
type BlockExpr struct {
	BaseExpr
	Chain Expr
}

func (*BlockExpr) exprNode() {}

type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitFloat
	LitString
	LitChar
	LitBool
	LitNull
	LitUnit
)

type LiteralExpr struct {
	BaseExpr
	Kind LiteralKind
	Raw  string // original lexeme, for re-parsing with the right width/precision
}

func (*LiteralExpr) exprNode() {}

type IdentExpr struct {
	BaseExpr
	Name string
}

func (*IdentExpr) exprNode() {}

type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr
	OpRange
)

func BinOpFromToken(k token.Kind) (BinOp, bool) {
	switch k {
	case token.PLUS:
		return OpAdd, true
	case token.MINUS:
		return OpSub, true
	case token.STAR:
		return OpMul, true
	case token.SLASH:
		return OpDiv, true
	case token.PERCENT:
		return OpMod, true
	case token.EQEQ:
		return OpEq, true
	case token.NEQ:
		return OpNeq, true
	case token.LT:
		return OpLt, true
	case token.LE:
		return OpLe, true
	case token.GT:
		return OpGt, true
	case token.GE:
		return OpGe, true
	case token.KW_AND:
		return OpAnd, true
	case token.KW_OR:
		return OpOr, true
	case token.AMP:
		return OpBitAnd, true
	case token.PIPE:
		return OpBitOr, true
	case token.CARET:
		return OpBitXor, true
	case token.SHL:
		return OpShl, true
	case token.SHR:
		return OpShr, true
	case token.DOTDOT:
		return OpRange, true
	default:
		return 0, false
	}
}

type BinaryExpr struct {
	BaseExpr
	Op          BinOp
	Left, Right Expr
}

func (*BinaryExpr) exprNode() {}

type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
	OpBitNot
)

type UnaryExpr struct {
	BaseExpr
	Op      UnOp
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

type CallExpr struct {
	BaseExpr
	Callee Expr
	Args   []Expr
}

func (*CallExpr) exprNode() {}

type MethodCallExpr struct {
	BaseExpr
	Receiver Expr
	Method   string
	Args     []Expr
}

func (*MethodCallExpr) exprNode() {}

type FieldAccessExpr struct {
	BaseExpr
	Object Expr
	Field  string
}

func (*FieldAccessExpr) exprNode() {}

// FieldStoreExpr is the `set expr.ident = expr;` statement form, typed
// as Unit.
type FieldStoreExpr struct {
	BaseExpr
	Object Expr
	Field  string
	Value  Expr
}

func (*FieldStoreExpr) exprNode() {}

type IndexExpr struct {
	BaseExpr
	Object Expr
	Index  Expr
}

func (*IndexExpr) exprNode() {}

type ArrayLitExpr struct {
	BaseExpr
	Elems []Expr
}

func (*ArrayLitExpr) exprNode() {}

type StructFieldInit struct {
	Name  string
	Value Expr
}

// StructLitExpr is `new StructName { field: value, ... }`.
type StructLitExpr struct {
	BaseExpr
	StructName string
	TypeArgs   []Type // explicit generic args, if the surface syntax supplied any
	Fields     []StructFieldInit
}

func (*StructLitExpr) exprNode() {}

type TupleExpr struct {
	BaseExpr
	Elems []Expr
}

func (*TupleExpr) exprNode() {}

type IfExpr struct {
	BaseExpr
	Cond       Expr
	Then       Expr
	Else       Expr // nil if no else branch; such an if is typed Unit
}

func (*IfExpr) exprNode() {}

// Pattern is the closed set of match patterns.
type Pattern interface {
	patternNode()
}

type LiteralPattern struct{ Value LiteralExpr }
type WildcardPattern struct{}
type BindingPattern struct{ Name string }
type TuplePattern struct{ Elems []Pattern }
type VariantPattern struct {
	EnumName    string
	VariantName string
	Elems       []Pattern
}

func (*LiteralPattern) patternNode() {}
func (*WildcardPattern) patternNode() {}
func (*BindingPattern) patternNode() {}
func (*TuplePattern) patternNode()   {}
func (*VariantPattern) patternNode() {}

type MatchArm struct {
	Pattern Pattern
	Guard   Expr // nil if no guard
	Body    Expr
}

type MatchExpr struct {
	BaseExpr
	Scrutinee Expr
	Arms      []MatchArm
}

func (*MatchExpr) exprNode() {}

type WhileExpr struct {
	BaseExpr
	Invariant Expr // @invariant for the SMT verifier; nil if absent
	Cond      Expr
	Body      Expr
}

func (*WhileExpr) exprNode() {}

// ForExpr desugars to a counter-driven while loop during lowering, but
// is kept
// as its own node through parsing/checking so diagnostics read "for"
// rather than the desugared form.
type ForExpr struct {
	BaseExpr
	Binding string
	Start   Expr
	End     Expr
	Body    Expr
}

func (*ForExpr) exprNode() {}

type LoopExpr struct {
	BaseExpr
	Body Expr
}

func (*LoopExpr) exprNode() {}

type BreakExpr struct {
	BaseExpr
	Value Expr // nil for a bare break
}

func (*BreakExpr) exprNode() {}

type ContinueExpr struct{ BaseExpr }

func (*ContinueExpr) exprNode() {}

type ReturnExpr struct {
	BaseExpr
	Value Expr // nil for a bare return
}

func (*ReturnExpr) exprNode() {}

type LambdaExpr struct {
	BaseExpr
	Params []Param
	Body   Expr
}

func (*LambdaExpr) exprNode() {}

// AssignExpr assigns to a `var` binding, distinct from the immutable
// `let` binding form.
type AssignExpr struct {
	BaseExpr
	Name  string
	Value Expr
}

func (*AssignExpr) exprNode() {}

// RefinementAssertExpr is the inline refinement annotation form
// `expr as T{it OP e}` — a runtime-checked (or SMT-discharged) cast
// through a refinement predicate, distinct from a refinement used in
// type position (RefinementType).
type RefinementAssertExpr struct {
	BaseExpr
	Value    Expr
	Refined  *RefinementType
}

func (*RefinementAssertExpr) exprNode() {}

// OldExpr / RetExpr / ItExpr name the three contract-only pseudo-values
// (`old(...)`, `ret`, `it`) that only ever appear inside a Contract or a
// RefinementType's Predicate, never in a function body.
type OldExpr struct {
	BaseExpr
	Value Expr
}

func (*OldExpr) exprNode() {}

type RetExpr struct{ BaseExpr }

func (*RetExpr) exprNode() {}

type ItExpr struct{ BaseExpr }

func (*ItExpr) exprNode() {}

// SpawnExpr is parser-supported and type-checked; `spawn` is reserved
// for future thread spawning and currently runs its body inline.
type SpawnExpr struct {
	BaseExpr
	Body Expr
}

func (*SpawnExpr) exprNode() {}
