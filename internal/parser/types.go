package parser

import (
	"fmt"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/token"
)

// typeExpr parses a type, including the `T{it OP expr, ...}` refinement
// suffix and the trailing `?` nullability marker.
func (p *Parser) typeExpr() ast.Type {
	base := p.baseType()

	if p.check(token.LBRACE) {
		base = p.refinementSuffix(base)
	}
	for p.match(token.QUESTION) {
		base = &ast.NullableType{Elem: base}
	}
	return base
}

func (p *Parser) baseType() ast.Type {
	switch {
	case p.match(token.AMP):
		mut := p.match(token.KW_MUT)
		if p.match(token.LBRACKET) {
			elem := p.typeExpr()
			if p.match(token.SEMI) {
				// &[T; N]: a reference to a fixed-size array.
				lenTok := p.consume(token.INT, "expected an array length")
				p.consume(token.RBRACKET, "expected ']' after array length")
				arr := &ast.ArrayType{Elem: elem, Len: parseIntLiteral(lenTok.Lexeme)}
				return &ast.RefType{Elem: arr, Mut: mut}
			}
			p.consume(token.RBRACKET, "expected ']' after slice element type")
			return &ast.SliceType{Elem: elem}
		}
		elem := p.typeExpr()
		return &ast.RefType{Elem: elem, Mut: mut}
	case p.match(token.STAR):
		elem := p.typeExpr()
		return &ast.PtrType{Elem: elem}
	case p.match(token.LBRACKET):
		elem := p.typeExpr()
		p.consume(token.SEMI, "expected ';' in array type")
		lenTok := p.consume(token.INT, "expected an array length")
		n := parseIntLiteral(lenTok.Lexeme)
		p.consume(token.RBRACKET, "expected ']' after array length")
		return &ast.ArrayType{Elem: elem, Len: n}
	case p.match(token.LPAREN):
		var elems []ast.Type
		if !p.check(token.RPAREN) {
			elems = append(elems, p.typeExpr())
			for p.match(token.COMMA) {
				elems = append(elems, p.typeExpr())
			}
		}
		p.consume(token.RPAREN, "expected ')' after tuple type")
		return &ast.TupleType{Elems: elems}
	case p.check(token.IDENT):
		name := p.advance().Lexeme
		if p.match(token.LT) {
			var args []ast.Type
			args = append(args, p.typeExpr())
			for p.match(token.COMMA) {
				args = append(args, p.typeExpr())
			}
			p.consume(token.GT, "expected '>' after generic type arguments")
			return &ast.StructType{BaseName: name, Args: args}
		}
		return namedOrPrimitive(name)
	default:
		p.errorHere("expected a type")
		return ast.Unit
	}
}

func namedOrPrimitive(name string) ast.Type {
	switch name {
	case "i8":
		return ast.I8
	case "i16":
		return ast.I16
	case "i32":
		return ast.I32
	case "i64":
		return ast.I64
	case "f32":
		return ast.F32
	case "f64":
		return ast.F64
	case "bool":
		return ast.Bool
	case "string":
		return ast.Str
	case "unit":
		return ast.Unit
	case "never":
		return ast.Never
	default:
		return &ast.StructType{BaseName: name}
	}
}

// refinementSuffix parses `{it OP expr, ...}` attached to base, building
// a conjunction when multiple predicates are given (comma-separated).
func (p *Parser) refinementSuffix(base ast.Type) ast.Type {
	p.consume(token.LBRACE, "expected '{' to open refinement")
	bound := "it"
	if p.check(token.KW_IT) {
		p.advance()
	} else if p.check(token.IDENT) {
		bound = p.advance().Lexeme
	}
	var pred ast.Expr
	if bound == "it" && p.check(token.KW_IT) {
		// already consumed above; nothing else to do
	}
	pred = p.refinementPredicate()
	for p.match(token.COMMA) {
		if p.check(token.KW_IT) {
			p.advance()
		}
		next := p.refinementPredicate()
		pred = &ast.BinaryExpr{Op: ast.OpAnd, Left: pred, Right: next}
	}
	p.consume(token.RBRACE, "expected '}' to close refinement")
	return &ast.RefinementType{
		Base:      base,
		BoundName: bound,
		Predicate: pred,
		Source:    fmt.Sprintf("%s %s", bound, "..."),
	}
}

// refinementPredicate parses `OP expr` (the `it` / bound name was
// already consumed by the caller) as a binary comparison whose left
// operand is an implicit ItExpr.
func (p *Parser) refinementPredicate() ast.Expr {
	it := &ast.ItExpr{}
	opTok := p.advance()
	binOp, ok := ast.BinOpFromToken(opTok.Kind)
	if !ok {
		p.errorHere("expected a comparison operator in refinement predicate")
		binOp = ast.OpEq
	}
	rhs := p.equality()
	return &ast.BinaryExpr{Op: binOp, Left: it, Right: rhs}
}

func parseIntLiteral(lexeme string) int {
	n := 0
	for _, r := range lexeme {
		if r == '_' {
			continue
		}
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
