// Package parser implements BMB's recursive-descent, precedence-climbing
// parser over the token stream: generics, contracts, attributes,
// refinement/nullable types, and a single statement-flavored block
// production reused at every block-producing site.
package parser

import (
	"fmt"

	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/token"
)

type Parser struct {
	file   string
	tokens []token.Token
	idx    int
	sink   *diag.Sink
	failed bool
}

func New(file string, tokens []token.Token, sink *diag.Sink) *Parser {
	return &Parser{file: file, tokens: tokens, sink: sink}
}

// Failed reports whether a ParseError was raised. Recovery
// is not attempted beyond the enclosing item, so a caller parsing many
// files should still continue to the next file/item.
func (p *Parser) Failed() bool { return p.failed }

// ---- token cursor helpers ----

func (p *Parser) current() token.Token { return p.tokens[p.idx] }

func (p *Parser) previous() token.Token {
	if p.idx > 0 {
		return p.tokens[p.idx-1]
	}
	return p.current()
}

func (p *Parser) atEnd() bool { return p.current().Kind == token.EOF }

func (p *Parser) advance() token.Token {
	tok := p.current()
	if !p.atEnd() {
		p.idx++
	}
	return tok
}

func (p *Parser) check(k token.Kind) bool { return !p.atEnd() && p.current().Kind == k }

func (p *Parser) match(kinds ...token.Kind) bool {
	for _, k := range kinds {
		if p.check(k) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) consume(k token.Kind, msg string) token.Token {
	if !p.check(k) {
		p.errorHere(msg)
		return p.current()
	}
	return p.advance()
}

func (p *Parser) errorHere(msg string) {
	p.failed = true
	tok := p.current()
	p.sink.Errorf(diag.KindParse, tok.Span, "%s (got %s %q)", msg, tok.Kind, tok.Lexeme)
}

func (p *Parser) spanFrom(start token.Token) diag.Span {
	return diag.Join(start.Span, p.previous().Span)
}

// ---- top level ----

// ParseModule parses an entire file into a Module.
// ParseError does not attempt recovery beyond the enclosing item: a
// malformed declaration aborts the whole module parse, since items are
// not independently resynchronizable without a statement terminator
// set richer than BMB's.
func (p *Parser) ParseModule(name string) *ast.Module {
	start := p.current()
	mod := &ast.Module{Name: name}
	for !p.atEnd() {
		d := p.declaration()
		if d == nil || p.failed {
			break
		}
		mod.Decls = append(mod.Decls, d)
	}
	mod.Node = ast.Node{Span: p.spanFrom(start)}
	return mod
}

func (p *Parser) declaration() ast.Decl {
	pub := p.match(token.KW_PUB)
	attrs := p.attributes()

	switch {
	case p.check(token.KW_FN):
		return p.fnDecl(pub, attrs)
	case p.match(token.KW_STRUCT):
		return p.structDecl(pub)
	case p.match(token.KW_ENUM):
		return p.enumDecl(pub)
	case p.match(token.KW_TRAIT):
		return p.traitDecl(pub)
	case p.match(token.KW_IMPL):
		return p.implBlock()
	case p.match(token.KW_USE):
		return p.useDecl()
	default:
		p.errorHere("expected a top-level declaration")
		return nil
	}
}

// attributes parses the zero-or-more @pure/@decreases(expr)/@trust/
// @inline annotations that appear immediately before `fn`.
func (p *Parser) attributes() ast.Attrs {
	var a ast.Attrs
	for p.match(token.AT) {
		name := p.consume(token.IDENT, "expected an attribute name after '@'")
		switch name.Lexeme {
		case "pure":
			a.Pure = true
		case "trust":
			a.Trust = true
		case "inline":
			a.Inline = true
		case "decreases":
			p.consume(token.LPAREN, "expected '(' after @decreases")
			a.Decreases = p.expression()
			p.consume(token.RPAREN, "expected ')' after @decreases expression")
		default:
			p.errorHere(fmt.Sprintf("unknown attribute @%s", name.Lexeme))
		}
	}
	return a
}

func (p *Parser) genericParamList() []string {
	var gens []string
	if !p.match(token.LT) {
		return gens
	}
	for {
		id := p.consume(token.IDENT, "expected a generic parameter name")
		gens = append(gens, id.Lexeme)
		if !p.match(token.COMMA) {
			break
		}
	}
	p.consume(token.GT, "expected '>' after generic parameter list")
	return gens
}

func (p *Parser) fnDecl(pub bool, attrs ast.Attrs) *ast.FnDecl {
	start := p.consume(token.KW_FN, "expected 'fn'")
	name := p.consume(token.IDENT, "expected a function name")
	generics := p.genericParamList()

	p.consume(token.LPAREN, "expected '(' after function name")
	var params []ast.Param
	if !p.check(token.RPAREN) {
		params = append(params, p.param())
		for p.match(token.COMMA) {
			params = append(params, p.param())
		}
	}
	p.consume(token.RPAREN, "expected ')' after parameters")

	var retType ast.Type = ast.Unit
	if p.match(token.ARROW) {
		retType = p.typeExpr()
	}

	contract := p.contractClauses()

	p.consume(token.EQ, "expected '=' before function body")
	body := p.blockOrExpr()
	p.match(token.SEMI)

	return &ast.FnDecl{
		Node:     ast.Node{Span: p.spanFrom(start)},
		Pub:      pub,
		Attrs:    attrs,
		Name:     name.Lexeme,
		Generics: generics,
		Params:   params,
		RetType:  retType,
		Contract: contract,
		Body:     body,
	}
}

func (p *Parser) param() ast.Param {
	mut := p.match(token.KW_MUT)
	name := p.consume(token.IDENT, "expected a parameter name")
	p.consume(token.COLON, "expected ':' after parameter name")
	ty := p.typeExpr()
	return ast.Param{Name: name.Lexeme, Type: ty, Mut: mut}
}

// contractClauses parses the `pre expr` / `post expr` / `where { name:
// expr, ... }` sequence that follows the return type and precedes `=`.
// pre/post expressions are parsed below the assignment level so the `=`
// that opens the body is not taken as part of the clause.
func (p *Parser) contractClauses() ast.Contract {
	var c ast.Contract
	for {
		switch {
		case p.match(token.KW_PRE):
			c.Pre = append(c.Pre, p.logicOr())
		case p.match(token.KW_POST):
			c.Post = append(c.Post, p.logicOr())
		case p.match(token.KW_WHERE):
			p.consume(token.LBRACE, "expected '{' after 'where'")
			for !p.check(token.RBRACE) && !p.atEnd() {
				name := p.consume(token.IDENT, "expected a where-clause name")
				p.consume(token.COLON, "expected ':' after where-clause name")
				expr := p.expression()
				c.Where = append(c.Where, ast.NamedClause{Name: name.Lexeme, Expr: expr})
				if !p.match(token.COMMA) {
					break
				}
			}
			p.consume(token.RBRACE, "expected '}' to close where clause")
		default:
			return c
		}
	}
}

func (p *Parser) structDecl(pub bool) *ast.StructDecl {
	start := p.previous()
	name := p.consume(token.IDENT, "expected a struct name")
	generics := p.genericParamList()
	p.consume(token.LBRACE, "expected '{' after struct name")
	var fields []ast.StructField
	for !p.check(token.RBRACE) && !p.atEnd() {
		fname := p.consume(token.IDENT, "expected a field name")
		p.consume(token.COLON, "expected ':' after field name")
		fty := p.typeExpr()
		fields = append(fields, ast.StructField{Name: fname.Lexeme, Type: fty})
		if !p.match(token.COMMA) {
			break
		}
	}
	p.consume(token.RBRACE, "expected '}' after struct fields")
	return &ast.StructDecl{Node: ast.Node{Span: p.spanFrom(start)}, Pub: pub, Name: name.Lexeme, Generics: generics, Fields: fields}
}

func (p *Parser) enumDecl(pub bool) *ast.EnumDecl {
	start := p.previous()
	name := p.consume(token.IDENT, "expected an enum name")
	generics := p.genericParamList()
	p.consume(token.LBRACE, "expected '{' after enum name")
	var variants []ast.EnumVariant
	for !p.check(token.RBRACE) && !p.atEnd() {
		vname := p.consume(token.IDENT, "expected a variant name")
		var fields []ast.Type
		if p.match(token.LPAREN) {
			if !p.check(token.RPAREN) {
				fields = append(fields, p.typeExpr())
				for p.match(token.COMMA) {
					fields = append(fields, p.typeExpr())
				}
			}
			p.consume(token.RPAREN, "expected ')' after variant fields")
		}
		variants = append(variants, ast.EnumVariant{Name: vname.Lexeme, Fields: fields})
		if !p.match(token.COMMA) {
			break
		}
	}
	p.consume(token.RBRACE, "expected '}' after enum variants")
	return &ast.EnumDecl{Node: ast.Node{Span: p.spanFrom(start)}, Pub: pub, Name: name.Lexeme, Generics: generics, Variants: variants}
}

func (p *Parser) traitDecl(pub bool) *ast.TraitDecl {
	start := p.previous()
	name := p.consume(token.IDENT, "expected a trait name")
	p.consume(token.LBRACE, "expected '{' after trait name")
	var methods []ast.TraitMethod
	for !p.check(token.RBRACE) && !p.atEnd() {
		p.consume(token.KW_FN, "expected 'fn' in trait body")
		mname := p.consume(token.IDENT, "expected a method name")
		p.consume(token.LPAREN, "expected '(' after method name")
		var params []ast.Param
		if !p.check(token.RPAREN) {
			params = append(params, p.param())
			for p.match(token.COMMA) {
				params = append(params, p.param())
			}
		}
		p.consume(token.RPAREN, "expected ')' after parameters")
		var ret ast.Type = ast.Unit
		if p.match(token.ARROW) {
			ret = p.typeExpr()
		}
		var def ast.Expr
		if p.match(token.EQ) {
			def = p.blockOrExpr()
		}
		p.match(token.SEMI)
		methods = append(methods, ast.TraitMethod{Name: mname.Lexeme, Params: params, RetType: ret, Default: def})
	}
	p.consume(token.RBRACE, "expected '}' after trait body")
	return &ast.TraitDecl{Node: ast.Node{Span: p.spanFrom(start)}, Pub: pub, Name: name.Lexeme, Methods: methods}
}

func (p *Parser) implBlock() *ast.ImplBlock {
	start := p.previous()
	generics := p.genericParamList()
	first := p.consume(token.IDENT, "expected a type or trait name after 'impl'")
	impl := &ast.ImplBlock{Generics: generics}
	if p.match(token.KW_FOR) {
		impl.TraitName = first.Lexeme
		tname := p.consume(token.IDENT, "expected a type name after 'for'")
		impl.TypeName = tname.Lexeme
	} else {
		impl.TypeName = first.Lexeme
	}
	p.consume(token.LBRACE, "expected '{' to open impl body")
	for !p.check(token.RBRACE) && !p.atEnd() {
		attrs := p.attributes()
		fn := p.fnDecl(false, attrs)
		impl.Methods = append(impl.Methods, fn)
	}
	p.consume(token.RBRACE, "expected '}' to close impl body")
	impl.Node = ast.Node{Span: p.spanFrom(start)}
	return impl
}

func (p *Parser) useDecl() *ast.UseDecl {
	start := p.previous()
	var path []string
	path = append(path, p.consume(token.IDENT, "expected a path segment after 'use'").Lexeme)
	for p.match(token.DOUBLE_COLON) {
		path = append(path, p.consume(token.IDENT, "expected a path segment").Lexeme)
	}
	p.match(token.SEMI)
	return &ast.UseDecl{Node: ast.Node{Span: p.spanFrom(start)}, Path: path}
}
