package parser

import (
	"github.com/bmb-lang/bmb/internal/ast"
	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/token"
)

func spanExpr(sp diag.Span) ast.BaseExpr {
	return ast.BaseExpr{Node: ast.Node{Span: sp}}
}

// simpleBaseExpr builds a BaseExpr spanning from start to the token just
// consumed.
func simpleBaseExpr(start token.Token, p *Parser) ast.BaseExpr {
	return spanExpr(p.spanFrom(start))
}

// blockOrExpr is the single statement-flavored block production
// required to be reused at every block-producing site (function body,
// while/for/loop body, spawn body, closure body, match-arm expression)
// so the desugaring cannot drift between sites. If the next token is '{' it parses a
// brace block and desugars its let-bindings into a right-nested Let
// chain; otherwise it parses one bare expression as the body (used
// directly by `fn f(...) -> T = expr;` without braces).
func (p *Parser) blockOrExpr() ast.Expr {
	if p.check(token.LBRACE) {
		return p.block()
	}
	return p.expression()
}

// block parses `{ (let|var NAME [: T] = expr ;)* tail }` and desugars it
// into nested ast.LetExpr nodes terminated by tail: a block desugars
// to Let(x, a, Let(y, b, tail)). An empty block (no
// bindings) has Chain == tail.
func (p *Parser) block() ast.Expr {
	start := p.consume(token.LBRACE, "expected '{' to open a block")

	type binding struct {
		name     string
		declared ast.Type
		mutable  bool
		value    ast.Expr
		span     diag.Span
	}
	var bindings []binding

	for (p.check(token.KW_LET) || p.check(token.KW_VAR)) && !p.atEnd() {
		bindStart := p.current()
		mutable := p.check(token.KW_VAR)
		p.advance() // consume let/var
		nameTok := p.consume(token.IDENT, "expected a binding name")
		var declared ast.Type
		if p.match(token.COLON) {
			declared = p.typeExpr()
		}
		p.consume(token.EQ, "expected '=' in let/var binding")
		value := p.expression()
		p.consume(token.SEMI, "expected ';' after let/var binding")
		bindings = append(bindings, binding{
			name:     nameTok.Lexeme,
			declared: declared,
			mutable:  mutable,
			value:    value,
			span:     p.spanFrom(bindStart),
		})
	}

	var tail ast.Expr
	if p.check(token.RBRACE) {
		tail = &ast.LiteralExpr{BaseExpr: spanExpr(p.current().Span), Kind: ast.LitUnit}
	} else {
		tail = p.blockTailStmt()
	}
	p.consume(token.RBRACE, "expected '}' to close block")

	chain := tail
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		chain = &ast.LetExpr{
			BaseExpr: spanExpr(b.span),
			Name:     b.name,
			Declared: b.declared,
			Mutable:  b.mutable,
			Value:    b.value,
			Body:     chain,
		}
	}
	return &ast.BlockExpr{BaseExpr: simpleBaseExpr(start, p), Chain: chain}
}

// blockTailStmt parses the block's trailing expression, which may be a
// `set obj.field = value;`-style store or a bare expression, optionally
// followed by further ';'-separated expression-statements whose values
// are discarded before the final tail value.
func (p *Parser) blockTailStmt() ast.Expr {
	start := p.current()
	first := p.statementExpr()
	if !p.match(token.SEMI) {
		return first
	}
	if p.check(token.RBRACE) {
		return first
	}
	rest := p.blockTailStmt()
	return &ast.LetExpr{
		BaseExpr: simpleBaseExpr(start, p),
		Name:     "_",
		Value:    first,
		Body:     rest,
	}
}

// statementExpr parses one block-level statement form: `set` field
// store, or a bare expression (which may itself be an assignment).
func (p *Parser) statementExpr() ast.Expr {
	if p.match(token.KW_SET) {
		start := p.previous()
		obj := p.call()
		fa, ok := obj.(*ast.FieldAccessExpr)
		if !ok {
			p.errorHere("expected 'set obj.field = value'")
			return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitUnit}
		}
		p.consume(token.EQ, "expected '=' after 'set obj.field'")
		val := p.expression()
		return &ast.FieldStoreExpr{BaseExpr: simpleBaseExpr(start, p), Object: fa.Object, Field: fa.Field, Value: val}
	}
	return p.expression()
}

func (p *Parser) expression() ast.Expr { return p.assignment() }

func (p *Parser) assignment() ast.Expr {
	start := p.current()
	expr := p.logicOr()
	if p.match(token.EQ) {
		value := p.assignment()
		if ident, ok := expr.(*ast.IdentExpr); ok {
			return &ast.AssignExpr{BaseExpr: simpleBaseExpr(start, p), Name: ident.Name, Value: value}
		}
		p.errorHere("invalid assignment target")
	}
	return expr
}

func (p *Parser) logicOr() ast.Expr {
	start := p.current()
	expr := p.logicAnd()
	for p.match(token.KW_OR) {
		right := p.logicAnd()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpOr, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) logicAnd() ast.Expr {
	start := p.current()
	expr := p.equality()
	for p.match(token.KW_AND) {
		right := p.equality()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpAnd, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) equality() ast.Expr {
	start := p.current()
	expr := p.comparison()
	for p.check(token.EQEQ) || p.check(token.NEQ) {
		op, _ := ast.BinOpFromToken(p.advance().Kind)
		right := p.comparison()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: op, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) comparison() ast.Expr {
	start := p.current()
	expr := p.bitOr()
	for p.check(token.LT) || p.check(token.LE) || p.check(token.GT) || p.check(token.GE) {
		op, _ := ast.BinOpFromToken(p.advance().Kind)
		right := p.bitOr()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: op, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) bitOr() ast.Expr {
	start := p.current()
	expr := p.bitXor()
	for p.check(token.PIPE) {
		p.advance()
		right := p.bitXor()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpBitOr, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) bitXor() ast.Expr {
	start := p.current()
	expr := p.bitAnd()
	for p.check(token.CARET) {
		p.advance()
		right := p.bitAnd()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpBitXor, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) bitAnd() ast.Expr {
	start := p.current()
	expr := p.shift()
	for p.check(token.AMP) {
		p.advance()
		right := p.shift()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpBitAnd, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) shift() ast.Expr {
	start := p.current()
	expr := p.rangeExpr()
	for p.check(token.SHL) || p.check(token.SHR) {
		op, _ := ast.BinOpFromToken(p.advance().Kind)
		right := p.rangeExpr()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: op, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) rangeExpr() ast.Expr {
	start := p.current()
	expr := p.term()
	if p.match(token.DOTDOT) {
		right := p.term()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpRange, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) term() ast.Expr {
	start := p.current()
	expr := p.factor()
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op, _ := ast.BinOpFromToken(p.advance().Kind)
		right := p.factor()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: op, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) factor() ast.Expr {
	start := p.current()
	expr := p.unary()
	for p.check(token.STAR) || p.check(token.SLASH) || p.check(token.PERCENT) {
		op, _ := ast.BinOpFromToken(p.advance().Kind)
		right := p.unary()
		expr = &ast.BinaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: op, Left: expr, Right: right}
	}
	return expr
}

func (p *Parser) unary() ast.Expr {
	start := p.current()
	switch {
	case p.match(token.BANG):
		operand := p.unary()
		return &ast.UnaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpNot, Operand: operand}
	case p.match(token.KW_NOT):
		operand := p.unary()
		return &ast.UnaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpNot, Operand: operand}
	case p.match(token.MINUS):
		operand := p.unary()
		return &ast.UnaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpNeg, Operand: operand}
	case p.match(token.CARET):
		operand := p.unary()
		return &ast.UnaryExpr{BaseExpr: simpleBaseExpr(start, p), Op: ast.OpBitNot, Operand: operand}
	default:
		return p.call()
	}
}

func (p *Parser) call() ast.Expr {
	start := p.current()
	expr := p.primary()
	for {
		switch {
		case p.match(token.LPAREN):
			args := p.argumentList()
			expr = &ast.CallExpr{BaseExpr: simpleBaseExpr(start, p), Callee: expr, Args: args}
		case p.match(token.DOT):
			name := p.consume(token.IDENT, "expected a field or method name after '.'")
			if p.match(token.LPAREN) {
				args := p.argumentList()
				expr = &ast.MethodCallExpr{BaseExpr: simpleBaseExpr(start, p), Receiver: expr, Method: name.Lexeme, Args: args}
			} else {
				expr = &ast.FieldAccessExpr{BaseExpr: simpleBaseExpr(start, p), Object: expr, Field: name.Lexeme}
			}
		case p.match(token.LBRACKET):
			idx := p.expression()
			p.consume(token.RBRACKET, "expected ']' after index expression")
			expr = &ast.IndexExpr{BaseExpr: simpleBaseExpr(start, p), Object: expr, Index: idx}
		default:
			return expr
		}
	}
}

func (p *Parser) argumentList() []ast.Expr {
	var args []ast.Expr
	if !p.check(token.RPAREN) {
		args = append(args, p.expression())
		for p.match(token.COMMA) {
			args = append(args, p.expression())
		}
	}
	p.consume(token.RPAREN, "expected ')' after arguments")
	return args
}

func (p *Parser) primary() ast.Expr {
	start := p.current()
	switch {
	case p.match(token.KW_TRUE):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitBool, Raw: "true"}
	case p.match(token.KW_FALSE):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitBool, Raw: "false"}
	case p.match(token.KW_NULL):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitNull}
	case p.match(token.INT):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitInt, Raw: p.previous().Lexeme}
	case p.match(token.FLOAT):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitFloat, Raw: p.previous().Lexeme}
	case p.match(token.STRING):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitString, Raw: p.previous().Lexeme}
	case p.match(token.CHAR):
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitChar, Raw: p.previous().Lexeme}
	case p.match(token.KW_OLD):
		p.consume(token.LPAREN, "expected '(' after 'old'")
		inner := p.expression()
		p.consume(token.RPAREN, "expected ')' after old(...) expression")
		return &ast.OldExpr{BaseExpr: simpleBaseExpr(start, p), Value: inner}
	case p.match(token.KW_RET):
		return &ast.RetExpr{BaseExpr: simpleBaseExpr(start, p)}
	case p.match(token.KW_IT):
		return &ast.ItExpr{BaseExpr: simpleBaseExpr(start, p)}
	case p.match(token.KW_NEW):
		return p.structLit(start)
	case p.match(token.KW_IF):
		return p.ifExpr(start)
	case p.match(token.KW_MATCH):
		return p.matchExpr(start)
	case p.match(token.KW_WHILE):
		return p.whileExpr(start)
	case p.match(token.KW_FOR):
		return p.forExpr(start)
	case p.match(token.KW_LOOP):
		body := p.blockOrExpr()
		return &ast.LoopExpr{BaseExpr: simpleBaseExpr(start, p), Body: body}
	case p.match(token.KW_BREAK):
		var val ast.Expr
		if !p.check(token.SEMI) && !p.check(token.RBRACE) {
			val = p.expression()
		}
		return &ast.BreakExpr{BaseExpr: simpleBaseExpr(start, p), Value: val}
	case p.match(token.KW_CONTINUE):
		return &ast.ContinueExpr{BaseExpr: simpleBaseExpr(start, p)}
	case p.match(token.KW_RETURN):
		var val ast.Expr
		if !p.check(token.SEMI) && !p.check(token.RBRACE) {
			val = p.expression()
		}
		return &ast.ReturnExpr{BaseExpr: simpleBaseExpr(start, p), Value: val}
	case p.match(token.KW_SPAWN):
		body := p.blockOrExpr()
		return &ast.SpawnExpr{BaseExpr: simpleBaseExpr(start, p), Body: body}
	case p.check(token.PIPE):
		return p.lambdaExpr(start)
	case p.match(token.LBRACKET):
		return p.arrayLit(start)
	case p.match(token.LPAREN):
		first := p.expression()
		if p.match(token.COMMA) {
			elems := []ast.Expr{first}
			if !p.check(token.RPAREN) {
				elems = append(elems, p.expression())
				for p.match(token.COMMA) {
					elems = append(elems, p.expression())
				}
			}
			p.consume(token.RPAREN, "expected ')' after tuple")
			return &ast.TupleExpr{BaseExpr: simpleBaseExpr(start, p), Elems: elems}
		}
		p.consume(token.RPAREN, "expected ')' after expression")
		return first
	case p.check(token.LBRACE):
		return p.block()
	case p.match(token.IDENT):
		return &ast.IdentExpr{BaseExpr: simpleBaseExpr(start, p), Name: p.previous().Lexeme}
	default:
		p.errorHere("expected an expression")
		p.advance()
		return &ast.LiteralExpr{BaseExpr: simpleBaseExpr(start, p), Kind: ast.LitUnit}
	}
}

func (p *Parser) structLit(start token.Token) ast.Expr {
	name := p.consume(token.IDENT, "expected a struct name after 'new'")
	var typeArgs []ast.Type
	if p.match(token.LT) {
		typeArgs = append(typeArgs, p.typeExpr())
		for p.match(token.COMMA) {
			typeArgs = append(typeArgs, p.typeExpr())
		}
		p.consume(token.GT, "expected '>' after generic type arguments")
	}
	p.consume(token.LBRACE, "expected '{' after struct name")
	var fields []ast.StructFieldInit
	for !p.check(token.RBRACE) && !p.atEnd() {
		fname := p.consume(token.IDENT, "expected a field name")
		p.consume(token.COLON, "expected ':' after field name")
		val := p.expression()
		fields = append(fields, ast.StructFieldInit{Name: fname.Lexeme, Value: val})
		if !p.match(token.COMMA) {
			break
		}
	}
	p.consume(token.RBRACE, "expected '}' after struct literal fields")
	return &ast.StructLitExpr{BaseExpr: simpleBaseExpr(start, p), StructName: name.Lexeme, TypeArgs: typeArgs, Fields: fields}
}

func (p *Parser) ifExpr(start token.Token) ast.Expr {
	cond := p.expression()
	then := p.blockOrExpr()
	var els ast.Expr
	if p.match(token.KW_ELSE) {
		if p.check(token.KW_IF) {
			p.advance()
			ifStart := p.previous()
			els = p.ifExpr(ifStart)
		} else {
			els = p.blockOrExpr()
		}
	}
	return &ast.IfExpr{BaseExpr: simpleBaseExpr(start, p), Cond: cond, Then: then, Else: els}
}

func (p *Parser) whileExpr(start token.Token) ast.Expr {
	var inv ast.Expr
	if p.match(token.AT) {
		p.consume(token.KW_INVARIANT, "only @invariant is allowed before a while condition")
		p.consume(token.LPAREN, "expected '(' after @invariant")
		inv = p.expression()
		p.consume(token.RPAREN, "expected ')' after @invariant expression")
	}
	cond := p.expression()
	body := p.blockOrExpr()
	return &ast.WhileExpr{BaseExpr: simpleBaseExpr(start, p), Invariant: inv, Cond: cond, Body: body}
}

func (p *Parser) forExpr(start token.Token) ast.Expr {
	name := p.consume(token.IDENT, "expected a loop variable after 'for'")
	p.consume(token.KW_IN, "expected 'in' after for-loop variable")
	from := p.term()
	p.consume(token.DOTDOT, "expected '..' in for-loop range")
	to := p.term()
	body := p.blockOrExpr()
	return &ast.ForExpr{BaseExpr: simpleBaseExpr(start, p), Binding: name.Lexeme, Start: from, End: to, Body: body}
}

func (p *Parser) matchExpr(start token.Token) ast.Expr {
	scrut := p.expression()
	p.consume(token.LBRACE, "expected '{' after match scrutinee")
	var arms []ast.MatchArm
	for !p.check(token.RBRACE) && !p.atEnd() {
		pat := p.pattern()
		var guard ast.Expr
		if p.match(token.KW_IF) {
			guard = p.expression()
		}
		p.consume(token.FATARROW, "expected '=>' after match pattern")
		body := p.expression()
		arms = append(arms, ast.MatchArm{Pattern: pat, Guard: guard, Body: body})
		p.match(token.COMMA)
	}
	p.consume(token.RBRACE, "expected '}' after match arms")
	return &ast.MatchExpr{BaseExpr: simpleBaseExpr(start, p), Scrutinee: scrut, Arms: arms}
}

func (p *Parser) pattern() ast.Pattern {
	switch {
	case p.check(token.IDENT) && p.current().Lexeme == "_":
		p.advance()
		return &ast.WildcardPattern{}
	case p.match(token.INT):
		return &ast.LiteralPattern{Value: ast.LiteralExpr{Kind: ast.LitInt, Raw: p.previous().Lexeme}}
	case p.match(token.STRING):
		return &ast.LiteralPattern{Value: ast.LiteralExpr{Kind: ast.LitString, Raw: p.previous().Lexeme}}
	case p.match(token.KW_TRUE):
		return &ast.LiteralPattern{Value: ast.LiteralExpr{Kind: ast.LitBool, Raw: "true"}}
	case p.match(token.KW_FALSE):
		return &ast.LiteralPattern{Value: ast.LiteralExpr{Kind: ast.LitBool, Raw: "false"}}
	case p.match(token.LPAREN):
		var elems []ast.Pattern
		if !p.check(token.RPAREN) {
			elems = append(elems, p.pattern())
			for p.match(token.COMMA) {
				elems = append(elems, p.pattern())
			}
		}
		p.consume(token.RPAREN, "expected ')' after tuple pattern")
		return &ast.TuplePattern{Elems: elems}
	case p.check(token.IDENT):
		name := p.advance().Lexeme
		if p.match(token.DOUBLE_COLON) {
			variant := p.consume(token.IDENT, "expected a variant name after '::'")
			var elems []ast.Pattern
			if p.match(token.LPAREN) {
				if !p.check(token.RPAREN) {
					elems = append(elems, p.pattern())
					for p.match(token.COMMA) {
						elems = append(elems, p.pattern())
					}
				}
				p.consume(token.RPAREN, "expected ')' after variant pattern fields")
			}
			return &ast.VariantPattern{EnumName: name, VariantName: variant.Lexeme, Elems: elems}
		}
		return &ast.BindingPattern{Name: name}
	default:
		p.errorHere("expected a pattern")
		p.advance()
		return &ast.WildcardPattern{}
	}
}

func (p *Parser) lambdaExpr(start token.Token) ast.Expr {
	p.consume(token.PIPE, "expected '|' to open lambda parameters")
	var params []ast.Param
	if !p.check(token.PIPE) {
		params = append(params, p.lambdaParam())
		for p.match(token.COMMA) {
			params = append(params, p.lambdaParam())
		}
	}
	p.consume(token.PIPE, "expected '|' to close lambda parameters")
	body := p.blockOrExpr()
	return &ast.LambdaExpr{BaseExpr: simpleBaseExpr(start, p), Params: params, Body: body}
}

func (p *Parser) lambdaParam() ast.Param {
	name := p.consume(token.IDENT, "expected a lambda parameter name")
	var ty ast.Type
	if p.match(token.COLON) {
		ty = p.typeExpr()
	}
	return ast.Param{Name: name.Lexeme, Type: ty}
}

func (p *Parser) arrayLit(start token.Token) ast.Expr {
	var elems []ast.Expr
	if !p.check(token.RBRACKET) {
		elems = append(elems, p.expression())
		for p.match(token.COMMA) {
			elems = append(elems, p.expression())
		}
	}
	p.consume(token.RBRACKET, "expected ']' after array literal")
	return &ast.ArrayLitExpr{BaseExpr: simpleBaseExpr(start, p), Elems: elems}
}
