// Package token defines the lexical token kinds and the Token value the
// lexer produces, covering BMB's full keyword and operator set.
package token

import (
	"fmt"

	"github.com/bmb-lang/bmb/internal/diag"
)

type Kind int

const (
	EOF Kind = iota
	IDENT
	INT
	FLOAT
	STRING
	CHAR

	// keywords
	KW_FN
	KW_LET
	KW_VAR
	KW_IF
	KW_THEN
	KW_ELSE
	KW_MATCH
	KW_WHILE
	KW_FOR
	KW_IN
	KW_LOOP
	KW_BREAK
	KW_CONTINUE
	KW_RETURN
	KW_STRUCT
	KW_ENUM
	KW_TRAIT
	KW_IMPL
	KW_NEW
	KW_AS
	KW_PRE
	KW_POST
	KW_WHERE
	KW_OLD
	KW_RET
	KW_IT
	KW_AND
	KW_OR
	KW_NOT
	KW_PUB
	KW_USE
	KW_MUT
	KW_REF
	KW_SET
	KW_SPAWN
	KW_NULL
	KW_TRUE
	KW_FALSE
	KW_INVARIANT

	// punctuation / operators
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
	COMMA
	DOT
	DOTDOT
	COLON
	SEMI
	ARROW // ->
	FATARROW // =>
	QUESTION
	AMP    // &
	AMPMUT // &mut (the lexer emits AMP + KW_MUT; no token of this kind is produced)
	STAR
	SLASH
	PERCENT
	PLUS
	MINUS
	BANG
	EQ
	EQEQ
	NEQ
	LT
	LE
	GT
	GE
	PIPE
	CARET
	SHL
	SHR
	DOUBLE_COLON // ::
	AT           // attribute sigil @
)

var names = map[Kind]string{
	EOF: "EOF", IDENT: "IDENT", INT: "INT", FLOAT: "FLOAT", STRING: "STRING", CHAR: "CHAR",
	KW_FN: "fn", KW_LET: "let", KW_VAR: "var", KW_IF: "if", KW_THEN: "then", KW_ELSE: "else",
	KW_MATCH: "match", KW_WHILE: "while", KW_FOR: "for", KW_IN: "in", KW_LOOP: "loop", KW_BREAK: "break",
	KW_CONTINUE: "continue", KW_RETURN: "return", KW_STRUCT: "struct", KW_ENUM: "enum",
	KW_TRAIT: "trait", KW_IMPL: "impl", KW_NEW: "new", KW_AS: "as", KW_PRE: "pre",
	KW_POST: "post", KW_WHERE: "where", KW_OLD: "old", KW_RET: "ret", KW_IT: "it",
	KW_AND: "and", KW_OR: "or", KW_NOT: "not", KW_PUB: "pub", KW_USE: "use", KW_MUT: "mut",
	KW_REF: "ref", KW_SET: "set", KW_SPAWN: "spawn", KW_NULL: "null", KW_TRUE: "true",
	KW_FALSE: "false", KW_INVARIANT: "invariant",
	LPAREN: "(", RPAREN: ")", LBRACE: "{", RBRACE: "}", LBRACKET: "[", RBRACKET: "]",
	COMMA: ",", DOT: ".", DOTDOT: "..", COLON: ":", SEMI: ";", ARROW: "->", FATARROW: "=>",
	QUESTION: "?", AMP: "&", STAR: "*", SLASH: "/", PERCENT: "%", PLUS: "+", MINUS: "-",
	BANG: "!", EQ: "=", EQEQ: "==", NEQ: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
	PIPE: "|", CARET: "^", SHL: "<<", SHR: ">>", DOUBLE_COLON: "::", AT: "@",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Keywords maps reserved lexemes to their Kind, including the
// contract/attribute/pattern keywords.
var Keywords = map[string]Kind{
	"fn": KW_FN, "let": KW_LET, "var": KW_VAR, "if": KW_IF, "then": KW_THEN,
	"else": KW_ELSE, "match": KW_MATCH, "while": KW_WHILE, "for": KW_FOR,
	"loop": KW_LOOP, "in": KW_IN, "break": KW_BREAK, "continue": KW_CONTINUE, "return": KW_RETURN,
	"struct": KW_STRUCT, "enum": KW_ENUM, "trait": KW_TRAIT, "impl": KW_IMPL,
	"new": KW_NEW, "as": KW_AS, "pre": KW_PRE, "post": KW_POST, "where": KW_WHERE,
	"old": KW_OLD, "ret": KW_RET, "it": KW_IT, "and": KW_AND, "or": KW_OR, "not": KW_NOT,
	"pub": KW_PUB, "use": KW_USE, "mut": KW_MUT, "ref": KW_REF, "set": KW_SET,
	"spawn": KW_SPAWN, "null": KW_NULL, "true": KW_TRUE, "false": KW_FALSE,
	"invariant": KW_INVARIANT,
}

// Token is immutable after lex.
type Token struct {
	Kind   Kind
	Lexeme string
	Span   diag.Span
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q", t.Kind, t.Lexeme)
}
