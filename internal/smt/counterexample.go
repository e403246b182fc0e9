package smt

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Counterexample model grammar — parses an SMT-LIB2 `(model ...)`
// response into a flat binding map: a simple lexer plus a handful of
// small, mutually-recursive struct types with participle tags. The
// main BMB grammar in internal/parser stays hand-written; this is the
// one place in the module where a solver's own output, not BMB source,
// is being parsed.

var modelLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "Float", Pattern: `[-]?[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `[-]?[0-9]+`},
	{Name: "Punct", Pattern: `[()\-]`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_!.\-]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
})

// Model is the root of a solver's (get-model) response.
type Model struct {
	Pos   lexer.Position
	Defns []*DefineFun `parser:"\"(\" \"model\"? @@* \")\""`
}

// DefineFun: (define-fun name () Sort value)
type DefineFun struct {
	Pos   lexer.Position
	Name  string `parser:"\"(\" \"define-fun\" @Ident"`
	Sort  string `parser:"\"(\" \")\" @Ident"`
	Value *ModelValue `parser:"@@ \")\""`
}

// ModelValue is the recursive value a binding can take: a literal, a
// negation `(- 1)`, or a nested constructor application.
type ModelValue struct {
	Pos    lexer.Position
	Neg    *ModelValue   `parser:"  \"(\" \"-\" @@ \")\""`
	Int    *string       `parser:"| @Int"`
	Float  *string       `parser:"| @Float"`
	Ident  *string       `parser:"| @Ident"`
	Nested []*ModelValue `parser:"| \"(\" @@* \")\""`
}

func (v *ModelValue) String() string {
	switch {
	case v == nil:
		return ""
	case v.Neg != nil:
		return "-" + v.Neg.String()
	case v.Int != nil:
		return *v.Int
	case v.Float != nil:
		return *v.Float
	case v.Ident != nil:
		return *v.Ident
	default:
		return ""
	}
}

var modelParser = participle.MustBuild[Model](
	participle.Lexer(modelLexer),
	participle.UseLookahead(4),
	participle.Elide("Comment", "Whitespace"),
)

// ParseCounterexample parses a solver's raw (get-model) text into a flat
// variable-name → value-text binding map, used to populate
// diag.Diagnostic.Counterexample when a verification obligation comes
// back SAT. Malformed or empty model text yields an empty map rather
// than an error: a counterexample is a diagnostic aid, not something
// downstream logic depends on.
func ParseCounterexample(modelText string) map[string]string {
	bindings := map[string]string{}
	model, err := modelParser.ParseString("", modelText)
	if err != nil {
		return bindings
	}
	for _, d := range model.Defns {
		bindings[d.Name] = d.Value.String()
	}
	return bindings
}
