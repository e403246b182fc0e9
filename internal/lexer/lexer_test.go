package lexer

import (
	"strings"
	"testing"

	"github.com/bmb-lang/bmb/internal/diag"
	"github.com/bmb-lang/bmb/internal/token"
)

func lex(t *testing.T, src string) ([]token.Token, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	l := New("test.bmb", []byte(src), sink)
	return l.Scan(), sink
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, tk := range toks {
		out[i] = tk.Kind
	}
	return out
}

func TestKeywordsAndOperators(t *testing.T) {
	toks, sink := lex(t, "fn f(a: i64) -> i64 pre a != 0 = a / 2;")
	if sink.HasErrors() {
		t.Fatalf("unexpected lex errors: %v", sink.Diagnostics())
	}
	want := []token.Kind{
		token.KW_FN, token.IDENT, token.LPAREN, token.IDENT, token.COLON, token.IDENT,
		token.RPAREN, token.ARROW, token.IDENT, token.KW_PRE, token.IDENT, token.NEQ,
		token.INT, token.EQ, token.IDENT, token.SLASH, token.INT, token.SEMI, token.EOF,
	}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(got), len(want), toks)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEscapesDecodedInLexer(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{`"a\nb"`, "a\nb"},
		{`"a\rb"`, "a\rb"},
		{`"a\tb"`, "a\tb"},
		{`"a\"b"`, `a"b`},
		{`"a\\b"`, `a\b`},
		{`"a\0b"`, "a\x00b"},
		{`"\x41\x42"`, "AB"},
	}
	for _, tc := range cases {
		toks, sink := lex(t, tc.src)
		if sink.HasErrors() {
			t.Fatalf("%s: unexpected errors: %v", tc.src, sink.Diagnostics())
		}
		if toks[0].Kind != token.STRING {
			t.Fatalf("%s: got kind %v", tc.src, toks[0].Kind)
		}
		if toks[0].Lexeme != tc.want {
			t.Errorf("%s: decoded %q, want %q", tc.src, toks[0].Lexeme, tc.want)
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	toks, sink := lex(t, "42 0xFF 0b1010 1_000_000 3.14 1e9")
	if sink.HasErrors() {
		t.Fatalf("unexpected errors: %v", sink.Diagnostics())
	}
	want := []struct {
		kind token.Kind
		lex  string
	}{
		{token.INT, "42"}, {token.INT, "0xFF"}, {token.INT, "0b1010"},
		{token.INT, "1_000_000"}, {token.FLOAT, "3.14"}, {token.FLOAT, "1e9"},
	}
	for i, w := range want {
		if toks[i].Kind != w.kind || toks[i].Lexeme != w.lex {
			t.Errorf("token %d: got %v %q, want %v %q", i, toks[i].Kind, toks[i].Lexeme, w.kind, w.lex)
		}
	}
}

func TestComments(t *testing.T) {
	toks, sink := lex(t, "1 -- a line comment\n/* a /* nested */ block */ 2")
	if sink.HasErrors() {
		t.Fatalf("unexpected errors: %v", sink.Diagnostics())
	}
	got := kinds(toks)
	want := []token.Kind{token.INT, token.INT, token.EOF}
	if len(got) != len(want) {
		t.Fatalf("got %v", toks)
	}
}

func TestLexErrors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		"'x",
		"`",
	}
	for _, src := range cases {
		_, sink := lex(t, src)
		if !sink.HasErrors() {
			t.Errorf("%q: expected a LexError", src)
		}
	}
}

func TestSpansCoverByteRange(t *testing.T) {
	toks, _ := lex(t, "let abc = 12;")
	// "abc" starts at byte 4, ends at byte 7.
	if toks[1].Span.Start != 4 || toks[1].Span.End != 7 {
		t.Errorf("abc span: got [%d,%d)", toks[1].Span.Start, toks[1].Span.End)
	}
}

// renderLexeme reverses the lexer's string/char decoding so token
// streams can be printed back into lexable source.
func renderLexeme(tk token.Token) string {
	switch tk.Kind {
	case token.STRING:
		var sb strings.Builder
		sb.WriteByte('"')
		for i := 0; i < len(tk.Lexeme); i++ {
			switch b := tk.Lexeme[i]; b {
			case '\n':
				sb.WriteString(`\n`)
			case '\r':
				sb.WriteString(`\r`)
			case '\t':
				sb.WriteString(`\t`)
			case '"':
				sb.WriteString(`\"`)
			case '\\':
				sb.WriteString(`\\`)
			default:
				sb.WriteByte(b)
			}
		}
		sb.WriteByte('"')
		return sb.String()
	case token.CHAR:
		return "'" + tk.Lexeme + "'"
	default:
		return tk.Lexeme
	}
}

func TestRoundTrip(t *testing.T) {
	src := `fn main() -> i64 = { let s = "a\nb"; let x = 0xFF + 2 * 3; println(x); 0 };`
	first, sink := lex(t, src)
	if sink.HasErrors() {
		t.Fatalf("unexpected errors: %v", sink.Diagnostics())
	}
	var parts []string
	for _, tk := range first[:len(first)-1] {
		parts = append(parts, renderLexeme(tk))
	}
	second, sink2 := lex(t, strings.Join(parts, " "))
	if sink2.HasErrors() {
		t.Fatalf("re-lex errors: %v", sink2.Diagnostics())
	}
	if len(second) != len(first) {
		t.Fatalf("token count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Kind != second[i].Kind || first[i].Lexeme != second[i].Lexeme {
			t.Errorf("token %d: %v %q vs %v %q", i, first[i].Kind, first[i].Lexeme, second[i].Kind, second[i].Lexeme)
		}
	}
}
