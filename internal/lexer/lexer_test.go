package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/lexer"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

func tags(toks []token.Spanned) []token.Tag {
	out := make([]token.Tag, len(toks))
	for i, t := range toks {
		out[i] = t.Tag
	}
	return out
}

func TestTokenizeKeywordsAndIdents(t *testing.T) {
	toks, err := lexer.Tokenize([]byte("def foo-bar"))
	require.NoError(t, err)
	require.Equal(t, []token.Tag{token.KwDef, token.Ident, token.EOF}, tags(toks))
	require.Equal(t, "foo-bar", toks[1].Text)
}

func TestTokenizeLiterals(t *testing.T) {
	toks, err := lexer.Tokenize([]byte(`42 -3.5 "hi\nthere" 'sym true false`))
	require.NoError(t, err)
	require.Equal(t, int64(42), toks[0].Int)
	require.Equal(t, -3.5, toks[1].Float)
	require.Equal(t, "hi\nthere", toks[2].Text)
	require.Equal(t, token.Symbol, toks[3].Tag)
	require.Equal(t, "sym", toks[3].Text)
	require.Equal(t, token.KwTrue, toks[4].Tag)
	require.Equal(t, token.KwFalse, toks[5].Tag)
}

func TestTokenizeNewlinePreserved(t *testing.T) {
	toks, err := lexer.Tokenize([]byte("a\nb"))
	require.NoError(t, err)
	require.Equal(t, []token.Tag{token.Ident, token.Newline, token.Ident, token.EOF}, tags(toks))
}

func TestTokenizeOperatorsAndDelimiters(t *testing.T) {
	toks, err := lexer.Tokenize([]byte("(a, b) == [1] {2} $x.y"))
	require.NoError(t, err)
	got := tags(toks)
	want := []token.Tag{
		token.LParen, token.Ident, token.Comma, token.Ident, token.RParen,
		token.OpEq, token.LBracket, token.Int, token.RBracket,
		token.LBrace, token.Int, token.RBrace,
		token.Dollar, token.Ident, token.Dot, token.Ident, token.EOF,
	}
	require.Equal(t, want, got)
}

func TestTokenizeUnrecognizedByte(t *testing.T) {
	_, err := lexer.Tokenize([]byte("a ~ b"))
	require.Error(t, err)
	var lexErr *lexer.Error
	require.ErrorAs(t, err, &lexErr)
	require.Equal(t, byte('~'), lexErr.Byte)
}

// Property 8: lex . format is the identity on literal token categories.
func TestLexRoundTripLiterals(t *testing.T) {
	cases := []string{"42", "-7", "3.25", `"hello"`, "'sym", "true", "false"}
	for _, c := range cases {
		toks, err := lexer.Tokenize([]byte(c))
		require.NoError(t, err)
		require.Len(t, toks, 2) // literal + EOF
		require.Equal(t, c, format(toks[0].Token))
	}
}

func format(t token.Token) string {
	switch t.Tag {
	case token.Int:
		return t.Text
	case token.Float:
		return t.Text
	case token.String:
		return `"` + t.Text + `"`
	case token.Symbol:
		return "'" + t.Text
	case token.KwTrue:
		return "true"
	case token.KwFalse:
		return "false"
	default:
		return t.Text
	}
}
