package expand_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/enforest"
	"github.com/femtomc/monowiki-sub001/internal/expand"
	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/lexer"
	"github.com/femtomc/monowiki-sub001/internal/parser"
)

func enforestSrc(t *testing.T, src string) (enforest.Node, *hygiene.Interner) {
	t.Helper()
	toks, err := lexer.Tokenize([]byte(src))
	require.NoError(t, err)
	in := hygiene.NewInterner()
	sh, err := parser.Parse(toks, in)
	require.NoError(t, err)
	require.Len(t, sh.Children, 1)
	e := enforest.New(nil)
	n, err := e.Enforest(sh.Children[0])
	require.NoError(t, err)
	return n, in
}

func TestExpandArithmetic(t *testing.T) {
	n, in := enforestSrc(t, "1 + 2 * 3\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindNumber, v.Kind)
	require.Equal(t, float64(7), v.Number)
}

func TestExpandDivideByZero(t *testing.T) {
	n, in := enforestSrc(t, "1 / 0\n")
	ex := expand.New(in)
	_, err := ex.Expand(n, expand.NewEnv(nil))
	require.Error(t, err)
	var eerr *expand.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, expand.CodeDivideByZero, eerr.Code)
}

func TestExpandStringConcat(t *testing.T) {
	n, in := enforestSrc(t, `"a" + "b"` + "\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindString, v.Kind)
	require.Equal(t, "ab", v.Str)
}

func TestDefThenCall(t *testing.T) {
	toks, err := lexer.Tokenize([]byte("def double(x):\n  x * 2\n"))
	require.NoError(t, err)
	in := hygiene.NewInterner()
	sh, err := parser.Parse(toks, in)
	require.NoError(t, err)
	require.Len(t, sh.Children, 1)
	e := enforest.New(nil)
	defNode, err := e.Enforest(sh.Children[0])
	require.NoError(t, err)

	ex := expand.New(in)
	env := expand.NewEnv(nil)
	_, err = ex.Expand(defNode, env)
	require.NoError(t, err)

	callN, _ := enforestSrc(t, "double(21)\n")
	v, err := ex.Expand(callN, env)
	require.NoError(t, err)
	require.Equal(t, expand.KindNumber, v.Kind)
	require.Equal(t, float64(42), v.Number)
}

func TestCallArityMismatchIsError(t *testing.T) {
	n, in := enforestSrc(t, "f(1, 2)\n")
	env := expand.NewEnv(nil)
	env.Define("f", expand.Value{Kind: expand.KindFunction, Fn: &expand.Function{Params: nil, Body: nil, Closure: env}})
	ex := expand.New(in)
	_, err := ex.Expand(n, env)
	require.Error(t, err)
	var eerr *expand.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, expand.CodeArityMismatch, eerr.Code)
}

func TestQuoteSuspendsEvaluation(t *testing.T) {
	n, in := enforestSrc(t, "quote:\n  1 + 2\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindCode, v.Kind)
	require.Len(t, v.Code.Body, 1)
}

func TestSpliceOutsideQuoteIsStageError(t *testing.T) {
	n, in := enforestSrc(t, "$x\n")
	env := expand.NewEnv(nil)
	env.Define("x", expand.Value{Kind: expand.KindCode, Code: &expand.CodeValue{}})
	ex := expand.New(in)
	_, err := ex.Expand(n, env)
	require.Error(t, err)
	var eerr *expand.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, expand.CodeStageLevelError, eerr.Code)
}

func TestStagedBlockProducesContent(t *testing.T) {
	n, in := enforestSrc(t, "staged:\n  42\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindContent, v.Kind)
	require.Equal(t, expand.ContentInline, v.Content.Kind)
	require.Equal(t, "42", v.Content.Text)
}

func TestStagedBlockOfBareFunctionIsNotContentError(t *testing.T) {
	n, in := enforestSrc(t, "staged:\n  f\n")
	env := expand.NewEnv(nil)
	env.Define("f", expand.Value{Kind: expand.KindFunction, Fn: &expand.Function{}})
	ex := expand.New(in)
	_, err := ex.Expand(n, env)
	require.Error(t, err)
	var eerr *expand.Error
	require.ErrorAs(t, err, &eerr)
	require.Equal(t, expand.CodeNotContent, eerr.Code)
}

func TestIfExpandsChosenBranch(t *testing.T) {
	n, in := enforestSrc(t, "if true:\n  1\nelse:\n  2\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindContent, v.Kind)
	require.Equal(t, "1", v.Content.Text)
}

func TestForBuildsContentSequence(t *testing.T) {
	n, in := enforestSrc(t, "for item in [1, 2, 3]:\n  item\n")
	ex := expand.New(in)
	v, err := ex.Expand(n, expand.NewEnv(nil))
	require.NoError(t, err)
	require.Equal(t, expand.KindContent, v.Kind)
	require.Equal(t, expand.ContentSequence, v.Content.Kind)
	require.Len(t, v.Content.Children, 3)
	require.Equal(t, "1", v.Content.Children[0].Text)
	require.Equal(t, "2", v.Content.Children[1].Text)
	require.Equal(t, "3", v.Content.Children[2].Text)
}

func TestToContentRejectsFunctionValue(t *testing.T) {
	_, err := expand.ToContent(expand.Value{Kind: expand.KindFunction, Fn: &expand.Function{}}, nil)
	require.Error(t, err)
}
