package docparser_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/docparser"
	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/shrub"
)

func TestPlainProseHasNoCodeSegments(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("just some words"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, docparser.KindProse, segs[0].Kind)
	require.Equal(t, "just some words", segs[0].Text)
}

func TestDoubleBangIsLiteralBang(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("price!!50"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, docparser.KindProse, segs[0].Kind)
	require.Equal(t, "price!50", segs[0].Text)
}

func TestBangBracketStaysProse(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("see ![alt](url) here"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, docparser.KindProse, segs[0].Kind)
	require.Equal(t, "see ![alt](url) here", segs[0].Text)
}

func TestBangIdentifierStartsCodeElement(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("hello !name world"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, docparser.KindProse, segs[0].Kind)
	require.Equal(t, "hello ", segs[0].Text)
	require.Equal(t, docparser.KindCode, segs[1].Kind)
	require.Equal(t, docparser.KindProse, segs[2].Kind)
	require.Equal(t, " world", segs[2].Text)
}

func TestBangParenStartsCodeElement(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("!(1 + 2) done"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Equal(t, docparser.KindCode, segs[0].Kind)
	require.Equal(t, shrub.KindSequence, segs[0].Shrubbery.Kind)
}

func TestCodeElementEndsAtBalancedBracketsFollowedByWhitespace(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("!f(a, b) and more"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Equal(t, docparser.KindCode, segs[0].Kind)
	require.Equal(t, docparser.KindProse, segs[1].Kind)
	require.Equal(t, " and more", segs[1].Text)
}

func TestCodeElementTerminatesAtEOF(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("!name"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, docparser.KindCode, segs[0].Kind)
}

func TestCodeElementStopsAtUnbalancedClosingBracket(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte("!foo) rest"), hygiene.NewInterner())
	require.NoError(t, err)
	require.Equal(t, docparser.KindCode, segs[0].Kind)
	require.Equal(t, docparser.KindProse, segs[1].Kind)
	require.Equal(t, ") rest", segs[1].Text)
}

func TestStringLiteralBracketsDoNotAffectDepth(t *testing.T) {
	segs, err := docparser.ParseDocument([]byte(`!f("a)b") rest`), hygiene.NewInterner())
	require.NoError(t, err)
	require.Equal(t, docparser.KindCode, segs[0].Kind)
	require.Equal(t, docparser.KindProse, segs[1].Kind)
	require.Equal(t, " rest", segs[1].Text)
}
