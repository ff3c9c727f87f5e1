package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/invalidate"
	"github.com/femtomc/monowiki-sub001/internal/pipeline"
	"github.com/femtomc/monowiki-sub001/internal/query"
)

func TestParseSplitsProseAndCodeSegments(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	query.Set(db, p.DocumentSource, "doc1", "hello !(1 + 2) world")
	result, err := query.Query(db, p.Parse, "doc1")
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Segments, 3)
}

func TestExpandPlainProseProducesSequenceOfInline(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	query.Set(db, p.DocumentSource, "doc1", "just some words")
	result, err := query.Query(db, p.Expand, "doc1")
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.NotNil(t, result.Content)
	require.Equal(t, "just some words", pipeline.RenderText(result.Content))
}

func TestExpandArithmeticCodeElementYieldsNumber(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	query.Set(db, p.DocumentSource, "doc1", "!(1 + 2)")
	result, err := query.Query(db, p.Expand, "doc1")
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, "3", pipeline.RenderText(result.Content))
}

func TestExpandShortCircuitsOnParseFailure(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	// An unterminated string inside a code element fails to lex.
	query.Set(db, p.DocumentSource, "doc1", `!f("unterminated`)
	result, err := query.Query(db, p.Expand, "doc1")
	require.NoError(t, err)
	require.NotEmpty(t, result.Errors)
	require.Nil(t, result.Content)
}

func TestLayoutDependsOnExpandAndActiveMacros(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	query.Set(db, p.DocumentSource, "doc1", "hello")
	query.Set(db, p.ActiveMacros, struct{}{}, pipeline.MacroConfig{EnabledMacros: []string{"callout"}, Version: 1})

	layout, err := query.Query(db, p.Layout, pipeline.LayoutKey{Doc: "doc1", Viewport: pipeline.Viewport{Width: 80, Height: 24}})
	require.NoError(t, err)
	require.Empty(t, layout.Errors)
	require.Equal(t, []string{"callout"}, layout.Macros.EnabledMacros)
	require.Equal(t, "hello", pipeline.RenderText(layout.Content))
}

func TestEditingSourceInvalidatesDownstreamLayout(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	query.Set(db, p.DocumentSource, "doc1", "hello")
	layoutKey := pipeline.LayoutKey{Doc: "doc1"}
	l1, err := query.Query(db, p.Layout, layoutKey)
	require.NoError(t, err)
	require.Equal(t, "hello", pipeline.RenderText(l1.Content))

	query.Set(db, p.DocumentSource, "doc1", "goodbye")
	l2, err := query.Query(db, p.Layout, layoutKey)
	require.NoError(t, err)
	require.Equal(t, "goodbye", pipeline.RenderText(l2.Content))
}

func TestBridgeTextChangedForcesDocumentReparse(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)
	bridge := p.Bridge()

	query.Set(db, p.DocumentSource, "doc1", "hello")
	r1, err := query.Query(db, p.Expand, "doc1")
	require.NoError(t, err)
	require.Equal(t, "hello", pipeline.RenderText(r1.Content))

	bridge.OnChange(invalidate.TextChanged{Doc: "doc1", Block: 1, Start: 0, End: 5, NewText: "bye"})
	require.Equal(t, 0, query.Len(db, p.DocumentSource))

	query.Set(db, p.DocumentSource, "doc1", "goodbye")
	r2, err := query.Query(db, p.Expand, "doc1")
	require.NoError(t, err)
	require.Equal(t, "goodbye", pipeline.RenderText(r2.Content))
}

func TestBridgeTreeChangeForcesParseMemoDeletion(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)
	bridge := p.Bridge()

	query.Set(db, p.DocumentSource, "doc1", "hello")
	_, err := query.Query(db, p.Parse, "doc1")
	require.NoError(t, err)
	require.Equal(t, 1, query.Len(db, p.Parse))

	bridge.OnChange(invalidate.BlockInserted{Doc: "doc1", Block: 2, Parent: 0, Index: 1})
	require.Equal(t, 0, query.Len(db, p.Parse))
}

func TestUnifiedDiffReportsChangedLine(t *testing.T) {
	diff := pipeline.UnifiedDiff("hello\n", "goodbye\n", "doc1")
	require.Contains(t, diff, "-hello")
	require.Contains(t, diff, "+goodbye")
}

func TestRenderTextHandlesEmptyContent(t *testing.T) {
	require.Equal(t, "", pipeline.RenderText(nil))
}

func TestMemoryStorageBacksDocumentSourceOnCacheMiss(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	storage := pipeline.NewMemoryStorage()
	storage.SetDocument("doc1", "from storage")
	p.UseStorage(storage)

	source, err := query.Query(db, p.DocumentSource, "doc1")
	require.NoError(t, err)
	require.Equal(t, "from storage", source)
}

func TestDocumentSourceWithNoStorageAndNoSetIsEmpty(t *testing.T) {
	db := query.NewDatabase()
	p := pipeline.New(db)

	source, err := query.Query(db, p.DocumentSource, "missing")
	require.NoError(t, err)
	require.Equal(t, "", source)
}
