package invalidate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/invalidate"
	"github.com/femtomc/monowiki-sub001/internal/query"
)

func newBridge(db *query.Database) (*invalidate.Bridge[struct{}], *query.Descriptor[string, string], *query.Descriptor[invalidate.BlockKey, string], *query.Descriptor[string, struct{}], *query.Descriptor[string, string]) {
	documentSource := query.NewInput[string, string]("DocumentSource", query.Volatile)
	blockSource := query.NewInput[invalidate.BlockKey, string]("BlockSource", query.Volatile)
	docTree := query.NewInput[string, struct{}]("DocTree", query.Volatile)
	metadata := query.NewInput[string, string]("Metadata", query.Volatile)
	return invalidate.NewBridge(db, documentSource, blockSource, docTree, metadata), documentSource, blockSource, docTree, metadata
}

func TestTextChangedInvalidatesItsBlockAndDocument(t *testing.T) {
	db := query.NewDatabase()
	bridge, documentSource, blockSource, _, _ := newBridge(db)

	key1 := invalidate.BlockKey{Doc: "doc1", Block: 1}
	key2 := invalidate.BlockKey{Doc: "doc1", Block: 2}
	query.Set(db, blockSource, key1, "hello")
	query.Set(db, blockSource, key2, "world")
	query.Set(db, documentSource, "doc1", "hello world")

	bridge.OnChange(invalidate.TextChanged{Doc: "doc1", Block: 1, Start: 0, End: 5, NewText: "howdy"})

	require.Equal(t, 0, query.Len(db, documentSource))
	require.Equal(t, 1, query.Len(db, blockSource))
	v, err := query.Query(db, blockSource, key2)
	require.NoError(t, err)
	require.Equal(t, "world", v)
}

func TestMarkChangedInvalidatesLikeTextChanged(t *testing.T) {
	db := query.NewDatabase()
	bridge, documentSource, blockSource, _, _ := newBridge(db)

	key := invalidate.BlockKey{Doc: "doc1", Block: 1}
	query.Set(db, blockSource, key, "hello")
	query.Set(db, documentSource, "doc1", "hello")
	bridge.OnChange(invalidate.MarkChanged{Doc: "doc1", Block: 1, Mark: "bold", Start: 0, End: 5})

	require.Equal(t, 0, query.Len(db, blockSource))
	require.Equal(t, 0, query.Len(db, documentSource))
}

func TestTreeChangesInvalidateDocTreeOnly(t *testing.T) {
	db := query.NewDatabase()
	bridge, documentSource, blockSource, docTree, _ := newBridge(db)

	key := invalidate.BlockKey{Doc: "doc1", Block: 1}
	query.Set(db, blockSource, key, "hello")
	query.Set(db, documentSource, "doc1", "hello")
	query.Set(db, docTree, "doc1", struct{}{})

	bridge.OnChange(invalidate.BlockInserted{Doc: "doc1", Block: 2, Parent: 0, Index: 1})

	require.Equal(t, 1, query.Len(db, blockSource))
	require.Equal(t, 1, query.Len(db, documentSource))
	require.Equal(t, 0, query.Len(db, docTree))
}

func TestMetadataChangedInvalidatesMetadataOnly(t *testing.T) {
	db := query.NewDatabase()
	bridge, documentSource, blockSource, docTree, metadata := newBridge(db)

	key := invalidate.BlockKey{Doc: "doc1", Block: 1}
	query.Set(db, blockSource, key, "hello")
	query.Set(db, documentSource, "doc1", "hello")
	query.Set(db, docTree, "doc1", struct{}{})
	query.Set(db, metadata, "doc1", "title: hi")

	bridge.OnChange(invalidate.MetadataChanged{Doc: "doc1", Key: "title", Value: "bye"})

	require.Equal(t, 1, query.Len(db, blockSource))
	require.Equal(t, 1, query.Len(db, documentSource))
	require.Equal(t, 1, query.Len(db, docTree))
	require.Equal(t, 0, query.Len(db, metadata))
}

func TestOnChangeBumpsRevisionOnce(t *testing.T) {
	db := query.NewDatabase()
	bridge, _, _, _, _ := newBridge(db)

	r0 := db.Revision()
	bridge.OnChange(invalidate.MetadataChanged{Doc: "doc1", Key: "title", Value: "x"})
	r1 := db.Revision()

	require.Equal(t, r0+1, r1)
}

func TestOnChangesBumpsRevisionOnceForWholeBatch(t *testing.T) {
	db := query.NewDatabase()
	bridge, documentSource, blockSource, docTree, _ := newBridge(db)

	query.Set(db, blockSource, invalidate.BlockKey{Doc: "doc1", Block: 1}, "a")
	query.Set(db, documentSource, "doc1", "a")
	query.Set(db, docTree, "doc1", struct{}{})
	r0 := db.Revision()

	bridge.OnChanges([]invalidate.DocChange{
		invalidate.TextChanged{Doc: "doc1", Block: 1, Start: 0, End: 1, NewText: "b"},
		invalidate.TextChanged{Doc: "doc1", Block: 1, Start: 1, End: 2, NewText: "c"},
		invalidate.BlockInserted{Doc: "doc1", Block: 2, Parent: 0, Index: 1},
	})

	r1 := db.Revision()
	require.Equal(t, r0+1, r1)
	require.Equal(t, 0, query.Len(db, blockSource))
	require.Equal(t, 0, query.Len(db, documentSource))
	require.Equal(t, 0, query.Len(db, docTree))
}

func TestOnChangesWithNoChangesDoesNotBumpRevision(t *testing.T) {
	db := query.NewDatabase()
	bridge, _, _, _, _ := newBridge(db)

	r0 := db.Revision()
	bridge.OnChanges(nil)
	require.Equal(t, r0, db.Revision())
}

func TestDocIDReportsTheOwningDocument(t *testing.T) {
	c := invalidate.TextChanged{Doc: "doc1", Block: 1, Start: 0, End: 1, NewText: "x"}
	require.Equal(t, "doc1", invalidate.DocID(c))
}
