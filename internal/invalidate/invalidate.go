// Package invalidate bridges CRDT document changes to query invalidation
// (spec §4.11), so collaborative edits keep the incremental database
// synchronized without the query layer knowing anything about CRDTs.
package invalidate

import (
	"github.com/femtomc/monowiki-sub001/internal/query"
)

// BlockID identifies a block within a document's tree, mirroring the
// original engine's newtype over u64.
type BlockID uint64

// BlockKey addresses one block's source text within one document; it is the
// key type the bridge uses to invalidate per-block source queries.
type BlockKey struct {
	Doc   string
	Block BlockID
}

// DocChange is the CRDT event algebra (spec §3 Glossary, grounded on
// invalidation.rs's DocChange enum). Each concrete type below is one variant.
type DocChange interface {
	docID() string
	isDocChange()
}

// TextChanged reports that a block's text content was edited.
type TextChanged struct {
	Doc        string
	Block      BlockID
	Start, End int
	NewText    string
}

// BlockMoved reports that a block changed parent or position in the tree.
type BlockMoved struct {
	Doc                  string
	Block                BlockID
	OldParent, NewParent BlockID
	NewIndex             int
}

// BlockInserted reports a new block entering the tree.
type BlockInserted struct {
	Doc    string
	Block  BlockID
	Parent BlockID
	Index  int
}

// BlockDeleted reports a block leaving the tree.
type BlockDeleted struct {
	Doc   string
	Block BlockID
}

// MarkChanged reports a formatting-mark edit; marks affect parsing the same
// way text does, so it invalidates the same entries as TextChanged.
type MarkChanged struct {
	Doc        string
	Block      BlockID
	Mark       string
	Start, End int
}

// MetadataChanged reports a document-level metadata key/value edit.
type MetadataChanged struct {
	Doc   string
	Key   string
	Value string
}

func (c TextChanged) docID() string     { return c.Doc }
func (c BlockMoved) docID() string      { return c.Doc }
func (c BlockInserted) docID() string   { return c.Doc }
func (c BlockDeleted) docID() string    { return c.Doc }
func (c MarkChanged) docID() string     { return c.Doc }
func (c MetadataChanged) docID() string { return c.Doc }

func (TextChanged) isDocChange()     {}
func (BlockMoved) isDocChange()      {}
func (BlockInserted) isDocChange()   {}
func (BlockDeleted) isDocChange()    {}
func (MarkChanged) isDocChange()     {}
func (MetadataChanged) isDocChange() {}

// DocID returns the document a change applies to.
func DocID(c DocChange) string { return c.docID() }

// Bridge wires DocChange events to the specific pipeline queries they
// invalidate. Its target descriptors are supplied by whatever owns the
// pipeline wiring (internal/pipeline), keeping this package free of any
// dependency on the concrete pipeline query set.
//
// DocTree is generic in its value type TreeV: invalidating it is always a
// bare key deletion (memoTable.invalidate never inspects V), so the bridge
// does not need to know or reconstruct the tree query's value shape. This
// lets a caller point DocTree straight at its own ParseShrubberyQuery-style
// descriptor — a tree-structure edit deletes that query's memo entry
// outright, forcing a real recompute next Ask, rather than going through a
// dependency-hash comparison that a constant placeholder value could never
// satisfy.
type Bridge[TreeV any] struct {
	db *query.Database

	// DocumentSource is keyed per document; TextChanged/MarkChanged
	// invalidate the whole document's source entry alongside BlockSource,
	// per spec §4.11's mapping table naming both queries for these events.
	DocumentSource *query.Descriptor[string, string]

	// BlockSource is keyed per block; TextChanged/MarkChanged invalidate one
	// entry each.
	BlockSource *query.Descriptor[BlockKey, string]

	// DocTree is keyed per document; any tree-structure edit invalidates the
	// whole document's tree entry.
	DocTree *query.Descriptor[string, TreeV]

	// Metadata is keyed per document; MetadataChanged invalidates it alone.
	Metadata *query.Descriptor[string, string]
}

// NewBridge builds an invalidation bridge over db and its four target
// descriptors.
func NewBridge[TreeV any](db *query.Database, documentSource *query.Descriptor[string, string], blockSource *query.Descriptor[BlockKey, string], docTree *query.Descriptor[string, TreeV], metadata *query.Descriptor[string, string]) *Bridge[TreeV] {
	return &Bridge[TreeV]{db: db, DocumentSource: documentSource, BlockSource: blockSource, DocTree: docTree, Metadata: metadata}
}

// OnChange applies a single CRDT change and bumps the revision once.
func (b *Bridge[TreeV]) OnChange(change DocChange) {
	b.apply(change)
	b.db.BumpRevision()
}

// OnChanges applies a batch of CRDT changes, collecting the union of their
// invalidations and bumping the revision exactly once for the whole batch
// (spec §4.11: "the resulting revision bump is singular").
func (b *Bridge[TreeV]) OnChanges(changes []DocChange) {
	if len(changes) == 0 {
		return
	}
	seenBlocks := make(map[BlockKey]struct{})
	treeChangedDocs := make(map[string]struct{})
	metadataChangedDocs := make(map[string]struct{})

	seenDocs := make(map[string]struct{})

	for _, c := range changes {
		switch v := c.(type) {
		case TextChanged:
			seenBlocks[BlockKey{Doc: v.Doc, Block: v.Block}] = struct{}{}
			seenDocs[v.Doc] = struct{}{}
		case MarkChanged:
			seenBlocks[BlockKey{Doc: v.Doc, Block: v.Block}] = struct{}{}
			seenDocs[v.Doc] = struct{}{}
		case BlockMoved:
			treeChangedDocs[v.Doc] = struct{}{}
		case BlockInserted:
			treeChangedDocs[v.Doc] = struct{}{}
		case BlockDeleted:
			treeChangedDocs[v.Doc] = struct{}{}
		case MetadataChanged:
			metadataChangedDocs[v.Doc] = struct{}{}
		}
	}

	for doc := range seenDocs {
		query.Invalidate(b.db, b.DocumentSource, doc)
	}
	for bk := range seenBlocks {
		query.Invalidate(b.db, b.BlockSource, bk)
	}
	for doc := range treeChangedDocs {
		query.Invalidate(b.db, b.DocTree, doc)
	}
	for doc := range metadataChangedDocs {
		query.Invalidate(b.db, b.Metadata, doc)
	}

	b.db.BumpRevision()
}

// apply invalidates exactly the entries one DocChange variant names, per the
// spec §4.11 mapping table, without bumping the revision itself.
func (b *Bridge[TreeV]) apply(change DocChange) {
	switch v := change.(type) {
	case TextChanged:
		query.Invalidate(b.db, b.DocumentSource, v.Doc)
		query.Invalidate(b.db, b.BlockSource, BlockKey{Doc: v.Doc, Block: v.Block})
	case MarkChanged:
		query.Invalidate(b.db, b.DocumentSource, v.Doc)
		query.Invalidate(b.db, b.BlockSource, BlockKey{Doc: v.Doc, Block: v.Block})
	case BlockMoved:
		query.Invalidate(b.db, b.DocTree, v.Doc)
	case BlockInserted:
		query.Invalidate(b.db, b.DocTree, v.Doc)
	case BlockDeleted:
		query.Invalidate(b.db, b.DocTree, v.Doc)
	case MetadataChanged:
		query.Invalidate(b.db, b.Metadata, v.Doc)
	}
}
