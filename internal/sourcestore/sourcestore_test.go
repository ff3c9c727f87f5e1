package sourcestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/invalidate"
	"github.com/femtomc/monowiki-sub001/internal/sourcestore"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDiscoverFindsIncludedFilesOnly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes/a.doc", "hello")
	writeFile(t, root, "notes/b.txt", "ignored")
	writeFile(t, root, "notes/nested/c.doc", "world")

	store := sourcestore.New(sourcestore.Scope{Root: root, Include: []string{"**/*.doc"}})
	docs, err := store.Discover()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"notes/a.doc", "notes/nested/c.doc"}, docs)
}

func TestDiscoverHonorsExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.doc", "hello")
	writeFile(t, root, "draft/b.doc", "wip")

	store := sourcestore.New(sourcestore.Scope{
		Root:    root,
		Include: []string{"**/*.doc"},
		Exclude: []string{"draft/**"},
	})
	docs, err := store.Discover()
	require.NoError(t, err)
	require.Equal(t, []string{"a.doc"}, docs)
}

func TestGetDocumentReadsFileContent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.doc", "some text")

	store := sourcestore.New(sourcestore.Scope{Root: root})
	text, ok := store.GetDocument("a.doc")
	require.True(t, ok)
	require.Equal(t, "some text", text)
}

func TestGetDocumentMissingReturnsFalse(t *testing.T) {
	store := sourcestore.New(sourcestore.Scope{Root: t.TempDir()})
	_, ok := store.GetDocument("missing.doc")
	require.False(t, ok)
}

func TestSetDocumentWritesAtomically(t *testing.T) {
	root := t.TempDir()
	store := sourcestore.New(sourcestore.Scope{Root: root})

	require.NoError(t, store.SetDocument("a.doc", "version one"))
	text, ok := store.GetDocument("a.doc")
	require.True(t, ok)
	require.Equal(t, "version one", text)

	require.NoError(t, store.SetDocument("a.doc", "version two"))
	text, ok = store.GetDocument("a.doc")
	require.True(t, ok)
	require.Equal(t, "version two", text)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1) // no leftover temp file
}

func TestBlockRoundTrip(t *testing.T) {
	store := sourcestore.New(sourcestore.Scope{Root: t.TempDir()})

	_, ok := store.GetBlock("doc1", invalidate.BlockID(1))
	require.False(t, ok)

	store.SetBlock("doc1", invalidate.BlockID(1), "block text")
	text, ok := store.GetBlock("doc1", invalidate.BlockID(1))
	require.True(t, ok)
	require.Equal(t, "block text", text)
}

func TestLoadAllReadsEveryDiscoveredDocument(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.doc", "alpha")
	writeFile(t, root, "b.doc", "beta")

	store := sourcestore.New(sourcestore.Scope{Root: root, Include: []string{"**/*.doc"}})
	all, err := store.LoadAll()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a.doc": "alpha", "b.doc": "beta"}, all)
}
