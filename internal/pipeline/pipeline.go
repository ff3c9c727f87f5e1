// Package pipeline wires the standard query set of spec §4.12: source
// input, parse, type-check-then-expand, active macros, and layout, each a
// thin composition over internal/query. It is the one place that knows how
// the front-end stages (docparser, enforest, typecheck, expand) fit
// together into a reactive document pipeline.
package pipeline

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/femtomc/monowiki-sub001/internal/diag"
	"github.com/femtomc/monowiki-sub001/internal/docparser"
	"github.com/femtomc/monowiki-sub001/internal/enforest"
	"github.com/femtomc/monowiki-sub001/internal/expand"
	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/invalidate"
	"github.com/femtomc/monowiki-sub001/internal/query"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/typecheck"
)

// DocID identifies a document; an alias (not a defined type) so it unifies
// directly with invalidate.BlockKey.Doc and with plain string keys.
type DocID = string

// SourceStorage is the input-surface extension named in spec §6: a
// registered object DocumentSource/BlockSource fall back to on a cache
// miss. Writes to it must be paired with a call into the invalidation
// bridge; that pairing is the caller's responsibility, not this package's.
type SourceStorage interface {
	GetDocument(doc DocID) (string, bool)
	GetBlock(doc DocID, block invalidate.BlockID) (string, bool)
}

// sourceStorageKey is the Database.SetAny key the pipeline looks under,
// matching the original engine's own "source_storage" extension key.
const sourceStorageKey = "source_storage"

// MemoryStorage is an in-memory SourceStorage, the Go analog of the
// original engine's own SourceStorage (RwLock<HashMap<...>> guarded
// document/block maps).
type MemoryStorage struct {
	mu        sync.RWMutex
	documents map[DocID]string
	blocks    map[invalidate.BlockKey]string
}

// NewMemoryStorage builds an empty in-memory source store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		documents: make(map[DocID]string),
		blocks:    make(map[invalidate.BlockKey]string),
	}
}

func (m *MemoryStorage) SetDocument(doc DocID, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc] = source
}

func (m *MemoryStorage) GetDocument(doc DocID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.documents[doc]
	return v, ok
}

func (m *MemoryStorage) SetBlock(doc DocID, block invalidate.BlockID, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[invalidate.BlockKey{Doc: doc, Block: block}] = source
}

func (m *MemoryStorage) GetBlock(doc DocID, block invalidate.BlockID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.blocks[invalidate.BlockKey{Doc: doc, Block: block}]
	return v, ok
}

// ParseResult is ParseShrubberyQuery's value (spec §4.12): the document
// split into interleaved prose/code segments, or a non-empty diagnostic
// list when the source failed to lex or parse.
type ParseResult struct {
	Segments []docparser.Segment
	Errors   []diag.Diagnostic
}

// ExpandResult is ExpandToContentQuery's value.
type ExpandResult struct {
	Content *expand.Content
	Errors  []diag.Diagnostic
}

// Viewport parameterizes LayoutDocumentQuery so independent viewports
// memoize independently (spec §4.12).
type Viewport struct {
	Width, Height int
}

// LayoutKey is LayoutDocumentQuery's key: a document paired with a viewport.
type LayoutKey struct {
	Doc      DocID
	Viewport Viewport
}

// MacroConfig is ActiveMacrosQuery's durable-tier value: the user's
// enabled macros plus a version counter for early cutoff on expander
// config (spec §6 item 2).
type MacroConfig struct {
	EnabledMacros []string
	Version       uint64
}

// Layout is LayoutDocumentQuery's value, the input to downstream rendering
// (external to this core, per spec §6).
type Layout struct {
	Content *expand.Content
	Macros  MacroConfig
	Errors  []diag.Diagnostic
}

// Pipeline owns one Database's worth of standard queries plus the
// interner/enforester/checker/expander the front-end stages share across
// every document (hygiene symbols must mean the same thing document-wide).
type Pipeline struct {
	DB *query.Database

	DocumentSource *query.Descriptor[DocID, string]
	BlockSource    *query.Descriptor[invalidate.BlockKey, string]
	Metadata       *query.Descriptor[DocID, string]
	Parse          *query.Descriptor[DocID, ParseResult]
	Expand         *query.Descriptor[DocID, ExpandResult]
	ActiveMacros   *query.Descriptor[struct{}, MacroConfig]
	Layout         *query.Descriptor[LayoutKey, Layout]

	interner   *hygiene.Interner
	enforester *enforest.Enforester
}

// New builds a pipeline over a fresh or existing Database, registering its
// seven standard queries (spec §4.12: source, parse, expand, active macros,
// layout, plus the per-block source and document metadata queries the
// invalidation bridge needs).
func New(db *query.Database) *Pipeline {
	p := &Pipeline{
		DB:         db,
		interner:   hygiene.NewInterner(),
		enforester: enforest.New(nil),
	}

	// Durabilities per spec §4.12: source/parse/expand volatile, viewport
	// layout session-scoped, active macros durable. DocumentSource and
	// BlockSource are derived queries that fall back to whatever
	// SourceStorage is registered under sourceStorageKey on a cache miss,
	// mirroring the original engine's own source queries; Set still works
	// to seed an entry directly, bypassing the storage lookup entirely.
	p.DocumentSource = query.New[DocID, string]("DocumentSource", query.Volatile, p.documentSource)
	p.BlockSource = query.New[invalidate.BlockKey, string]("BlockSource", query.Volatile, p.blockSource)
	p.Metadata = query.NewInput[DocID, string]("DocMetadata", query.Volatile)
	p.ActiveMacros = query.NewInput[struct{}, MacroConfig]("ActiveMacros", query.Durable)

	p.Parse = query.New[DocID, ParseResult]("ParseShrubbery", query.Volatile, p.parse)
	p.Expand = query.New[DocID, ExpandResult]("ExpandToContent", query.Volatile, p.expand)
	p.Layout = query.New[LayoutKey, Layout]("LayoutDocument", query.Session, p.layout)

	return p
}

// Bridge builds an invalidation bridge wired to this pipeline's document
// source, block source, parse tree, and metadata inputs. DocTree points
// directly at ParseShrubbery: a tree-structure edit deletes its memo entry
// outright, forcing the document's shrubbery to be rebuilt from scratch
// (spec §4.11).
func (p *Pipeline) Bridge() *invalidate.Bridge[ParseResult] {
	return invalidate.NewBridge(p.DB, p.DocumentSource, p.BlockSource, p.Parse, p.Metadata)
}

// documentSource executes DocumentSourceQuery: a registered SourceStorage
// extension is the fallback of record on a cache miss; an unregistered or
// absent document yields empty text rather than an error, matching the
// original engine's own source queries.
func (p *Pipeline) documentSource(s *query.Sess, doc DocID) string {
	storage, ok := p.storage()
	if !ok {
		return ""
	}
	text, _ := storage.GetDocument(doc)
	return text
}

// blockSource executes BlockSourceQuery the same way, keyed per block.
func (p *Pipeline) blockSource(s *query.Sess, key invalidate.BlockKey) string {
	storage, ok := p.storage()
	if !ok {
		return ""
	}
	text, _ := storage.GetBlock(key.Doc, key.Block)
	return text
}

func (p *Pipeline) storage() (SourceStorage, bool) {
	v, ok := p.DB.GetAny(sourceStorageKey)
	if !ok {
		return nil, false
	}
	storage, ok := v.(SourceStorage)
	return storage, ok
}

// UseStorage registers the SourceStorage DocumentSource/BlockSource fall
// back to on a cache miss.
func (p *Pipeline) UseStorage(storage SourceStorage) {
	p.DB.SetAny(sourceStorageKey, storage)
}

// parse executes ParseShrubberyQuery: depends on DocumentSource, invokes
// the document parser (L + P), and never panics on unparseable input.
func (p *Pipeline) parse(s *query.Sess, doc DocID) ParseResult {
	source, _ := query.Ask(s, p.DocumentSource, doc)

	segs, err := docparser.ParseDocument([]byte(source), p.interner)
	if err != nil {
		return ParseResult{Errors: []diag.Diagnostic{parseErrorToDiagnostic(err, source)}}
	}
	return ParseResult{Segments: segs}
}

// expand executes ExpandToContentQuery: depends on Parse, runs TyC then
// Exp over each code segment, and short-circuits if parsing failed.
func (p *Pipeline) expand(s *query.Sess, doc DocID) ExpandResult {
	parseResult, err := query.Ask(s, p.Parse, doc)
	if err != nil {
		return ExpandResult{Errors: []diag.Diagnostic{diag.NewError(diag.CodeExpandError, span.Zero, err.Error())}}
	}
	if len(parseResult.Errors) > 0 {
		return ExpandResult{Errors: parseResult.Errors}
	}

	checker := typecheck.New(p.interner)
	expander := expand.New(p.interner)
	tyEnv := typecheck.NewEnv(nil)
	exEnv := expand.NewEnv(nil)

	var children []expand.Content
	var errs []diag.Diagnostic

	for _, seg := range parseResult.Segments {
		if seg.Kind == docparser.KindProse {
			if seg.Text == "" {
				continue
			}
			children = append(children, expand.Content{Kind: expand.ContentInline, Text: seg.Text})
			continue
		}

		for _, form := range seg.Shrubbery.Children {
			node, err := p.enforester.Enforest(form)
			if err != nil {
				errs = append(errs, diag.NewError(diag.CodeParseError, seg.Span, err.Error()))
				continue
			}
			if _, err := checker.Check(node, tyEnv); err != nil {
				errs = append(errs, diag.NewError(diag.CodeTypeError, seg.Span, err.Error()))
				continue
			}
			value, err := expander.Expand(node, exEnv)
			if err != nil {
				errs = append(errs, diag.NewError(diag.CodeExpandError, seg.Span, err.Error()))
				continue
			}
			content, err := expand.ToContent(value, p.interner)
			if err != nil {
				errs = append(errs, diag.NewError(diag.CodeExpandError, seg.Span, err.Error()))
				continue
			}
			children = append(children, content)
		}
	}

	if len(errs) > 0 {
		return ExpandResult{Errors: errs}
	}

	root := &expand.Content{Kind: expand.ContentSequence, Children: children}
	return ExpandResult{Content: root}
}

// layout executes LayoutDocumentQuery: depends on Expand and ActiveMacros,
// the union the spec names as the final pipeline stage before external
// rendering.
func (p *Pipeline) layout(s *query.Sess, key LayoutKey) Layout {
	expandResult, err := query.Ask(s, p.Expand, key.Doc)
	if err != nil {
		return Layout{Errors: []diag.Diagnostic{diag.NewError(diag.CodeExpandError, span.Zero, err.Error())}}
	}
	macros, err := query.Ask(s, p.ActiveMacros, struct{}{})
	if err != nil {
		return Layout{Errors: expandResult.Errors}
	}
	return Layout{Content: expandResult.Content, Macros: macros, Errors: expandResult.Errors}
}

func parseErrorToDiagnostic(err error, source string) diag.Diagnostic {
	if de, ok := err.(*docparser.Error); ok {
		return diag.NewError(diag.CodeParseError, de.Span, de.Error()).WithSource(source)
	}
	return diag.NewError(diag.CodeParseError, span.Zero, err.Error()).WithSource(source)
}

// UnifiedDiff renders a plain unified diff between two document contents,
// for CLI display of what an edit changed.
func UnifiedDiff(orig, mod, filename string) string {
	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(orig),
		B:        difflib.SplitLines(mod),
		FromFile: filename,
		ToFile:   filename + " (new)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return fmt.Sprintf("(diff error: %s)", err)
	}
	return text
}

// RenderText flattens a Content tree to plain text, depth-first, joining
// sibling text with a single space — a minimal stand-in for the external
// render-time WASM runtime this core hands Content trees to (spec §6).
func RenderText(c *expand.Content) string {
	if c == nil {
		return ""
	}
	if len(c.Children) == 0 {
		return c.Text
	}
	parts := make([]string, 0, len(c.Children))
	for _, child := range c.Children {
		if t := RenderText(&child); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
