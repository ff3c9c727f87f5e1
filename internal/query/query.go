// Package query implements the Salsa-style incremental query engine: query
// keys, durability tiers, a per-query-type memo table with early cutoff, and
// the database dispatch algorithm (spec §4.8-4.10).
//
// Go has no TypeId-keyed heterogeneous map the way the original Rust engine
// does; the language-neutral strategy the spec calls for ("a TypeId-keyed
// map of per-query-type tables... encapsulate the Any-cast behind a narrow
// helper") is realized here with generics: Descriptor[K, V] is a typed query
// descriptor, Database stores tables in a map[string]any, and tableFor[K, V]
// is the narrow helper that performs the single type assertion back to
// *memoTable[K, V].
//
// The spec's implicit "thread-local compute-frame stack" becomes an
// explicit *Sess threaded through every Ask call: a Sess is one
// logical query tree (spec §5), and Execute closures receive it and pass it
// along to nested Ask calls rather than reaching for goroutine-local state.
package query

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/femtomc/monowiki-sub001/internal/metrics"
)

// Durability tiers order queries by expected change frequency (spec §4.9
// design notes, grounded on the original engine's durability.rs).
type Durability int

const (
	Volatile Durability = iota
	Session
	Durable
	Static
)

func (d Durability) String() string {
	switch d {
	case Volatile:
		return "volatile"
	case Session:
		return "session"
	case Durable:
		return "durable"
	case Static:
		return "static"
	default:
		return "unknown"
	}
}

// AtLeast reports whether d is at least as stable as other.
func (d Durability) AtLeast(other Durability) bool { return d >= other }

// Revision is a monotonic version number bumped on every input mutation.
type Revision uint64

// Next returns the successor revision.
func (r Revision) Next() Revision { return r + 1 }

// QueryKey is the canonical dependency-graph node identity: a query type tag
// paired with a hash of its key.
type QueryKey struct {
	Tag     string
	KeyHash uint64
}

func (k QueryKey) String() string {
	return fmt.Sprintf("Query(%s, %016x)", k.Tag, k.KeyHash)
}

// hashAny computes a stable structural hash of any comparable, printable
// value. Go lacks a derivable Hash trait; formatting with "%#v" and hashing
// the bytes gives the same "two equal values hash equal" property the spec
// requires of Key/Value without requiring every query to hand-write a
// Hash method.
func hashAny(v any) uint64 {
	h := fnvOffset
	for _, b := range []byte(fmt.Sprintf("%#v", v)) {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

const (
	fnvOffset uint64 = 14695981039346656037
	fnvPrime  uint64 = 1099511628211
)

// CycleError reports a query cycle detected via the compute-frame stack.
type CycleError struct {
	Keys []QueryKey
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("query cycle detected: %v", e.Keys)
}

// MemoEntry caches one query result plus what it takes to re-verify it.
type MemoEntry[V any] struct {
	Value      V
	ValueHash  uint64
	ComputedAt Revision
	VerifiedAt Revision
	Deps       []depEdge
	Durability Durability
}

// depEdge is a recorded dependency: the erased key for identity/cycle
// checks, plus a closure (captured with its concrete K, V at the call site)
// that re-asks the dependency and reports whether its value changed.
type depEdge struct {
	key      QueryKey
	reverify func(*Sess) (changed bool, err error)
}

type memoTable[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]MemoEntry[V]
}

func newMemoTable[K comparable, V any]() *memoTable[K, V] {
	return &memoTable[K, V]{entries: make(map[K]MemoEntry[V])}
}

func (t *memoTable[K, V]) get(key K) (MemoEntry[V], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key]
	return e, ok
}

func (t *memoTable[K, V]) insert(key K, value V, computedAt Revision, deps []depEdge, durability Durability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = MemoEntry[V]{
		Value:      value,
		ValueHash:  hashAny(value),
		ComputedAt: computedAt,
		VerifiedAt: computedAt,
		Deps:       deps,
		Durability: durability,
	}
}

// updateInPlace implements early cutoff: it returns false (unchanged) when
// the new value hashes the same as the stored one.
func (t *memoTable[K, V]) updateInPlace(key K, value V, computedAt Revision, deps []depEdge, durability Durability) bool {
	newHash := hashAny(value)

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		changed := e.ValueHash != newHash
		e.Value = value
		e.ValueHash = newHash
		e.ComputedAt = computedAt
		e.VerifiedAt = computedAt
		e.Deps = deps
		t.entries[key] = e
		return changed
	}
	t.entries[key] = MemoEntry[V]{
		Value:      value,
		ValueHash:  newHash,
		ComputedAt: computedAt,
		VerifiedAt: computedAt,
		Deps:       deps,
		Durability: durability,
	}
	return true
}

func (t *memoTable[K, V]) markVerified(key K, revision Revision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.VerifiedAt = revision
		t.entries[key] = e
	}
}

func (t *memoTable[K, V]) invalidate(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func (t *memoTable[K, V]) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[K]MemoEntry[V])
}

func (t *memoTable[K, V]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Descriptor names a query type, its durability, and (for derived queries)
// how to compute it. Input queries (spec §4.8's InputQuery sub-trait) leave
// Execute nil; the database never calls it, and Set fabricates the value.
type Descriptor[K comparable, V any] struct {
	Name       string
	Durability Durability
	Execute    func(s *Sess, key K) V
}

// New constructs a derived-query descriptor.
func New[K comparable, V any](name string, durability Durability, execute func(s *Sess, key K) V) *Descriptor[K, V] {
	return &Descriptor[K, V]{Name: name, Durability: durability, Execute: execute}
}

// NewInput constructs an input-query descriptor with no Execute function.
func NewInput[K comparable, V any](name string, durability Durability) *Descriptor[K, V] {
	return &Descriptor[K, V]{Name: name, Durability: durability}
}

// Database is the runtime heart of the incremental system: the revision
// counter, per-query-type memo tables, a dynamic extension map for external
// input containers (spec §4.10, §6), and per-query-type metrics.
type Database struct {
	mu       sync.RWMutex
	revision Revision
	tables   map[string]any
	ext      map[string]any
	Metrics  *metrics.Registry
}

// NewDatabase creates a database at revision 1, matching the original
// engine's own constructor (its own test suite asserts the fresh database
// starts at Revision(1), not Revision(0)).
func NewDatabase() *Database {
	return &Database{
		revision: 1,
		tables:   make(map[string]any),
		ext:      make(map[string]any),
		Metrics:  metrics.NewRegistry(),
	}
}

// Revision returns the current database revision.
func (db *Database) Revision() Revision {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.revision
}

func (db *Database) bumpRevision() Revision {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.revision = db.revision.Next()
	return db.revision
}

// SetAny registers an external input container (e.g. source storage) under
// a string key, per spec §4.10's dynamic extension map.
func (db *Database) SetAny(key string, value any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.ext[key] = value
}

// GetAny retrieves a previously registered external input container.
func (db *Database) GetAny(key string) (any, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.ext[key]
	return v, ok
}

func tableFor[K comparable, V any](db *Database, d *Descriptor[K, V]) *memoTable[K, V] {
	db.mu.RLock()
	if t, ok := db.tables[d.Name]; ok {
		db.mu.RUnlock()
		return t.(*memoTable[K, V])
	}
	db.mu.RUnlock()

	db.mu.Lock()
	defer db.mu.Unlock()
	if t, ok := db.tables[d.Name]; ok {
		return t.(*memoTable[K, V])
	}
	t := newMemoTable[K, V]()
	db.tables[d.Name] = t
	return t
}

// computeFrame tracks one in-flight Execute call: its identity (for cycle
// detection) and the dependency edges it records along the way.
type computeFrame struct {
	key  QueryKey
	deps []depEdge
}

// Sess ("session") is one logical query tree: the explicit, non-global
// stand-in for the spec's thread-local compute-frame stack. Callers create
// one per top-level query (Query creates one internally for convenience); code
// that fans out independent top-level queries across goroutines should give
// each goroutine its own Sess. A cycle detected anywhere in the tree is kept
// in cycle so every enclosing ask returns it, even when an Execute closure
// drops the error its own nested Ask returned.
type Sess struct {
	db    *Database
	stack []*computeFrame
	cycle *CycleError
}

// NewSession creates a fresh, empty query tree over db.
func NewSession(db *Database) *Sess {
	return &Sess{db: db}
}

// DB returns the session's underlying database.
func (s *Sess) DB() *Database { return s.db }

// Query runs a query to completion in its own fresh session — the
// convenience entry point for top-level callers (spec §6: `query::<Q>(key)`).
func Query[K comparable, V any](db *Database, d *Descriptor[K, V], key K) (V, error) {
	return Ask(NewSession(db), d, key)
}

// Ask implements the five-step dispatch algorithm of spec §4.10 within an
// existing session, so nested queries share one compute-frame stack. It
// always records the ask as a dependency of the caller's active frame.
//
// Each dependency edge captures the *value hash the caller actually
// observed* at the moment it asked, not a live re-lookup of the
// dependency's current table entry: once Set has overwritten an input's
// entry in place, a live "before" snapshot taken during re-verification
// would already see the new value, making every re-verification look
// unchanged. Recording the observed hash at edge-creation time and
// comparing the *freshly recomputed* value against that fixed snapshot is
// what makes early cutoff (spec §8 property 3) actually sound.
func Ask[K comparable, V any](s *Sess, d *Descriptor[K, V], key K) (V, error) {
	return ask(s, d, key, true)
}

// askInternal runs a query's re-verification probe without attributing any
// nested asks to whatever frame happens to be active on the session: a
// stale entry's dependencies are rechecked *before* this query has pushed
// its own frame, so any Ask made on its behalf during that check must not
// be recorded against the caller one level up the stack.
func askInternal[K comparable, V any](s *Sess, d *Descriptor[K, V], key K) (V, error) {
	return ask(s, d, key, false)
}

func ask[K comparable, V any](s *Sess, d *Descriptor[K, V], key K, track bool) (V, error) {
	var zero V
	qk := QueryKey{Tag: d.Name, KeyHash: hashAny(key)}

	for _, f := range s.stack {
		if f.key == qk {
			cycle := make([]QueryKey, 0, len(s.stack)+1)
			for _, ff := range s.stack {
				cycle = append(cycle, ff.key)
			}
			cycle = append(cycle, qk)
			if s.cycle == nil {
				s.cycle = &CycleError{Keys: cycle}
			}
			return zero, s.cycle
		}
	}

	table := tableFor(s.db, d)
	rev := s.db.Revision()
	counter := s.db.Metrics.For(d.Name)

	// Steps 2-4: cache lookup and re-verification.
	if entry, ok := table.get(key); ok {
		if entry.VerifiedAt == rev {
			counter.RecordHit()
			if track {
				recordDep(s, qk, d, key, entry.ValueHash)
			}
			return entry.Value, nil
		}
		stillValid := true
		for _, dep := range entry.Deps {
			changed, err := dep.reverify(s)
			if err != nil {
				return zero, err
			}
			if changed {
				stillValid = false
				break
			}
		}
		if stillValid {
			table.markVerified(key, rev)
			counter.RecordHit()
			if track {
				recordDep(s, qk, d, key, entry.ValueHash)
			}
			return entry.Value, nil
		}
	}

	// Step 5: recompute.
	counter.RecordMiss()

	if d.Execute == nil {
		// Input query never set: fabricate the zero value rather than panic.
		table.insert(key, zero, rev, nil, d.Durability)
		if track {
			recordDep(s, qk, d, key, hashAny(zero))
		}
		return zero, nil
	}

	frame := &computeFrame{key: qk}
	s.stack = append(s.stack, frame)
	start := time.Now()
	value := d.Execute(s, key)
	elapsed := time.Since(start)
	s.stack = s.stack[:len(s.stack)-1]
	if s.cycle != nil {
		// A value computed through a cycle is never memoized.
		return zero, s.cycle
	}

	changed := table.updateInPlace(key, value, rev, frame.deps, d.Durability)
	counter.RecordExecution(elapsed)
	if !changed {
		counter.RecordEarlyCutoff()
	}

	if track {
		recordDep(s, qk, d, key, hashAny(value))
	}
	return value, nil
}

// recordDep appends a dependency edge to the caller's active compute
// frame, if any, fixing lastHash as the value-hash this ask observed.
func recordDep[K comparable, V any](s *Sess, qk QueryKey, d *Descriptor[K, V], key K, lastHash uint64) {
	if len(s.stack) == 0 {
		return
	}
	parent := s.stack[len(s.stack)-1]
	parent.deps = append(parent.deps, depEdge{
		key: qk,
		reverify: func(s2 *Sess) (bool, error) {
			newValue, err := askInternal(s2, d, key)
			if err != nil {
				return false, err
			}
			return hashAny(newValue) != lastHash, nil
		},
	})
}

// Set assigns an input query's value directly and bumps the revision, per
// spec §4.8: "Setting an input bumps the revision."
func Set[K comparable, V any](db *Database, d *Descriptor[K, V], key K, value V) {
	rev := db.bumpRevision()
	tableFor(db, d).insert(key, value, rev, nil, d.Durability)
}

// Invalidate removes a cached entry so the next Ask recomputes it from
// scratch, without itself bumping the revision (batched invalidation owns
// that, per spec §4.11).
func Invalidate[K comparable, V any](db *Database, d *Descriptor[K, V], key K) {
	tableFor(db, d).invalidate(key)
}

// Clear removes every cached entry for one query type.
func Clear[K comparable, V any](db *Database, d *Descriptor[K, V]) {
	tableFor(db, d).clear()
}

// Len reports how many keys are currently cached for one query type.
func Len[K comparable, V any](db *Database, d *Descriptor[K, V]) int {
	return tableFor(db, d).len()
}

// BumpRevision is exported for the invalidation bridge (spec §4.11), which
// owns the "exactly once per batch" revision-bump policy.
func (db *Database) BumpRevision() Revision { return db.bumpRevision() }

// TypeTag derives a stable descriptor name from a Go type, used by callers
// that want a Descriptor.Name guaranteed unique per Go type rather than
// hand-picked.
func TypeTag[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return fmt.Sprintf("%T", zero)
	}
	return t.String()
}
