// Package hygiene implements the H component (spec §4.5, §3): symbol
// interning, scope allocation, scope-set algebra, and binding resolution.
// Scopes and symbols are process-wide monotone counters, allocated lazily
// and never reused or freed — callers must initialize an Interner/Scopes
// pair before any lexing happens (spec §9 "Global state").
package hygiene

import (
	"sort"
	"sync"

	"github.com/femtomc/monowiki-sub001/internal/span"
)

// Symbol is a small integer identifying an identifier's surface name.
type Symbol int

// Scope is a small integer tagging a binding context.
type Scope int

// Interner assigns stable Symbol values to surface names.
type Interner struct {
	mu      sync.Mutex
	byName  map[string]Symbol
	names   []string
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{byName: make(map[string]Symbol)}
}

// Intern returns the Symbol for name, allocating a new one if this is the
// first occurrence.
func (in *Interner) Intern(name string) Symbol {
	in.mu.Lock()
	defer in.mu.Unlock()
	if s, ok := in.byName[name]; ok {
		return s
	}
	s := Symbol(len(in.names))
	in.names = append(in.names, name)
	in.byName[name] = s
	return s
}

// Name returns the surface name a Symbol was interned from.
func (in *Interner) Name(s Symbol) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if int(s) < 0 || int(s) >= len(in.names) {
		return "<invalid>"
	}
	return in.names[s]
}

// ScopeCounter issues monotonically increasing Scope values.
type ScopeCounter struct {
	mu   sync.Mutex
	next Scope
}

// Fresh allocates a new Scope, never returning a value already issued.
func (c *ScopeCounter) Fresh() Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.next
	c.next++
	return s
}

// ScopeSet is an unordered set of scopes. The zero value is the empty set.
type ScopeSet struct {
	scopes map[Scope]struct{}
}

// NewScopeSet builds a ScopeSet from the given scopes.
func NewScopeSet(scopes ...Scope) ScopeSet {
	s := ScopeSet{scopes: make(map[Scope]struct{}, len(scopes))}
	for _, sc := range scopes {
		s.scopes[sc] = struct{}{}
	}
	return s
}

// Insert returns a new ScopeSet with sc added. ScopeSet values are treated
// as immutable by convention — shrubbery nodes copy their ScopeSet by value
// (spec §9 "Hygiene and ownership"), so mutating in place would corrupt
// sibling nodes sharing the same backing map.
func (s ScopeSet) Insert(sc Scope) ScopeSet {
	out := s.clone()
	out.scopes[sc] = struct{}{}
	return out
}

// Remove returns a new ScopeSet with sc removed.
func (s ScopeSet) Remove(sc Scope) ScopeSet {
	out := s.clone()
	delete(out.scopes, sc)
	return out
}

// Flip returns a new ScopeSet with sc toggled: removed if present, inserted
// if absent. Macro expansion uses Flip so that both macro-introduced and
// user-written identifiers receive the same net treatment (spec §4.5).
func (s ScopeSet) Flip(sc Scope) ScopeSet {
	if s.Contains(sc) {
		return s.Remove(sc)
	}
	return s.Insert(sc)
}

// Contains reports whether sc is a member of s.
func (s ScopeSet) Contains(sc Scope) bool {
	if s.scopes == nil {
		return false
	}
	_, ok := s.scopes[sc]
	return ok
}

// Equal reports set equality.
func (s ScopeSet) Equal(other ScopeSet) bool {
	return s.IsSubsetOf(other) && other.IsSubsetOf(s)
}

// IsSubsetOf reports whether every scope in s is also in other.
func (s ScopeSet) IsSubsetOf(other ScopeSet) bool {
	for sc := range s.scopes {
		if !other.Contains(sc) {
			return false
		}
	}
	return true
}

// Len returns the number of scopes in the set.
func (s ScopeSet) Len() int {
	return len(s.scopes)
}

func (s ScopeSet) clone() ScopeSet {
	out := ScopeSet{scopes: make(map[Scope]struct{}, len(s.scopes)+1)}
	for sc := range s.scopes {
		out.scopes[sc] = struct{}{}
	}
	return out
}

// Binding pairs a symbol with the scope set of its binder and the span
// where it was introduced.
type Binding struct {
	Symbol Symbol
	Scopes ScopeSet
	Span   span.Span
}

// UnboundIdentifier is raised when no candidate binding's scope set is a
// subset of the use site's scope set.
type UnboundIdentifier struct {
	Name string
}

func (e *UnboundIdentifier) Error() string {
	return "unbound identifier: " + e.Name
}

// AmbiguousResolution is raised when two or more candidate bindings have
// scope sets that are both maximal and incomparable (neither is a subset
// of the other) among those whose scope set is a subset of the use site.
type AmbiguousResolution struct {
	Name string
}

func (e *AmbiguousResolution) Error() string {
	return "ambiguous identifier resolution: " + e.Name
}

// Env is a persistent map from (symbol, binder-scope-set) to Binding,
// consulted during resolution. It is shared by reference with
// copy-on-extend semantics: Extend never mutates the receiver, so a
// reference to an outer Env remains valid after an inner scope extends it
// (spec §9 "Hygiene and ownership").
type Env struct {
	parent   *Env
	bindings []Binding
}

// NewEnv creates an empty top-level environment.
func NewEnv() *Env {
	return &Env{}
}

// Extend returns a new Env that adds binding on top of e without mutating e.
func (e *Env) Extend(b Binding) *Env {
	return &Env{parent: e, bindings: []Binding{b}}
}

// Resolve finds the binding for (sym, useScopes) per spec §4.5: the
// binding whose scope set is a subset of useScopes and maximal by
// inclusion among such candidates. Two incomparable maximal candidates is
// an AmbiguousResolution; no candidate is an UnboundIdentifier.
func (e *Env) Resolve(sym Symbol, useScopes ScopeSet, name string) (Binding, error) {
	var candidates []Binding
	for env := e; env != nil; env = env.parent {
		for _, b := range env.bindings {
			if b.Symbol == sym && b.Scopes.IsSubsetOf(useScopes) {
				candidates = append(candidates, b)
			}
		}
	}
	if len(candidates) == 0 {
		return Binding{}, &UnboundIdentifier{Name: name}
	}

	var maximal []Binding
	for _, c := range candidates {
		isMaximal := true
		for _, other := range candidates {
			if other.Scopes.Len() > c.Scopes.Len() && c.Scopes.IsSubsetOf(other.Scopes) {
				isMaximal = false
				break
			}
		}
		if isMaximal {
			maximal = append(maximal, c)
		}
	}

	if len(maximal) == 1 {
		return maximal[0], nil
	}

	// More than one maximal candidate: they must be incomparable (if one
	// were a subset of another, it would not be maximal), which is the
	// ambiguity case spec §4.5 names explicitly. Deduplicate identical
	// scope sets first — the same binding reachable via two Env chains is
	// not an ambiguity.
	distinct := map[string]bool{}
	for _, m := range maximal {
		key := scopeKey(m.Scopes)
		if !distinct[key] {
			distinct[key] = true
		}
	}
	if len(distinct) == 1 {
		return maximal[0], nil
	}
	return Binding{}, &AmbiguousResolution{Name: name}
}

func scopeKey(s ScopeSet) string {
	// order-independent key: keyOf sorts the scopes and packs the low 32
	// bits of each into 4 bytes, so two sets share a key exactly when they
	// hold the same scopes (for scope values that fit in 32 bits).
	var scopes []Scope
	for sc := range s.scopes {
		scopes = append(scopes, sc)
	}
	return keyOf(scopes)
}

func keyOf(scopes []Scope) string {
	sort.Slice(scopes, func(i, j int) bool { return scopes[i] < scopes[j] })
	b := make([]byte, 0, len(scopes)*4)
	for _, s := range scopes {
		b = append(b, byte(s), byte(s>>8), byte(s>>16), byte(s>>24))
	}
	return string(b)
}
