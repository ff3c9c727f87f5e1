package hygiene_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/femtomc/monowiki-sub001/internal/hygiene"
)

func TestInternerStable(t *testing.T) {
	in := hygiene.NewInterner()
	a := in.Intern("foo")
	b := in.Intern("foo")
	c := in.Intern("bar")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, "foo", in.Name(a))
}

func TestScopeSetAlgebra(t *testing.T) {
	var c hygiene.ScopeCounter
	s1, s2 := c.Fresh(), c.Fresh()

	set := hygiene.NewScopeSet(s1)
	require.True(t, set.Contains(s1))
	require.False(t, set.Contains(s2))

	set2 := set.Insert(s2)
	require.True(t, set2.Contains(s1) && set2.Contains(s2))
	require.False(t, set.Contains(s2), "Insert must not mutate receiver")

	set3 := set2.Remove(s1)
	require.False(t, set3.Contains(s1))
	require.True(t, set3.Contains(s2))
}

func TestFlipTwiceIsIdentity(t *testing.T) {
	var c hygiene.ScopeCounter
	m := c.Fresh()
	set := hygiene.NewScopeSet()
	flipped := set.Flip(m)
	require.True(t, flipped.Contains(m))
	flippedTwice := flipped.Flip(m)
	require.True(t, flippedTwice.Equal(set))
}

func TestSubsetMaximalResolution(t *testing.T) {
	var c hygiene.ScopeCounter
	module, useSite := c.Fresh(), c.Fresh()
	interner := hygiene.NewInterner()
	sym := interner.Intern("t")

	env := hygiene.NewEnv()
	outer := hygiene.Binding{Symbol: sym, Scopes: hygiene.NewScopeSet(module)}
	env = env.Extend(outer)

	use := hygiene.NewScopeSet(module, useSite)
	b, err := env.Resolve(sym, use, "t")
	require.NoError(t, err)
	require.Equal(t, outer, b)
}

// Property 6: two identifiers with the same symbol but incomparable
// scope-sets do not resolve to the same binding — here, two maximal
// incomparable candidates ({a} and {b}, used under {a, b}) raise ambiguity
// instead of picking one.
func TestAmbiguousResolutionOnIncomparableMaximal(t *testing.T) {
	var c hygiene.ScopeCounter
	a, b := c.Fresh(), c.Fresh()
	interner := hygiene.NewInterner()
	sym := interner.Intern("x")

	env := hygiene.NewEnv()
	env = env.Extend(hygiene.Binding{Symbol: sym, Scopes: hygiene.NewScopeSet(a)})
	env = env.Extend(hygiene.Binding{Symbol: sym, Scopes: hygiene.NewScopeSet(b)})

	use := hygiene.NewScopeSet(a, b)
	_, err := env.Resolve(sym, use, "x")
	require.Error(t, err)
	var ambiguous *hygiene.AmbiguousResolution
	require.ErrorAs(t, err, &ambiguous)
}

func TestUnboundIdentifier(t *testing.T) {
	env := hygiene.NewEnv()
	interner := hygiene.NewInterner()
	sym := interner.Intern("nope")
	_, err := env.Resolve(sym, hygiene.NewScopeSet(), "nope")
	require.Error(t, err)
	var unbound *hygiene.UnboundIdentifier
	require.ErrorAs(t, err, &unbound)
}

func TestMacroHygieneDiscipline(t *testing.T) {
	// Simulates spec §4.5's "or" macro: identifiers introduced by the
	// macro carry the fresh macro scope; use-site identifiers have it
	// flipped twice and end up without it.
	var c hygiene.ScopeCounter
	moduleScope := c.Fresh()
	macroScope := c.Fresh()
	interner := hygiene.NewInterner()
	t_ := interner.Intern("t")

	// User's outer "t", bound at module scope only.
	userScopes := hygiene.NewScopeSet(moduleScope)
	env := hygiene.NewEnv().Extend(hygiene.Binding{Symbol: t_, Scopes: userScopes})

	// Macro-introduced "t": flip_scope(macroScope) applied once on
	// introduction, carries macroScope in addition to module scope.
	introducedScopes := userScopes.Flip(macroScope)
	env = env.Extend(hygiene.Binding{Symbol: t_, Scopes: introducedScopes})

	// Use site from inside the macro's expansion also gets macroScope
	// flipped onto it (flip applied to output), but the USER's own `t`
	// argument passed in had macroScope flipped twice (once for being
	// "output" of the macro call site unwrap, once again failing to
	// apply since it originates outside) and nets to the plain module
	// scope it always had.
	userUseScopes := userScopes // net effect: unchanged
	b, err := env.Resolve(t_, userUseScopes, "t")
	require.NoError(t, err)
	require.True(t, b.Scopes.Equal(userScopes), "user's t must resolve to the user binding, not the macro-introduced one")

	macroUseScopes := introducedScopes
	b2, err := env.Resolve(t_, macroUseScopes, "t")
	require.NoError(t, err)
	require.True(t, b2.Scopes.Equal(introducedScopes), "macro-internal t must resolve to the macro-introduced binding")
}
