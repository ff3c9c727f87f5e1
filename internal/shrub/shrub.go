// Package shrub implements the Sh component (spec §3, §4.3): the untyped,
// delimiter-balanced token tree that sits between the token stream and the
// typed AST. Identifier nodes carry a hygiene.ScopeSet that travels with
// them through every subsequent transformation.
package shrub

import (
	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

// Kind tags a Node's concrete variant.
type Kind int

const (
	KindLiteral Kind = iota
	KindIdentifier
	KindParens
	KindBrackets
	KindBraces
	KindSequence
	KindDefBlock
	KindStagedBlock
	KindShowRule
	KindSetRule
	KindLiveBlock
	KindQuote
	KindSplice
	KindIf
	KindFor
	KindSelector
)

// Node is the untyped shrubbery tree. Exactly one of the payload fields is
// meaningful, selected by Kind; this mirrors the closed-variant style of
// the token set rather than one interface-per-variant, since shrubbery
// nodes are produced and consumed in bulk by the parser and enforester and
// benefit from a single concrete type.
type Node struct {
	Kind Kind
	Span span.Span

	// KindLiteral
	Literal token.Token

	// KindIdentifier
	Symbol hygiene.Symbol
	Scopes hygiene.ScopeSet

	// KindParens, KindBrackets, KindBraces, KindSequence
	Children []Node

	// KindDefBlock
	DefName   string
	DefParams []Node
	DefBody   []Node

	// KindStagedBlock, KindQuote
	Body []Node

	// KindShowRule
	Selector Node
	Rule     []Node

	// KindSetRule
	Properties map[string]Node

	// KindLiveBlock
	Deps []Node

	// KindSplice
	Expr *Node

	// KindIf
	Cond Node
	Then []Node
	Else []Node

	// KindFor
	Binder hygiene.Symbol
	Seq    Node

	// KindSelector
	Predicate *Node
	Name      string
}

// Literal constructs a KindLiteral node.
func Literal(tok token.Token, sp span.Span) Node {
	return Node{Kind: KindLiteral, Span: sp, Literal: tok}
}

// Identifier constructs a KindIdentifier node carrying the given scope set.
func Identifier(sym hygiene.Symbol, scopes hygiene.ScopeSet, sp span.Span) Node {
	return Node{Kind: KindIdentifier, Span: sp, Symbol: sym, Scopes: scopes}
}

// Group constructs a balanced-delimiter group node. kind must be one of
// KindParens, KindBrackets, KindBraces, KindSequence.
func Group(kind Kind, children []Node, sp span.Span) Node {
	return Node{Kind: kind, Span: sp, Children: children}
}

// IsEmpty reports whether a group node has no children — an allowed
// shape per spec §4.3's edge policy.
func (n Node) IsEmpty() bool {
	switch n.Kind {
	case KindParens, KindBrackets, KindBraces, KindSequence:
		return len(n.Children) == 0
	default:
		return false
	}
}
