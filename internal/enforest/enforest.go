// Package enforest implements the E component (spec §4.4): shrubbery to
// typed AST via precedence climbing. Operators declare pairwise
// precedence relations rather than integer levels; a pair with no
// declared relation is an ambiguity error, never a silent default
// associativity.
package enforest

import (
	"fmt"

	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/shrub"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

// Error reports an enforestation failure: an operator pair with no
// declared precedence relation, or a malformed postfix application.
type Error struct {
	Span    span.Span
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("enforest: %s at %s", e.Message, e.Span)
}

// Kind tags a typed-AST node's concrete variant.
type Kind int

const (
	KindLiteral Kind = iota
	KindIdent
	KindBinary
	KindUnary
	KindCall
	KindIndex
	KindTuple
	KindList
	KindRecord
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
	KindEmpty
)

// Node is the typed AST produced by enforestation. As with shrub.Node,
// exactly one payload group is meaningful per Kind.
type Node struct {
	Kind Kind
	Span span.Span

	// KindLiteral
	Literal token.Token

	// KindIdent
	Symbol hygiene.Symbol
	Scopes hygiene.ScopeSet

	// KindBinary
	Op          string
	Left, Right *Node

	// KindUnary
	UnaryOp string
	Operand *Node

	// KindCall
	Callee *Node
	Args   []Node

	// KindIndex
	Value *Node
	Index *Node

	// KindTuple, KindList
	Elements []Node

	// KindRecord, KindSetRule
	Properties map[string]Node

	// KindDefBlock
	DefName   string
	DefParams []Node
	DefBody   []Node

	// KindStagedBlock, KindQuote
	Body []Node

	// KindShowRule, KindSetRule, KindSelector
	Selector Node
	Rule     []Node

	// KindLiveBlock
	Deps []Node

	// KindSplice
	Expr *Node

	// KindIf
	Cond *Node
	Then []Node
	Else []Node

	// KindFor
	Binder hygiene.Symbol
	Seq    *Node

	// KindSelector
	Predicate *Node
	Name      string
}

// Relation is the pairwise precedence relation between two operators.
type Relation int

const (
	RelUndefined Relation = iota
	RelLess
	RelEqual
	RelGreater
)

// MacroTransformer receives the tail of a flat item run after a
// macro-bound head identifier and returns the form it builds plus
// whatever tail remains for ordinary precedence climbing to continue
// from (e.g. trailing binary operators applied to the macro's result).
type MacroTransformer interface {
	Transform(head shrub.Node, tail []shrub.Node, e *Enforester) (Node, []shrub.Node, error)
}

// MacroRegistry resolves identifiers that trigger the Macro operator
// protocol (spec §4.4) instead of the Automatic one.
type MacroRegistry interface {
	Lookup(sym hygiene.Symbol) (MacroTransformer, bool)
}

// Enforester holds the precedence table and macro registry for one
// enforestation pass.
type Enforester struct {
	registry MacroRegistry
}

// New builds an Enforester. registry may be nil, in which case no
// identifier triggers the Macro protocol.
func New(registry MacroRegistry) *Enforester {
	return &Enforester{registry: registry}
}

// operator tiers: same tier compares Equal; higher tier is Greater than
// a lower one. This is the Automatic protocol's built-in precedence
// table (spec §4.4); an operator absent from every tier has no declared
// relation to anything and any comparison involving it is RelUndefined.
var operatorTiers = [][]token.Tag{
	{token.OpOr},
	{token.OpAnd},
	{token.OpEq, token.OpNotEq},
	{token.OpLess, token.OpLessEq, token.OpGreater, token.OpGreaterEq},
	{token.OpPlus, token.OpMinus},
	{token.OpStar, token.OpSlash, token.OpPercent},
}

func tierOf(tag token.Tag) (int, bool) {
	for i, tier := range operatorTiers {
		for _, t := range tier {
			if t == tag {
				return i, true
			}
		}
	}
	return 0, false
}

// equalityTier and orderingTier hold no declared relation to each other:
// chained relational/equality mixes like `a < b == c` must be
// parenthesized rather than silently associating one way or the other.
const equalityTier, orderingTier = 2, 3

func compare(a, b token.Tag) Relation {
	ta, oka := tierOf(a)
	tb, okb := tierOf(b)
	if !oka || !okb {
		return RelUndefined
	}
	if (ta == equalityTier && tb == orderingTier) || (ta == orderingTier && tb == equalityTier) {
		return RelUndefined
	}
	switch {
	case ta == tb:
		return RelEqual
	case ta > tb:
		return RelGreater
	default:
		return RelLess
	}
}

func isBinaryOp(tag token.Tag) bool {
	_, ok := tierOf(tag)
	return ok
}

// Enforest converts a shrubbery tree into the typed AST.
func (e *Enforester) Enforest(n shrub.Node) (Node, error) {
	switch n.Kind {
	case shrub.KindSequence:
		return e.enforestItems(n.Children, n.Span)
	case shrub.KindLiteral:
		return Node{Kind: KindLiteral, Span: n.Span, Literal: n.Literal}, nil
	case shrub.KindIdentifier:
		return Node{Kind: KindIdent, Span: n.Span, Symbol: n.Symbol, Scopes: n.Scopes}, nil
	case shrub.KindParens:
		return e.enforestParens(n)
	case shrub.KindBrackets:
		return e.enforestDelimited(n, KindList)
	case shrub.KindBraces:
		return e.enforestRecord(n)
	case shrub.KindDefBlock:
		return e.enforestDef(n)
	case shrub.KindStagedBlock:
		body, err := e.enforestBody(n.Body)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindStagedBlock, Span: n.Span, Body: body}, nil
	case shrub.KindShowRule:
		sel, err := e.enforestSelector(n.Selector)
		if err != nil {
			return Node{}, err
		}
		rule, err := e.enforestBody(n.Rule)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindShowRule, Span: n.Span, Selector: sel, Rule: rule}, nil
	case shrub.KindSetRule:
		sel, err := e.enforestSelector(n.Selector)
		if err != nil {
			return Node{}, err
		}
		props := map[string]Node{}
		for k, v := range n.Properties {
			pv, err := e.Enforest(v)
			if err != nil {
				return Node{}, err
			}
			props[k] = pv
		}
		return Node{Kind: KindSetRule, Span: n.Span, Selector: sel, Properties: props}, nil
	case shrub.KindLiveBlock:
		deps, err := e.enforestEach(n.Deps)
		if err != nil {
			return Node{}, err
		}
		body, err := e.enforestBody(n.Body)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindLiveBlock, Span: n.Span, Deps: deps, Body: body}, nil
	case shrub.KindQuote:
		body, err := e.enforestBody(n.Body)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindQuote, Span: n.Span, Body: body}, nil
	case shrub.KindSplice:
		if n.Expr == nil {
			return Node{}, &Error{Span: n.Span, Message: "splice missing expression"}
		}
		expr, err := e.Enforest(*n.Expr)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindSplice, Span: n.Span, Expr: &expr}, nil
	case shrub.KindIf:
		cond, err := e.Enforest(n.Cond)
		if err != nil {
			return Node{}, err
		}
		then, err := e.enforestBody(n.Then)
		if err != nil {
			return Node{}, err
		}
		var elseBody []Node
		if len(n.Else) > 0 {
			elseBody, err = e.enforestBody(n.Else)
			if err != nil {
				return Node{}, err
			}
		}
		return Node{Kind: KindIf, Span: n.Span, Cond: &cond, Then: then, Else: elseBody}, nil
	case shrub.KindFor:
		seq, err := e.Enforest(n.Seq)
		if err != nil {
			return Node{}, err
		}
		body, err := e.enforestBody(n.Body)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: KindFor, Span: n.Span, Binder: n.Binder, Seq: &seq, Body: body}, nil
	case shrub.KindSelector:
		return e.enforestSelector(n)
	default:
		return Node{}, &Error{Span: n.Span, Message: "unrecognized shrubbery kind"}
	}
}

func (e *Enforester) enforestBody(nodes []shrub.Node) ([]Node, error) {
	return e.enforestEach(nodes)
}

func (e *Enforester) enforestEach(nodes []shrub.Node) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, c := range nodes {
		if c.Kind == shrub.KindLiteral && (c.Literal.Tag == token.Comma) {
			continue
		}
		en, err := e.Enforest(c)
		if err != nil {
			return nil, err
		}
		out = append(out, en)
	}
	return out, nil
}

func (e *Enforester) enforestSelector(n shrub.Node) (Node, error) {
	sel := Node{Kind: KindSelector, Span: n.Span, Name: n.Name}
	if n.Predicate != nil {
		pred, err := e.Enforest(*n.Predicate)
		if err != nil {
			return Node{}, err
		}
		sel.Predicate = &pred
	}
	return sel, nil
}

func (e *Enforester) enforestDef(n shrub.Node) (Node, error) {
	params, err := e.enforestEach(n.DefParams)
	if err != nil {
		return Node{}, err
	}
	body, err := e.enforestBody(n.DefBody)
	if err != nil {
		return Node{}, err
	}
	return Node{Kind: KindDefBlock, Span: n.Span, DefName: n.DefName, DefParams: params, DefBody: body}, nil
}

// enforestParens disambiguates grouping parens `(expr)` from a tuple
// literal `(a, b, c)` by the presence of a top-level comma.
func (e *Enforester) enforestParens(n shrub.Node) (Node, error) {
	if n.IsEmpty() {
		return Node{Kind: KindEmpty, Span: n.Span}, nil
	}
	groups := splitByComma(n.Children)
	if len(groups) == 1 {
		return e.enforestItems(groups[0], n.Span)
	}
	elements := make([]Node, 0, len(groups))
	for _, g := range groups {
		el, err := e.enforestItems(g, n.Span)
		if err != nil {
			return Node{}, err
		}
		elements = append(elements, el)
	}
	return Node{Kind: KindTuple, Span: n.Span, Elements: elements}, nil
}

func (e *Enforester) enforestDelimited(n shrub.Node, kind Kind) (Node, error) {
	if n.IsEmpty() {
		return Node{Kind: kind, Span: n.Span}, nil
	}
	groups := splitByComma(n.Children)
	elements := make([]Node, 0, len(groups))
	for _, g := range groups {
		el, err := e.enforestItems(g, n.Span)
		if err != nil {
			return Node{}, err
		}
		elements = append(elements, el)
	}
	return Node{Kind: kind, Span: n.Span, Elements: elements}, nil
}

func (e *Enforester) enforestRecord(n shrub.Node) (Node, error) {
	if n.IsEmpty() {
		return Node{Kind: KindRecord, Span: n.Span, Properties: map[string]Node{}}, nil
	}
	props := map[string]Node{}
	for _, g := range splitByComma(n.Children) {
		k, vItems, ok := splitKeyValue(g)
		if !ok {
			continue
		}
		v, err := e.enforestItems(vItems, n.Span)
		if err != nil {
			return Node{}, err
		}
		props[k] = v
	}
	return Node{Kind: KindRecord, Span: n.Span, Properties: props}, nil
}

func splitByComma(nodes []shrub.Node) [][]shrub.Node {
	var groups [][]shrub.Node
	var cur []shrub.Node
	for _, n := range nodes {
		if n.Kind == shrub.KindLiteral && n.Literal.Tag == token.Comma {
			groups = append(groups, cur)
			cur = nil
			continue
		}
		cur = append(cur, n)
	}
	groups = append(groups, cur)
	return groups
}

func splitKeyValue(nodes []shrub.Node) (string, []shrub.Node, bool) {
	for i, n := range nodes {
		if n.Kind == shrub.KindLiteral && n.Literal.Tag == token.Colon {
			if i == 0 {
				return "", nil, false
			}
			key := nodes[i-1]
			if key.Kind != shrub.KindIdentifier && key.Kind != shrub.KindLiteral {
				return "", nil, false
			}
			var name string
			if key.Kind == shrub.KindLiteral {
				name = key.Literal.Text
			} else {
				name = fmt.Sprintf("#%d", key.Symbol)
			}
			return name, nodes[i+1:], true
		}
	}
	return "", nil, false
}

// enforestItems resolves postfix application (call/index) and then runs
// precedence climbing over the resulting atom/operator alternation.
func (e *Enforester) enforestItems(items []shrub.Node, fallback span.Span) (Node, error) {
	if len(items) == 0 {
		return Node{Kind: KindEmpty, Span: fallback}, nil
	}

	atoms, ops, err := e.atomize(items)
	if err != nil {
		return Node{}, err
	}
	if len(atoms) == 1 {
		return atoms[0], nil
	}
	result, pos, err := e.climb(atoms, ops, 0, nil)
	if err != nil {
		return Node{}, err
	}
	if pos != len(atoms) {
		return Node{}, &Error{Span: fallback, Message: "trailing operators could not be resolved"}
	}
	return result, nil
}

// atomize walks a flat item list left to right, folding postfix
// application (juxtaposed parens/brackets) and prefix unary operators
// into single atoms, and handing off to macro transformers where the
// head of a run is bound in the registry. The result is a list of
// resolved operand atoms and the binary-operator tags interleaved
// between them — invariant len(atoms) == len(ops)+1 on return.
func (e *Enforester) atomize(items []shrub.Node) ([]Node, []token.Tag, error) {
	var atoms []Node
	var ops []token.Tag
	i := 0
	for i < len(items) {
		// Expecting an operand next whenever atoms and ops are level —
		// true at the start and immediately after a binary operator.
		expectOperand := len(atoms) == len(ops)
		item := items[i]

		if !expectOperand && isOperatorLiteral(item) {
			ops = append(ops, item.Literal.Tag)
			i++
			continue
		}

		if expectOperand && isUnaryOperatorLiteral(item) {
			opTag := item.Literal.Tag
			if i+1 >= len(items) {
				return nil, nil, &Error{Span: item.Span, Message: "unary operator missing operand"}
			}
			operand, consumed, err := e.parseAtomWithPostfix(items, i+1)
			if err != nil {
				return nil, nil, err
			}
			atoms = append(atoms, Node{
				Kind: KindUnary, Span: item.Span.Merge(operand.Span),
				UnaryOp: opTag.String(), Operand: &operand,
			})
			i = consumed
			continue
		}

		if item.Kind == shrub.KindIdentifier && e.registry != nil {
			if transformer, ok := e.registry.Lookup(item.Symbol); ok {
				form, rest, err := transformer.Transform(item, items[i+1:], e)
				if err != nil {
					return nil, nil, err
				}
				atoms = append(atoms, form)
				items = append(append([]shrub.Node{}, items[:i:i]...), rest...)
				i = len(items) - len(rest)
				continue
			}
		}

		atom, consumed, err := e.parseAtomWithPostfix(items, i)
		if err != nil {
			return nil, nil, err
		}
		atoms = append(atoms, atom)
		i = consumed
	}
	return atoms, ops, nil
}

// parseAtomWithPostfix enforests items[i] and then folds in any
// juxtaposed call/index postfixes, returning the index just past what
// it consumed.
func (e *Enforester) parseAtomWithPostfix(items []shrub.Node, i int) (Node, int, error) {
	atom, err := e.Enforest(items[i])
	if err != nil {
		return Node{}, 0, err
	}
	i++
	for i < len(items) {
		next := items[i]
		if next.Kind == shrub.KindParens {
			args, err := e.callArgs(next)
			if err != nil {
				return Node{}, 0, err
			}
			atom = Node{Kind: KindCall, Span: atom.Span.Merge(next.Span), Callee: &atom, Args: args}
			i++
			continue
		}
		if next.Kind == shrub.KindBrackets {
			idxNode, err := e.enforestItems(next.Children, next.Span)
			if err != nil {
				return Node{}, 0, err
			}
			atom = Node{Kind: KindIndex, Span: atom.Span.Merge(next.Span), Value: &atom, Index: &idxNode}
			i++
			continue
		}
		break
	}
	return atom, i, nil
}

func isUnaryOperatorLiteral(n shrub.Node) bool {
	if n.Kind != shrub.KindLiteral {
		return false
	}
	return n.Literal.Tag == token.OpMinus || n.Literal.Tag == token.OpNot
}

func (e *Enforester) callArgs(group shrub.Node) ([]Node, error) {
	if group.IsEmpty() {
		return nil, nil
	}
	var args []Node
	for _, g := range splitByComma(group.Children) {
		a, err := e.enforestItems(g, group.Span)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func isOperatorLiteral(n shrub.Node) bool {
	if n.Kind != shrub.KindLiteral {
		return false
	}
	switch n.Literal.Tag {
	case token.OpPlus, token.OpMinus, token.OpStar, token.OpSlash, token.OpPercent,
		token.OpEq, token.OpNotEq, token.OpLess, token.OpLessEq, token.OpGreater, token.OpGreaterEq,
		token.OpAnd, token.OpOr:
		return true
	}
	return false
}

// climb implements precedence climbing against pairwise relations.
// atoms[k] and atoms[k+1] are separated by ops[k]. i is the index of the
// next unconsumed atom (the left operand for this call); minOp is the
// operator that invoked this recursive level (nil at top level). A
// right-hand operator is absorbed into this level only while it binds
// strictly tighter than minOp; an operator pair with no declared
// relation is reported as an ambiguity error rather than defaulting to
// an associativity.
func (e *Enforester) climb(atoms []Node, ops []token.Tag, i int, minOp *token.Tag) (Node, int, error) {
	left := atoms[i]
	next := i + 1

	for next-1 < len(ops) {
		op := ops[next-1]
		if minOp != nil {
			rel := compare(op, *minOp)
			if rel == RelUndefined {
				return Node{}, 0, &Error{Span: left.Span, Message: fmt.Sprintf("no declared precedence relation between %q and %q", op, *minOp)}
			}
			if rel != RelGreater {
				break
			}
		} else if !isBinaryOp(op) {
			return Node{}, 0, &Error{Span: left.Span, Message: fmt.Sprintf("operator %q has no declared precedence", op)}
		}

		opTag := op
		right, after, err := e.climb(atoms, ops, next, &opTag)
		if err != nil {
			return Node{}, 0, err
		}
		left = Node{Kind: KindBinary, Span: left.Span.Merge(right.Span), Op: op.String(), Left: &left, Right: &right}
		next = after
	}
	return left, next, nil
}
