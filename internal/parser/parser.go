// Package parser implements the P component (spec §4.3): tokens to
// shrubbery, with balanced delimiter groups and recognition of
// keyword-prefixed forms in head position.
package parser

import (
	"fmt"

	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/shrub"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

// Error reports a shrubbery-level structural problem: an unclosed
// delimiter, an unexpected closing delimiter, or a malformed
// keyword-prefixed form that still failed after the edge-policy fallback
// (e.g. `live` with no ':' before its body).
type Error struct {
	Span    span.Span
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse: %s at %s", e.Message, e.Span)
}

// Interner is the subset of hygiene.Interner the parser needs to turn
// identifier lexemes into symbols.
type Interner interface {
	Intern(name string) hygiene.Symbol
	Name(sym hygiene.Symbol) string
}

// Parse builds a shrubbery tree from a token stream produced by the
// lexer. The result is always a KindSequence of top-level forms; a nil
// error does not imply every form parsed ideally — keyword shapes that
// don't match fall back to plain identifiers per spec §4.3's edge policy,
// which is not an error condition.
func Parse(toks []token.Spanned, interner Interner) (shrub.Node, error) {
	p := &parser{toks: toks, interner: interner}
	items, err := p.parseSequence(nil)
	if err != nil {
		return shrub.Node{}, err
	}
	sp := span.Zero
	for _, it := range items {
		sp = sp.Merge(it.Span)
	}
	return shrub.Group(shrub.KindSequence, items, sp), nil
}

type parser struct {
	toks     []token.Spanned
	pos      int
	interner Interner
}

func (p *parser) cur() token.Spanned {
	if p.pos >= len(p.toks) {
		return token.Spanned{Token: token.Token{Tag: token.EOF}}
	}
	return p.toks[p.pos]
}

func (p *parser) at(tag token.Tag) bool { return p.cur().Tag == tag }

func (p *parser) advance() token.Spanned {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.at(token.Newline) {
		p.advance()
	}
}

// closing maps an opening delimiter to its closing tag.
var closing = map[token.Tag]token.Tag{
	token.LParen:   token.RParen,
	token.LBracket: token.RBracket,
	token.LBrace:   token.RBrace,
}

var groupKind = map[token.Tag]shrub.Kind{
	token.LParen:   shrub.KindParens,
	token.LBracket: shrub.KindBrackets,
	token.LBrace:   shrub.KindBraces,
}

// parseSequence consumes items up to EOF or (when stopClose is non-nil)
// the matching close of the enclosing group, which it leaves unconsumed.
// Any other closing delimiter is an error. Newlines separate top-level
// forms but are otherwise skipped between items within one form.
func (p *parser) parseSequence(stopClose *token.Tag) ([]shrub.Node, error) {
	var items []shrub.Node
	for {
		p.skipNewlines()
		if p.at(token.EOF) {
			if stopClose != nil {
				return nil, &Error{Span: p.cur().Span, Message: "unbalanced delimiter: reached EOF before close"}
			}
			return items, nil
		}
		if stopClose != nil && p.at(*stopClose) {
			return items, nil
		}
		if _, isClose := closeTagSet[p.cur().Tag]; isClose {
			return nil, &Error{Span: p.cur().Span, Message: "unexpected closing delimiter"}
		}
		item, err := p.parseForm()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

var closeTagSet = map[token.Tag]bool{
	token.RParen: true, token.RBracket: true, token.RBrace: true,
}

// parseForm parses one head-position form: a keyword-prefixed shape if
// recognized, otherwise a flat run of item tokens up to the next newline
// (left for the enforester to resolve operator precedence over).
func (p *parser) parseForm() (shrub.Node, error) {
	switch p.cur().Tag {
	case token.KwDef:
		return p.parseDef()
	case token.KwStaged:
		return p.parseStaged()
	case token.KwShow:
		return p.parseShow()
	case token.KwSet:
		return p.parseSet()
	case token.KwLive:
		return p.parseLive()
	case token.KwQuote:
		return p.parseQuote()
	case token.KwIf:
		return p.parseIf()
	case token.KwFor:
		return p.parseFor()
	}
	return p.parseFlatRun()
}

// parseFlatRun consumes items until a newline, EOF, or an unmatched
// closing delimiter, wrapping the result as a Sequence for the enforester.
func (p *parser) parseFlatRun() (shrub.Node, error) {
	start := p.cur().Span
	var items []shrub.Node
	for {
		if p.at(token.Newline) || p.at(token.EOF) {
			break
		}
		if _, isClose := closeTagSet[p.cur().Tag]; isClose {
			break
		}
		it, err := p.parseItem()
		if err != nil {
			return shrub.Node{}, err
		}
		items = append(items, it)
	}
	sp := start
	for _, it := range items {
		sp = sp.Merge(it.Span)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return shrub.Group(shrub.KindSequence, items, sp), nil
}

// parseItem parses one atomic shrubbery item: a literal, identifier,
// splice, or a balanced delimiter group (recursing into parseGroupContents).
// Keywords encountered here — i.e. not in head position — fall back to
// plain identifiers per spec §4.3's edge policy.
func (p *parser) parseItem() (shrub.Node, error) {
	t := p.cur()
	switch t.Tag {
	case token.LParen, token.LBracket, token.LBrace:
		return p.parseGroup()
	case token.Dollar:
		return p.parseSplice()
	case token.Ident:
		p.advance()
		sym := p.interner.Intern(t.Text)
		return shrub.Identifier(sym, hygiene.NewScopeSet(), t.Span), nil
	case token.Int, token.Float, token.String, token.Symbol:
		p.advance()
		return shrub.Literal(t.Token, t.Span), nil
	case token.KwTrue, token.KwFalse, token.KwNone:
		p.advance()
		return shrub.Literal(t.Token, t.Span), nil
	default:
		if isKeyword(t.Tag) {
			// Edge policy: keyword without its recognized shape outside
			// head position is kept as an identifier, not an error.
			p.advance()
			sym := p.interner.Intern(t.Text)
			return shrub.Identifier(sym, hygiene.NewScopeSet(), t.Span), nil
		}
		// Operators and punctuation pass through as literal tokens; the
		// enforester resolves their meaning via precedence climbing.
		p.advance()
		return shrub.Literal(t.Token, t.Span), nil
	}
}

func isKeyword(tag token.Tag) bool {
	switch tag {
	case token.KwDef, token.KwStaged, token.KwShow, token.KwSet, token.KwLive,
		token.KwQuote, token.KwSplice, token.KwIf, token.KwElse, token.KwFor,
		token.KwIn, token.KwWhere:
		return true
	}
	return false
}

// parseGroupContents parses the flat item list inside a value/param
// delimiter group: nested groups, identifiers, literals, and punctuation
// (including comma separators) all pass through as sibling items. Unlike
// parseSequence, it never recognizes keyword-prefixed forms — those are
// only meaningful in statement position.
func (p *parser) parseGroupContents(stopClose token.Tag) ([]shrub.Node, error) {
	var items []shrub.Node
	for {
		p.skipNewlines()
		if p.at(token.EOF) {
			return nil, &Error{Span: p.cur().Span, Message: "unbalanced delimiter: reached EOF before close"}
		}
		if p.at(stopClose) {
			return items, nil
		}
		it, err := p.parseItem()
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
}

func (p *parser) parseGroup() (shrub.Node, error) {
	open := p.advance()
	close := closing[open.Tag]
	children, err := p.parseGroupContents(close)
	if err != nil {
		return shrub.Node{}, err
	}
	closeTok := p.advance() // consume matching close (guaranteed by parseGroupContents)
	return shrub.Group(groupKind[open.Tag], children, open.Span.Merge(closeTok.Span)), nil
}

func (p *parser) parseSplice() (shrub.Node, error) {
	start := p.advance() // $
	expr, err := p.parseItem()
	if err != nil {
		return shrub.Node{}, err
	}
	return shrub.Node{Kind: shrub.KindSplice, Span: start.Span.Merge(expr.Span), Expr: &expr}, nil
}

// expect consumes tok if present and returns ok=true; otherwise leaves
// position unchanged so callers can implement the edge-policy fallback.
func (p *parser) expect(tag token.Tag) (token.Spanned, bool) {
	if p.at(tag) {
		return p.advance(), true
	}
	return token.Spanned{}, false
}

// fallbackToIdentifier rewinds to start and returns the head keyword
// token as a plain identifier, per spec §4.3's edge policy for
// recognized-but-malformed head forms.
func (p *parser) fallbackToIdentifier(start int, headTok token.Spanned) shrub.Node {
	p.pos = start + 1
	sym := p.interner.Intern(headTok.Text)
	return shrub.Identifier(sym, hygiene.NewScopeSet(), headTok.Span)
}

func (p *parser) parseDef() (shrub.Node, error) {
	start := p.pos
	head := p.advance() // def
	nameTok, ok := p.expect(token.Ident)
	if !ok {
		return p.fallbackToIdentifier(start, head), nil
	}
	var params []shrub.Node
	if p.at(token.LParen) {
		g, err := p.parseGroup()
		if err != nil {
			return shrub.Node{}, err
		}
		params = g.Children
	}
	var body []shrub.Node
	switch {
	case p.at(token.Colon):
		p.advance()
		b, err := p.parseBlockBody()
		if err != nil {
			return shrub.Node{}, err
		}
		body = b
	case p.at(token.OpAssign):
		p.advance()
		expr, err := p.parseFlatRun()
		if err != nil {
			return shrub.Node{}, err
		}
		body = []shrub.Node{expr}
	default:
		return p.fallbackToIdentifier(start, head), nil
	}
	return shrub.Node{
		Kind: shrub.KindDefBlock, Span: head.Span.Merge(lastSpan(body, nameTok.Span)),
		DefName: nameTok.Text, DefParams: params, DefBody: body,
	}, nil
}

func (p *parser) parseStaged() (shrub.Node, error) {
	head := p.advance() // staged
	p.expect(token.Colon)
	body, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	return shrub.Node{Kind: shrub.KindStagedBlock, Span: head.Span.Merge(lastSpan(body, head.Span)), Body: body}, nil
}

func (p *parser) parseShow() (shrub.Node, error) {
	start := p.pos
	head := p.advance() // show
	sel, err := p.parseSelector()
	if err != nil || sel == nil {
		return p.fallbackToIdentifier(start, head), nil
	}
	if _, ok := p.expect(token.Colon); !ok {
		return p.fallbackToIdentifier(start, head), nil
	}
	body, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	return shrub.Node{Kind: shrub.KindShowRule, Span: head.Span.Merge(lastSpan(body, head.Span)), Selector: *sel, Rule: body}, nil
}

func (p *parser) parseSet() (shrub.Node, error) {
	start := p.pos
	head := p.advance() // set
	sel, err := p.parseSelector()
	if err != nil || sel == nil {
		return p.fallbackToIdentifier(start, head), nil
	}
	if !p.at(token.LBrace) {
		return p.fallbackToIdentifier(start, head), nil
	}
	g, err := p.parseGroup()
	if err != nil {
		return shrub.Node{}, err
	}
	props := map[string]shrub.Node{}
	for _, kv := range splitByComma(g.Children) {
		k, v, ok := p.splitKeyValue(kv)
		if ok {
			props[k] = v
		}
	}
	return shrub.Node{Kind: shrub.KindSetRule, Span: head.Span.Merge(g.Span), Selector: *sel, Properties: props}, nil
}

func (p *parser) parseLive() (shrub.Node, error) {
	head := p.advance() // live
	var deps []shrub.Node
	if p.at(token.LParen) {
		g, err := p.parseGroup()
		if err != nil {
			return shrub.Node{}, err
		}
		deps = g.Children
	}
	if _, ok := p.expect(token.Colon); !ok {
		return shrub.Node{}, &Error{Span: p.cur().Span, Message: "live block requires ':'"}
	}
	body, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	return shrub.Node{Kind: shrub.KindLiveBlock, Span: head.Span.Merge(lastSpan(body, head.Span)), Deps: deps, Body: body}, nil
}

func (p *parser) parseQuote() (shrub.Node, error) {
	head := p.advance() // quote
	p.expect(token.Colon)
	body, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	return shrub.Node{Kind: shrub.KindQuote, Span: head.Span.Merge(lastSpan(body, head.Span)), Body: body}, nil
}

func (p *parser) parseIf() (shrub.Node, error) {
	start := p.pos
	head := p.advance() // if
	cond, err := p.parseUntil(token.Colon)
	if err != nil {
		return shrub.Node{}, err
	}
	if _, ok := p.expect(token.Colon); !ok {
		return p.fallbackToIdentifier(start, head), nil
	}
	then, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	var elseBody []shrub.Node
	p.skipNewlines()
	if p.at(token.KwElse) {
		p.advance()
		if _, ok := p.expect(token.Colon); !ok {
			return shrub.Node{}, &Error{Span: p.cur().Span, Message: "else requires ':'"}
		}
		elseBody, err = p.parseBlockBody()
		if err != nil {
			return shrub.Node{}, err
		}
	}
	sp := head.Span.Merge(lastSpan(then, head.Span))
	if len(elseBody) > 0 {
		sp = sp.Merge(lastSpan(elseBody, sp))
	}
	return shrub.Node{Kind: shrub.KindIf, Span: sp, Cond: cond, Then: then, Else: elseBody}, nil
}

func (p *parser) parseFor() (shrub.Node, error) {
	start := p.pos
	head := p.advance() // for
	binderTok, ok := p.expect(token.Ident)
	if !ok {
		return p.fallbackToIdentifier(start, head), nil
	}
	if _, ok := p.expect(token.KwIn); !ok {
		return p.fallbackToIdentifier(start, head), nil
	}
	seq, err := p.parseUntil(token.Colon)
	if err != nil {
		return shrub.Node{}, err
	}
	if _, ok := p.expect(token.Colon); !ok {
		return shrub.Node{}, &Error{Span: p.cur().Span, Message: "for requires ':'"}
	}
	body, err := p.parseBlockBody()
	if err != nil {
		return shrub.Node{}, err
	}
	binder := p.interner.Intern(binderTok.Text)
	return shrub.Node{
		Kind: shrub.KindFor, Span: head.Span.Merge(lastSpan(body, head.Span)),
		Binder: binder, Seq: seq, Body: body,
	}, nil
}

// parseSelector parses `name(.where(predicate))?`. Returns nil (no error)
// when the current position doesn't start with an identifier, letting
// callers apply the edge-policy fallback.
func (p *parser) parseSelector() (*shrub.Node, error) {
	nameTok, ok := p.expect(token.Ident)
	if !ok {
		return nil, nil
	}
	sel := shrub.Node{Kind: shrub.KindSelector, Span: nameTok.Span, Name: nameTok.Text}
	if p.at(token.Dot) {
		save := p.pos
		p.advance() // .
		_, ok := p.expect(token.KwWhere)
		if !ok {
			p.pos = save
			return &sel, nil
		}
		if !p.at(token.LParen) {
			p.pos = save
			return &sel, nil
		}
		g, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if len(g.Children) > 0 {
			pred := g.Children[0]
			sel.Predicate = &pred
		}
		sel.Span = sel.Span.Merge(g.Span)
	}
	return &sel, nil
}

// parseUntil parses a flat run of items up to (not including) stop.
func (p *parser) parseUntil(stop token.Tag) (shrub.Node, error) {
	start := p.cur().Span
	var items []shrub.Node
	for !p.at(stop) && !p.at(token.Newline) && !p.at(token.EOF) {
		if _, isClose := closeTagSet[p.cur().Tag]; isClose {
			break
		}
		it, err := p.parseItem()
		if err != nil {
			return shrub.Node{}, err
		}
		items = append(items, it)
	}
	sp := start
	for _, it := range items {
		sp = sp.Merge(it.Span)
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return shrub.Group(shrub.KindSequence, items, sp), nil
}

// parseBlockBody parses either a bracketed block `[ ... ]` or an
// indentation-free single-line body up to the next newline, matching
// spec §4.3's "BODY" production for staged/def/if/for/live/quote.
func (p *parser) parseBlockBody() ([]shrub.Node, error) {
	p.skipNewlines()
	if p.at(token.LBracket) {
		p.advance() // [
		forms, err := p.parseSequence(&closeBracket)
		if err != nil {
			return nil, err
		}
		p.advance() // ]
		return forms, nil
	}
	form, err := p.parseFlatRun()
	if err != nil {
		return nil, err
	}
	return []shrub.Node{form}, nil
}

var closeBracket = token.RBracket

func lastSpan(nodes []shrub.Node, fallback span.Span) span.Span {
	if len(nodes) == 0 {
		return fallback
	}
	return nodes[len(nodes)-1].Span
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
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func (p *parser) splitKeyValue(nodes []shrub.Node) (string, shrub.Node, bool) {
	for i, n := range nodes {
		if n.Kind == shrub.KindLiteral && n.Literal.Tag == token.Colon {
			if i == 0 || i == len(nodes)-1 {
				return "", shrub.Node{}, false
			}
			key := nodes[i-1]
			var keyName string
			switch key.Kind {
			case shrub.KindIdentifier:
				keyName = p.interner.Name(key.Symbol)
			case shrub.KindLiteral:
				keyName = key.Literal.Text
			}
			value := nodes[i+1]
			if len(nodes) > i+2 {
				value = shrub.Group(shrub.KindSequence, nodes[i+1:], nodes[i+1].Span.Merge(nodes[len(nodes)-1].Span))
			}
			return keyName, value, true
		}
	}
	return "", shrub.Node{}, false
}
