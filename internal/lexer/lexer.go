// Package lexer implements the L component (spec §4.1): a deterministic,
// O(n) tokenizer from source bytes to spanned tokens.
package lexer

import (
	"fmt"
	"strconv"

	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

// Error reports the first unrecognized byte the lexer encountered, with
// its span. The lexer never continues past the first error.
type Error struct {
	Span span.Span
	Byte byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("lex: unrecognized byte %q at %s", e.Byte, e.Span)
}

// Tokenize scans source into a slice of spanned tokens terminated by EOF,
// or returns the first LexError encountered.
func Tokenize(source []byte) ([]token.Spanned, error) {
	l := &lexer{src: source}
	var out []token.Spanned
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Tag == token.EOF {
			return out, nil
		}
	}
}

type lexer struct {
	src []byte
	pos int
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' }

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentCont(b byte) bool {
	return isIdentStart(b) || isDigit(b) || b == '-'
}

func (l *lexer) next() (token.Spanned, error) {
	for isSpace(l.peek()) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token.Spanned{Token: token.Token{Tag: token.EOF}, Span: span.New(start, start)}, nil
	}

	b := l.peek()
	switch {
	case b == '\n':
		l.pos++
		return l.spanned(token.Token{Tag: token.Newline}, start), nil
	case b == '"':
		return l.lexString(start)
	case b == '\'':
		return l.lexSymbol(start)
	case isDigit(b) || (b == '-' && isDigit(l.peekAt(1))):
		return l.lexNumber(start)
	case isIdentStart(b):
		return l.lexIdent(start)
	default:
		if tag, ok := l.lexOperator(); ok {
			return l.spanned(token.Token{Tag: tag}, start), nil
		}
	}
	return token.Spanned{}, &Error{Span: span.New(start, start+1), Byte: b}
}

func (l *lexer) spanned(t token.Token, start int) token.Spanned {
	return token.Spanned{Token: t, Span: span.New(start, l.pos)}
}

func (l *lexer) lexIdent(start int) (token.Spanned, error) {
	for isIdentCont(l.peek()) {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if tag, ok := token.LookupKeyword(text); ok {
		return l.spanned(token.Token{Tag: tag, Text: text}, start), nil
	}
	return l.spanned(token.Token{Tag: token.Ident, Text: text}, start), nil
}

func (l *lexer) lexNumber(start int) (token.Spanned, error) {
	if l.peek() == '-' {
		l.pos++
	}
	for isDigit(l.peek()) {
		l.pos++
	}
	isFloat := false
	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.pos++
		for isDigit(l.peek()) {
			l.pos++
		}
	}
	text := string(l.src[start:l.pos])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return token.Spanned{}, &Error{Span: span.New(start, l.pos), Byte: l.src[start]}
		}
		return l.spanned(token.Token{Tag: token.Float, Text: text, Float: f}, start), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return token.Spanned{}, &Error{Span: span.New(start, l.pos), Byte: l.src[start]}
	}
	return l.spanned(token.Token{Tag: token.Int, Text: text, Int: n}, start), nil
}

func (l *lexer) lexString(start int) (token.Spanned, error) {
	l.pos++ // opening quote
	var buf []byte
	for {
		if l.pos >= len(l.src) {
			return token.Spanned{}, &Error{Span: span.New(start, l.pos), Byte: '"'}
		}
		b := l.src[l.pos]
		if b == '"' {
			l.pos++
			break
		}
		if b == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			buf = append(buf, unescape(l.src[l.pos]))
			l.pos++
			continue
		}
		buf = append(buf, b)
		l.pos++
	}
	return l.spanned(token.Token{Tag: token.String, Text: string(buf)}, start), nil
}

func unescape(b byte) byte {
	switch b {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return b
	}
}

func (l *lexer) lexSymbol(start int) (token.Spanned, error) {
	l.pos++ // leading quote
	identStart := l.pos
	if !isIdentStart(l.peek()) {
		return token.Spanned{}, &Error{Span: span.New(start, l.pos), Byte: l.peek()}
	}
	for isIdentCont(l.peek()) {
		l.pos++
	}
	return l.spanned(token.Token{Tag: token.Symbol, Text: string(l.src[identStart:l.pos])}, start), nil
}

// lexOperator matches the longest operator/delimiter/punctuation token at
// the current position, advancing pos past it.
func (l *lexer) lexOperator() (token.Tag, bool) {
	two := func(a, b byte) bool { return l.peek() == a && l.peekAt(1) == b }
	switch {
	case two('=', '='):
		l.pos += 2
		return token.OpEq, true
	case two('!', '='):
		l.pos += 2
		return token.OpNotEq, true
	case two('<', '='):
		l.pos += 2
		return token.OpLessEq, true
	case two('>', '='):
		l.pos += 2
		return token.OpGreaterEq, true
	case two('&', '&'):
		l.pos += 2
		return token.OpAnd, true
	case two('|', '|'):
		l.pos += 2
		return token.OpOr, true
	}
	b := l.peek()
	single := map[byte]token.Tag{
		'+': token.OpPlus, '-': token.OpMinus, '*': token.OpStar,
		'/': token.OpSlash, '%': token.OpPercent, '<': token.OpLess,
		'>': token.OpGreater, '!': token.OpNot, '=': token.OpAssign,
		'(': token.LParen, ')': token.RParen,
		'[': token.LBracket, ']': token.RBracket,
		'{': token.LBrace, '}': token.RBrace,
		',': token.Comma, ':': token.Colon, '.': token.Dot, '$': token.Dollar,
	}
	if tag, ok := single[b]; ok {
		l.pos++
		return tag, true
	}
	return 0, false
}
