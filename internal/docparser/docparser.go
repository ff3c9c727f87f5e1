// Package docparser implements the document parser (spec §4.2):
// splitting a document's raw bytes into interleaved prose and code
// segments, parsing each code element's bytes into a shrubbery via the
// lexer and parser. Dispatch on the leading `!` sigil mirrors the
// teacher's prefix-detection style for DSL term recognition
// (internal/parser/universal.go's strings.HasPrefix dispatch), adapted
// to a byte-level scanner since here the "prefix" decides prose vs.
// code rather than a DSL keyword family.
package docparser

import (
	"fmt"

	"github.com/femtomc/monowiki-sub001/internal/lexer"
	"github.com/femtomc/monowiki-sub001/internal/parser"
	"github.com/femtomc/monowiki-sub001/internal/shrub"
	"github.com/femtomc/monowiki-sub001/internal/span"
)

// Kind distinguishes a prose run from a code element.
type Kind int

const (
	KindProse Kind = iota
	KindCode
)

// Segment is one interleaved unit of a document.
type Segment struct {
	Kind Kind
	Span span.Span

	// KindProse
	Text string

	// KindCode
	Shrubbery shrub.Node
}

// Error reports a document-level parse failure: an unbalanced code
// element or a lex/parse error surfaced from a code element's contents.
type Error struct {
	Span    span.Span
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("docparser: %s at %s: %v", e.Message, e.Span, e.Cause)
	}
	return fmt.Sprintf("docparser: %s at %s", e.Message, e.Span)
}

func (e *Error) Unwrap() error { return e.Cause }

// ParseDocument splits source into Prose and Code segments per spec
// §4.2's transition rules and parses each code element's bytes with the
// lexer and parser, sharing interner across the whole document so
// identifiers introduced in one code element can be resolved from
// another's hygiene environment.
func ParseDocument(source []byte, interner parser.Interner) ([]Segment, error) {
	d := &docScanner{src: source, interner: interner}
	return d.run()
}

type docScanner struct {
	src      []byte
	pos      int
	interner parser.Interner
}

func (d *docScanner) run() ([]Segment, error) {
	var segments []Segment
	proseStart := 0
	var prose []byte

	flushProse := func(end int) {
		if len(prose) > 0 {
			segments = append(segments, Segment{
				Kind: KindProse,
				Span: span.New(proseStart, end),
				Text: string(prose),
			})
			prose = nil
		}
	}

	for d.pos < len(d.src) {
		c := d.src[d.pos]
		if c != '!' {
			if len(prose) == 0 {
				proseStart = d.pos
			}
			prose = append(prose, c)
			d.pos++
			continue
		}

		next := byte(0)
		if d.pos+1 < len(d.src) {
			next = d.src[d.pos+1]
		}

		switch {
		case next == '!':
			// `!!` -> literal `!` in prose.
			if len(prose) == 0 {
				proseStart = d.pos
			}
			prose = append(prose, '!')
			d.pos += 2
		case next == '[':
			// `![` reserved for prose-level image syntax; not a code start.
			if len(prose) == 0 {
				proseStart = d.pos
			}
			prose = append(prose, '!')
			d.pos++
		case isIdentStart(next) || next == '(':
			flushProse(d.pos)
			seg, err := d.scanCodeElement()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		default:
			// Bare `!` with nothing code-like following: literal prose char.
			if len(prose) == 0 {
				proseStart = d.pos
			}
			prose = append(prose, '!')
			d.pos++
		}
	}
	flushProse(d.pos)
	return segments, nil
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// scanCodeElement consumes a code element starting at the `!` sigil,
// tracking bracket depth and string-literal state, then tokenizes and
// parses the element's bytes (excluding the leading `!`).
func (d *docScanner) scanCodeElement() (Segment, error) {
	start := d.pos
	d.pos++ // consume '!'
	codeStart := d.pos

	depth := 0
	inString := false
	escaped := false

scan:
	for d.pos < len(d.src) {
		c := d.src[d.pos]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			d.pos++
			continue
		}

		switch c {
		case '"':
			inString = true
			d.pos++
		case '(', '[', '{':
			depth++
			d.pos++
		case ')', ']', '}':
			if depth == 0 {
				// Top-level unbalanced closer: element ends before it.
				break scan
			}
			depth--
			d.pos++
			if depth == 0 {
				// Brackets just closed; element ends here unless more
				// non-whitespace immediately follows (continuing the
				// same element, e.g. chained calls/indexing).
				if d.pos >= len(d.src) || isWhitespace(d.src[d.pos]) {
					break scan
				}
			}
		default:
			if depth == 0 && isWhitespace(c) {
				break scan
			}
			d.pos++
		}
	}

	codeBytes := d.src[codeStart:d.pos]
	toks, err := lexer.Tokenize(codeBytes)
	if err != nil {
		return Segment{}, &Error{Span: span.New(start, d.pos), Message: "code element failed to lex", Cause: err}
	}
	tree, err := parser.Parse(toks, d.interner)
	if err != nil {
		return Segment{}, &Error{Span: span.New(start, d.pos), Message: "code element failed to parse", Cause: err}
	}
	return Segment{Kind: KindCode, Span: span.New(start, d.pos), Shrubbery: tree}, nil
}

func isWhitespace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
