// Package token defines the closed tagged token set produced by the lexer
// (spec §3, §4.1). Token identity is tag + payload; spans are metadata
// carried alongside, never part of equality.
package token

import "github.com/femtomc/monowiki-sub001/internal/span"

// Tag identifies a token's lexical category.
type Tag int

const (
	// Keywords
	KwDef Tag = iota
	KwStaged
	KwShow
	KwSet
	KwLive
	KwQuote
	KwSplice
	KwIf
	KwElse
	KwFor
	KwIn
	KwWhere
	KwTrue
	KwFalse
	KwNone

	// Identifiers and literals
	Ident
	Int
	Float
	String
	Symbol
	Bool
	Unit

	// Operators
	OpPlus
	OpMinus
	OpStar
	OpSlash
	OpPercent
	OpEq
	OpNotEq
	OpLess
	OpLessEq
	OpGreater
	OpGreaterEq
	OpAnd
	OpOr
	OpNot
	OpAssign

	// Delimiters
	LParen
	RParen
	LBracket
	RBracket
	LBrace
	RBrace

	// Punctuation
	Comma
	Colon
	Dot
	Dollar

	Newline
	EOF
)

var keywords = map[string]Tag{
	"def":    KwDef,
	"staged": KwStaged,
	"show":   KwShow,
	"set":    KwSet,
	"live":   KwLive,
	"quote":  KwQuote,
	"splice": KwSplice,
	"if":     KwIf,
	"else":   KwElse,
	"for":    KwFor,
	"in":     KwIn,
	"where":  KwWhere,
	"true":   KwTrue,
	"false":  KwFalse,
	"none":   KwNone,
}

// LookupKeyword returns the keyword tag for name, if any.
func LookupKeyword(name string) (Tag, bool) {
	t, ok := keywords[name]
	return t, ok
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

var tagNames = map[Tag]string{
	KwDef: "def", KwStaged: "staged", KwShow: "show", KwSet: "set",
	KwLive: "live", KwQuote: "quote", KwSplice: "splice", KwIf: "if",
	KwElse: "else", KwFor: "for", KwIn: "in", KwWhere: "where",
	KwTrue: "true", KwFalse: "false", KwNone: "none",
	Ident: "identifier", Int: "int", Float: "float", String: "string",
	Symbol: "symbol", Bool: "bool", Unit: "unit",
	OpPlus: "+", OpMinus: "-", OpStar: "*", OpSlash: "/", OpPercent: "%",
	OpEq: "==", OpNotEq: "!=", OpLess: "<", OpLessEq: "<=",
	OpGreater: ">", OpGreaterEq: ">=", OpAnd: "and", OpOr: "or", OpNot: "not",
	OpAssign: "=",
	LParen:   "(", RParen: ")", LBracket: "[", RBracket: "]",
	LBrace: "{", RBrace: "}",
	Comma: ",", Colon: ":", Dot: ".", Dollar: "$",
	Newline: "\\n", EOF: "EOF",
}

// Token is a tag plus its literal payload. Two tokens are equal iff their
// tag and payload match; Span is metadata carried by Spanned, not by
// Token, so == on two Tokens compares tag and payload only.
type Token struct {
	Tag   Tag
	Text  string  // raw lexeme, or string literal's decoded value
	Int   int64   // populated when Tag == Int
	Float float64 // populated when Tag == Float
}

// Spanned pairs a Token with its source Span.
type Spanned struct {
	Token
	Span span.Span
}
