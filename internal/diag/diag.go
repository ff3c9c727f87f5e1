// Package diag defines the structured diagnostic type shared across the
// lexer, parser, type checker, expander, and pipeline queries (spec §4.13).
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/femtomc/monowiki-sub001/internal/span"
)

// Severity classifies how a diagnostic should be surfaced to a user.
type Severity int

const (
	Error Severity = iota
	Warning
	Info
	Hint
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Info:
		return "info"
	case Hint:
		return "hint"
	default:
		return "unknown"
	}
}

// Code is a machine-readable diagnostic identifier, mirroring the taxonomy
// in spec §7 across every front-end stage.
type Code string

const (
	CodeLexError               Code = "LexError"
	CodeParseError             Code = "ParseError"
	CodeTypeError              Code = "TypeError"
	CodeHygieneError           Code = "HygieneError"
	CodeExpandError            Code = "ExpandError"
	CodeStageLevelError        Code = "StageLevelError"
	CodeCycleError             Code = "CycleError"
	CodeCapabilityError        Code = "CapabilityError"
	CodeInvalidContentNesting  Code = "InvalidContentNesting"
)

// Diagnostic is a structured, machine-readable error or advisory, always
// tied to a source span so a UI can point at the offending text.
type Diagnostic struct {
	Code     Code
	Message  string
	Severity Severity
	Span     span.Span

	// Source, when non-empty, is the full document text the Span indexes
	// into; Context renders a line/column + caret snippet from it.
	Source string
}

// NewError builds an Error-severity diagnostic.
func NewError(code Code, span span.Span, message string) Diagnostic {
	return Diagnostic{Code: code, Message: message, Severity: Error, Span: span}
}

// WithSource attaches the originating document text so Context can render
// a source snippet.
func (d Diagnostic) WithSource(source string) Diagnostic {
	d.Source = source
	return d
}

// LineCol returns the 1-based line/column of the diagnostic's span start.
func (d Diagnostic) LineCol() span.LineCol {
	if d.Source == "" {
		return span.LineCol{Line: 1, Col: 1}
	}
	return span.Locate([]byte(d.Source), d.Span.Start)
}

// Context renders a "line N, column M" header followed by the offending
// source line and a caret underline, mirroring the original MRL crate's
// ErrorContext display.
func (d Diagnostic) Context() string {
	if d.Source == "" {
		return ""
	}
	lc := d.LineCol()

	lineStart := strings.LastIndexByte(d.Source[:d.Span.Start], '\n') + 1
	rel := d.Source[d.Span.Start:]
	lineEnd := d.Span.Start + len(rel)
	if idx := strings.IndexByte(rel, '\n'); idx >= 0 {
		lineEnd = d.Span.Start + idx
	}
	sourceLine := d.Source[lineStart:lineEnd]

	colStart := lc.Col - 1
	if colStart > len(sourceLine) {
		colStart = len(sourceLine)
	}
	width := d.Span.Len()
	if width < 1 {
		width = 1
	}
	if colStart+width > len(sourceLine) {
		width = len(sourceLine) - colStart
		if width < 1 {
			width = 1
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "line %d, column %d:\n", lc.Line, lc.Col)
	fmt.Fprintf(&b, "  %s\n", sourceLine)
	fmt.Fprintf(&b, "  %s%s\n", strings.Repeat(" ", colStart), strings.Repeat("^", width))
	return b.String()
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s [%s] at %s: %s", d.Severity, d.Code, d.Span, d.Message)
}

// Error implements the error interface so a Diagnostic can be returned or
// wrapped wherever Go code expects one.
func (d Diagnostic) Error() string { return d.String() }

// Collector accumulates diagnostics across a pipeline run and exposes the
// union view described in spec §4.13 ("the latter is the union over
// currently valid query results").
type Collector struct {
	byDoc map[string][]Diagnostic
}

// NewCollector creates an empty diagnostic collector.
func NewCollector() *Collector {
	return &Collector{byDoc: make(map[string][]Diagnostic)}
}

// Set replaces the diagnostic list for a document, discarding any diagnostics
// previously recorded for it — spec §7: "stale diagnostics are never retained."
func (c *Collector) Set(docID string, diags []Diagnostic) {
	if len(diags) == 0 {
		delete(c.byDoc, docID)
		return
	}
	c.byDoc[docID] = diags
}

// For returns the currently recorded diagnostics for a document.
func (c *Collector) For(docID string) []Diagnostic {
	return c.byDoc[docID]
}

// All returns every currently valid diagnostic across all documents, grouped
// deterministically by document ID then by span.
func (c *Collector) All() []Diagnostic {
	docIDs := make([]string, 0, len(c.byDoc))
	for id := range c.byDoc {
		docIDs = append(docIDs, id)
	}
	sort.Strings(docIDs)

	var out []Diagnostic
	for _, id := range docIDs {
		diags := append([]Diagnostic(nil), c.byDoc[id]...)
		sort.SliceStable(diags, func(i, j int) bool {
			return diags[i].Span.Start < diags[j].Span.Start
		})
		out = append(out, diags...)
	}
	return out
}

// ByDocSeverity filters All() to diagnostics at least as severe as min
// (lower Severity value is more severe).
func ByDocSeverity(diags []Diagnostic, min Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity <= min {
			out = append(out, d)
		}
	}
	return out
}
