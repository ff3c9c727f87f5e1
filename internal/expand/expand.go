// Package expand implements the Exp component (spec §4.7): expand-time
// evaluation of the enforested typed AST into content, values, and
// quoted code. As with internal/evaluator/universal.go's dependency
// injection of a LanguageProvider, the expander takes its identifier
// resolution dependency (the shared Interner) injected at construction
// and contains no document-specific special-casing beyond the node
// kinds the enforester itself produces.
package expand

import (
	"fmt"
	"strconv"

	"github.com/femtomc/monowiki-sub001/internal/enforest"
	"github.com/femtomc/monowiki-sub001/internal/hygiene"
	"github.com/femtomc/monowiki-sub001/internal/parser"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
	"github.com/femtomc/monowiki-sub001/internal/typecheck"
)

// Code identifies the class of an expansion failure.
type Code int

const (
	CodeUnboundIdentifier Code = iota
	CodeNotCallable
	CodeArityMismatch
	CodeNotNumeric
	CodeNotBoolean
	CodeNotIndexable
	CodeStageLevelError
	CodeNotContent
	CodeDivideByZero
)

// Error reports an expansion failure. The expander never silently
// drops content: every failure to produce a value surfaces here with
// the offending span.
type Error struct {
	Span    span.Span
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("expand: %s at %s", e.Message, e.Span)
}

// ContentNodeKind tags a Content tree node's shape.
type ContentNodeKind int

const (
	ContentBlock ContentNodeKind = iota
	ContentInline
	ContentSequence
	ContentEmpty
)

// Content is the rendered document tree (spec §3): a tree over
// {Block, Inline, Sequence(children), Empty} with a kind tag.
type Content struct {
	Kind       ContentNodeKind
	Text       string
	Children   []Content
	Attributes map[string]string
}

// Kind tags an expand-time Value's concrete variant. ExpandValue
// ranges over content, numbers, strings, symbols, functions, and code
// values per spec §4.7.
type Kind int

const (
	KindUnit Kind = iota
	KindNumber
	KindString
	KindSymbol
	KindBool
	KindContent
	KindFunction
	KindCode
	KindArray
	KindRecord
	KindLiveOpaque
)

// Value is the runtime result of expanding a node.
type Value struct {
	Kind Kind

	Number  float64
	Str     string
	Sym     hygiene.Symbol
	Bool    bool
	Content *Content
	Fn      *Function
	Code    *CodeValue
	Elements []Value
	Fields  map[string]Value
}

// Function is a def-bound closure: parameters plus body, evaluated at
// call time in a child of the environment captured at definition.
type Function struct {
	Name    string
	Params  []hygiene.Symbol
	Body    []enforest.Node
	Closure *Env
}

// CodeValue is a quoted AST fragment (Code<K>): the body forms that
// remain unevaluated until spliced, plus the content kind the quote's
// body was classified as when quoted.
type CodeValue struct {
	Body []enforest.Node
	Kind typecheck.ContentKind
}

// Env is a lexically-scoped binding environment for expand-time
// values, mirroring internal/typecheck.Env's shape but over runtime
// Values rather than static Types.
type Env struct {
	parent *Env
	vars   map[string]Value
}

func NewEnv(parent *Env) *Env {
	return &Env{parent: parent, vars: map[string]Value{}}
}

func (e *Env) Define(name string, v Value) { e.vars[name] = v }

func (e *Env) Lookup(name string) (Value, bool) {
	for env := e; env != nil; env = env.parent {
		if v, ok := env.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Expander evaluates enforested nodes to Values. It holds no mutable
// state of its own beyond the interner needed to recover identifiers'
// surface names from their hygiene.Symbol, the same hand-off the
// parser and typecheck packages use.
type Expander struct {
	interner parser.Interner
}

func New(interner parser.Interner) *Expander {
	return &Expander{interner: interner}
}

// Expand evaluates n to a Value under env, call-by-value.
func (ex *Expander) Expand(n enforest.Node, env *Env) (Value, error) {
	switch n.Kind {
	case enforest.KindEmpty:
		return Value{Kind: KindUnit}, nil

	case enforest.KindLiteral:
		return ex.expandLiteral(n)

	case enforest.KindIdent:
		name := ex.interner.Name(n.Symbol)
		v, ok := env.Lookup(name)
		if !ok {
			return Value{}, &Error{Span: n.Span, Code: CodeUnboundIdentifier, Message: fmt.Sprintf("unbound identifier %q", name)}
		}
		return v, nil

	case enforest.KindBinary:
		return ex.expandBinary(n, env)

	case enforest.KindUnary:
		return ex.expandUnary(n, env)

	case enforest.KindCall:
		return ex.expandCall(n, env)

	case enforest.KindIndex:
		return ex.expandIndex(n, env)

	case enforest.KindTuple, enforest.KindList:
		elems := make([]Value, len(n.Elements))
		for i, el := range n.Elements {
			v, err := ex.Expand(el, env)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Value{Kind: KindArray, Elements: elems}, nil

	case enforest.KindRecord:
		fields := map[string]Value{}
		for k, expr := range n.Properties {
			v, err := ex.Expand(expr, env)
			if err != nil {
				return Value{}, err
			}
			fields[k] = v
		}
		return Value{Kind: KindRecord, Fields: fields}, nil

	case enforest.KindDefBlock:
		params := make([]hygiene.Symbol, 0, len(n.DefParams))
		for _, p := range n.DefParams {
			if p.Kind == enforest.KindIdent {
				params = append(params, p.Symbol)
			}
		}
		fn := &Function{Name: n.DefName, Params: params, Body: n.DefBody, Closure: env}
		env.Define(n.DefName, Value{Kind: KindFunction, Fn: fn})
		return Value{Kind: KindUnit}, nil

	case enforest.KindSetRule:
		for _, expr := range n.Properties {
			if _, err := ex.Expand(expr, env); err != nil {
				return Value{}, err
			}
		}
		return Value{Kind: KindUnit}, nil

	case enforest.KindShowRule:
		child := NewEnv(env)
		if _, err := ex.expandBody(n.Rule, child); err != nil {
			return Value{}, err
		}
		return Value{Kind: KindUnit}, nil

	case enforest.KindStagedBlock:
		child := NewEnv(env)
		return ex.expandBody(n.Body, child)

	case enforest.KindLiveBlock:
		for _, d := range n.Deps {
			if _, err := ex.Expand(d, env); err != nil {
				return Value{}, err
			}
		}
		return Value{Kind: KindLiveOpaque}, nil

	case enforest.KindQuote:
		body, kind, err := ex.quoteBody(n.Body, env)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindCode, Code: &CodeValue{Body: body, Kind: kind}}, nil

	case enforest.KindSplice:
		return Value{}, &Error{Span: n.Span, Code: CodeStageLevelError, Message: "splice used outside a quote"}

	case enforest.KindIf:
		cond, err := ex.Expand(*n.Cond, env)
		if err != nil {
			return Value{}, err
		}
		if cond.Kind != KindBool {
			return Value{}, &Error{Span: n.Span, Code: CodeNotBoolean, Message: "if condition must be Bool"}
		}
		branch := n.Then
		if !cond.Bool {
			branch = n.Else
		}
		return ex.expandBody(branch, NewEnv(env))

	case enforest.KindFor:
		seq, err := ex.Expand(*n.Seq, env)
		if err != nil {
			return Value{}, err
		}
		if seq.Kind != KindArray {
			return Value{}, &Error{Span: n.Span, Code: CodeNotIndexable, Message: "for requires an array to iterate"}
		}
		var children []Content
		binderName := ex.interner.Name(n.Binder)
		for _, item := range seq.Elements {
			iterEnv := NewEnv(env)
			iterEnv.Define(binderName, item)
			v, err := ex.expandBody(n.Body, iterEnv)
			if err != nil {
				return Value{}, err
			}
			if v.Kind == KindUnit {
				continue
			}
			c, err := ToContent(v, ex.interner)
			if err != nil {
				return Value{}, err
			}
			children = append(children, c)
		}
		return Value{Kind: KindContent, Content: &Content{Kind: ContentSequence, Children: children}}, nil

	case enforest.KindSelector:
		return Value{Kind: KindUnit}, nil

	default:
		return Value{}, &Error{Span: n.Span, Code: CodeNotContent, Message: "unrecognized node kind"}
	}
}

func (ex *Expander) expandLiteral(n enforest.Node) (Value, error) {
	switch n.Literal.Tag {
	case token.Int:
		return Value{Kind: KindNumber, Number: float64(n.Literal.Int)}, nil
	case token.Float:
		return Value{Kind: KindNumber, Number: n.Literal.Float}, nil
	case token.String:
		return Value{Kind: KindString, Str: n.Literal.Text}, nil
	case token.Symbol:
		return Value{Kind: KindSymbol, Str: n.Literal.Text}, nil
	case token.KwTrue:
		return Value{Kind: KindBool, Bool: true}, nil
	case token.KwFalse:
		return Value{Kind: KindBool, Bool: false}, nil
	case token.KwNone:
		return Value{Kind: KindUnit}, nil
	default:
		return Value{}, &Error{Span: n.Span, Code: CodeNotContent, Message: "unrecognized literal"}
	}
}

func (ex *Expander) expandBinary(n enforest.Node, env *Env) (Value, error) {
	left, err := ex.Expand(*n.Left, env)
	if err != nil {
		return Value{}, err
	}
	right, err := ex.Expand(*n.Right, env)
	if err != nil {
		return Value{}, err
	}
	switch n.Op {
	case "+":
		if left.Kind == KindString && right.Kind == KindString {
			return Value{Kind: KindString, Str: left.Str + right.Str}, nil
		}
		return numericBinary(n, left, right, func(a, b float64) (float64, error) { return a + b, nil })
	case "-":
		return numericBinary(n, left, right, func(a, b float64) (float64, error) { return a - b, nil })
	case "*":
		return numericBinary(n, left, right, func(a, b float64) (float64, error) { return a * b, nil })
	case "/":
		return numericBinary(n, left, right, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, &Error{Span: n.Span, Code: CodeDivideByZero, Message: "division by zero"}
			}
			return a / b, nil
		})
	case "%":
		return numericBinary(n, left, right, func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, &Error{Span: n.Span, Code: CodeDivideByZero, Message: "modulo by zero"}
			}
			ai, bi := int64(a), int64(b)
			return float64(ai % bi), nil
		})
	case "==":
		return Value{Kind: KindBool, Bool: valuesEqual(left, right)}, nil
	case "!=":
		return Value{Kind: KindBool, Bool: !valuesEqual(left, right)}, nil
	case "<", "<=", ">", ">=":
		return compareNumeric(n, left, right)
	case "and":
		if left.Kind != KindBool || right.Kind != KindBool {
			return Value{}, &Error{Span: n.Span, Code: CodeNotBoolean, Message: "and requires Bool operands"}
		}
		return Value{Kind: KindBool, Bool: left.Bool && right.Bool}, nil
	case "or":
		if left.Kind != KindBool || right.Kind != KindBool {
			return Value{}, &Error{Span: n.Span, Code: CodeNotBoolean, Message: "or requires Bool operands"}
		}
		return Value{Kind: KindBool, Bool: left.Bool || right.Bool}, nil
	default:
		return Value{}, &Error{Span: n.Span, Code: CodeNotContent, Message: fmt.Sprintf("unrecognized operator %q", n.Op)}
	}
}

func numericBinary(n enforest.Node, left, right Value, op func(a, b float64) (float64, error)) (Value, error) {
	if left.Kind != KindNumber || right.Kind != KindNumber {
		return Value{}, &Error{Span: n.Span, Code: CodeNotNumeric, Message: fmt.Sprintf("operator %q requires numeric operands", n.Op)}
	}
	v, err := op(left.Number, right.Number)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindNumber, Number: v}, nil
}

func compareNumeric(n enforest.Node, left, right Value) (Value, error) {
	if left.Kind != KindNumber || right.Kind != KindNumber {
		return Value{}, &Error{Span: n.Span, Code: CodeNotNumeric, Message: fmt.Sprintf("operator %q requires numeric operands", n.Op)}
	}
	var result bool
	switch n.Op {
	case "<":
		result = left.Number < right.Number
	case "<=":
		result = left.Number <= right.Number
	case ">":
		result = left.Number > right.Number
	case ">=":
		result = left.Number >= right.Number
	}
	return Value{Kind: KindBool, Bool: result}, nil
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNumber:
		return a.Number == b.Number
	case KindString, KindSymbol:
		return a.Str == b.Str
	case KindBool:
		return a.Bool == b.Bool
	case KindUnit:
		return true
	default:
		return false
	}
}

func (ex *Expander) expandUnary(n enforest.Node, env *Env) (Value, error) {
	operand, err := ex.Expand(*n.Operand, env)
	if err != nil {
		return Value{}, err
	}
	switch n.UnaryOp {
	case "-":
		if operand.Kind != KindNumber {
			return Value{}, &Error{Span: n.Span, Code: CodeNotNumeric, Message: "unary - requires a numeric operand"}
		}
		return Value{Kind: KindNumber, Number: -operand.Number}, nil
	case "not":
		if operand.Kind != KindBool {
			return Value{}, &Error{Span: n.Span, Code: CodeNotBoolean, Message: "unary not requires a Bool operand"}
		}
		return Value{Kind: KindBool, Bool: !operand.Bool}, nil
	default:
		return Value{}, &Error{Span: n.Span, Code: CodeNotContent, Message: fmt.Sprintf("unrecognized unary operator %q", n.UnaryOp)}
	}
}

func (ex *Expander) expandCall(n enforest.Node, env *Env) (Value, error) {
	callee, err := ex.Expand(*n.Callee, env)
	if err != nil {
		return Value{}, err
	}
	if callee.Kind != KindFunction {
		return Value{}, &Error{Span: n.Span, Code: CodeNotCallable, Message: "cannot call a non-function value"}
	}
	if len(n.Args) != len(callee.Fn.Params) {
		return Value{}, &Error{Span: n.Span, Code: CodeArityMismatch, Message: fmt.Sprintf("expected %d arguments, got %d", len(callee.Fn.Params), len(n.Args))}
	}
	callEnv := NewEnv(callee.Fn.Closure)
	for i, a := range n.Args {
		argVal, err := ex.Expand(a, env)
		if err != nil {
			return Value{}, err
		}
		callEnv.Define(ex.interner.Name(callee.Fn.Params[i]), argVal)
	}
	var result Value = Value{Kind: KindUnit}
	for _, form := range callee.Fn.Body {
		v, err := ex.Expand(form, callEnv)
		if err != nil {
			return Value{}, err
		}
		result = v
	}
	return result, nil
}

func (ex *Expander) expandIndex(n enforest.Node, env *Env) (Value, error) {
	value, err := ex.Expand(*n.Value, env)
	if err != nil {
		return Value{}, err
	}
	idx, err := ex.Expand(*n.Index, env)
	if err != nil {
		return Value{}, err
	}
	if value.Kind != KindArray {
		return Value{}, &Error{Span: n.Span, Code: CodeNotIndexable, Message: "cannot index a non-array value"}
	}
	if idx.Kind != KindNumber {
		return Value{}, &Error{Span: n.Span, Code: CodeNotNumeric, Message: "index must be a number"}
	}
	i := int(idx.Number)
	if i < 0 || i >= len(value.Elements) {
		return Value{}, &Error{Span: n.Span, Code: CodeNotIndexable, Message: fmt.Sprintf("index %d out of range (len %d)", i, len(value.Elements))}
	}
	return value.Elements[i], nil
}

// expandBody evaluates a sequence of forms and folds their content
// into one Value: declarations (def/set/show) register their effect
// and contribute no visible content; every other form's value is
// converted to Content and appended to the sequence.
func (ex *Expander) expandBody(forms []enforest.Node, env *Env) (Value, error) {
	var children []Content
	for _, f := range forms {
		v, err := ex.Expand(f, env)
		if err != nil {
			return Value{}, err
		}
		if v.Kind == KindUnit {
			continue
		}
		c, err := ToContent(v, ex.interner)
		if err != nil {
			return Value{}, err
		}
		children = append(children, c)
	}
	switch len(children) {
	case 0:
		return Value{Kind: KindContent, Content: &Content{Kind: ContentEmpty}}, nil
	case 1:
		return Value{Kind: KindContent, Content: &children[0]}, nil
	default:
		return Value{Kind: KindContent, Content: &Content{Kind: ContentSequence, Children: children}}, nil
	}
}

// quoteBody builds the quoted AST for a Quote's body: Splice children
// are evaluated immediately (spec §4.7: "$expr ... splices its AST
// into the surrounding AST") and their Code's body forms are inlined
// in place; every other child is kept unevaluated, carrying the quote
// into Exp's suspended Code<K> value. The resulting content kind is
// folded the same way internal/typecheck classifies quote bodies
// (structural declarations are Block, everything else Inline), kept
// as a parallel, intentionally independent implementation since Exp
// and TyC are separate pipeline stages over the same AST.
func (ex *Expander) quoteBody(forms []enforest.Node, env *Env) ([]enforest.Node, typecheck.ContentKind, error) {
	var out []enforest.Node
	haveKind := false
	kind := typecheck.Inline
	fold := func(k typecheck.ContentKind) {
		if !haveKind {
			kind = k
			haveKind = true
			return
		}
		if kind != k {
			kind = typecheck.Content
		}
	}
	for _, f := range forms {
		if f.Kind == enforest.KindSplice {
			v, err := ex.Expand(*f.Expr, env)
			if err != nil {
				return nil, 0, err
			}
			if v.Kind != KindCode {
				return nil, 0, &Error{Span: f.Span, Code: CodeStageLevelError, Message: "spliced value must be Code<K>"}
			}
			out = append(out, v.Code.Body...)
			fold(v.Code.Kind)
			continue
		}
		out = append(out, f)
		fold(classifyQuoted(f))
	}
	return out, kind, nil
}

func classifyQuoted(n enforest.Node) typecheck.ContentKind {
	switch n.Kind {
	case enforest.KindShowRule, enforest.KindSetRule, enforest.KindDefBlock,
		enforest.KindStagedBlock, enforest.KindLiveBlock:
		return typecheck.Block
	default:
		return typecheck.Inline
	}
}

// ToContent converts a Value into renderable Content. Primitives
// coerce to inline text; arrays become a content sequence of their
// elements' content. Functions, quoted code, records, and opaque live
// blocks have no content representation and are a hard error rather
// than a debug-format fallback.
func ToContent(v Value, interner parser.Interner) (Content, error) {
	switch v.Kind {
	case KindContent:
		return *v.Content, nil
	case KindNumber:
		return Content{Kind: ContentInline, Text: strconv.FormatFloat(v.Number, 'g', -1, 64)}, nil
	case KindString:
		return Content{Kind: ContentInline, Text: v.Str}, nil
	case KindSymbol:
		return Content{Kind: ContentInline, Text: v.Str}, nil
	case KindBool:
		return Content{Kind: ContentInline, Text: strconv.FormatBool(v.Bool)}, nil
	case KindArray:
		children := make([]Content, len(v.Elements))
		for i, el := range v.Elements {
			c, err := ToContent(el, interner)
			if err != nil {
				return Content{}, err
			}
			children[i] = c
		}
		return Content{Kind: ContentSequence, Children: children}, nil
	default:
		return Content{}, &Error{Code: CodeNotContent, Message: fmt.Sprintf("value of kind %d is not renderable as content", v.Kind)}
	}
}
