// Package typecheck implements the TyC component (spec §4.6): a
// bottom-up type checker over the enforested typed AST, enforcing
// content-kind subtyping, stage discipline for quote/splice, function
// arity/parameter subtyping, and capability subsumption at call sites.
//
// The type lattice (Dyn as top, Content as the supertype of Block and
// Inline, Inline and Block themselves incomparable) and the
// subtype/content-nesting relations below are grounded directly on the
// teacher domain's type algebra rather than invented: MrlType's
// is_subtype_of/can_contain pair in the original implementation is
// mirrored here field-for-field.
package typecheck

import (
	"fmt"
	"strings"

	"github.com/femtomc/monowiki-sub001/internal/enforest"
	"github.com/femtomc/monowiki-sub001/internal/parser"
	"github.com/femtomc/monowiki-sub001/internal/span"
	"github.com/femtomc/monowiki-sub001/internal/token"
)

// ContentKind is the three-point content lattice: Inline and Block are
// both subkinds of Content but incomparable with each other.
type ContentKind int

const (
	Inline ContentKind = iota
	Block
	Content
)

func (k ContentKind) String() string {
	switch k {
	case Inline:
		return "Inline"
	case Block:
		return "Block"
	case Content:
		return "Content"
	default:
		return "?"
	}
}

// IsSubkindOf reports whether k can be used wherever other is expected.
func (k ContentKind) IsSubkindOf(other ContentKind) bool {
	return k == other || other == Content
}

// CanContain reports whether a container of kind k may directly hold a
// child of kind child, per the Inline-cannot-contain-Block invariant.
func (k ContentKind) CanContain(child ContentKind) bool {
	if k == Inline {
		return child == Inline
	}
	return true
}

// Kind tags a Type's concrete variant.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindSymbol
	KindBool
	KindUnit
	KindBlock
	KindInlineT
	KindContentT
	KindArray
	KindTuple
	KindRecord
	KindFunction
	KindCode
	KindSignal
	KindDyn
)

// Type is the checker's value-type representation.
type Type struct {
	Kind Kind

	// KindArray, KindSignal
	Elem *Type

	// KindTuple
	Elements []Type

	// KindRecord
	Fields map[string]Type

	// KindFunction
	Params       []Type
	Ret          *Type
	Capabilities []string

	// KindCode
	CodeOf ContentKind
}

func Int() Type    { return Type{Kind: KindInt} }
func Float() Type  { return Type{Kind: KindFloat} }
func Str() Type    { return Type{Kind: KindString} }
func Sym() Type    { return Type{Kind: KindSymbol} }
func Bool() Type   { return Type{Kind: KindBool} }
func Unit() Type   { return Type{Kind: KindUnit} }
func BlockT() Type { return Type{Kind: KindBlock} }
func InlineT() Type { return Type{Kind: KindInlineT} }
func ContentT() Type { return Type{Kind: KindContentT} }
func Dyn() Type    { return Type{Kind: KindDyn} }

func Array(elem Type) Type  { return Type{Kind: KindArray, Elem: &elem} }
func Signal(elem Type) Type { return Type{Kind: KindSignal, Elem: &elem} }
func Code(k ContentKind) Type { return Type{Kind: KindCode, CodeOf: k} }
func Func(params []Type, ret Type, caps ...string) Type {
	return Type{Kind: KindFunction, Params: params, Ret: &ret, Capabilities: caps}
}

// AsContentKind reports the ContentKind a Block/Inline/Content type
// denotes, if any.
func (t Type) AsContentKind() (ContentKind, bool) {
	switch t.Kind {
	case KindBlock:
		return Block, true
	case KindInlineT:
		return Inline, true
	case KindContentT:
		return Content, true
	default:
		return 0, false
	}
}

// IsContent reports whether t is one of Block, Inline, or Content.
func (t Type) IsContent() bool {
	_, ok := t.AsContentKind()
	return ok
}

func (t Type) String() string {
	switch t.Kind {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindSymbol:
		return "Symbol"
	case KindBool:
		return "Bool"
	case KindUnit:
		return "Unit"
	case KindBlock:
		return "Block"
	case KindInlineT:
		return "Inline"
	case KindContentT:
		return "Content"
	case KindArray:
		return fmt.Sprintf("Array<%s>", t.Elem.String())
	case KindSignal:
		return fmt.Sprintf("Signal<%s>", t.Elem.String())
	case KindTuple:
		parts := make([]string, len(t.Elements))
		for i, e := range t.Elements {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case KindRecord:
		return "Record"
	case KindCode:
		return fmt.Sprintf("Code<%s>", t.CodeOf)
	case KindFunction:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), t.Ret.String())
	case KindDyn:
		return "Dyn"
	default:
		return "?"
	}
}

// IsSubtypeOf implements the type lattice: Dyn is top; Block and
// Inline are both subtypes of Content but not of each other; Array
// and Signal are covariant in their element; Function is covariant in
// its return type with invariant parameters (structural, not
// behavioral, subtyping).
func (t Type) IsSubtypeOf(other Type) bool {
	if other.Kind == KindDyn {
		return true
	}
	if ck, ok := t.AsContentKind(); ok {
		if ok2, ok3 := other.AsContentKind(); ok3 {
			return ck.IsSubkindOf(ok2)
		}
		return false
	}
	switch t.Kind {
	case KindArray:
		return other.Kind == KindArray && t.Elem.IsSubtypeOf(*other.Elem)
	case KindSignal:
		return other.Kind == KindSignal && t.Elem.IsSubtypeOf(*other.Elem)
	case KindCode:
		return other.Kind == KindCode && t.CodeOf.IsSubkindOf(other.CodeOf)
	case KindFunction:
		if other.Kind != KindFunction || len(t.Params) != len(other.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].equal(other.Params[i]) {
				return false
			}
		}
		return t.Ret.IsSubtypeOf(*other.Ret)
	case KindTuple:
		if other.Kind != KindTuple || len(t.Elements) != len(other.Elements) {
			return false
		}
		for i := range t.Elements {
			if !t.Elements[i].IsSubtypeOf(other.Elements[i]) {
				return false
			}
		}
		return true
	default:
		return t.equal(other)
	}
}

func (t Type) equal(other Type) bool {
	return t.Kind == other.Kind && t.String() == other.String()
}

// TypeScheme generalizes a Type over a set of quantified type
// variables, reserved for future polymorphic function signatures; the
// checker today only produces monomorphic schemes.
type TypeScheme struct {
	Vars []int
	Ty   Type
}

func Mono(t Type) TypeScheme        { return TypeScheme{Ty: t} }
func Poly(vars []int, t Type) TypeScheme { return TypeScheme{Vars: vars, Ty: t} }

// Code identifies the class of a checker failure, mirroring the
// teacher's closed string-const enum style for diagnostic codes.
type Code int

const (
	CodeTypeMismatch Code = iota
	CodeUnboundIdentifier
	CodeArityMismatch
	CodeKindMismatch
	CodeInvalidContentNesting
	CodeStageLevelError
	CodeCapabilityError
)

// Error reports a type-checking failure.
type Error struct {
	Span    span.Span
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("typecheck: %s at %s", e.Message, e.Span)
}

// Env is a lexically-scoped binding environment mapping names to
// types, plus the set of capabilities available at this point in the
// call graph.
type Env struct {
	parent *Env
	vars   map[string]Type
	caps   map[string]bool
}

func NewEnv(parent *Env) *Env {
	return &Env{parent: parent, vars: map[string]Type{}, caps: map[string]bool{}}
}

func (e *Env) Define(name string, t Type) { e.vars[name] = t }

func (e *Env) Lookup(name string) (Type, bool) {
	for env := e; env != nil; env = env.parent {
		if t, ok := env.vars[name]; ok {
			return t, true
		}
	}
	return Type{}, false
}

func (e *Env) Grant(capability string) { e.caps[capability] = true }

func (e *Env) HasCapability(capability string) bool {
	for env := e; env != nil; env = env.parent {
		if env.caps[capability] {
			return true
		}
	}
	return false
}

// Checker holds the interner needed to recover an identifier's surface
// name from its hygiene.Symbol (def names are recorded as plain
// strings by the parser/enforester, so lookups must go through names).
type Checker struct {
	interner parser.Interner
	stage    int
}

func New(interner parser.Interner) *Checker {
	return &Checker{interner: interner}
}

// Check infers and validates the type of an enforested node, per
// spec §4.6: function arity/parameter subtyping at call sites,
// content-kind nesting, quote/splice stage discipline, and capability
// subsumption.
func (c *Checker) Check(n enforest.Node, env *Env) (Type, error) {
	switch n.Kind {
	case enforest.KindEmpty:
		return Unit(), nil

	case enforest.KindLiteral:
		return c.checkLiteral(n)

	case enforest.KindIdent:
		name := c.interner.Name(n.Symbol)
		t, ok := env.Lookup(name)
		if !ok {
			return Type{}, &Error{Span: n.Span, Code: CodeUnboundIdentifier, Message: fmt.Sprintf("unbound identifier %q", name)}
		}
		return t, nil

	case enforest.KindBinary:
		return c.checkBinary(n, env)

	case enforest.KindUnary:
		return c.checkUnary(n, env)

	case enforest.KindCall:
		return c.checkCall(n, env)

	case enforest.KindIndex:
		return c.checkIndex(n, env)

	case enforest.KindTuple:
		elems := make([]Type, len(n.Elements))
		for i, el := range n.Elements {
			t, err := c.Check(el, env)
			if err != nil {
				return Type{}, err
			}
			elems[i] = t
		}
		return Type{Kind: KindTuple, Elements: elems}, nil

	case enforest.KindList:
		elemTy := Dyn()
		for i, el := range n.Elements {
			t, err := c.Check(el, env)
			if err != nil {
				return Type{}, err
			}
			if i == 0 {
				elemTy = t
			} else if !t.IsSubtypeOf(elemTy) {
				elemTy = Dyn()
			}
		}
		return Array(elemTy), nil

	case enforest.KindRecord:
		fields := map[string]Type{}
		for k, v := range n.Properties {
			t, err := c.Check(v, env)
			if err != nil {
				return Type{}, err
			}
			fields[k] = t
		}
		return Type{Kind: KindRecord, Fields: fields}, nil

	case enforest.KindSetRule:
		if err := c.checkSelector(n.Selector, env); err != nil {
			return Type{}, err
		}
		for _, v := range n.Properties {
			if _, err := c.Check(v, env); err != nil {
				return Type{}, err
			}
		}
		return BlockT(), nil

	case enforest.KindShowRule:
		if err := c.checkSelector(n.Selector, env); err != nil {
			return Type{}, err
		}
		if _, err := c.checkBodyKind(n.Rule, env); err != nil {
			return Type{}, err
		}
		return BlockT(), nil

	case enforest.KindDefBlock:
		return c.checkDef(n, env)

	case enforest.KindStagedBlock:
		if _, err := c.checkBodyKind(n.Body, env); err != nil {
			return Type{}, err
		}
		return BlockT(), nil

	case enforest.KindLiveBlock:
		for _, d := range n.Deps {
			if _, err := c.Check(d, env); err != nil {
				return Type{}, err
			}
		}
		if _, err := c.checkBodyKind(n.Body, env); err != nil {
			return Type{}, err
		}
		return ContentT(), nil

	case enforest.KindQuote:
		c.stage++
		k, err := c.checkBodyKind(n.Body, env)
		c.stage--
		if err != nil {
			return Type{}, err
		}
		return Code(k), nil

	case enforest.KindSplice:
		if c.stage <= 0 {
			return Type{}, &Error{Span: n.Span, Code: CodeStageLevelError, Message: "splice used outside a quote"}
		}
		operand, err := c.Check(*n.Expr, env)
		if err != nil {
			return Type{}, err
		}
		if operand.Kind != KindCode {
			return Type{}, &Error{Span: n.Span, Code: CodeStageLevelError, Message: fmt.Sprintf("spliced value must be Code<K>, got %s", operand)}
		}
		return operand, nil

	case enforest.KindIf:
		if _, err := c.Check(*n.Cond, env); err != nil {
			return Type{}, err
		}
		thenKind, err := c.checkBodyKind(n.Then, env)
		if err != nil {
			return Type{}, err
		}
		elseKind, err := c.checkBodyKind(n.Else, env)
		if err != nil {
			return Type{}, err
		}
		if len(n.Then) > 0 && len(n.Else) > 0 && thenKind != elseKind {
			return Type{}, &Error{Span: n.Span, Code: CodeKindMismatch, Message: fmt.Sprintf("if branches disagree on content kind: %s vs %s", thenKind, elseKind)}
		}
		if len(n.Else) == 0 {
			return contentKindType(thenKind), nil
		}
		return contentKindType(elseKind), nil

	case enforest.KindFor:
		if _, err := c.Check(*n.Seq, env); err != nil {
			return Type{}, err
		}
		bodyEnv := NewEnv(env)
		bodyEnv.Define(c.interner.Name(n.Binder), Dyn())
		k, err := c.checkBodyKind(n.Body, bodyEnv)
		if err != nil {
			return Type{}, err
		}
		return contentKindType(k), nil

	case enforest.KindSelector:
		if err := c.checkSelector(n, env); err != nil {
			return Type{}, err
		}
		return BlockT(), nil

	default:
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: "unrecognized node kind"}
	}
}

func contentKindType(k ContentKind) Type {
	switch k {
	case Block:
		return BlockT()
	case Content:
		return ContentT()
	default:
		return InlineT()
	}
}

func (c *Checker) checkLiteral(n enforest.Node) (Type, error) {
	switch n.Literal.Tag {
	case token.Int:
		return Int(), nil
	case token.Float:
		return Float(), nil
	case token.String:
		return Str(), nil
	case token.Symbol:
		return Sym(), nil
	case token.KwTrue, token.KwFalse:
		return Bool(), nil
	case token.KwNone:
		return Unit(), nil
	default:
		return Unit(), nil
	}
}

var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}
var comparisonOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
var logicalOps = map[string]bool{"and": true, "or": true}

func (c *Checker) checkBinary(n enforest.Node, env *Env) (Type, error) {
	left, err := c.Check(*n.Left, env)
	if err != nil {
		return Type{}, err
	}
	right, err := c.Check(*n.Right, env)
	if err != nil {
		return Type{}, err
	}
	switch {
	case arithmeticOps[n.Op]:
		if !isNumeric(left) || !isNumeric(right) {
			return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("operator %q requires numeric operands, got %s and %s", n.Op, left, right)}
		}
		if left.Kind == KindFloat || right.Kind == KindFloat {
			return Float(), nil
		}
		return Int(), nil
	case comparisonOps[n.Op]:
		return Bool(), nil
	case logicalOps[n.Op]:
		if left.Kind != KindBool || right.Kind != KindBool {
			return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("operator %q requires Bool operands, got %s and %s", n.Op, left, right)}
		}
		return Bool(), nil
	default:
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("unrecognized operator %q", n.Op)}
	}
}

func isNumeric(t Type) bool {
	return t.Kind == KindInt || t.Kind == KindFloat || t.Kind == KindDyn
}

func (c *Checker) checkUnary(n enforest.Node, env *Env) (Type, error) {
	operand, err := c.Check(*n.Operand, env)
	if err != nil {
		return Type{}, err
	}
	switch n.UnaryOp {
	case "-":
		if !isNumeric(operand) {
			return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("unary - requires a numeric operand, got %s", operand)}
		}
		return operand, nil
	case "not":
		if operand.Kind != KindBool && operand.Kind != KindDyn {
			return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("unary not requires a Bool operand, got %s", operand)}
		}
		return Bool(), nil
	default:
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("unrecognized unary operator %q", n.UnaryOp)}
	}
}

func (c *Checker) checkCall(n enforest.Node, env *Env) (Type, error) {
	callee, err := c.Check(*n.Callee, env)
	if err != nil {
		return Type{}, err
	}
	if callee.Kind == KindDyn {
		for _, a := range n.Args {
			if _, err := c.Check(a, env); err != nil {
				return Type{}, err
			}
		}
		return Dyn(), nil
	}
	if callee.Kind != KindFunction {
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("cannot call non-function type %s", callee)}
	}
	if len(n.Args) != len(callee.Params) {
		return Type{}, &Error{Span: n.Span, Code: CodeArityMismatch, Message: fmt.Sprintf("expected %d arguments, got %d", len(callee.Params), len(n.Args))}
	}
	for i, a := range n.Args {
		argTy, err := c.Check(a, env)
		if err != nil {
			return Type{}, err
		}
		if !argTy.IsSubtypeOf(callee.Params[i]) {
			return Type{}, &Error{Span: a.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("argument %d: %s is not a subtype of %s", i, argTy, callee.Params[i])}
		}
	}
	for _, cap := range callee.Capabilities {
		if !env.HasCapability(cap) {
			return Type{}, &Error{Span: n.Span, Code: CodeCapabilityError, Message: fmt.Sprintf("missing capability %q", cap)}
		}
	}
	return *callee.Ret, nil
}

func (c *Checker) checkIndex(n enforest.Node, env *Env) (Type, error) {
	value, err := c.Check(*n.Value, env)
	if err != nil {
		return Type{}, err
	}
	idx, err := c.Check(*n.Index, env)
	if err != nil {
		return Type{}, err
	}
	if idx.Kind != KindInt && idx.Kind != KindDyn {
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("index must be Int, got %s", idx)}
	}
	switch value.Kind {
	case KindArray:
		return *value.Elem, nil
	case KindDyn:
		return Dyn(), nil
	default:
		return Type{}, &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("cannot index non-array type %s", value)}
	}
}

func (c *Checker) checkSelector(n enforest.Node, env *Env) error {
	if n.Predicate != nil {
		predTy, err := c.Check(*n.Predicate, env)
		if err != nil {
			return err
		}
		if predTy.Kind != KindBool && predTy.Kind != KindDyn {
			return &Error{Span: n.Span, Code: CodeTypeMismatch, Message: fmt.Sprintf("selector predicate must be Bool, got %s", predTy)}
		}
	}
	return nil
}

func (c *Checker) checkDef(n enforest.Node, env *Env) (Type, error) {
	inner := NewEnv(env)
	params := make([]Type, len(n.DefParams))
	for i, p := range n.DefParams {
		if p.Kind == enforest.KindIdent {
			name := c.interner.Name(p.Symbol)
			inner.Define(name, Dyn())
		}
		params[i] = Dyn()
	}
	ret := Unit()
	for _, form := range n.DefBody {
		t, err := c.Check(form, inner)
		if err != nil {
			return Type{}, err
		}
		ret = t
	}
	fn := Func(params, ret)
	env.Define(n.DefName, fn)
	return fn, nil
}

// checkBodyKind type-checks a sequence of forms (a quote/staged/show
// body) and folds their individual content kinds into one, enforcing
// the Inline-cannot-contain-Block nesting invariant as each later form
// is measured against the kind the earlier forms established.
func (c *Checker) checkBodyKind(forms []enforest.Node, env *Env) (ContentKind, error) {
	haveKind := false
	established := Inline
	for _, form := range forms {
		ty, err := c.Check(form, env)
		if err != nil {
			return 0, err
		}
		k, ok := contentKindOfForm(form, ty)
		if !ok {
			continue
		}
		if !haveKind {
			established = k
			haveKind = true
			continue
		}
		if !established.CanContain(k) {
			return 0, &Error{Span: form.Span, Code: CodeInvalidContentNesting, Message: fmt.Sprintf("%s cannot contain %s", established, k)}
		}
		if established != k && established != Content {
			established = Content
		}
	}
	if !haveKind {
		return Inline, nil
	}
	return established, nil
}

// contentKindOfForm classifies a checked form's content kind for the
// purpose of body-level nesting checks. Structural declarations
// (show/set/def/staged/live) are Block-level; ordinary expressions
// render as Inline text; a Splice's kind is that of the Code<K> value
// it unwraps; a nested Quote is an opaque Inline token.
func contentKindOfForm(n enforest.Node, ty Type) (ContentKind, bool) {
	switch n.Kind {
	case enforest.KindEmpty:
		return 0, false
	case enforest.KindShowRule, enforest.KindSetRule, enforest.KindDefBlock,
		enforest.KindStagedBlock, enforest.KindLiveBlock:
		return Block, true
	case enforest.KindSplice:
		if k, ok := ty.AsContentKind(); ok {
			return k, true
		}
		if ty.Kind == KindCode {
			return ty.CodeOf, true
		}
		return Inline, true
	case enforest.KindQuote:
		return Inline, true
	case enforest.KindIf, enforest.KindFor:
		if k, ok := ty.AsContentKind(); ok {
			return k, true
		}
		return Inline, true
	default:
		return Inline, true
	}
}
