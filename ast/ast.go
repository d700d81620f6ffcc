// Package ast defines the validated syntax tree handed to the compiler by a front end.
//
// The tree is expected to be type-checked already: every Expr reports its Type, variables
// and handlers are resolved to their declarations, and calls point to either a source
// Handler or a Builtin carrying the native signature.
package ast

import (
	"net/netip"

	"github.com/xzero/flow/api"
)

// Node is implemented by every syntax tree element.
type Node interface {
	node()
}

// Expr is an expression node.
type Expr interface {
	Node
	Type() api.Type
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

// Callee is the target of a CallExpr: a *Handler or a *Builtin.
type Callee interface {
	Node
	callee()
}

// Unit is one compilation unit: a set of handlers plus the modules they import.
type Unit struct {
	Imports  []Import
	Handlers []*Handler
}

// Import names a native module to load at link time. Path may be empty.
type Import struct {
	Name string
	Path string
}

// Handler is a named, argument-less routine ending in a boolean "handled" outcome.
type Handler struct {
	Name string
	// Body is nil for an empty handler.
	Body Stmt
}

// Builtin refers to a native function or handler registered with the runtime.
type Builtin struct {
	Signature api.Signature
	// IsHandler is true for native handlers, which may complete the request.
	IsHandler bool
	// ReadOnly natives have no side effects; calls with unused results may be dropped.
	ReadOnly bool
	// NoReturn handlers always complete the request.
	NoReturn bool
}

// Variable is a local variable, introduced by VarDecl.
type Variable struct {
	Name string
	Init Expr
}

// Type returns the type of the initializer.
func (v *Variable) Type() api.Type { return v.Init.Type() }

func (*Handler) node()   {}
func (*Handler) callee() {}
func (*Builtin) node()   {}
func (*Builtin) callee() {}
func (*Variable) node()  {}

// Operator enumerates unary and binary operators.
type Operator byte

const (
	OpInvalid Operator = iota

	// unary
	OpNeg
	OpNot
	OpLen
	OpIsEmpty
	OpToString
	OpToNumber

	// binary
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpShl
	OpShr
	OpPow
	OpBitAnd
	OpBitOr
	OpBitXor
	OpAnd
	OpOr
	OpXor
	OpEq
	OpNe
	OpLe
	OpGe
	OpLt
	OpGt
	// OpPrefix is "=^", true if the left operand begins with the right one.
	OpPrefix
	// OpSuffix is "=$", true if the left operand ends with the right one.
	OpSuffix
	// OpRegExpMatch is "=~".
	OpRegExpMatch
	// OpIn tests substring containment for strings and address containment for CIDRs.
	OpIn
)

var operatorNames = [...]string{
	OpInvalid:     "<invalid>",
	OpNeg:         "-",
	OpNot:         "not",
	OpLen:         "len",
	OpIsEmpty:     "empty",
	OpToString:    "string",
	OpToNumber:    "int",
	OpAdd:         "+",
	OpSub:         "-",
	OpMul:         "*",
	OpDiv:         "/",
	OpRem:         "%",
	OpShl:         "shl",
	OpShr:         "shr",
	OpPow:         "**",
	OpBitAnd:      "&",
	OpBitOr:       "|",
	OpBitXor:      "^",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpEq:          "==",
	OpNe:          "!=",
	OpLe:          "<=",
	OpGe:          ">=",
	OpLt:          "<",
	OpGt:          ">",
	OpPrefix:      "=^",
	OpSuffix:      "=$",
	OpRegExpMatch: "=~",
	OpIn:          "in",
}

// String implements fmt.Stringer.
func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return operatorNames[OpInvalid]
}

type (
	BoolLiteral struct{ Value bool }
	// NumberLiteral is a 64-bit signed integer.
	NumberLiteral    struct{ Value int64 }
	StringLiteral    struct{ Value string }
	IPAddressLiteral struct{ Value netip.Addr }
	CidrLiteral      struct{ Value netip.Prefix }
	RegExpLiteral    struct{ Pattern string }

	// ArrayExpr is an array of Elem typed elements.
	ArrayExpr struct {
		Elem     api.Type
		Elements []Expr
	}

	VariableExpr struct{ Var *Variable }

	// HandlerRef refers to a handler as a value, e.g. to pass it to a native function.
	HandlerRef struct{ Handler *Handler }

	UnaryExpr struct {
		Op Operator
		X  Expr
	}

	BinaryExpr struct {
		Op   Operator
		X, Y Expr
	}

	// RegExpGroup fetches a capture group of the most recent regular expression match.
	RegExpGroup struct{ Group int64 }

	CallExpr struct {
		Callee Callee
		Args   []Expr
	}
)

func (*BoolLiteral) node()      {}
func (*NumberLiteral) node()    {}
func (*StringLiteral) node()    {}
func (*IPAddressLiteral) node() {}
func (*CidrLiteral) node()      {}
func (*RegExpLiteral) node()    {}
func (*ArrayExpr) node()        {}
func (*VariableExpr) node()     {}
func (*HandlerRef) node()       {}
func (*UnaryExpr) node()        {}
func (*BinaryExpr) node()       {}
func (*RegExpGroup) node()      {}
func (*CallExpr) node()         {}

func (*BoolLiteral) Type() api.Type      { return api.TypeBoolean }
func (*NumberLiteral) Type() api.Type    { return api.TypeNumber }
func (*StringLiteral) Type() api.Type    { return api.TypeString }
func (*IPAddressLiteral) Type() api.Type { return api.TypeIPAddress }
func (*CidrLiteral) Type() api.Type      { return api.TypeCidr }
func (*RegExpLiteral) Type() api.Type    { return api.TypeRegExp }
func (*HandlerRef) Type() api.Type       { return api.TypeHandler }
func (*RegExpGroup) Type() api.Type      { return api.TypeString }
func (e *VariableExpr) Type() api.Type   { return e.Var.Type() }

func (e *ArrayExpr) Type() api.Type {
	t, err := api.ArrayOf(e.Elem)
	if err != nil {
		return api.TypeVoid
	}
	return t
}

func (e *UnaryExpr) Type() api.Type {
	switch e.Op {
	case OpNot:
		if e.X.Type() == api.TypeNumber {
			return api.TypeNumber
		}
		return api.TypeBoolean
	case OpIsEmpty:
		return api.TypeBoolean
	case OpToString:
		return api.TypeString
	case OpNeg, OpLen, OpToNumber:
		return api.TypeNumber
	}
	return api.TypeVoid
}

func (e *BinaryExpr) Type() api.Type {
	switch e.Op {
	case OpAdd:
		if e.X.Type() == api.TypeString {
			return api.TypeString
		}
		return api.TypeNumber
	case OpSub, OpMul, OpDiv, OpRem, OpShl, OpShr, OpPow, OpBitAnd, OpBitOr, OpBitXor:
		return api.TypeNumber
	case OpAnd, OpOr, OpXor, OpEq, OpNe, OpLe, OpGe, OpLt, OpGt,
		OpPrefix, OpSuffix, OpRegExpMatch, OpIn:
		return api.TypeBoolean
	}
	return api.TypeVoid
}

// Type returns the callee's result type. Handler invocations are statements and have no value.
func (e *CallExpr) Type() api.Type {
	if b, ok := e.Callee.(*Builtin); ok && !b.IsHandler {
		return b.Signature.Return
	}
	return api.TypeVoid
}

type (
	CompoundStmt struct{ Stmts []Stmt }

	ExprStmt struct{ X Expr }

	// CondStmt is an if statement. Else may be nil.
	CondStmt struct {
		Cond Expr
		Then Stmt
		Else Stmt
	}

	// MatchStmt dispatches on a string condition. Labels are string literals, or regular
	// expression literals when Class is api.MatchRegExp. Else may be nil.
	MatchStmt struct {
		Cond  Expr
		Class api.MatchClass
		Cases []MatchCase
		Else  Stmt
	}

	VarDecl struct{ Var *Variable }

	AssignStmt struct {
		Var   *Variable
		Value Expr
	}
)

// MatchCase is one arm of a MatchStmt.
type MatchCase struct {
	Labels []Expr
	Body   Stmt
}

func (*CompoundStmt) node() {}
func (*ExprStmt) node()     {}
func (*CondStmt) node()     {}
func (*MatchStmt) node()    {}
func (*VarDecl) node()      {}
func (*AssignStmt) node()   {}

func (*CompoundStmt) stmt() {}
func (*ExprStmt) stmt()     {}
func (*CondStmt) stmt()     {}
func (*MatchStmt) stmt()    {}
func (*VarDecl) stmt()      {}
func (*AssignStmt) stmt()   {}
