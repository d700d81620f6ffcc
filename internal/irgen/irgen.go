// Package irgen lowers a validated syntax tree into the IR.
package irgen

import (
	"errors"
	"fmt"

	"github.com/xzero/flow/api"
	"github.com/xzero/flow/ast"
	"github.com/xzero/flow/internal/ir"
)

// Generate lowers every handler of unit into one IR Program. Each handler gets an entry
// block named "EntryPoint" and ends by returning false when no native handler completed
// the request.
//
// Constructs which cannot be lowered are reported together in the returned error.
func Generate(unit *ast.Unit) (*ir.Program, error) {
	g := &generator{
		b:      ir.NewBuilder(ir.NewProgram()),
		locals: map[*ast.Variable]*ir.Instr{},
	}
	for _, imp := range unit.Imports {
		g.b.Program().AddImport(imp.Name, imp.Path)
	}
	// Declare all handlers up front so that handler references resolve in declaration order.
	for _, h := range unit.Handlers {
		g.b.GetHandler(h.Name)
	}
	for _, h := range unit.Handlers {
		g.handler(h)
	}
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	return g.b.Program(), nil
}

type generator struct {
	b *ir.Builder
	// locals maps variables to their storage.
	locals map[*ast.Variable]*ir.Instr
	// current is the handler being lowered, inlined the chain of source handlers being inlined.
	current *ast.Handler
	inlined []*ast.Handler
	errs    []error
}

func (g *generator) errorf(format string, args ...interface{}) {
	g.errs = append(g.errs, fmt.Errorf("handler %s: %s", g.current.Name, fmt.Sprintf(format, args...)))
}

func (g *generator) handler(h *ast.Handler) {
	g.current = h
	nerrs := len(g.errs)

	g.b.SetHandler(g.b.GetHandler(h.Name))
	g.b.SetInsertPoint(g.b.CreateBlock("EntryPoint"))
	if h.Body != nil {
		g.stmt(h.Body)
	}
	g.b.CreateRet(false)

	if len(g.errs) == nerrs {
		g.b.Handler().Verify()
	}
}

func (g *generator) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.CompoundStmt:
		for _, sub := range s.Stmts {
			g.stmt(sub)
		}
	case *ast.ExprStmt:
		g.expr(s.X)
	case *ast.VarDecl:
		g.varDecl(s.Var)
	case *ast.AssignStmt:
		alloca, ok := g.locals[s.Var]
		if !ok {
			g.errorf("assignment to undeclared variable %s", s.Var.Name)
			return
		}
		if t := s.Value.Type(); t != alloca.Type() {
			g.errorf("cannot assign %s to variable %s of type %s", t, s.Var.Name, alloca.Type())
			return
		}
		g.b.CreateStore(alloca, g.expr(s.Value))
	case *ast.CondStmt:
		g.cond(s)
	case *ast.MatchStmt:
		g.match(s)
	default:
		g.errorf("unsupported statement %T", s)
	}
}

func (g *generator) varDecl(v *ast.Variable) {
	if v.Init == nil {
		g.errorf("variable %s has no initializer", v.Name)
		return
	}
	if v.Init.Type() == api.TypeVoid {
		g.errorf("variable %s initialized by %s, which has no value", v.Name, ast.FormatExpr(v.Init))
		return
	}
	value := g.expr(v.Init)
	alloca := g.b.CreateAlloca(v.Type(), g.b.GetInt(1), v.Name)
	g.b.CreateStore(alloca, value)
	g.locals[v] = alloca
}

func (g *generator) cond(s *ast.CondStmt) {
	if t := s.Cond.Type(); t != api.TypeBoolean {
		g.errorf("condition must be bool, got %s", t)
		return
	}
	cond := g.expr(s.Cond)
	trueBlock := g.b.CreateBlock("if.true")
	falseBlock := g.b.CreateBlock("if.false")
	contBlock := g.b.CreateBlock("if.cont")
	g.b.CreateCondBr(cond, trueBlock, falseBlock)

	g.b.SetInsertPoint(trueBlock)
	if s.Then != nil {
		g.stmt(s.Then)
	}
	g.b.CreateBr(contBlock)

	g.b.SetInsertPoint(falseBlock)
	if s.Else != nil {
		g.stmt(s.Else)
	}
	g.b.CreateBr(contBlock)

	g.b.SetInsertPoint(contBlock)
}

func (g *generator) match(s *ast.MatchStmt) {
	if t := s.Cond.Type(); t != api.TypeString {
		g.errorf("match condition must be string, got %s", t)
		return
	}
	cond := g.expr(s.Cond)
	contBlock := g.b.CreateBlock("match.cont")
	elseBlock := g.b.CreateBlock("match.else")
	m := g.b.CreateMatch(s.Class, cond, elseBlock)

	for _, c := range s.Cases {
		bb := g.b.CreateBlock("match.case")
		for _, l := range c.Labels {
			if label := g.matchLabel(s.Class, l); label != nil {
				m.AddCase(label, bb)
			}
		}
		g.b.SetInsertPoint(bb)
		if c.Body != nil {
			g.stmt(c.Body)
		}
		g.b.CreateBr(contBlock)
	}

	g.b.SetInsertPoint(elseBlock)
	if s.Else != nil {
		g.stmt(s.Else)
	}
	g.b.CreateBr(contBlock)

	g.b.SetInsertPoint(contBlock)
}

func (g *generator) matchLabel(class api.MatchClass, l ast.Expr) *ir.Constant {
	switch l := l.(type) {
	case *ast.StringLiteral:
		if class != api.MatchRegExp {
			return g.b.GetString(l.Value)
		}
	case *ast.RegExpLiteral:
		if class == api.MatchRegExp {
			return g.b.GetRegExp(l.Pattern)
		}
	}
	g.errorf("invalid %s match label %s", class, ast.FormatExpr(l))
	return nil
}

// zero returns a placeholder of type t, keeping the IR well-formed after an error.
func (g *generator) zero(t api.Type) ir.Value {
	switch t {
	case api.TypeBoolean:
		return g.b.GetBool(false)
	case api.TypeString:
		return g.b.GetString("")
	case api.TypeRegExp:
		return g.b.GetRegExp("")
	default:
		return g.b.GetInt(0)
	}
}

func (g *generator) expr(e ast.Expr) ir.Value {
	switch e := e.(type) {
	case *ast.BoolLiteral:
		return g.b.GetBool(e.Value)
	case *ast.NumberLiteral:
		return g.b.GetInt(e.Value)
	case *ast.StringLiteral:
		return g.b.GetString(e.Value)
	case *ast.IPAddressLiteral:
		return g.b.GetIPAddress(e.Value)
	case *ast.CidrLiteral:
		return g.b.GetCidr(e.Value)
	case *ast.RegExpLiteral:
		return g.b.GetRegExp(e.Pattern)
	case *ast.ArrayExpr:
		return g.array(e)
	case *ast.VariableExpr:
		alloca, ok := g.locals[e.Var]
		if !ok {
			g.errorf("use of undeclared variable %s", e.Var.Name)
			return g.zero(e.Type())
		}
		return g.b.CreateLoad(alloca, "")
	case *ast.HandlerRef:
		return g.b.GetHandler(e.Handler.Name)
	case *ast.UnaryExpr:
		return g.unary(e)
	case *ast.BinaryExpr:
		return g.binary(e)
	case *ast.RegExpGroup:
		return g.b.CreateRegExpGroup(g.b.GetInt(e.Group), "")
	case *ast.CallExpr:
		return g.call(e)
	}
	g.errorf("unsupported expression %T", e)
	return g.zero(api.TypeNumber)
}

func (g *generator) array(e *ast.ArrayExpr) ir.Value {
	t := e.Type()
	if t == api.TypeVoid {
		g.errorf("invalid array element type %s", e.Elem)
		return g.zero(api.TypeNumber)
	}
	elems := make([]*ir.Constant, 0, len(e.Elements))
	for _, el := range e.Elements {
		if el.Type() != e.Elem {
			g.errorf("%s element in %s", el.Type(), t)
			continue
		}
		c, ok := g.expr(el).(*ir.Constant)
		if !ok {
			g.errorf("array elements must be literals, got %s", ast.FormatExpr(el))
			continue
		}
		elems = append(elems, c)
	}
	return g.b.GetArray(e.Elem, elems)
}

func (g *generator) unary(e *ast.UnaryExpr) ir.Value {
	xt := e.X.Type()
	var op ir.Opcode
	switch {
	case e.Op == ast.OpNeg && xt == api.TypeNumber:
		op = ir.OpcodeNNeg
	case e.Op == ast.OpNot && xt == api.TypeNumber:
		op = ir.OpcodeNNot
	case e.Op == ast.OpNot && xt == api.TypeBoolean:
		op = ir.OpcodeBNot
	case e.Op == ast.OpLen && xt == api.TypeString:
		op = ir.OpcodeSLen
	case e.Op == ast.OpIsEmpty && xt == api.TypeString:
		op = ir.OpcodeSIsEmpty
	case e.Op == ast.OpToString && xt == api.TypeString,
		e.Op == ast.OpToNumber && xt == api.TypeNumber:
		return g.expr(e.X)
	case e.Op == ast.OpToString:
		op = castToString[xt]
	case e.Op == ast.OpToNumber && xt == api.TypeString:
		op = ir.OpcodeS2N
	}
	if op == ir.OpcodeInvalid {
		g.errorf("operator %s is not defined on %s", e.Op, xt)
		return g.zero(e.Type())
	}
	return g.b.CreateUnary(op, g.expr(e.X), "")
}

var castToString = map[api.Type]ir.Opcode{
	api.TypeNumber:    ir.OpcodeN2S,
	api.TypeIPAddress: ir.OpcodeP2S,
	api.TypeCidr:      ir.OpcodeC2S,
	api.TypeRegExp:    ir.OpcodeR2S,
	api.TypeBoolean:   ir.OpcodeB2S,
}

type binaryKey struct {
	op   ast.Operator
	x, y api.Type
}

var binaryOps = func() map[binaryKey]ir.Opcode {
	m := map[binaryKey]ir.Opcode{}
	add := func(x, y api.Type, ops map[ast.Operator]ir.Opcode) {
		for op, opc := range ops {
			m[binaryKey{op, x, y}] = opc
		}
	}
	add(api.TypeNumber, api.TypeNumber, map[ast.Operator]ir.Opcode{
		ast.OpAdd: ir.OpcodeNAdd, ast.OpSub: ir.OpcodeNSub, ast.OpMul: ir.OpcodeNMul,
		ast.OpDiv: ir.OpcodeNDiv, ast.OpRem: ir.OpcodeNRem, ast.OpShl: ir.OpcodeNShl,
		ast.OpShr: ir.OpcodeNShr, ast.OpPow: ir.OpcodeNPow, ast.OpBitAnd: ir.OpcodeNAnd,
		ast.OpBitOr: ir.OpcodeNOr, ast.OpBitXor: ir.OpcodeNXor,
		ast.OpEq: ir.OpcodeNCmpEQ, ast.OpNe: ir.OpcodeNCmpNE, ast.OpLe: ir.OpcodeNCmpLE,
		ast.OpGe: ir.OpcodeNCmpGE, ast.OpLt: ir.OpcodeNCmpLT, ast.OpGt: ir.OpcodeNCmpGT,
	})
	add(api.TypeBoolean, api.TypeBoolean, map[ast.Operator]ir.Opcode{
		ast.OpAnd: ir.OpcodeBAnd, ast.OpOr: ir.OpcodeBOr, ast.OpXor: ir.OpcodeBXor,
		ast.OpEq: ir.OpcodeNCmpEQ, ast.OpNe: ir.OpcodeNCmpNE,
	})
	add(api.TypeString, api.TypeString, map[ast.Operator]ir.Opcode{
		ast.OpAdd: ir.OpcodeSAdd,
		ast.OpEq:  ir.OpcodeSCmpEQ, ast.OpNe: ir.OpcodeSCmpNE, ast.OpLe: ir.OpcodeSCmpLE,
		ast.OpGe: ir.OpcodeSCmpGE, ast.OpLt: ir.OpcodeSCmpLT, ast.OpGt: ir.OpcodeSCmpGT,
		ast.OpPrefix: ir.OpcodeSCmpBeg, ast.OpSuffix: ir.OpcodeSCmpEnd, ast.OpIn: ir.OpcodeSIn,
	})
	add(api.TypeString, api.TypeRegExp, map[ast.Operator]ir.Opcode{
		ast.OpRegExpMatch: ir.OpcodeSCmpRE,
	})
	add(api.TypeIPAddress, api.TypeIPAddress, map[ast.Operator]ir.Opcode{
		ast.OpEq: ir.OpcodePCmpEQ, ast.OpNe: ir.OpcodePCmpNE,
	})
	add(api.TypeIPAddress, api.TypeCidr, map[ast.Operator]ir.Opcode{
		ast.OpIn: ir.OpcodePInCidr,
	})
	return m
}()

func (g *generator) binary(e *ast.BinaryExpr) ir.Value {
	xt, yt := e.X.Type(), e.Y.Type()
	op, ok := binaryOps[binaryKey{e.Op, xt, yt}]
	if !ok {
		g.errorf("operator %s is not defined on %s and %s", e.Op, xt, yt)
		return g.zero(e.Type())
	}
	x := g.expr(e.X)
	y := g.expr(e.Y)
	return g.b.CreateBinary(op, x, y, "")
}

func (g *generator) call(e *ast.CallExpr) ir.Value {
	switch callee := e.Callee.(type) {
	case *ast.Handler:
		g.inline(callee)
		return nil
	case *ast.Builtin:
		args, ok := g.args(&callee.Signature, e.Args)
		if !ok {
			return g.zero(e.Type())
		}
		if !callee.IsHandler {
			return g.b.CreateCallFunction(g.b.GetBuiltinFunction(callee.Signature, callee.ReadOnly), args, "")
		}
		bi := g.b.GetBuiltinHandler(callee.Signature, callee.NoReturn)
		g.b.CreateInvokeHandler(bi, args)
		if bi.NoReturn() {
			// Nothing after this call is reachable. Keep lowering into a fresh block, which the
			// block elimination passes drop.
			g.b.CreateRet(true)
			g.b.SetInsertPoint(g.b.CreateBlock("unreachable"))
		}
		return nil
	}
	g.errorf("unsupported callee %T", e.Callee)
	return g.zero(e.Type())
}

func (g *generator) args(sig *api.Signature, exprs []ast.Expr) ([]ir.Value, bool) {
	if len(exprs) != len(sig.Args) {
		g.errorf("%s expects %d arguments, got %d", sig, len(sig.Args), len(exprs))
		return nil, false
	}
	args := make([]ir.Value, len(exprs))
	for i, a := range exprs {
		t := a.Type()
		if t == api.TypeVoid {
			g.errorf("argument %d of %s has no value", i+1, sig)
			return nil, false
		}
		if t != sig.Args[i] {
			g.errorf("argument %d of %s must be %s, got %s", i+1, sig, sig.Args[i], t)
			return nil, false
		}
		args[i] = g.expr(a)
	}
	return args, true
}

// inline lowers the body of a source handler at the current insertion point.
func (g *generator) inline(h *ast.Handler) {
	if h == g.current {
		g.errorf("handler calls itself")
		return
	}
	for _, outer := range g.inlined {
		if outer == h {
			g.errorf("recursive call to handler %s", h.Name)
			return
		}
	}
	g.inlined = append(g.inlined, h)
	if h.Body != nil {
		g.stmt(h.Body)
	}
	g.inlined = g.inlined[:len(g.inlined)-1]
}
