package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Format renders the unit in a stable textual form. Two units with the same output lower to
// the same program, which makes the text suitable as a cache key.
func Format(u *Unit) string {
	p := &printer{}
	for _, imp := range u.Imports {
		if imp.Path != "" {
			p.linef("import %s from %s", imp.Name, strconv.Quote(imp.Path))
		} else {
			p.linef("import %s", imp.Name)
		}
	}
	for _, h := range u.Handlers {
		p.linef("handler %s {", h.Name)
		p.indent++
		if h.Body != nil {
			p.stmt(h.Body)
		}
		p.indent--
		p.linef("}")
	}
	return p.b.String()
}

// FormatExpr renders a single expression.
func FormatExpr(e Expr) string {
	p := &printer{}
	p.expr(e)
	return p.b.String()
}

type printer struct {
	b      strings.Builder
	indent int
}

func (p *printer) linef(format string, args ...interface{}) {
	p.b.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteByte('\n')
}

func (p *printer) line(e Expr, prefix, suffix string) {
	p.b.WriteString(strings.Repeat("  ", p.indent))
	p.b.WriteString(prefix)
	p.expr(e)
	p.b.WriteString(suffix)
	p.b.WriteByte('\n')
}

func (p *printer) stmt(s Stmt) {
	switch s := s.(type) {
	case *CompoundStmt:
		for _, sub := range s.Stmts {
			p.stmt(sub)
		}
	case *ExprStmt:
		p.line(s.X, "", ";")
	case *CondStmt:
		p.line(s.Cond, "if ", " {")
		p.block(s.Then)
		if s.Else != nil {
			p.linef("} else {")
			p.block(s.Else)
		}
		p.linef("}")
	case *MatchStmt:
		p.line(s.Cond, "match("+s.Class.String()+") ", " {")
		for _, c := range s.Cases {
			p.b.WriteString(strings.Repeat("  ", p.indent))
			p.b.WriteString("on ")
			for i, l := range c.Labels {
				if i > 0 {
					p.b.WriteString(", ")
				}
				p.expr(l)
			}
			p.b.WriteString(" {\n")
			p.block(c.Body)
			p.linef("}")
		}
		if s.Else != nil {
			p.linef("else {")
			p.block(s.Else)
			p.linef("}")
		}
		p.linef("}")
	case *VarDecl:
		p.line(s.Var.Init, "var "+s.Var.Name+" = ", ";")
	case *AssignStmt:
		p.line(s.Value, s.Var.Name+" = ", ";")
	default:
		panic(fmt.Sprintf("BUG: unknown statement %T", s))
	}
}

func (p *printer) block(s Stmt) {
	p.indent++
	if s != nil {
		p.stmt(s)
	}
	p.indent--
}

func (p *printer) expr(e Expr) {
	switch e := e.(type) {
	case *BoolLiteral:
		p.b.WriteString(strconv.FormatBool(e.Value))
	case *NumberLiteral:
		p.b.WriteString(strconv.FormatInt(e.Value, 10))
	case *StringLiteral:
		p.b.WriteString(strconv.Quote(e.Value))
	case *IPAddressLiteral:
		p.b.WriteString(e.Value.String())
	case *CidrLiteral:
		p.b.WriteString(e.Value.String())
	case *RegExpLiteral:
		p.b.WriteString("/" + e.Pattern + "/")
	case *ArrayExpr:
		p.b.WriteString(e.Elem.String())
		p.b.WriteByte('[')
		for i, el := range e.Elements {
			if i > 0 {
				p.b.WriteString(", ")
			}
			p.expr(el)
		}
		p.b.WriteByte(']')
	case *VariableExpr:
		p.b.WriteString(e.Var.Name)
	case *HandlerRef:
		p.b.WriteString("&" + e.Handler.Name)
	case *UnaryExpr:
		p.b.WriteString(e.Op.String())
		p.b.WriteByte('(')
		p.expr(e.X)
		p.b.WriteByte(')')
	case *BinaryExpr:
		p.b.WriteByte('(')
		p.expr(e.X)
		p.b.WriteString(" " + e.Op.String() + " ")
		p.expr(e.Y)
		p.b.WriteByte(')')
	case *RegExpGroup:
		fmt.Fprintf(&p.b, "$%d", e.Group)
	case *CallExpr:
		switch c := e.Callee.(type) {
		case *Builtin:
			p.b.WriteString(c.Signature.String())
		case *Handler:
			p.b.WriteString(c.Name)
		}
		p.b.WriteByte('(')
		for i, a := range e.Args {
			if i > 0 {
				p.b.WriteString(", ")
			}
			p.expr(a)
		}
		p.b.WriteByte(')')
	default:
		panic(fmt.Sprintf("BUG: unknown expression %T", e))
	}
}
