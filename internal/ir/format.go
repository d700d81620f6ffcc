package ir

import (
	"fmt"
	"strings"

	"github.com/xzero/flow/api"
)

// formatOperand renders v as it appears in an operand position.
func formatOperand(v Value) string {
	switch v := v.(type) {
	case *Constant:
		return v.String()
	case *BasicBlock:
		return v.name
	case *Builtin:
		return v.sig.String()
	case *Handler:
		return "@" + v.name
	default:
		return "%" + v.Name()
	}
}

// Format returns a human-readable representation of this instruction.
func (i *Instr) Format() string {
	var b strings.Builder
	if i.typ != api.TypeVoid && i.opcode != OpcodeAlloca {
		fmt.Fprintf(&b, "%%%s = ", i.name)
	}
	switch i.opcode {
	case OpcodeAlloca:
		fmt.Fprintf(&b, "%%%s = alloca %s, %s", i.name, i.typ, formatOperand(i.operands[0]))
	case OpcodeMatch:
		fmt.Fprintf(&b, "match.%s %s, else %s", i.matchClass, formatOperand(i.operands[0]), formatOperand(i.operands[1]))
		for _, c := range i.MatchCases() {
			fmt.Fprintf(&b, ", %s -> %s", formatOperand(c.Label), c.Block.name)
		}
	default:
		b.WriteString(i.opcode.String())
		for n, o := range i.operands {
			if n == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteString(", ")
			}
			b.WriteString(formatOperand(o))
		}
	}
	return b.String()
}

// String implements fmt.Stringer.
func (i *Instr) String() string { return i.Format() }

// Format returns a human-readable representation of the block and its instructions.
func (b *BasicBlock) Format() string {
	var s strings.Builder
	s.WriteString(b.name)
	s.WriteByte(':')
	if preds := b.Predecessors(); len(preds) > 0 {
		names := make([]string, len(preds))
		for i, p := range preds {
			names[i] = p.name
		}
		s.WriteString(" ; preds: ")
		s.WriteString(strings.Join(names, ", "))
	}
	s.WriteByte('\n')
	for _, i := range b.code {
		s.WriteByte('\t')
		s.WriteString(i.Format())
		s.WriteByte('\n')
	}
	return s.String()
}

// Format returns a human-readable representation of the whole handler.
func (h *Handler) Format() string {
	var s strings.Builder
	fmt.Fprintf(&s, "handler %s {\n", h.name)
	for _, bb := range h.blocks {
		s.WriteString(bb.Format())
	}
	s.WriteString("}\n")
	return s.String()
}

// Format returns a human-readable representation of the whole program.
func (p *Program) Format() string {
	var s strings.Builder
	for _, imp := range p.imports {
		if imp.Path != "" {
			fmt.Fprintf(&s, "import %s from %q\n", imp.Name, imp.Path)
		} else {
			fmt.Fprintf(&s, "import %s\n", imp.Name)
		}
	}
	for _, h := range p.handlers {
		s.WriteString(h.Format())
	}
	return s.String()
}
