package ir

import (
	"fmt"
)

// Verify checks the structural invariants of the handler and panics on the first violation:
//
//   - the entry block is set and is the first block,
//   - every block is non-empty and ends in its only terminator,
//   - every instruction is linked to the block it is found in,
//   - operands are program-level values or belong to this handler,
//   - every operand slot is mirrored by exactly one entry in the operand's use list.
func (h *Handler) Verify() {
	if h.entry == nil {
		panic(fmt.Sprintf("BUG: handler %s has no entry block", h.name))
	}
	if len(h.blocks) == 0 || h.blocks[0] != h.entry {
		panic(fmt.Sprintf("BUG: entry block of handler %s is not laid out first", h.name))
	}

	for _, bb := range h.blocks {
		if bb.handler != h {
			panic(fmt.Sprintf("BUG: block %s is linked to the wrong handler", bb.name))
		}
		if bb.Empty() {
			panic(fmt.Sprintf("BUG: block %s in handler %s is empty", bb.name, h.name))
		}
		for n, i := range bb.code {
			if i.block != bb {
				panic(fmt.Sprintf("BUG: %s in block %s is linked to another block", i.Format(), bb.name))
			}
			last := n == len(bb.code)-1
			if last && !i.IsTerminator() {
				panic(fmt.Sprintf("BUG: block %s in handler %s does not end with a terminator", bb.name, h.name))
			}
			if !last && i.IsTerminator() {
				panic(fmt.Sprintf("BUG: terminator %s in the middle of block %s", i.Format(), bb.name))
			}
			h.verifyOperands(i)
		}
	}
}

func (h *Handler) verifyOperands(i *Instr) {
	for _, o := range i.operands {
		switch o := o.(type) {
		case *Instr:
			if o.block == nil || o.block.handler != h {
				panic(fmt.Sprintf("BUG: %s uses %%%s which is not in handler %s", i.Format(), o.name, h.name))
			}
		case *BasicBlock:
			if o.handler != h {
				panic(fmt.Sprintf("BUG: %s branches to block %s of another handler", i.Format(), o.name))
			}
		case *Handler:
			if o.program != h.program {
				panic(fmt.Sprintf("BUG: %s refers to foreign handler %s", i.Format(), o.name))
			}
		case *Constant, *Builtin:
		default:
			panic(fmt.Sprintf("BUG: %s has an operand of unknown kind %T", i.Format(), o))
		}

		slots, uses := 0, 0
		for _, other := range i.operands {
			if other == o {
				slots++
			}
		}
		for _, u := range o.Uses() {
			if u == i {
				uses++
			}
		}
		if slots != uses {
			panic(fmt.Sprintf("BUG: %s refers to %s %d times but is recorded %d times in its use list",
				i.Format(), formatOperand(o), slots, uses))
		}
	}
}

// Verify runs Handler.Verify on every handler.
func (p *Program) Verify() {
	for _, h := range p.handlers {
		h.Verify()
	}
}
