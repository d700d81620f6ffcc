package ir

import (
	"fmt"

	"github.com/xzero/flow/api"
)

// BasicBlock is a straight-line sequence of instructions ending in exactly one terminator.
//
// The uses of a BasicBlock are the terminators branching to it, so predecessors are derived
// from the use list and successors from the terminator's operands; neither is stored.
type BasicBlock struct {
	valueBase
	handler *Handler
	code    []*Instr
}

// Handler returns the handler this block belongs to.
func (b *BasicBlock) Handler() *Handler { return b.handler }

// Instructions returns the instructions of this block. The returned slice must not be modified.
func (b *BasicBlock) Instructions() []*Instr { return b.code }

// Len returns the number of instructions.
func (b *BasicBlock) Len() int { return len(b.code) }

// Empty returns true if the block has no instructions.
func (b *BasicBlock) Empty() bool { return len(b.code) == 0 }

// Back returns the last instruction, or nil.
func (b *BasicBlock) Back() *Instr {
	if len(b.code) == 0 {
		return nil
	}
	return b.code[len(b.code)-1]
}

// Terminator returns the terminating instruction, or nil if the block is not terminated yet.
func (b *BasicBlock) Terminator() *Instr {
	if back := b.Back(); back != nil && back.IsTerminator() {
		return back
	}
	return nil
}

// IsEntry returns true if this is the entry block of its handler.
func (b *BasicBlock) IsEntry() bool {
	return b.handler != nil && b.handler.entry == b
}

// Append links i at the end of this block.
func (b *BasicBlock) Append(i *Instr) *Instr {
	if i.block != nil {
		panic(fmt.Sprintf("BUG: %s is already linked into %s", i.opcode, i.block.Name()))
	}
	i.block = b
	b.code = append(b.code, i)
	return i
}

// Remove unlinks i from this block without touching its operands or uses.
func (b *BasicBlock) Remove(i *Instr) *Instr {
	for idx, instr := range b.code {
		if instr == i {
			b.code = append(b.code[:idx], b.code[idx+1:]...)
			i.block = nil
			return i
		}
	}
	panic(fmt.Sprintf("BUG: %s is not in block %s", i.opcode, b.Name()))
}

// MergeBack moves every instruction of other to the end of this block, leaving other empty.
func (b *BasicBlock) MergeBack(other *BasicBlock) {
	for _, i := range other.code {
		i.block = b
		b.code = append(b.code, i)
	}
	other.code = nil
}

// Predecessors returns the distinct blocks whose terminator branches to this block.
func (b *BasicBlock) Predecessors() []*BasicBlock {
	var ret []*BasicBlock
	for _, user := range b.uses {
		if !user.IsTerminator() || user.block == nil {
			continue
		}
		dup := false
		for _, p := range ret {
			if p == user.block {
				dup = true
				break
			}
		}
		if !dup {
			ret = append(ret, user.block)
		}
	}
	return ret
}

// Successors returns the distinct blocks this block's terminator branches to.
func (b *BasicBlock) Successors() []*BasicBlock {
	if t := b.Terminator(); t != nil {
		return t.successors()
	}
	return nil
}

// IsSuccessor returns true if other is a successor of this block.
func (b *BasicBlock) IsSuccessor(other *BasicBlock) bool {
	for _, s := range b.Successors() {
		if s == other {
			return true
		}
	}
	return false
}

// MoveAfter moves this block right after other in the handler's block order.
func (b *BasicBlock) MoveAfter(other *BasicBlock) {
	h := b.handler
	h.unlinkBlock(b)
	h.insertBlock(h.indexOf(other)+1, b)
}

// IsAfter returns true if this block is laid out directly after other.
func (b *BasicBlock) IsAfter(other *BasicBlock) bool {
	h := b.handler
	idx := h.indexOf(b)
	return idx > 0 && h.blocks[idx-1] == other
}

// String implements fmt.Stringer.
func (b *BasicBlock) String() string { return b.name }

var _ Value = (*BasicBlock)(nil)

func newBasicBlock(h *Handler, name string) *BasicBlock {
	b := &BasicBlock{handler: h}
	b.typ = api.TypeVoid
	b.name = name
	return b
}
