package ir

import (
	"fmt"

	"github.com/xzero/flow/api"
)

// Handler is the IR of one flow handler: an ordered list of blocks with an explicit entry.
type Handler struct {
	valueBase
	program *Program
	blocks  []*BasicBlock
	entry   *BasicBlock
	// blockNames keeps block names unique within the handler.
	blockNames map[string]int
}

func newHandler(p *Program, name string) *Handler {
	h := &Handler{program: p, blockNames: map[string]int{}}
	h.typ = api.TypeHandler
	h.name = name
	return h
}

// Program returns the owning program.
func (h *Handler) Program() *Program { return h.program }

// Blocks returns the blocks in layout order. The returned slice must not be modified.
func (h *Handler) Blocks() []*BasicBlock { return h.blocks }

// EntryBlock returns the entry block.
func (h *Handler) EntryBlock() *BasicBlock { return h.entry }

// createBlock appends a new, empty block. Use Builder.CreateBlock.
func (h *Handler) createBlock(name string) *BasicBlock {
	if n, ok := h.blockNames[name]; ok {
		h.blockNames[name] = n + 1
		name = fmt.Sprintf("%s.%d", name, n+1)
	} else {
		h.blockNames[name] = 0
	}
	bb := newBasicBlock(h, name)
	h.blocks = append(h.blocks, bb)
	return bb
}

// Erase removes bb and all its instructions from the handler.
// Panics if bb is still a branch target, or if an instruction of bb is used outside of bb.
func (h *Handler) Erase(bb *BasicBlock) {
	if bb.IsUsed() {
		panic(fmt.Sprintf("BUG: erasing block %s which still has %d uses", bb.Name(), len(bb.uses)))
	}
	if bb == h.entry {
		panic(fmt.Sprintf("BUG: erasing entry block %s", bb.Name()))
	}
	for _, i := range bb.code {
		i.ClearOperands()
	}
	for _, i := range bb.code {
		if i.IsUsed() {
			panic(fmt.Sprintf("BUG: %s of erased block %s is still used", i.Name(), bb.Name()))
		}
		i.block = nil
	}
	bb.code = nil
	h.unlinkBlock(bb)
	bb.handler = nil
}

func (h *Handler) indexOf(bb *BasicBlock) int {
	for i, b := range h.blocks {
		if b == bb {
			return i
		}
	}
	panic(fmt.Sprintf("BUG: block %s not in handler %s", bb.Name(), h.name))
}

func (h *Handler) unlinkBlock(bb *BasicBlock) {
	idx := h.indexOf(bb)
	h.blocks = append(h.blocks[:idx], h.blocks[idx+1:]...)
}

func (h *Handler) insertBlock(idx int, bb *BasicBlock) {
	h.blocks = append(h.blocks, nil)
	copy(h.blocks[idx+1:], h.blocks[idx:])
	h.blocks[idx] = bb
}

// String implements fmt.Stringer.
func (h *Handler) String() string { return h.name }

var _ Value = (*Handler)(nil)
