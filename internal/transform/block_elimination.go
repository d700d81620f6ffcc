package transform

import (
	"github.com/xzero/flow/internal/ir"
)

// EmptyBlockElimination removes blocks consisting of only an unconditional branch by
// redirecting their predecessors to the branch target. The entry block is never removed.
type EmptyBlockElimination struct{}

// Name implements HandlerPass.Name.
func (EmptyBlockElimination) Name() string { return "EmptyBlockElimination" }

// Run implements HandlerPass.Run.
func (EmptyBlockElimination) Run(h *ir.Handler) (changed bool) {
	blocks := append([]*ir.BasicBlock(nil), h.Blocks()...)
	for _, bb := range blocks {
		if bb.IsEntry() || bb.Len() != 1 {
			continue
		}
		br := bb.Back()
		if br.Opcode() != ir.OpcodeBr || br.BranchTarget() == bb {
			continue
		}
		target := br.BranchTarget()
		log.Debugf("%s: redirecting predecessors of empty block %s to %s", h.Name(), bb.Name(), target.Name())
		ir.ReplaceAllUsesWith(bb, target)
		h.Erase(bb)
		changed = true
	}
	return
}

// UnusedBlockPass removes blocks which cannot be reached from the entry block. Every
// non-entry block without predecessors is such a block, as are the blocks only reachable
// through them.
type UnusedBlockPass struct{}

// Name implements HandlerPass.Name.
func (UnusedBlockPass) Name() string { return "UnusedBlockPass" }

// Run implements HandlerPass.Run.
func (UnusedBlockPass) Run(h *ir.Handler) bool {
	reachable := map[*ir.BasicBlock]struct{}{}
	stack := []*ir.BasicBlock{h.EntryBlock()}
	for len(stack) > 0 {
		bb := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := reachable[bb]; ok {
			continue
		}
		reachable[bb] = struct{}{}
		stack = append(stack, bb.Successors()...)
	}

	var dead []*ir.BasicBlock
	for _, bb := range h.Blocks() {
		if _, ok := reachable[bb]; !ok {
			dead = append(dead, bb)
		}
	}
	if len(dead) == 0 {
		return false
	}

	// Dead blocks may branch to each other and use each other's values, so drop all of their
	// operands before erasing any of them.
	for _, bb := range dead {
		for _, i := range bb.Instructions() {
			i.ClearOperands()
		}
	}
	for _, bb := range dead {
		log.Debugf("%s: removing unreachable block %s", h.Name(), bb.Name())
		h.Erase(bb)
	}
	return true
}
