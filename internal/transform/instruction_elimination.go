package transform

import (
	"github.com/xzero/flow/internal/ir"
)

// InstructionElimination performs local rewrites of instructions, one per run:
//
//   - a condbr whose targets are the same block becomes a br,
//   - a br to a block whose only predecessor is the branching block merges both blocks,
//   - a condbr on a constant becomes a br to the taken target,
//   - a br to a block consisting of a single ret becomes a copy of that ret,
//   - side-effect free instructions whose result is unused are removed.
type InstructionElimination struct{}

// Name implements HandlerPass.Name.
func (InstructionElimination) Name() string { return "InstructionElimination" }

// Run implements HandlerPass.Run.
func (InstructionElimination) Run(h *ir.Handler) bool {
	blocks := append([]*ir.BasicBlock(nil), h.Blocks()...)
	for _, bb := range blocks {
		if bb.Handler() == nil {
			// merged away by an earlier rewrite.
			continue
		}
		for _, rewrite := range []func(*ir.BasicBlock) bool{
			rewriteCondBrToSameBranches,
			eliminateLinearBr,
			foldConstantCondBr,
			branchToExit,
			eliminateUnusedInstr,
		} {
			if rewrite(bb) {
				return true
			}
		}
	}
	return false
}

func rewriteCondBrToSameBranches(bb *ir.BasicBlock) bool {
	t := bb.Terminator()
	if t == nil || t.Opcode() != ir.OpcodeCondBr {
		return false
	}
	_, trueBlock, falseBlock := t.CondBrTargets()
	if trueBlock != falseBlock {
		return false
	}
	log.Debugf("%s: condbr to the same target %s", bb.Name(), trueBlock.Name())
	t.Erase()
	newBuilderAt(bb).CreateBr(trueBlock)
	return true
}

func eliminateLinearBr(bb *ir.BasicBlock) bool {
	t := bb.Terminator()
	if t == nil || t.Opcode() != ir.OpcodeBr {
		return false
	}
	target := t.BranchTarget()
	if target == bb || target.IsEntry() || len(target.Uses()) != 1 {
		return false
	}
	log.Debugf("%s: merging linear successor %s", bb.Name(), target.Name())
	t.Erase()
	bb.MergeBack(target)
	bb.Handler().Erase(target)
	return true
}

func foldConstantCondBr(bb *ir.BasicBlock) bool {
	t := bb.Terminator()
	if t == nil || t.Opcode() != ir.OpcodeCondBr {
		return false
	}
	cond, trueBlock, falseBlock := t.CondBrTargets()
	c, ok := cond.(*ir.Constant)
	if !ok {
		return false
	}
	taken := falseBlock
	if c.Bool() {
		taken = trueBlock
	}
	log.Debugf("%s: condbr on constant %s always branches to %s", bb.Name(), c, taken.Name())
	t.Erase()
	newBuilderAt(bb).CreateBr(taken)
	return true
}

func branchToExit(bb *ir.BasicBlock) bool {
	t := bb.Terminator()
	if t == nil || t.Opcode() != ir.OpcodeBr {
		return false
	}
	target := t.BranchTarget()
	if target == bb || target.Len() != 1 || target.Back().Opcode() != ir.OpcodeRet {
		return false
	}
	log.Debugf("%s: br to exit block %s replaced by its ret", bb.Name(), target.Name())
	t.Erase()
	bb.Append(target.Back().Clone())
	return true
}

func eliminateUnusedInstr(bb *ir.BasicBlock) bool {
	for _, i := range bb.Instructions() {
		if i.IsUsed() || !isSideEffectFree(i) {
			continue
		}
		log.Debugf("%s: removing unused %s", bb.Name(), i.Format())
		i.Erase()
		return true
	}
	return false
}

// isSideEffectFree returns true if removing i does not change the program's behavior
// provided that its result is unused.
func isSideEffectFree(i *ir.Instr) bool {
	switch op := i.Opcode(); {
	case op == ir.OpcodeCallFunction:
		return i.Callee().ReadOnly()
	case op == ir.OpcodeSCmpRE:
		// updates the regexp group context.
		return false
	case op == ir.OpcodeLoad, op == ir.OpcodeRegExpGroup, op.IsUnary(), op.IsBinary():
		return true
	}
	return false
}
