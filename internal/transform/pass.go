// Package transform implements the IR optimization passes and the pass manager running
// them to a fixed point.
package transform

import (
	"github.com/tliron/commonlog"

	"github.com/xzero/flow/internal/ir"
)

var log = commonlog.GetLogger("flow.transform")

// HandlerPass rewrites a single handler. Run returns true if it changed anything; passes never
// fail, they either rewrite or leave the handler untouched.
type HandlerPass interface {
	Name() string
	Run(h *ir.Handler) bool
}

// PassManager runs a list of passes over every handler until none of them reports a change.
type PassManager struct {
	passes []HandlerPass
	verify bool
}

// NewPassManager returns a PassManager running the given passes in order.
func NewPassManager(passes ...HandlerPass) *PassManager {
	return &PassManager{passes: passes}
}

// NewPassManagerForLevel returns a PassManager with the pipeline of the optimization level:
//
//   - 0: no passes.
//   - 1: UnusedBlockPass and EmptyBlockElimination.
//   - 2 and above: InstructionElimination, EmptyBlockElimination and UnusedBlockPass.
func NewPassManagerForLevel(level int) *PassManager {
	switch {
	case level <= 0:
		return NewPassManager()
	case level == 1:
		return NewPassManager(UnusedBlockPass{}, EmptyBlockElimination{})
	default:
		return NewPassManager(InstructionElimination{}, EmptyBlockElimination{}, UnusedBlockPass{})
	}
}

// Register appends a pass.
func (pm *PassManager) Register(p HandlerPass) {
	pm.passes = append(pm.passes, p)
}

// Passes returns the registered passes in order.
func (pm *PassManager) Passes() []HandlerPass { return pm.passes }

// SetVerify enables verification of each handler after every round.
func (pm *PassManager) SetVerify(verify bool) {
	pm.verify = verify
}

// Run optimizes every handler of the program and returns the total number of rewrites.
func (pm *PassManager) Run(p *ir.Program) (rewrites int) {
	for _, h := range p.Handlers() {
		rewrites += pm.RunHandler(h)
	}
	return
}

// RunHandler applies the passes to h until a whole round leaves it unchanged, and returns the
// number of rewrites.
func (pm *PassManager) RunHandler(h *ir.Handler) (rewrites int) {
	if len(pm.passes) == 0 {
		return 0
	}
	for round := 1; ; round++ {
		changed := false
		for _, pass := range pm.passes {
			if pass.Run(h) {
				log.Debugf("handler %s: round %d: %s changed the handler", h.Name(), round, pass.Name())
				rewrites++
				changed = true
			}
		}
		if pm.verify {
			h.Verify()
		}
		if !changed {
			return
		}
	}
}

// newBuilderAt returns a builder appending to bb.
func newBuilderAt(bb *ir.BasicBlock) *ir.Builder {
	h := bb.Handler()
	b := ir.NewBuilder(h.Program())
	b.SetHandler(h)
	b.SetInsertPoint(bb)
	return b
}
