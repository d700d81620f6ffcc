package ir

import (
	"fmt"

	"github.com/xzero/flow/api"
)

// Opcode represents an IR instruction.
type Opcode uint32

// Instr represents an instruction whose opcode is specified by Opcode. Since Go doesn't
// have union types, this flattened type is used for all instructions and the meaning of
// the operands depends on the Opcode:
//
//   - OpcodeAlloca: [size]
//   - OpcodeLoad: [alloca]
//   - OpcodeStore: [alloca, value]
//   - unary operators: [x]; binary operators: [x, y]
//   - OpcodeRegExpGroup: [group]
//   - OpcodeCallFunction, OpcodeInvokeHandler: [builtin, args...]
//   - OpcodeBr: [target]
//   - OpcodeCondBr: [cond, trueBlock, falseBlock]
//   - OpcodeMatch: [cond, elseBlock, label0, case0, label1, case1, ...]
//   - OpcodeRet: [result]
type Instr struct {
	valueBase
	opcode     Opcode
	block      *BasicBlock
	operands   []Value
	matchClass api.MatchClass
}

const (
	OpcodeInvalid Opcode = iota

	OpcodeNop

	// OpcodeAlloca reserves storage for a local variable; its size operand is the element count.
	OpcodeAlloca
	OpcodeLoad
	OpcodeStore

	// numeric
	OpcodeNNeg
	OpcodeNNot
	OpcodeNAdd
	OpcodeNSub
	OpcodeNMul
	OpcodeNDiv
	OpcodeNRem
	OpcodeNShl
	OpcodeNShr
	OpcodeNPow
	OpcodeNAnd
	OpcodeNOr
	OpcodeNXor
	OpcodeNCmpEQ
	OpcodeNCmpNE
	OpcodeNCmpLE
	OpcodeNCmpGE
	OpcodeNCmpLT
	OpcodeNCmpGT

	// boolean
	OpcodeBNot
	OpcodeBAnd
	OpcodeBOr
	OpcodeBXor

	// string
	OpcodeSLen
	OpcodeSIsEmpty
	OpcodeSAdd
	OpcodeSCmpEQ
	OpcodeSCmpNE
	OpcodeSCmpLE
	OpcodeSCmpGE
	OpcodeSCmpLT
	OpcodeSCmpGT
	OpcodeSCmpRE
	OpcodeSCmpBeg
	OpcodeSCmpEnd
	OpcodeSIn

	// IP address and CIDR
	OpcodePCmpEQ
	OpcodePCmpNE
	OpcodePInCidr

	// casts
	OpcodeN2S
	OpcodeP2S
	OpcodeC2S
	OpcodeR2S
	OpcodeS2N
	OpcodeB2S

	OpcodeRegExpGroup

	OpcodeCallFunction
	OpcodeInvokeHandler

	// terminators
	OpcodeBr
	OpcodeCondBr
	OpcodeMatch
	OpcodeRet

	opcodeEnd
)

var opcodeNames = [...]string{
	OpcodeInvalid:       "invalid",
	OpcodeNop:           "nop",
	OpcodeAlloca:        "alloca",
	OpcodeLoad:          "load",
	OpcodeStore:         "store",
	OpcodeNNeg:          "nneg",
	OpcodeNNot:          "nnot",
	OpcodeNAdd:          "nadd",
	OpcodeNSub:          "nsub",
	OpcodeNMul:          "nmul",
	OpcodeNDiv:          "ndiv",
	OpcodeNRem:          "nrem",
	OpcodeNShl:          "nshl",
	OpcodeNShr:          "nshr",
	OpcodeNPow:          "npow",
	OpcodeNAnd:          "nand",
	OpcodeNOr:           "nor",
	OpcodeNXor:          "nxor",
	OpcodeNCmpEQ:        "ncmpeq",
	OpcodeNCmpNE:        "ncmpne",
	OpcodeNCmpLE:        "ncmple",
	OpcodeNCmpGE:        "ncmpge",
	OpcodeNCmpLT:        "ncmplt",
	OpcodeNCmpGT:        "ncmpgt",
	OpcodeBNot:          "bnot",
	OpcodeBAnd:          "band",
	OpcodeBOr:           "bor",
	OpcodeBXor:          "bxor",
	OpcodeSLen:          "slen",
	OpcodeSIsEmpty:      "sisempty",
	OpcodeSAdd:          "sadd",
	OpcodeSCmpEQ:        "scmpeq",
	OpcodeSCmpNE:        "scmpne",
	OpcodeSCmpLE:        "scmple",
	OpcodeSCmpGE:        "scmpge",
	OpcodeSCmpLT:        "scmplt",
	OpcodeSCmpGT:        "scmpgt",
	OpcodeSCmpRE:        "scmpre",
	OpcodeSCmpBeg:       "scmpbeg",
	OpcodeSCmpEnd:       "scmpend",
	OpcodeSIn:           "sin",
	OpcodePCmpEQ:        "pcmpeq",
	OpcodePCmpNE:        "pcmpne",
	OpcodePInCidr:       "pincidr",
	OpcodeN2S:           "n2s",
	OpcodeP2S:           "p2s",
	OpcodeC2S:           "c2s",
	OpcodeR2S:           "r2s",
	OpcodeS2N:           "s2n",
	OpcodeB2S:           "b2s",
	OpcodeRegExpGroup:   "regexpgroup",
	OpcodeCallFunction:  "call",
	OpcodeInvokeHandler: "handler",
	OpcodeBr:            "br",
	OpcodeCondBr:        "condbr",
	OpcodeMatch:         "match",
	OpcodeRet:           "ret",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < opcodeEnd {
		return opcodeNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", o)
}

// IsTerminator returns true if the opcode ends a basic block.
func (o Opcode) IsTerminator() bool {
	switch o {
	case OpcodeBr, OpcodeCondBr, OpcodeMatch, OpcodeRet:
		return true
	default:
		return false
	}
}

// IsUnary returns true for the opcodes taking exactly one value operand and producing a result.
func (o Opcode) IsUnary() bool {
	switch o {
	case OpcodeNNeg, OpcodeNNot, OpcodeBNot, OpcodeSLen, OpcodeSIsEmpty,
		OpcodeN2S, OpcodeP2S, OpcodeC2S, OpcodeR2S, OpcodeS2N, OpcodeB2S:
		return true
	default:
		return false
	}
}

// IsBinary returns true for the opcodes taking exactly two value operands and producing a result.
func (o Opcode) IsBinary() bool {
	return o >= OpcodeNAdd && o <= OpcodePInCidr && !o.IsUnary()
}

// resultType returns the result type of unary and binary operators.
func (o Opcode) resultType() api.Type {
	switch o {
	case OpcodeNNeg, OpcodeNNot, OpcodeNAdd, OpcodeNSub, OpcodeNMul, OpcodeNDiv, OpcodeNRem,
		OpcodeNShl, OpcodeNShr, OpcodeNPow, OpcodeNAnd, OpcodeNOr, OpcodeNXor,
		OpcodeSLen, OpcodeS2N:
		return api.TypeNumber
	case OpcodeSAdd, OpcodeN2S, OpcodeP2S, OpcodeC2S, OpcodeR2S, OpcodeB2S, OpcodeRegExpGroup:
		return api.TypeString
	case OpcodeNCmpEQ, OpcodeNCmpNE, OpcodeNCmpLE, OpcodeNCmpGE, OpcodeNCmpLT, OpcodeNCmpGT,
		OpcodeBNot, OpcodeBAnd, OpcodeBOr, OpcodeBXor, OpcodeSIsEmpty,
		OpcodeSCmpEQ, OpcodeSCmpNE, OpcodeSCmpLE, OpcodeSCmpGE, OpcodeSCmpLT, OpcodeSCmpGT,
		OpcodeSCmpRE, OpcodeSCmpBeg, OpcodeSCmpEnd, OpcodeSIn,
		OpcodePCmpEQ, OpcodePCmpNE, OpcodePInCidr:
		return api.TypeBoolean
	}
	return api.TypeVoid
}

func newInstr(op Opcode, typ api.Type, operands ...Value) *Instr {
	i := &Instr{opcode: op}
	i.typ = typ
	for _, o := range operands {
		i.AddOperand(o)
	}
	return i
}

// Opcode returns the opcode of this instruction.
func (i *Instr) Opcode() Opcode { return i.opcode }

// Block returns the block this instruction is linked into, or nil.
func (i *Instr) Block() *BasicBlock { return i.block }

// IsTerminator returns true if this instruction ends its basic block.
func (i *Instr) IsTerminator() bool { return i.opcode.IsTerminator() }

// Operands returns the operand list. The returned slice must not be modified.
func (i *Instr) Operands() []Value { return i.operands }

// Operand returns the n-th operand.
func (i *Instr) Operand(n int) Value { return i.operands[n] }

// AddOperand appends an operand and registers the use.
func (i *Instr) AddOperand(v Value) {
	if v == nil {
		panic(fmt.Sprintf("BUG: nil operand for %s", i.opcode))
	}
	i.operands = append(i.operands, v)
	v.base().addUse(i)
}

// SetOperand replaces the n-th operand, moving the use from the old value to v.
func (i *Instr) SetOperand(n int, v Value) {
	if old := i.operands[n]; old != nil {
		old.base().removeUse(i)
	}
	i.operands[n] = v
	v.base().addUse(i)
}

// ReplaceOperand replaces every occurrence of old in the operand list by replacement and
// returns the number of replaced slots.
func (i *Instr) ReplaceOperand(old, replacement Value) (n int) {
	for idx, o := range i.operands {
		if o == old {
			i.SetOperand(idx, replacement)
			n++
		}
	}
	return
}

// ClearOperands drops all operands together with their uses.
func (i *Instr) ClearOperands() {
	for _, o := range i.operands {
		o.base().removeUse(i)
	}
	i.operands = nil
}

// Erase unlinks this instruction from its block and drops its operands.
// Panics if the result of the instruction is still in use.
func (i *Instr) Erase() {
	if i.IsUsed() {
		panic(fmt.Sprintf("BUG: erasing %s which still has %d uses", i.Name(), len(i.uses)))
	}
	if i.block != nil {
		i.block.Remove(i)
	}
	i.ClearOperands()
}

// Clone returns an unlinked copy of this instruction with the same opcode and operands.
func (i *Instr) Clone() *Instr {
	c := newInstr(i.opcode, i.typ, i.operands...)
	c.matchClass = i.matchClass
	return c
}

// MatchClass returns the match class of an OpcodeMatch instruction.
func (i *Instr) MatchClass() api.MatchClass { return i.matchClass }

// Callee returns the builtin of OpcodeCallFunction and OpcodeInvokeHandler.
func (i *Instr) Callee() *Builtin { return i.operands[0].(*Builtin) }

// Args returns the call arguments of OpcodeCallFunction and OpcodeInvokeHandler.
func (i *Instr) Args() []Value { return i.operands[1:] }

// BranchTarget returns the target of OpcodeBr.
func (i *Instr) BranchTarget() *BasicBlock { return i.operands[0].(*BasicBlock) }

// CondBrTargets returns the condition and targets of OpcodeCondBr.
func (i *Instr) CondBrTargets() (cond Value, trueBlock, falseBlock *BasicBlock) {
	return i.operands[0], i.operands[1].(*BasicBlock), i.operands[2].(*BasicBlock)
}

// MatchCase is one (label, target) pair of an OpcodeMatch instruction.
type MatchCase struct {
	Label *Constant
	Block *BasicBlock
}

// MatchCondition returns the condition operand of OpcodeMatch.
func (i *Instr) MatchCondition() Value { return i.operands[0] }

// MatchElse returns the else target of OpcodeMatch.
func (i *Instr) MatchElse() *BasicBlock { return i.operands[1].(*BasicBlock) }

// MatchCases returns the cases of OpcodeMatch in insertion order.
func (i *Instr) MatchCases() []MatchCase {
	cases := make([]MatchCase, 0, (len(i.operands)-2)/2)
	for n := 2; n+1 < len(i.operands); n += 2 {
		cases = append(cases, MatchCase{Label: i.operands[n].(*Constant), Block: i.operands[n+1].(*BasicBlock)})
	}
	return cases
}

// AddCase appends a case to an OpcodeMatch instruction.
func (i *Instr) AddCase(label *Constant, target *BasicBlock) {
	if i.opcode != OpcodeMatch {
		panic(fmt.Sprintf("BUG: AddCase on %s", i.opcode))
	}
	i.AddOperand(label)
	i.AddOperand(target)
}

// RetResult returns the constant result of OpcodeRet.
func (i *Instr) RetResult() *Constant { return i.operands[0].(*Constant) }

// successors returns the distinct block operands of a terminator in operand order.
func (i *Instr) successors() []*BasicBlock {
	var ret []*BasicBlock
	for _, o := range i.operands {
		bb, ok := o.(*BasicBlock)
		if !ok {
			continue
		}
		dup := false
		for _, s := range ret {
			if s == bb {
				dup = true
				break
			}
		}
		if !dup {
			ret = append(ret, bb)
		}
	}
	return ret
}
