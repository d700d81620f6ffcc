// Package codegen translates the IR into vm bytecode.
package codegen

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/xzero/flow/api"
	"github.com/xzero/flow/internal/ir"
	"github.com/xzero/flow/vm"
)

var log = commonlog.GetLogger("flow.codegen")

// maxOperand is the largest register, pool index or jump target an instruction can encode.
const maxOperand = 1<<16 - 1

// Generate translates every handler of p into bytecode sharing one set of constant pools,
// match tables and native signature tables. p must have passed verification. The block order
// of every handler is rearranged to the emitted layout.
func Generate(p *ir.Program) (*vm.ProgramData, error) {
	g := &generator{
		data:        &vm.ProgramData{},
		numbers:     map[int64]int{},
		strings:     map[string]int{},
		ipaddrs:     map[string]int{},
		cidrs:       map[string]int{},
		regexps:     map[string]int{},
		nativeFuncs: map[string]int{},
		nativeHands: map[string]int{},
		handlerIDs:  map[*ir.Handler]int{},
	}
	for _, imp := range p.Imports() {
		g.data.Modules = append(g.data.Modules, vm.ModuleDef{Name: imp.Name, Path: imp.Path})
	}
	for i, h := range p.Handlers() {
		g.handlerIDs[h] = i
	}
	for _, h := range p.Handlers() {
		def, err := g.handler(h)
		if err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.Name(), err)
		}
		log.Debugf("handler %s: %d instructions, %d registers", def.Name, len(def.Code), def.RegisterCount)
		g.data.Handlers = append(g.data.Handlers, def)
	}
	return g.data, nil
}

type generator struct {
	data *vm.ProgramData

	// pool indices by value
	numbers     map[int64]int
	strings     map[string]int
	ipaddrs     map[string]int
	cidrs       map[string]int
	regexps     map[string]int
	nativeFuncs map[string]int
	nativeHands map[string]int
	handlerIDs  map[*ir.Handler]int

	// per handler state, reset by handler
	handlerID int
	code      []vm.Instruction
	nextReg   int
	registers map[ir.Value]int
	// constants caches the registers constants were loaded into within the current block.
	constants map[*ir.Constant]int
	layout    []*ir.BasicBlock
	blockPCs  map[*ir.BasicBlock]int
	fixups    []fixup
	err       error
}

// fixup patches a jump target operand once all block positions are known.
type fixup struct {
	pc     int
	target *ir.BasicBlock
	// operand is 0 for A and 1 for B.
	operand int
}

// matchFixup resolves the targets of a match table entry.
type matchFixup struct {
	match   int
	elseBB  *ir.BasicBlock
	caseBBs []*ir.BasicBlock
}

func (g *generator) handler(h *ir.Handler) (vm.HandlerDef, error) {
	g.handlerID = g.handlerIDs[h]
	g.code = g.code[:0]
	g.nextReg = 1
	g.registers = map[ir.Value]int{}
	g.blockPCs = map[*ir.BasicBlock]int{}
	g.fixups = g.fixups[:0]
	g.err = nil
	g.layout = layoutBlocks(h)

	var matches []matchFixup
	for n, bb := range g.layout {
		var next *ir.BasicBlock
		if n+1 < len(g.layout) {
			next = g.layout[n+1]
		}
		g.blockPCs[bb] = len(g.code)
		g.constants = map[*ir.Constant]int{}
		for _, i := range bb.Instructions() {
			if i.Opcode() == ir.OpcodeMatch {
				matches = append(matches, g.match(i))
				continue
			}
			g.instr(i, next)
		}
	}
	if g.err != nil {
		return vm.HandlerDef{}, g.err
	}

	for _, f := range g.fixups {
		pc := g.operand(g.blockPCs[f.target], "jump target")
		in := g.code[f.pc]
		switch f.operand {
		case 0:
			g.code[f.pc] = vm.MakeInstruction(in.Opcode(), pc)
		case 1:
			g.code[f.pc] = vm.MakeInstruction(in.Opcode(), in.A(), pc)
		}
	}
	for _, m := range matches {
		def := &g.data.Matches[m.match]
		def.ElsePC = g.blockPCs[m.elseBB]
		for n, bb := range m.caseBBs {
			def.Cases[n].PC = g.blockPCs[bb]
		}
	}
	if g.err != nil {
		return vm.HandlerDef{}, g.err
	}

	return vm.HandlerDef{
		Name:          h.Name(),
		RegisterCount: g.nextReg,
		Code:          append([]vm.Instruction(nil), g.code...),
	}, nil
}

// layoutBlocks orders the blocks depth-first from the entry, visiting successors in operand
// order so that the first successor of a terminator tends to become the fall-through block.
// Blocks unreachable from the entry are appended in their original order. The order is
// committed to h.
func layoutBlocks(h *ir.Handler) []*ir.BasicBlock {
	visited := map[*ir.BasicBlock]bool{}
	var order []*ir.BasicBlock
	var visit func(bb *ir.BasicBlock)
	visit = func(bb *ir.BasicBlock) {
		if visited[bb] {
			return
		}
		visited[bb] = true
		order = append(order, bb)
		for _, succ := range bb.Successors() {
			visit(succ)
		}
	}
	visit(h.EntryBlock())
	for _, bb := range h.Blocks() {
		if !visited[bb] {
			order = append(order, bb)
		}
	}
	for n := 1; n < len(order); n++ {
		if !order[n].IsAfter(order[n-1]) {
			order[n].MoveAfter(order[n-1])
		}
	}
	return h.Blocks()
}

func (g *generator) fail(format string, args ...interface{}) {
	if g.err == nil {
		g.err = fmt.Errorf(format, args...)
	}
}

// operand checks that n fits into an instruction operand.
func (g *generator) operand(n int, what string) vm.Operand {
	if n < 0 || n > maxOperand {
		g.fail("%s %d exceeds the operand limit of %d", what, n, maxOperand)
		return 0
	}
	return vm.Operand(n)
}

func (g *generator) emit(op vm.Opcode, operands ...vm.Operand) int {
	g.code = append(g.code, vm.MakeInstruction(op, operands...))
	return len(g.code) - 1
}

func (g *generator) allocate(n int) vm.Operand {
	r := g.nextReg
	g.nextReg += n
	g.operand(g.nextReg-1, "register")
	return vm.Operand(r)
}

func (g *generator) emitJump(op vm.Opcode, cond vm.Operand, target *ir.BasicBlock) {
	if op == vm.JMP {
		g.fixups = append(g.fixups, fixup{pc: g.emit(op, 0), target: target, operand: 0})
		return
	}
	g.fixups = append(g.fixups, fixup{pc: g.emit(op, cond, 0), target: target, operand: 1})
}

// value returns the register holding v, loading constants on first use within a block.
func (g *generator) value(v ir.Value) vm.Operand {
	switch v := v.(type) {
	case *ir.Constant:
		if r, ok := g.constants[v]; ok {
			return vm.Operand(r)
		}
		r := g.allocate(1)
		g.loadConstant(r, v)
		g.constants[v] = int(r)
		return r
	case *ir.Handler:
		id, ok := g.handlerIDs[v]
		if !ok {
			panic(fmt.Sprintf("BUG: handler %s is not part of the program", v.Name()))
		}
		r := g.allocate(1)
		g.emit(vm.IMOV, r, g.operand(id, "handler index"))
		return r
	case *ir.Instr:
		r, ok := g.registers[v]
		if !ok {
			panic(fmt.Sprintf("BUG: %s used before its definition", v.Format()))
		}
		return vm.Operand(r)
	}
	panic(fmt.Sprintf("BUG: cannot load %T into a register", v))
}

func (g *generator) loadConstant(r vm.Operand, c *ir.Constant) {
	switch t := c.Type(); t {
	case api.TypeBoolean, api.TypeNumber:
		if n := c.Int(); n >= 0 && n <= maxOperand {
			g.emit(vm.IMOV, r, vm.Operand(n))
		} else {
			g.emit(vm.NCONST, r, intern(g, g.numbers, &g.data.Numbers, n, n, "number"))
		}
	case api.TypeString:
		g.emit(vm.SCONST, r, g.stringConstant(c.Str()))
	case api.TypeIPAddress:
		s := c.IPAddress().String()
		g.emit(vm.PCONST, r, intern(g, g.ipaddrs, &g.data.IPAddrs, s, s, "ipaddr"))
	case api.TypeCidr:
		s := c.Cidr().String()
		g.emit(vm.CCONST, r, intern(g, g.cidrs, &g.data.Cidrs, s, s, "cidr"))
	case api.TypeRegExp:
		g.emit(vm.RCONST, r, g.regexpConstant(c.Str()))
	case api.TypeIntArray, api.TypeStringArray, api.TypeIPAddrArray, api.TypeCidrArray:
		// r refers to a window holding the element count followed by the elements.
		elems := c.Elements()
		window := g.allocate(len(elems) + 1)
		g.emit(vm.IMOV, window, g.operand(len(elems), "array length"))
		for n, e := range elems {
			g.loadConstant(window+vm.Operand(n+1), e)
		}
		g.emit(vm.IMOV, r, window)
	default:
		panic(fmt.Sprintf("BUG: constant of type %s", t))
	}
}

// intern returns the index of value in pool, appending it on first use.
func intern[K comparable, V any](g *generator, index map[K]int, pool *[]V, key K, value V, what string) vm.Operand {
	n, ok := index[key]
	if !ok {
		n = len(*pool)
		*pool = append(*pool, value)
		index[key] = n
	}
	return g.operand(n, what+" constant")
}

func (g *generator) stringConstant(s string) vm.Operand {
	return intern(g, g.strings, &g.data.Strings, s, s, "string")
}

func (g *generator) regexpConstant(pattern string) vm.Operand {
	return intern(g, g.regexps, &g.data.RegExps, pattern, pattern, "regexp")
}

func (g *generator) nativeFunction(sig string) vm.Operand {
	return intern(g, g.nativeFuncs, &g.data.NativeFunctionSignatures, sig, sig, "native function")
}

func (g *generator) nativeHandler(sig string) vm.Operand {
	return intern(g, g.nativeHands, &g.data.NativeHandlerSignatures, sig, sig, "native handler")
}

var unaryOps = map[ir.Opcode]vm.Opcode{
	ir.OpcodeNNeg:     vm.NNEG,
	ir.OpcodeNNot:     vm.NNOT,
	ir.OpcodeBNot:     vm.BNOT,
	ir.OpcodeSLen:     vm.SLEN,
	ir.OpcodeSIsEmpty: vm.SISEMPTY,
	ir.OpcodeN2S:      vm.N2S,
	ir.OpcodeP2S:      vm.P2S,
	ir.OpcodeC2S:      vm.C2S,
	ir.OpcodeR2S:      vm.R2S,
	ir.OpcodeS2N:      vm.S2N,
	ir.OpcodeB2S:      vm.B2S,
}

var binaryOps = map[ir.Opcode]vm.Opcode{
	ir.OpcodeNAdd:    vm.NADD,
	ir.OpcodeNSub:    vm.NSUB,
	ir.OpcodeNMul:    vm.NMUL,
	ir.OpcodeNDiv:    vm.NDIV,
	ir.OpcodeNRem:    vm.NREM,
	ir.OpcodeNShl:    vm.NSHL,
	ir.OpcodeNShr:    vm.NSHR,
	ir.OpcodeNPow:    vm.NPOW,
	ir.OpcodeNAnd:    vm.NAND,
	ir.OpcodeNOr:     vm.NOR,
	ir.OpcodeNXor:    vm.NXOR,
	ir.OpcodeNCmpEQ:  vm.NCMPEQ,
	ir.OpcodeNCmpNE:  vm.NCMPNE,
	ir.OpcodeNCmpLE:  vm.NCMPLE,
	ir.OpcodeNCmpGE:  vm.NCMPGE,
	ir.OpcodeNCmpLT:  vm.NCMPLT,
	ir.OpcodeNCmpGT:  vm.NCMPGT,
	ir.OpcodeBAnd:    vm.BAND,
	ir.OpcodeBOr:     vm.BOR,
	ir.OpcodeBXor:    vm.BXOR,
	ir.OpcodeSAdd:    vm.SADD,
	ir.OpcodeSCmpEQ:  vm.SCMPEQ,
	ir.OpcodeSCmpNE:  vm.SCMPNE,
	ir.OpcodeSCmpLE:  vm.SCMPLE,
	ir.OpcodeSCmpGE:  vm.SCMPGE,
	ir.OpcodeSCmpLT:  vm.SCMPLT,
	ir.OpcodeSCmpGT:  vm.SCMPGT,
	ir.OpcodeSCmpRE:  vm.SREGMATCH,
	ir.OpcodeSCmpBeg: vm.SCMPBEG,
	ir.OpcodeSCmpEnd: vm.SCMPEND,
	ir.OpcodeSIn:     vm.SCONTAINS,
	ir.OpcodePCmpEQ:  vm.PCMPEQ,
	ir.OpcodePCmpNE:  vm.PCMPNE,
	ir.OpcodePInCidr: vm.PINCIDR,
}

var matchOps = map[api.MatchClass]vm.Opcode{
	api.MatchSame:   vm.SMATCHEQ,
	api.MatchHead:   vm.SMATCHBEG,
	api.MatchTail:   vm.SMATCHEND,
	api.MatchRegExp: vm.SMATCHR,
}

// instr lowers a non-match instruction. next is the block placed after the current one,
// which branches fall through to.
func (g *generator) instr(i *ir.Instr, next *ir.BasicBlock) {
	switch op := i.Opcode(); op {
	case ir.OpcodeNop:
	case ir.OpcodeAlloca:
		g.registers[i] = int(g.allocate(1))
	case ir.OpcodeLoad:
		r := g.allocate(1)
		g.emit(vm.MOV, r, g.value(i.Operand(0)))
		g.registers[i] = int(r)
	case ir.OpcodeStore:
		g.emit(vm.MOV, g.value(i.Operand(0)), g.value(i.Operand(1)))
	case ir.OpcodeRegExpGroup:
		group := g.value(i.Operand(0))
		r := g.allocate(1)
		g.emit(vm.SREGGROUP, r, group)
		g.registers[i] = int(r)
	case ir.OpcodeCallFunction, ir.OpcodeInvokeHandler:
		g.call(i)
	case ir.OpcodeBr:
		if target := i.BranchTarget(); target != next {
			g.emitJump(vm.JMP, 0, target)
		}
	case ir.OpcodeCondBr:
		cond, trueBB, falseBB := i.CondBrTargets()
		c := g.value(cond)
		switch {
		case trueBB == next:
			g.emitJump(vm.JZ, c, falseBB)
		case falseBB == next:
			g.emitJump(vm.JN, c, trueBB)
		default:
			g.emitJump(vm.JN, c, trueBB)
			g.emitJump(vm.JMP, 0, falseBB)
		}
	case ir.OpcodeRet:
		var handled vm.Operand
		if i.RetResult().Bool() {
			handled = 1
		}
		g.emit(vm.EXIT, handled)
	default:
		if vop, ok := unaryOps[op]; ok {
			x := g.value(i.Operand(0))
			r := g.allocate(1)
			g.emit(vop, r, x)
			g.registers[i] = int(r)
			return
		}
		if vop, ok := binaryOps[op]; ok {
			x, y := g.value(i.Operand(0)), g.value(i.Operand(1))
			r := g.allocate(1)
			g.emit(vop, r, x, y)
			g.registers[i] = int(r)
			return
		}
		panic(fmt.Sprintf("BUG: cannot generate code for %s", op))
	}
}

// call lowers a native call. The arguments are copied into a window of consecutive registers
// whose first slot receives the result.
func (g *generator) call(i *ir.Instr) {
	callee := i.Callee()
	args := make([]vm.Operand, len(i.Args()))
	for n, a := range i.Args() {
		args[n] = g.value(a)
	}
	window := g.allocate(len(args) + 1)
	for n, a := range args {
		g.emit(vm.MOV, window+vm.Operand(n+1), a)
	}
	argc := g.operand(len(args)+1, "argument count")
	sig := callee.Signature().String()
	if i.Opcode() == ir.OpcodeInvokeHandler {
		g.emit(vm.HANDLER, g.nativeHandler(sig), argc, window)
		return
	}
	g.emit(vm.CALL, g.nativeFunction(sig), argc, window)
	if i.Type() != api.TypeVoid {
		g.registers[i] = int(window)
	}
}

// match lowers a match instruction into a match table entry. The case and else targets are
// resolved after all blocks are placed.
func (g *generator) match(i *ir.Instr) matchFixup {
	class := i.MatchClass()
	cond := g.value(i.MatchCondition())
	def := vm.MatchDef{Handler: g.handlerID, Class: class}
	m := matchFixup{match: len(g.data.Matches), elseBB: i.MatchElse()}
	for _, c := range i.MatchCases() {
		var label vm.Operand
		if class == api.MatchRegExp {
			label = g.regexpConstant(c.Label.Str())
		} else {
			label = g.stringConstant(c.Label.Str())
		}
		def.Cases = append(def.Cases, vm.MatchCaseDef{Label: int(label)})
		m.caseBBs = append(m.caseBBs, c.Block)
	}
	g.data.Matches = append(g.data.Matches, def)
	g.emit(matchOps[class], g.operand(m.match, "match"), cond)
	return m
}
