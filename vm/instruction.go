package vm

import (
	"fmt"
	"strings"
)

// Opcode is the operation of an Instruction.
type Opcode uint8

// Instruction is a 64-bit word: the opcode in the low byte and up to three 16-bit operands
// at bit offsets 16 (A), 32 (B) and 48 (C).
type Instruction uint64

// Operand is either a register index or an immediate, depending on the opcode.
type Operand = uint16

const (
	NOP  Opcode = iota // no operation
	EXIT               // EXIT imm          ; exit handler with A != 0 as result
	JMP                // JMP imm           ; pc = A
	JN                 // JN reg, imm       ; if A != 0 then pc = B
	JZ                 // JZ reg, imm       ; if A == 0 then pc = B

	MOV    // A = B
	IMOV   // A = imm B
	NCONST // A = numbers[B]

	NNEG   // A = -B
	NNOT   // A = ^B
	NADD   // A = B + C
	NSUB   // A = B - C
	NMUL   // A = B * C
	NDIV   // A = B / C, 0 if C == 0
	NREM   // A = B % C, 0 if C == 0
	NSHL   // A = B << C
	NSHR   // A = B >> C
	NPOW   // A = B ** C
	NAND   // A = B & C
	NOR    // A = B | C
	NXOR   // A = B ^ C
	NCMPZ  // A = B == 0
	NCMPEQ // A = B == C
	NCMPNE // A = B != C
	NCMPLE // A = B <= C
	NCMPGE // A = B >= C
	NCMPLT // A = B < C
	NCMPGT // A = B > C

	BNOT // A = !B
	BAND // A = B and C
	BOR  // A = B or C
	BXOR // A = B xor C

	SCONST    // A = strings[B]
	SADD      // A = B + C
	SCMPEQ    // A = B == C
	SCMPNE    // A = B != C
	SCMPLE    // A = B <= C
	SCMPGE    // A = B >= C
	SCMPLT    // A = B < C
	SCMPGT    // A = B > C
	SCMPBEG   // A = B =^ C, B begins with C
	SCMPEND   // A = B =$ C, B ends with C
	SCONTAINS // A = B in C, B is contained in C
	SLEN      // A = len(B)
	SISEMPTY  // A = len(B) == 0
	SMATCHEQ  // pc = matches[A].Evaluate(B), MatchSame
	SMATCHBEG // pc = matches[A].Evaluate(B), MatchHead
	SMATCHEND // pc = matches[A].Evaluate(B), MatchTail
	SMATCHR   // pc = matches[A].Evaluate(B), MatchRegExp

	PCONST  // A = ipaddrs[B]
	PCMPEQ  // A = B == C
	PCMPNE  // A = B != C
	PINCIDR // A = cidr(C) contains ip(B)

	CCONST // A = cidrs[B]

	RCONST    // A = imm B, an index into regexps
	SREGMATCH // A = B =~ regexps[C], updating the regexp group context
	SREGGROUP // A = group B of the last regexp match

	N2S // A = itoa(B)
	P2S // A = ip(B).String()
	C2S // A = cidr(B).String()
	R2S // A = regexp(B).String()
	S2N // A = atoi(B)
	B2S // A = "true" or "false"

	CALL    // C = functions[A](C+1 .. C+B-1), C is the result slot
	HANDLER // handlers[A](C+1 .. C+B-1); if C != 0 then exit with true

	opcodeEnd
)

var mnemonics = [...]string{
	NOP: "NOP", EXIT: "EXIT", JMP: "JMP", JN: "JN", JZ: "JZ",
	MOV: "MOV", IMOV: "IMOV", NCONST: "NCONST",
	NNEG: "NNEG", NNOT: "NNOT", NADD: "NADD", NSUB: "NSUB", NMUL: "NMUL", NDIV: "NDIV",
	NREM: "NREM", NSHL: "NSHL", NSHR: "NSHR", NPOW: "NPOW", NAND: "NAND", NOR: "NOR",
	NXOR: "NXOR", NCMPZ: "NCMPZ", NCMPEQ: "NCMPEQ", NCMPNE: "NCMPNE", NCMPLE: "NCMPLE",
	NCMPGE: "NCMPGE", NCMPLT: "NCMPLT", NCMPGT: "NCMPGT",
	BNOT: "BNOT", BAND: "BAND", BOR: "BOR", BXOR: "BXOR",
	SCONST: "SCONST", SADD: "SADD", SCMPEQ: "SCMPEQ", SCMPNE: "SCMPNE", SCMPLE: "SCMPLE",
	SCMPGE: "SCMPGE", SCMPLT: "SCMPLT", SCMPGT: "SCMPGT", SCMPBEG: "SCMPBEG",
	SCMPEND: "SCMPEND", SCONTAINS: "SCONTAINS", SLEN: "SLEN", SISEMPTY: "SISEMPTY",
	SMATCHEQ: "SMATCHEQ", SMATCHBEG: "SMATCHBEG", SMATCHEND: "SMATCHEND", SMATCHR: "SMATCHR",
	PCONST: "PCONST", PCMPEQ: "PCMPEQ", PCMPNE: "PCMPNE", PINCIDR: "PINCIDR",
	CCONST: "CCONST",
	RCONST: "RCONST", SREGMATCH: "SREGMATCH", SREGGROUP: "SREGGROUP",
	N2S: "N2S", P2S: "P2S", C2S: "C2S", R2S: "R2S", S2N: "S2N", B2S: "B2S",
	CALL: "CALL", HANDLER: "HANDLER",
}

// String returns the mnemonic.
func (o Opcode) String() string {
	if o < opcodeEnd {
		return mnemonics[o]
	}
	return fmt.Sprintf("Opcode(%d)", o)
}

// OperandSig describes which operands of an opcode are registers (R) or immediates (I).
type OperandSig uint8

const (
	SigNone OperandSig = iota
	SigI
	SigRI
	SigIR
	SigRR
	SigRRR
	SigIIR
)

// Signature returns the operand signature of the opcode.
func (o Opcode) Signature() OperandSig {
	switch o {
	case NOP:
		return SigNone
	case EXIT, JMP:
		return SigI
	case JN, JZ, IMOV, NCONST, SCONST, PCONST, CCONST, RCONST:
		return SigRI
	case SMATCHEQ, SMATCHBEG, SMATCHEND, SMATCHR:
		return SigIR
	case MOV, NNEG, NNOT, NCMPZ, BNOT, SLEN, SISEMPTY, SREGGROUP,
		N2S, P2S, C2S, R2S, S2N, B2S:
		return SigRR
	case CALL, HANDLER:
		return SigIIR
	}
	return SigRRR
}

// MakeInstruction encodes an instruction. Unused operands are zero.
func MakeInstruction(op Opcode, operands ...Operand) Instruction {
	if len(operands) > 3 {
		panic(fmt.Sprintf("BUG: %s takes at most 3 operands", op))
	}
	i := Instruction(op)
	for n, o := range operands {
		i |= Instruction(o) << (16 * (n + 1))
	}
	return i
}

// Opcode returns the opcode.
func (i Instruction) Opcode() Opcode { return Opcode(i & 0xff) }

// A returns the first operand.
func (i Instruction) A() Operand { return Operand(i >> 16) }

// B returns the second operand.
func (i Instruction) B() Operand { return Operand(i >> 32) }

// C returns the third operand.
func (i Instruction) C() Operand { return Operand(i >> 48) }

// String returns the disassembly of the instruction without pool lookups.
func (i Instruction) String() string {
	op := i.Opcode()
	a, b, c := i.A(), i.B(), i.C()
	var operands string
	switch op.Signature() {
	case SigNone:
	case SigI:
		operands = fmt.Sprintf("%d", a)
	case SigRI:
		operands = fmt.Sprintf("r%d, %d", a, b)
	case SigIR:
		operands = fmt.Sprintf("%d, r%d", a, b)
	case SigRR:
		operands = fmt.Sprintf("r%d, r%d", a, b)
	case SigRRR:
		operands = fmt.Sprintf("r%d, r%d, r%d", a, b, c)
	case SigIIR:
		operands = fmt.Sprintf("%d, %d, r%d", a, b, c)
	}
	if operands == "" {
		return op.String()
	}
	return fmt.Sprintf("%-10s %s", op, operands)
}

// registerMax returns one past the highest register the instruction touches.
func (i Instruction) registerMax() int {
	a, b, c := int(i.A()), int(i.B()), int(i.C())
	switch i.Opcode().Signature() {
	case SigRI:
		return a + 1
	case SigIR:
		return b + 1
	case SigRR:
		return max(a, b) + 1
	case SigRRR:
		return max(a, b, c) + 1
	case SigIIR:
		return c + b
	}
	return 0
}

// computeRegisterCount returns the number of registers needed to run code.
func computeRegisterCount(code []Instruction) int {
	n := 1
	for _, i := range code {
		n = max(n, i.registerMax())
	}
	return n
}

// Disassemble renders code, one instruction per line, prefixed by its pc.
func Disassemble(code []Instruction) string {
	var b strings.Builder
	for pc, i := range code {
		fmt.Fprintf(&b, "%4d: %s\n", pc, i)
	}
	return b.String()
}
