package ir

import (
	"fmt"
	"net/netip"

	"github.com/xzero/flow/api"
)

// Builder is the only way to create handlers, blocks, constants and instructions of a Program.
// Instructions are appended to the current insertion point, see SetInsertPoint.
type Builder struct {
	program *Program
	handler *Handler
	block   *BasicBlock
}

// NewBuilder returns a Builder for p.
func NewBuilder(p *Program) *Builder {
	return &Builder{program: p}
}

// Program returns the program being built.
func (b *Builder) Program() *Program { return b.program }

// Handler returns the current handler.
func (b *Builder) Handler() *Handler { return b.handler }

// InsertPoint returns the current block.
func (b *Builder) InsertPoint() *BasicBlock { return b.block }

// GetHandler returns the handler named name, creating it if it does not exist yet.
func (b *Builder) GetHandler(name string) *Handler {
	if h := b.program.FindHandler(name); h != nil {
		return h
	}
	h := newHandler(b.program, name)
	b.program.handlers = append(b.program.handlers, h)
	return h
}

// SetHandler makes h the current handler and clears the insertion point.
func (b *Builder) SetHandler(h *Handler) {
	b.handler = h
	b.block = nil
}

// CreateBlock appends a new block to the current handler. The first block created becomes
// the entry block.
func (b *Builder) CreateBlock(name string) *BasicBlock {
	if b.handler == nil {
		panic("BUG: CreateBlock without current handler")
	}
	bb := b.handler.createBlock(name)
	if b.handler.entry == nil {
		b.handler.entry = bb
	}
	return bb
}

// SetInsertPoint sets the block new instructions are appended to.
func (b *Builder) SetInsertPoint(bb *BasicBlock) {
	if bb.handler != b.handler {
		panic(fmt.Sprintf("BUG: block %s does not belong to the current handler", bb.Name()))
	}
	b.block = bb
}

// GetInt returns the interned number constant.
func (b *Builder) GetInt(v int64) *Constant {
	c := &Constant{i: v}
	c.typ = api.TypeNumber
	return b.program.intern(c)
}

// GetBool returns the interned boolean constant.
func (b *Builder) GetBool(v bool) *Constant {
	c := &Constant{}
	if v {
		c.i = 1
	}
	c.typ = api.TypeBoolean
	return b.program.intern(c)
}

// GetString returns the interned string constant.
func (b *Builder) GetString(v string) *Constant {
	c := &Constant{s: v}
	c.typ = api.TypeString
	return b.program.intern(c)
}

// GetIPAddress returns the interned IP address constant.
func (b *Builder) GetIPAddress(v netip.Addr) *Constant {
	c := &Constant{ip: v}
	c.typ = api.TypeIPAddress
	return b.program.intern(c)
}

// GetCidr returns the interned CIDR constant.
func (b *Builder) GetCidr(v netip.Prefix) *Constant {
	c := &Constant{cidr: v}
	c.typ = api.TypeCidr
	return b.program.intern(c)
}

// GetRegExp returns the interned regular expression constant.
func (b *Builder) GetRegExp(pattern string) *Constant {
	c := &Constant{s: pattern}
	c.typ = api.TypeRegExp
	return b.program.intern(c)
}

// GetArray returns the interned array constant. All elements must be of type elem.
func (b *Builder) GetArray(elem api.Type, elems []*Constant) *Constant {
	t, err := api.ArrayOf(elem)
	if err != nil {
		panic("BUG: " + err.Error())
	}
	for _, e := range elems {
		if e.typ != elem {
			panic(fmt.Sprintf("BUG: %s element in %s", e.typ, t))
		}
	}
	c := &Constant{elems: elems}
	c.typ = t
	return b.program.intern(c)
}

// GetBuiltinFunction returns the interned native function of the given signature.
func (b *Builder) GetBuiltinFunction(sig api.Signature, readOnly bool) *Builtin {
	bi := b.program.builtin(sig, false)
	bi.readOnly = bi.readOnly || readOnly
	return bi
}

// GetBuiltinHandler returns the interned native handler of the given signature.
func (b *Builder) GetBuiltinHandler(sig api.Signature, noReturn bool) *Builtin {
	bi := b.program.builtin(sig, true)
	bi.noReturn = bi.noReturn || noReturn
	return bi
}

func (b *Builder) insert(i *Instr, name string) *Instr {
	if b.block == nil {
		panic(fmt.Sprintf("BUG: no insert point for %s", i.opcode))
	}
	if t := b.block.Terminator(); t != nil {
		panic(fmt.Sprintf("BUG: inserting %s after terminator %s in block %s", i.opcode, t.opcode, b.block.Name()))
	}
	if name == "" && i.typ != api.TypeVoid {
		name = b.program.nextName()
	}
	i.name = name
	return b.block.Append(i)
}

// CreateAlloca reserves a local variable of type t holding size elements.
func (b *Builder) CreateAlloca(t api.Type, size *Constant, name string) *Instr {
	return b.insert(newInstr(OpcodeAlloca, t, size), name)
}

// CreateLoad reads the variable behind alloca.
func (b *Builder) CreateLoad(alloca *Instr, name string) *Instr {
	return b.insert(newInstr(OpcodeLoad, alloca.typ, alloca), name)
}

// CreateStore writes value into the variable behind alloca.
func (b *Builder) CreateStore(alloca *Instr, value Value) *Instr {
	return b.insert(newInstr(OpcodeStore, api.TypeVoid, alloca, value), "")
}

// CreateUnary creates a unary operator or cast.
func (b *Builder) CreateUnary(op Opcode, x Value, name string) *Instr {
	if !op.IsUnary() {
		panic(fmt.Sprintf("BUG: %s is not a unary operator", op))
	}
	return b.insert(newInstr(op, op.resultType(), x), name)
}

// CreateBinary creates a binary operator.
func (b *Builder) CreateBinary(op Opcode, x, y Value, name string) *Instr {
	if !op.IsBinary() {
		panic(fmt.Sprintf("BUG: %s is not a binary operator", op))
	}
	return b.insert(newInstr(op, op.resultType(), x, y), name)
}

// CreateRegExpGroup fetches a capture group of the most recent regular expression match.
func (b *Builder) CreateRegExpGroup(group *Constant, name string) *Instr {
	return b.insert(newInstr(OpcodeRegExpGroup, api.TypeString, group), name)
}

// CreateCallFunction calls a native function.
func (b *Builder) CreateCallFunction(callee *Builtin, args []Value, name string) *Instr {
	if callee.isHandler {
		panic(fmt.Sprintf("BUG: %s is a handler", callee.Name()))
	}
	return b.insert(newInstr(OpcodeCallFunction, callee.sig.Return, append([]Value{callee}, args...)...), name)
}

// CreateInvokeHandler invokes a native handler, which exits the handler if it handles the request.
func (b *Builder) CreateInvokeHandler(callee *Builtin, args []Value) *Instr {
	if !callee.isHandler {
		panic(fmt.Sprintf("BUG: %s is not a handler", callee.Name()))
	}
	return b.insert(newInstr(OpcodeInvokeHandler, api.TypeVoid, append([]Value{callee}, args...)...), "")
}

// CreateBr terminates the current block with an unconditional branch.
func (b *Builder) CreateBr(target *BasicBlock) *Instr {
	return b.insert(newInstr(OpcodeBr, api.TypeVoid, target), "")
}

// CreateCondBr terminates the current block with a conditional branch.
func (b *Builder) CreateCondBr(cond Value, trueBlock, falseBlock *BasicBlock) *Instr {
	return b.insert(newInstr(OpcodeCondBr, api.TypeVoid, cond, trueBlock, falseBlock), "")
}

// CreateMatch terminates the current block with a match. Cases are added with Instr.AddCase.
func (b *Builder) CreateMatch(class api.MatchClass, cond Value, elseBlock *BasicBlock) *Instr {
	i := newInstr(OpcodeMatch, api.TypeVoid, cond, elseBlock)
	i.matchClass = class
	return b.insert(i, "")
}

// CreateRet terminates the current block, exiting the handler with the given outcome.
func (b *Builder) CreateRet(handled bool) *Instr {
	return b.insert(newInstr(OpcodeRet, api.TypeVoid, b.GetBool(handled)), "")
}
