package ir

import (
	"strconv"

	"github.com/xzero/flow/api"
)

// Import is a native module the program requires at link time.
type Import struct {
	Name string
	Path string
}

// Builtin refers to a native function or handler by its signature.
type Builtin struct {
	valueBase
	sig       api.Signature
	isHandler bool
	readOnly  bool
	noReturn  bool
}

// Signature returns the native signature.
func (b *Builtin) Signature() *api.Signature { return &b.sig }

// IsHandler returns true for native handlers.
func (b *Builtin) IsHandler() bool { return b.isHandler }

// ReadOnly returns true if calling the native has no side effects.
func (b *Builtin) ReadOnly() bool { return b.readOnly }

// NoReturn returns true if the native handler always completes the request.
func (b *Builtin) NoReturn() bool { return b.noReturn }

// String implements fmt.Stringer.
func (b *Builtin) String() string { return b.sig.String() }

var _ Value = (*Builtin)(nil)

// Program is the IR of one compilation unit.
type Program struct {
	handlers  []*Handler
	imports   []Import
	constants map[string]*Constant
	// pools holds the interned constants per type, indexed by Constant.ID.
	pools    map[api.Type][]*Constant
	builtins []*Builtin
	nameSeq  int
}

// NewProgram returns an empty Program.
func NewProgram() *Program {
	return &Program{
		constants: map[string]*Constant{},
		pools:     map[api.Type][]*Constant{},
	}
}

// Handlers returns the handlers in declaration order.
func (p *Program) Handlers() []*Handler { return p.handlers }

// FindHandler returns the handler of the given name, or nil.
func (p *Program) FindHandler(name string) *Handler {
	for _, h := range p.handlers {
		if h.name == name {
			return h
		}
	}
	return nil
}

// Imports returns the imported modules in declaration order.
func (p *Program) Imports() []Import { return p.imports }

// AddImport records a module import. Duplicates are ignored.
func (p *Program) AddImport(name, path string) {
	for _, imp := range p.imports {
		if imp.Name == name && imp.Path == path {
			return
		}
	}
	p.imports = append(p.imports, Import{Name: name, Path: path})
}

// Constants returns the interned constants of the given type in ID order.
func (p *Program) Constants(t api.Type) []*Constant { return p.pools[t] }

// Builtins returns the interned builtins.
func (p *Program) Builtins() []*Builtin { return p.builtins }

// nextName returns a fresh display name, unique within this program.
func (p *Program) nextName() string {
	p.nameSeq++
	return strconv.Itoa(p.nameSeq)
}

func (p *Program) intern(c *Constant) *Constant {
	k := c.key()
	if existing, ok := p.constants[k]; ok {
		return existing
	}
	c.id = len(p.pools[c.typ])
	c.name = c.String()
	p.pools[c.typ] = append(p.pools[c.typ], c)
	p.constants[k] = c
	return c
}

func (p *Program) builtin(sig api.Signature, isHandler bool) *Builtin {
	for _, b := range p.builtins {
		if b.isHandler == isHandler && b.sig.Equal(&sig) {
			return b
		}
	}
	b := &Builtin{sig: sig, isHandler: isHandler}
	b.typ = api.TypeVoid
	b.name = sig.String()
	p.builtins = append(p.builtins, b)
	return b
}
