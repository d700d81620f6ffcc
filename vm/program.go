// Package vm implements the bytecode interpreter of flow programs together with the native
// callback runtime it calls into.
package vm

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/xzero/flow/api"
)

var log = commonlog.GetLogger("flow.vm")

// ProgramData is the serializable description of a Program, as produced by the code generator
// and persisted by the compilation cache.
type ProgramData struct {
	Numbers []int64  `cbor:"1,keyasint"`
	Strings []string `cbor:"2,keyasint"`
	// IPAddrs, Cidrs and RegExps hold the textual forms, parsed by NewProgram.
	IPAddrs []string `cbor:"3,keyasint"`
	Cidrs   []string `cbor:"4,keyasint"`
	RegExps []string `cbor:"5,keyasint"`

	Matches []MatchDef  `cbor:"6,keyasint"`
	Modules []ModuleDef `cbor:"7,keyasint"`

	NativeHandlerSignatures  []string `cbor:"8,keyasint"`
	NativeFunctionSignatures []string `cbor:"9,keyasint"`

	Handlers []HandlerDef `cbor:"10,keyasint"`
}

// ModuleDef names a native module imported at link time.
type ModuleDef struct {
	Name string `cbor:"1,keyasint"`
	Path string `cbor:"2,keyasint,omitempty"`
}

// HandlerDef is the bytecode of one handler.
type HandlerDef struct {
	Name          string        `cbor:"1,keyasint"`
	RegisterCount int           `cbor:"2,keyasint"`
	Code          []Instruction `cbor:"3,keyasint"`
}

// Program is an immutable, linkable set of handlers sharing constant pools, match tables and
// native signature tables. After Link succeeded, a Program may be shared by any number of
// concurrently executing Runners.
type Program struct {
	data *ProgramData

	ipaddrs []netip.Addr
	cidrs   []netip.Prefix
	regexps []*regexp.Regexp
	matches []*Match

	handlers []*Handler

	runtime          *Runtime
	nativeHandlerIDs []int
	nativeFuncIDs    []int
}

// NewProgram builds a Program from its description. It parses the IP, CIDR and regular
// expression pools and checks that every instruction only refers to existing pool entries,
// registers, jump targets, matches and native signatures.
func NewProgram(data *ProgramData) (*Program, error) {
	p := &Program{data: data}

	for i, s := range data.IPAddrs {
		ip, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("ipaddr constant %d: %w", i, err)
		}
		p.ipaddrs = append(p.ipaddrs, ip)
	}
	for i, s := range data.Cidrs {
		cidr, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("cidr constant %d: %w", i, err)
		}
		p.cidrs = append(p.cidrs, cidr)
	}
	for i, s := range data.RegExps {
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("regexp constant %d: %w", i, err)
		}
		p.regexps = append(p.regexps, re)
	}

	for i := range data.Handlers {
		def := &data.Handlers[i]
		h := &Handler{
			program:       p,
			name:          def.Name,
			registerCount: max(def.RegisterCount, computeRegisterCount(def.Code)),
			code:          def.Code,
		}
		p.handlers = append(p.handlers, h)
	}

	for i := range data.Matches {
		m, err := newMatch(p, &data.Matches[i])
		if err != nil {
			return nil, fmt.Errorf("match %d: %w", i, err)
		}
		p.matches = append(p.matches, m)
	}

	for _, h := range p.handlers {
		if err := p.verifyCode(h); err != nil {
			return nil, fmt.Errorf("handler %s: %w", h.name, err)
		}
	}
	return p, nil
}

func (p *Program) verifyCode(h *Handler) error {
	if len(h.code) == 0 {
		return fmt.Errorf("no code")
	}
	inRange := func(pc int, what string, idx, n int) error {
		if idx >= n {
			return fmt.Errorf("pc %d: %s %d out of range [0, %d)", pc, what, idx, n)
		}
		return nil
	}
	for pc, i := range h.code {
		a, b := int(i.A()), int(i.B())
		var err error
		switch i.Opcode() {
		case JMP:
			err = inRange(pc, "jump target", a, len(h.code))
		case JN, JZ:
			err = inRange(pc, "jump target", b, len(h.code))
		case NCONST:
			err = inRange(pc, "number constant", b, len(p.data.Numbers))
		case SCONST:
			err = inRange(pc, "string constant", b, len(p.data.Strings))
		case PCONST:
			err = inRange(pc, "ipaddr constant", b, len(p.ipaddrs))
		case CCONST:
			err = inRange(pc, "cidr constant", b, len(p.cidrs))
		case RCONST:
			err = inRange(pc, "regexp constant", b, len(p.regexps))
		case SMATCHEQ, SMATCHBEG, SMATCHEND, SMATCHR:
			if err = inRange(pc, "match", a, len(p.matches)); err == nil {
				m := p.matches[a]
				if m.handler != h {
					err = fmt.Errorf("pc %d: match %d belongs to another handler", pc, a)
				} else if want := matchOpcodes[m.def.Class]; want != i.Opcode() {
					err = fmt.Errorf("pc %d: %s match used with %s", pc, m.def.Class, i.Opcode())
				}
			}
		case CALL:
			err = inRange(pc, "native function", a, len(p.data.NativeFunctionSignatures))
		case HANDLER:
			err = inRange(pc, "native handler", a, len(p.data.NativeHandlerSignatures))
		default:
			if i.Opcode() >= opcodeEnd {
				err = fmt.Errorf("pc %d: invalid opcode %d", pc, i.Opcode())
			}
		}
		if err != nil {
			return err
		}
	}
	for _, m := range p.matches {
		if m.handler != h {
			continue
		}
		if err := m.verifyTargets(len(h.code)); err != nil {
			return err
		}
	}
	return nil
}

var matchOpcodes = map[api.MatchClass]Opcode{
	api.MatchSame:   SMATCHEQ,
	api.MatchHead:   SMATCHBEG,
	api.MatchTail:   SMATCHEND,
	api.MatchRegExp: SMATCHR,
}

// Data returns the description this program was built from.
func (p *Program) Data() *ProgramData { return p.data }

// Numbers returns the number constant pool.
func (p *Program) Numbers() []int64 { return p.data.Numbers }

// Strings returns the string constant pool.
func (p *Program) Strings() []string { return p.data.Strings }

// IPAddrs returns the IP address constant pool.
func (p *Program) IPAddrs() []netip.Addr { return p.ipaddrs }

// Cidrs returns the CIDR constant pool.
func (p *Program) Cidrs() []netip.Prefix { return p.cidrs }

// RegExps returns the regular expression constant pool.
func (p *Program) RegExps() []*regexp.Regexp { return p.regexps }

// Matches returns the match table.
func (p *Program) Matches() []*Match { return p.matches }

// Modules returns the modules imported at link time.
func (p *Program) Modules() []ModuleDef { return p.data.Modules }

// Handlers returns the handlers in declaration order.
func (p *Program) Handlers() []*Handler { return p.handlers }

// Handler returns the handler at index i.
func (p *Program) Handler(i int) *Handler { return p.handlers[i] }

// FindHandler returns the handler of the given name, or nil.
func (p *Program) FindHandler(name string) *Handler {
	for _, h := range p.handlers {
		if h.name == name {
			return h
		}
	}
	return nil
}

// IndexOf returns the index of h, or -1 if h does not belong to this program.
func (p *Program) IndexOf(h *Handler) int {
	for i, ph := range p.handlers {
		if ph == h {
			return i
		}
	}
	return -1
}

// Runtime returns the runtime this program is linked against, or nil.
func (p *Program) Runtime() *Runtime { return p.runtime }

// Link imports the program's modules into rt and binds every native signature to its
// callback. All failures are reported together in a *LinkError.
func (p *Program) Link(rt *Runtime) error {
	linkErr := &LinkError{}
	for _, m := range p.data.Modules {
		if err := rt.Import(m.Name, m.Path); err != nil {
			linkErr.Imports = append(linkErr.Imports, fmt.Errorf("import %s: %w", m.Name, err))
		}
	}
	if err := rt.VerifyNativeCalls(p); err != nil {
		var le *LinkError
		if !errors.As(err, &le) {
			return err
		}
		linkErr.Unresolved = le.Unresolved
	}
	if len(linkErr.Imports) > 0 || len(linkErr.Unresolved) > 0 {
		return linkErr
	}

	p.nativeHandlerIDs = make([]int, len(p.data.NativeHandlerSignatures))
	for i, sig := range p.data.NativeHandlerSignatures {
		p.nativeHandlerIDs[i] = rt.find(sig, true).id
	}
	p.nativeFuncIDs = make([]int, len(p.data.NativeFunctionSignatures))
	for i, sig := range p.data.NativeFunctionSignatures {
		p.nativeFuncIDs[i] = rt.find(sig, false).id
	}
	p.runtime = rt
	log.Debugf("linked program with %d handlers, %d native handlers and %d native functions",
		len(p.handlers), len(p.nativeHandlerIDs), len(p.nativeFuncIDs))
	return nil
}

// Disassemble renders the whole program: modules, native signatures, constant pools, the
// match table and every handler.
func (p *Program) Disassemble() string {
	var b strings.Builder
	for _, m := range p.data.Modules {
		if m.Path != "" {
			fmt.Fprintf(&b, "; import %s from %q\n", m.Name, m.Path)
		} else {
			fmt.Fprintf(&b, "; import %s\n", m.Name)
		}
	}
	for i, sig := range p.data.NativeHandlerSignatures {
		fmt.Fprintf(&b, ".extern handler   %3d = %s\n", i, sig)
	}
	for i, sig := range p.data.NativeFunctionSignatures {
		fmt.Fprintf(&b, ".extern function  %3d = %s\n", i, sig)
	}
	for i, n := range p.data.Numbers {
		fmt.Fprintf(&b, ".const number     %3d = %d\n", i, n)
	}
	for i, s := range p.data.Strings {
		fmt.Fprintf(&b, ".const string     %3d = %q\n", i, s)
	}
	for i, ip := range p.ipaddrs {
		fmt.Fprintf(&b, ".const ipaddr     %3d = %s\n", i, ip)
	}
	for i, cidr := range p.cidrs {
		fmt.Fprintf(&b, ".const cidr       %3d = %s\n", i, cidr)
	}
	for i, re := range p.regexps {
		fmt.Fprintf(&b, ".const regexp     %3d = /%s/\n", i, re)
	}
	for i, m := range p.matches {
		fmt.Fprintf(&b, ".match %s %d handler=%s else=%d", m.def.Class, i, m.handler.name, m.def.ElsePC)
		for _, c := range m.def.Cases {
			fmt.Fprintf(&b, " [%s -> %d]", p.matchLabel(m.def.Class, c.Label), c.PC)
		}
		b.WriteByte('\n')
	}
	for _, h := range p.handlers {
		b.WriteByte('\n')
		b.WriteString(h.Disassemble())
	}
	return b.String()
}

func (p *Program) matchLabel(class api.MatchClass, label int) string {
	if class == api.MatchRegExp {
		return "/" + p.data.RegExps[label] + "/"
	}
	return fmt.Sprintf("%q", p.data.Strings[label])
}

// comment returns a disassembly comment resolving the pool entry an instruction refers to.
func (p *Program) comment(i Instruction) string {
	b := int(i.B())
	switch i.Opcode() {
	case NCONST:
		return fmt.Sprintf("%d", p.data.Numbers[b])
	case SCONST:
		return fmt.Sprintf("%q", p.data.Strings[b])
	case PCONST:
		return p.ipaddrs[b].String()
	case CCONST:
		return p.cidrs[b].String()
	case RCONST:
		return "/" + p.data.RegExps[b] + "/"
	case CALL:
		return p.data.NativeFunctionSignatures[i.A()]
	case HANDLER:
		return p.data.NativeHandlerSignatures[i.A()]
	}
	return ""
}
