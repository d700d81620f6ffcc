package vm

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// State is the execution state of a Runner.
type State int

const (
	// Inactive runners have not started or have run to completion.
	Inactive State = iota
	// Running runners are executing instructions.
	Running
	// Suspended runners were suspended by a native callback and wait for Resume.
	Suspended
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// arenaBit tags register values referring to runner-owned strings, IP addresses and CIDRs
// rather than to the program's constant pools.
const arenaBit = uint64(1) << 63

// Runner executes one handler for one request. Runners are not goroutine-safe, but any
// number of runners may execute the handlers of the same linked Program concurrently.
type Runner struct {
	id      uuid.UUID
	handler *Handler
	program *Program

	state State
	pc    int
	data  []uint64
	ctx   context.Context
	err   error

	// runner-owned values created during execution
	strings []string
	ips     []netip.Addr
	cidrs   []netip.Prefix

	// capture groups of the last successful regexp match
	groups []string

	// register receiving the result of a native handler that suspended the runner
	pendingResult int

	userdata interface{}
}

// NewRunner returns an Inactive runner for h. h's program must be linked before the runner
// executes a native call.
func NewRunner(h *Handler) *Runner {
	return &Runner{
		id:      uuid.New(),
		handler: h,
		program: h.program,
		data:    make([]uint64, h.registerCount),
		ctx:     context.Background(),
	}
}

// ID returns a unique identifier of this runner, used to correlate log lines.
func (r *Runner) ID() uuid.UUID { return r.id }

// Handler returns the handler this runner executes.
func (r *Runner) Handler() *Handler { return r.handler }

// Program returns the program of the handler.
func (r *Runner) Program() *Program { return r.program }

// State returns the execution state.
func (r *Runner) State() State { return r.state }

// PC returns the index of the next instruction to execute.
func (r *Runner) PC() int { return r.pc }

// Register returns the raw value of register i.
func (r *Runner) Register(i int) uint64 { return r.data[i] }

// Context returns the context passed to the last Run or Resume.
func (r *Runner) Context() context.Context { return r.ctx }

// Err returns the context error that stopped the last Run or Resume, if any.
func (r *Runner) Err() error { return r.err }

// UserData returns the value set by SetUserData.
func (r *Runner) UserData() interface{} { return r.userdata }

// SetUserData attaches an arbitrary value, typically the request, for native callbacks.
func (r *Runner) SetUserData(v interface{}) { r.userdata = v }

// RegExpGroup returns capture group i of the last successful regexp match, or "".
func (r *Runner) RegExpGroup(i int) string {
	if i < 0 || i >= len(r.groups) {
		return ""
	}
	return r.groups[i]
}

// Run executes the handler from its first instruction. It returns true if the request was
// handled and false if the handler fell through or the runner was suspended.
func (r *Runner) Run(ctx context.Context) bool {
	if r.state != Inactive {
		panic(fmt.Sprintf("BUG: Run on %s runner", r.state))
	}
	r.Rewind()
	r.ctx = ctx
	r.state = Running
	return r.loop()
}

// Suspend marks a running runner as suspended. It is called by a native callback, after
// which the runner returns false to its caller once the callback returned.
func (r *Runner) Suspend() {
	if r.state != Running {
		panic(fmt.Sprintf("BUG: Suspend on %s runner", r.state))
	}
	r.state = Suspended
	log.Debugf("runner %s suspended at pc %d", r.id, r.pc)
}

// Resume continues a suspended runner after the instruction that suspended it. If that
// instruction was a native handler whose result has been set to true in the meantime, the
// runner completes immediately with true.
func (r *Runner) Resume(ctx context.Context) bool {
	if r.state != Suspended {
		panic(fmt.Sprintf("BUG: Resume on %s runner", r.state))
	}
	log.Debugf("runner %s resumed at pc %d", r.id, r.pc)
	r.ctx = ctx
	r.state = Running
	if reg := r.pendingResult; reg != 0 {
		r.pendingResult = 0
		if r.data[reg] != 0 {
			r.state = Inactive
			return true
		}
	}
	return r.loop()
}

// Rewind resets the runner to the start of its handler, dropping all values it created.
func (r *Runner) Rewind() {
	r.pc = 0
	r.state = Inactive
	r.err = nil
	r.pendingResult = 0
	r.groups = nil
	clear(r.data)
	r.strings = r.strings[:0]
	r.ips = r.ips[:0]
	r.cidrs = r.cidrs[:0]
}

// Close releases the values created by the runner. The runner must not be used afterwards.
func (r *Runner) Close() {
	r.state = Inactive
	r.strings, r.ips, r.cidrs, r.groups = nil, nil, nil, nil
	r.userdata = nil
}

// NewString stores s in the runner and returns a register value referring to it.
func (r *Runner) NewString(s string) uint64 {
	r.strings = append(r.strings, s)
	return arenaBit | uint64(len(r.strings)-1)
}

// CatString concatenates the strings referred to by a and b.
func (r *Runner) CatString(a, b uint64) uint64 {
	return r.NewString(r.str(a) + r.str(b))
}

// NewIPAddress stores ip in the runner and returns a register value referring to it.
func (r *Runner) NewIPAddress(ip netip.Addr) uint64 {
	r.ips = append(r.ips, ip)
	return arenaBit | uint64(len(r.ips)-1)
}

// NewCidr stores cidr in the runner and returns a register value referring to it.
func (r *Runner) NewCidr(cidr netip.Prefix) uint64 {
	r.cidrs = append(r.cidrs, cidr)
	return arenaBit | uint64(len(r.cidrs)-1)
}

func (r *Runner) str(v uint64) string {
	if v&arenaBit != 0 {
		return r.strings[v&^arenaBit]
	}
	return r.program.data.Strings[v]
}

func (r *Runner) ip(v uint64) netip.Addr {
	if v&arenaBit != 0 {
		return r.ips[v&^arenaBit]
	}
	return r.program.ipaddrs[v]
}

func (r *Runner) cidr(v uint64) netip.Prefix {
	if v&arenaBit != 0 {
		return r.cidrs[v&^arenaBit]
	}
	return r.program.cidrs[v]
}

func (r *Runner) regexp(v uint64) *regexp.Regexp {
	return r.program.regexps[v]
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func ipow(base, exp int64) int64 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

// invoke calls a native callback with the register window of a CALL or HANDLER instruction.
// It returns false if the context is done, in which case nothing is called.
func (r *Runner) invoke(id int, argc, window int) bool {
	if err := r.ctx.Err(); err != nil {
		r.err = err
		log.Infof("runner %s stopped at pc %d: %s", r.id, r.pc-1, err)
		return false
	}
	r.program.runtime.Invoke(id, argc, r.data[window:window+argc], r)
	return true
}

func (r *Runner) loop() bool {
	code := r.handler.code
	data := r.data
	numbers := r.program.data.Numbers
	for {
		i := code[r.pc]
		r.pc++
		a, b, c := i.A(), i.B(), i.C()
		switch i.Opcode() {
		case NOP:
		case EXIT:
			r.state = Inactive
			return a != 0
		case JMP:
			r.pc = int(a)
		case JN:
			if data[a] != 0 {
				r.pc = int(b)
			}
		case JZ:
			if data[a] == 0 {
				r.pc = int(b)
			}

		case MOV:
			data[a] = data[b]
		case IMOV, SCONST, PCONST, CCONST, RCONST:
			data[a] = uint64(b)
		case NCONST:
			data[a] = uint64(numbers[b])

		case NNEG:
			data[a] = uint64(-int64(data[b]))
		case NNOT:
			data[a] = ^data[b]
		case NADD:
			data[a] = uint64(int64(data[b]) + int64(data[c]))
		case NSUB:
			data[a] = uint64(int64(data[b]) - int64(data[c]))
		case NMUL:
			data[a] = uint64(int64(data[b]) * int64(data[c]))
		case NDIV:
			if d := int64(data[c]); d != 0 {
				data[a] = uint64(int64(data[b]) / d)
			} else {
				data[a] = 0
			}
		case NREM:
			if d := int64(data[c]); d != 0 {
				data[a] = uint64(int64(data[b]) % d)
			} else {
				data[a] = 0
			}
		case NSHL:
			data[a] = data[b] << data[c]
		case NSHR:
			data[a] = uint64(int64(data[b]) >> data[c])
		case NPOW:
			data[a] = uint64(ipow(int64(data[b]), int64(data[c])))
		case NAND:
			data[a] = data[b] & data[c]
		case NOR:
			data[a] = data[b] | data[c]
		case NXOR:
			data[a] = data[b] ^ data[c]
		case NCMPZ:
			data[a] = b2u(data[b] == 0)
		case NCMPEQ:
			data[a] = b2u(data[b] == data[c])
		case NCMPNE:
			data[a] = b2u(data[b] != data[c])
		case NCMPLE:
			data[a] = b2u(int64(data[b]) <= int64(data[c]))
		case NCMPGE:
			data[a] = b2u(int64(data[b]) >= int64(data[c]))
		case NCMPLT:
			data[a] = b2u(int64(data[b]) < int64(data[c]))
		case NCMPGT:
			data[a] = b2u(int64(data[b]) > int64(data[c]))

		case BNOT:
			data[a] = b2u(data[b] == 0)
		case BAND:
			data[a] = b2u(data[b] != 0 && data[c] != 0)
		case BOR:
			data[a] = b2u(data[b] != 0 || data[c] != 0)
		case BXOR:
			data[a] = b2u((data[b] != 0) != (data[c] != 0))

		case SADD:
			data[a] = r.CatString(data[b], data[c])
		case SCMPEQ:
			data[a] = b2u(r.str(data[b]) == r.str(data[c]))
		case SCMPNE:
			data[a] = b2u(r.str(data[b]) != r.str(data[c]))
		case SCMPLE:
			data[a] = b2u(r.str(data[b]) <= r.str(data[c]))
		case SCMPGE:
			data[a] = b2u(r.str(data[b]) >= r.str(data[c]))
		case SCMPLT:
			data[a] = b2u(r.str(data[b]) < r.str(data[c]))
		case SCMPGT:
			data[a] = b2u(r.str(data[b]) > r.str(data[c]))
		case SCMPBEG:
			data[a] = b2u(strings.HasPrefix(r.str(data[b]), r.str(data[c])))
		case SCMPEND:
			data[a] = b2u(strings.HasSuffix(r.str(data[b]), r.str(data[c])))
		case SCONTAINS:
			data[a] = b2u(strings.Contains(r.str(data[c]), r.str(data[b])))
		case SLEN:
			data[a] = uint64(len(r.str(data[b])))
		case SISEMPTY:
			data[a] = b2u(len(r.str(data[b])) == 0)
		case SMATCHEQ, SMATCHBEG, SMATCHEND, SMATCHR:
			r.pc = r.program.matches[a].Evaluate(r.str(data[b]), r)

		case PCMPEQ:
			data[a] = b2u(r.ip(data[b]) == r.ip(data[c]))
		case PCMPNE:
			data[a] = b2u(r.ip(data[b]) != r.ip(data[c]))
		case PINCIDR:
			data[a] = b2u(r.cidr(data[c]).Contains(r.ip(data[b])))

		case SREGMATCH:
			r.groups = r.regexp(data[c]).FindStringSubmatch(r.str(data[b]))
			data[a] = b2u(r.groups != nil)
		case SREGGROUP:
			data[a] = r.NewString(r.RegExpGroup(int(data[b])))

		case N2S:
			data[a] = r.NewString(strconv.FormatInt(int64(data[b]), 10))
		case P2S:
			data[a] = r.NewString(r.ip(data[b]).String())
		case C2S:
			data[a] = r.NewString(r.cidr(data[b]).String())
		case R2S:
			data[a] = r.NewString(r.regexp(data[b]).String())
		case S2N:
			n, _ := strconv.ParseInt(r.str(data[b]), 10, 64)
			data[a] = uint64(n)
		case B2S:
			data[a] = r.NewString(strconv.FormatBool(data[b] != 0))

		case CALL:
			if !r.invoke(r.program.nativeFuncIDs[a], int(b), int(c)) {
				r.state = Inactive
				return false
			}
			if r.state == Suspended {
				return false
			}
		case HANDLER:
			if !r.invoke(r.program.nativeHandlerIDs[a], int(b), int(c)) {
				r.state = Inactive
				return false
			}
			if r.state == Suspended {
				r.pendingResult = int(c)
				return false
			}
			if data[c] != 0 {
				r.state = Inactive
				return true
			}
		default:
			panic(fmt.Sprintf("BUG: invalid opcode %s at pc %d", i.Opcode(), r.pc-1))
		}
	}
}
