package vm

import (
	"context"
	"net/netip"
	"regexp"
)

// Params gives a native callback access to its arguments and result slot. Arguments are
// numbered from 0.
//
// Array arguments refer to a register window holding the element count followed by the
// elements.
type Params struct {
	runner *Runner
	argv   []uint64
}

// Count returns the number of arguments.
func (p *Params) Count() int { return len(p.argv) - 1 }

// Runner returns the runner executing the call.
func (p *Params) Runner() *Runner { return p.runner }

// Context returns the context of the runner.
func (p *Params) Context() context.Context { return p.runner.ctx }

// UserData returns the runner's user data.
func (p *Params) UserData() interface{} { return p.runner.userdata }

func (p *Params) arg(i int) uint64 { return p.argv[i+1] }

// GetBool returns argument i as a boolean.
func (p *Params) GetBool(i int) bool { return p.arg(i) != 0 }

// GetInt returns argument i as a number.
func (p *Params) GetInt(i int) int64 { return int64(p.arg(i)) }

// GetString returns argument i as a string.
func (p *Params) GetString(i int) string { return p.runner.str(p.arg(i)) }

// GetIPAddress returns argument i as an IP address.
func (p *Params) GetIPAddress(i int) netip.Addr { return p.runner.ip(p.arg(i)) }

// GetCidr returns argument i as a CIDR network.
func (p *Params) GetCidr(i int) netip.Prefix { return p.runner.cidr(p.arg(i)) }

// GetRegExp returns the compiled regular expression passed as argument i.
func (p *Params) GetRegExp(i int) *regexp.Regexp { return p.runner.regexp(p.arg(i)) }

// GetHandler returns the program handler passed as argument i.
func (p *Params) GetHandler(i int) *Handler { return p.runner.program.handlers[p.arg(i)] }

func (p *Params) window(i int) []uint64 {
	w := int(p.arg(i))
	n := int(p.runner.data[w])
	return p.runner.data[w+1 : w+1+n]
}

// GetIntArray returns a copy of the number array passed as argument i.
func (p *Params) GetIntArray(i int) []int64 {
	w := p.window(i)
	out := make([]int64, len(w))
	for n, v := range w {
		out[n] = int64(v)
	}
	return out
}

// GetStringArray returns a copy of the string array passed as argument i.
func (p *Params) GetStringArray(i int) []string {
	w := p.window(i)
	out := make([]string, len(w))
	for n, v := range w {
		out[n] = p.runner.str(v)
	}
	return out
}

// GetIPAddressArray returns a copy of the IP address array passed as argument i.
func (p *Params) GetIPAddressArray(i int) []netip.Addr {
	w := p.window(i)
	out := make([]netip.Addr, len(w))
	for n, v := range w {
		out[n] = p.runner.ip(v)
	}
	return out
}

// GetCidrArray returns a copy of the CIDR array passed as argument i.
func (p *Params) GetCidrArray(i int) []netip.Prefix {
	w := p.window(i)
	out := make([]netip.Prefix, len(w))
	for n, v := range w {
		out[n] = p.runner.cidr(v)
	}
	return out
}

// SetResultBool sets the result. For native handlers true means the request was handled.
func (p *Params) SetResultBool(v bool) { p.argv[0] = b2u(v) }

// SetResultInt sets the numeric result.
func (p *Params) SetResultInt(v int64) { p.argv[0] = uint64(v) }

// SetResultString sets the string result. It lives in the runner's arena until the next Run.
func (p *Params) SetResultString(v string) { p.argv[0] = p.runner.NewString(v) }

// SetResultIPAddress sets the IP address result.
func (p *Params) SetResultIPAddress(v netip.Addr) { p.argv[0] = p.runner.NewIPAddress(v) }

// SetResultCidr sets the CIDR result.
func (p *Params) SetResultCidr(v netip.Prefix) { p.argv[0] = p.runner.NewCidr(v) }
