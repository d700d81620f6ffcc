package ir

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/xzero/flow/api"
)

// Constant is an immutable literal value interned by the Program. Its type selects which
// accessor is meaningful.
type Constant struct {
	valueBase
	id    int
	i     int64
	s     string
	ip    netip.Addr
	cidr  netip.Prefix
	elems []*Constant
}

// ID returns the index of this constant within the program's pool of its type.
func (c *Constant) ID() int { return c.id }

// Int returns the value of a number constant.
func (c *Constant) Int() int64 { return c.i }

// Bool returns the value of a boolean constant.
func (c *Constant) Bool() bool { return c.i != 0 }

// Str returns the value of a string constant, or the pattern of a regular expression.
func (c *Constant) Str() string { return c.s }

// IPAddress returns the value of an IP address constant.
func (c *Constant) IPAddress() netip.Addr { return c.ip }

// Cidr returns the value of a CIDR constant.
func (c *Constant) Cidr() netip.Prefix { return c.cidr }

// Elements returns the elements of an array constant.
func (c *Constant) Elements() []*Constant { return c.elems }

// String returns the literal representation used by the IR dump.
func (c *Constant) String() string {
	switch c.typ {
	case api.TypeBoolean:
		return strconv.FormatBool(c.Bool())
	case api.TypeNumber:
		return strconv.FormatInt(c.i, 10)
	case api.TypeString:
		return strconv.Quote(c.s)
	case api.TypeIPAddress:
		return c.ip.String()
	case api.TypeCidr:
		return c.cidr.String()
	case api.TypeRegExp:
		return "/" + c.s + "/"
	case api.TypeIntArray, api.TypeStringArray, api.TypeIPAddrArray, api.TypeCidrArray:
		elems := make([]string, len(c.elems))
		for i, e := range c.elems {
			elems[i] = e.String()
		}
		return "[" + strings.Join(elems, ", ") + "]"
	}
	return fmt.Sprintf("<%s constant>", c.typ)
}

// key identifies the constant within its type's pool.
func (c *Constant) key() string {
	return string(c.typ.Char()) + c.String()
}

var _ Value = (*Constant)(nil)
