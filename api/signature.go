package api

import (
	"fmt"
	"strings"
)

// Signature is the identity of a native function or handler: its name, result type and
// parameter types. The canonical string form is
//
//	name(argChars)retChar
//
// e.g. "req.path()S" or "log.write(SI)V", see Type.Char.
type Signature struct {
	Name   string
	Return Type
	Args   []Type
}

// String returns the canonical form, which ParseSignature accepts.
func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for _, a := range s.Args {
		b.WriteByte(a.Char())
	}
	b.WriteByte(')')
	b.WriteByte(s.Return.Char())
	return b.String()
}

// Equal returns true if both signatures have the same canonical form.
func (s *Signature) Equal(o *Signature) bool {
	if s.Name != o.Name || s.Return != o.Return || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// ParseSignature parses the canonical form produced by Signature.String. The argument list
// is the last parenthesized part, so names may contain parentheses themselves.
func ParseSignature(sig string) (*Signature, error) {
	closing := len(sig) - 2
	if closing < 0 || sig[closing] != ')' {
		return nil, fmt.Errorf("%w: %q: expected ')' followed by exactly one return type", ErrInvalidSignature, sig)
	}
	open := strings.LastIndexByte(sig[:closing], '(')
	if open <= 0 {
		return nil, fmt.Errorf("%w: %q: missing name or '('", ErrInvalidSignature, sig)
	}

	ret, err := TypeOfChar(sig[closing+1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSignature, sig, err)
	}

	args := make([]Type, 0, closing-open-1)
	for i := open + 1; i < closing; i++ {
		t, err := TypeOfChar(sig[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSignature, sig, err)
		}
		args = append(args, t)
	}
	return &Signature{Name: sig[:open], Return: ret, Args: args}, nil
}
