// Package api includes constants and types used by both end-users and internal implementations.
package api

import (
	"errors"
	"fmt"
)

// Type describes the type of a value in the flow language. Native callbacks declare their
// parameters and results with it, and every IR value carries exactly one Type.
//
// Each Type has a single character used in canonical signature strings. See Signature.
type Type byte

const (
	TypeVoid Type = iota
	TypeBoolean
	TypeNumber
	TypeString
	TypeIPAddress
	TypeCidr
	TypeRegExp
	TypeHandler
	TypeIntArray
	TypeStringArray
	TypeIPAddrArray
	TypeCidrArray
)

var typeNames = [...]string{
	TypeVoid:        "void",
	TypeBoolean:     "bool",
	TypeNumber:      "int",
	TypeString:      "string",
	TypeIPAddress:   "IPAddress",
	TypeCidr:        "Cidr",
	TypeRegExp:      "RegExp",
	TypeHandler:     "Handler",
	TypeIntArray:    "int[]",
	TypeStringArray: "string[]",
	TypeIPAddrArray: "IPAddress[]",
	TypeCidrArray:   "Cidr[]",
}

var typeChars = [...]byte{
	TypeVoid:        'V',
	TypeBoolean:     'B',
	TypeNumber:      'I',
	TypeString:      'S',
	TypeIPAddress:   'P',
	TypeCidr:        'C',
	TypeRegExp:      'R',
	TypeHandler:     'H',
	TypeIntArray:    'i',
	TypeStringArray: 's',
	TypeIPAddrArray: 'p',
	TypeCidrArray:   'c',
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Char returns the signature character of this type.
func (t Type) Char() byte {
	if int(t) < len(typeChars) {
		return typeChars[t]
	}
	return '?'
}

// IsArray returns true if the type is one of the array types.
func (t Type) IsArray() bool {
	return t >= TypeIntArray && t <= TypeCidrArray
}

// ElementType returns the element type of an array type, or TypeVoid for scalar types.
func (t Type) ElementType() Type {
	switch t {
	case TypeIntArray:
		return TypeNumber
	case TypeStringArray:
		return TypeString
	case TypeIPAddrArray:
		return TypeIPAddress
	case TypeCidrArray:
		return TypeCidr
	}
	return TypeVoid
}

// ArrayOf returns the array type whose elements are of type t.
func ArrayOf(t Type) (Type, error) {
	switch t {
	case TypeNumber:
		return TypeIntArray, nil
	case TypeString:
		return TypeStringArray, nil
	case TypeIPAddress:
		return TypeIPAddrArray, nil
	case TypeCidr:
		return TypeCidrArray, nil
	}
	return TypeVoid, fmt.Errorf("%w: no array of %s", ErrUnknownType, t)
}

// TypeOfChar returns the type that is encoded with the given signature character.
func TypeOfChar(c byte) (Type, error) {
	for t, ch := range typeChars {
		if ch == c {
			return Type(t), nil
		}
	}
	return TypeVoid, fmt.Errorf("%w: %q", ErrUnknownType, c)
}

var (
	// ErrUnknownType is returned when a signature character or type has no mapping.
	ErrUnknownType = errors.New("unknown type")
	// ErrInvalidSignature is returned by ParseSignature on malformed input.
	ErrInvalidSignature = errors.New("invalid signature")
)

// MatchClass selects how the cases of a match statement are compared against its condition.
type MatchClass byte

const (
	// MatchSame compares for string equality.
	MatchSame MatchClass = iota
	// MatchHead selects the case with the longest label that is a prefix of the condition.
	MatchHead
	// MatchTail selects the case with the longest label that is a suffix of the condition.
	MatchTail
	// MatchRegExp selects the first case whose regular expression matches the condition.
	MatchRegExp
)

// String implements fmt.Stringer.
func (c MatchClass) String() string {
	switch c {
	case MatchSame:
		return "same"
	case MatchHead:
		return "head"
	case MatchTail:
		return "tail"
	case MatchRegExp:
		return "regexp"
	}
	return fmt.Sprintf("MatchClass(%d)", c)
}
