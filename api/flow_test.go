package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeChar(t *testing.T) {
	for _, tc := range []struct {
		typ  Type
		char byte
		name string
	}{
		{TypeVoid, 'V', "void"},
		{TypeBoolean, 'B', "bool"},
		{TypeNumber, 'I', "int"},
		{TypeString, 'S', "string"},
		{TypeIPAddress, 'P', "IPAddress"},
		{TypeCidr, 'C', "Cidr"},
		{TypeRegExp, 'R', "RegExp"},
		{TypeHandler, 'H', "Handler"},
		{TypeIntArray, 'i', "int[]"},
		{TypeStringArray, 's', "string[]"},
		{TypeIPAddrArray, 'p', "IPAddress[]"},
		{TypeCidrArray, 'c', "Cidr[]"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.char, tc.typ.Char())
			require.Equal(t, tc.name, tc.typ.String())
			back, err := TypeOfChar(tc.char)
			require.NoError(t, err)
			require.Equal(t, tc.typ, back)
		})
	}

	_, err := TypeOfChar('x')
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestType_ElementType(t *testing.T) {
	for _, elem := range []Type{TypeNumber, TypeString, TypeIPAddress, TypeCidr} {
		arr, err := ArrayOf(elem)
		require.NoError(t, err)
		require.True(t, arr.IsArray())
		require.Equal(t, elem, arr.ElementType())
	}
	_, err := ArrayOf(TypeHandler)
	require.ErrorIs(t, err, ErrUnknownType)
	require.False(t, TypeString.IsArray())
}

func TestSignature_RoundTrip(t *testing.T) {
	for _, sig := range []*Signature{
		{Name: "req.path", Return: TypeString},
		{Name: "log.write", Return: TypeVoid, Args: []Type{TypeString, TypeNumber}},
		{Name: "staticfile", Return: TypeBoolean},
		{Name: "ip.in", Return: TypeBoolean, Args: []Type{TypeIPAddress, TypeCidrArray}},
		{Name: "x", Return: TypeRegExp, Args: []Type{TypeHandler, TypeIntArray, TypeStringArray, TypeIPAddrArray, TypeCidr}},
		// Parentheses in names.
		{Name: "a(b", Return: TypeVoid},
		{Name: "f)", Return: TypeVoid},
		{Name: "g(S)", Return: TypeNumber, Args: []Type{TypeString}},
	} {
		s := sig.String()
		t.Run(s, func(t *testing.T) {
			parsed, err := ParseSignature(s)
			require.NoError(t, err)
			require.True(t, sig.Equal(parsed))
			require.Equal(t, s, parsed.String())
		})
	}
}

func TestSignature_String(t *testing.T) {
	sig := &Signature{Name: "log.write", Return: TypeVoid, Args: []Type{TypeString, TypeNumber}}
	require.Equal(t, "log.write(SI)V", sig.String())
}

func TestParseSignature_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"()V",
		"name",
		"name(S",
		"name(S)",
		"name(S)VV",
		"name(X)V",
		"name(S)X",
		"name)(S",
		"(S)V",
	} {
		in := in
		t.Run(in, func(t *testing.T) {
			_, err := ParseSignature(in)
			require.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestMatchClass_String(t *testing.T) {
	require.Equal(t, "same", MatchSame.String())
	require.Equal(t, "head", MatchHead.String())
	require.Equal(t, "tail", MatchTail.String())
	require.Equal(t, "regexp", MatchRegExp.String())
	require.Equal(t, "MatchClass(9)", MatchClass(9).String())
}
