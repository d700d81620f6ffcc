package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xzero/flow/api"
)

// testCtx is an arbitrary, non-default context.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func i(op Opcode, operands ...Operand) Instruction { return MakeInstruction(op, operands...) }

func mustProgram(t *testing.T, data *ProgramData) *Program {
	t.Helper()
	p, err := NewProgram(data)
	require.NoError(t, err)
	return p
}

func mustLinked(t *testing.T, rt *Runtime, data *ProgramData) *Program {
	t.Helper()
	p := mustProgram(t, data)
	require.NoError(t, p.Link(rt))
	return p
}

func TestInstruction(t *testing.T) {
	in := i(CALL, 3, 4, 10)
	require.Equal(t, CALL, in.Opcode())
	require.Equal(t, Operand(3), in.A())
	require.Equal(t, Operand(4), in.B())
	require.Equal(t, Operand(10), in.C())
	require.Equal(t, "CALL       3, 4, r10", in.String())
	require.Equal(t, 14, in.registerMax())

	require.Equal(t, "NOP", i(NOP).String())
	require.Equal(t, "EXIT       1", i(EXIT, 1).String())
	require.Equal(t, "IMOV       r1, 42", i(IMOV, 1, 42).String())
	require.Equal(t, "SMATCHBEG  0, r2", i(SMATCHBEG, 0, 2).String())
	require.Equal(t, "NADD       r3, r1, r2", i(NADD, 3, 1, 2).String())
	require.Equal(t, "Opcode(255)", Opcode(255).String())

	require.Panics(t, func() { MakeInstruction(NADD, 1, 2, 3, 4) })

	require.Equal(t, 1, computeRegisterCount([]Instruction{i(EXIT, 0)}))
	require.Equal(t, 4, computeRegisterCount([]Instruction{i(IMOV, 1, 7), i(MOV, 3, 1), i(EXIT, 0)}))

	require.Equal(t, "   0: IMOV       r1, 7\n   1: EXIT       0\n", Disassemble([]Instruction{i(IMOV, 1, 7), i(EXIT, 0)}))
}

func TestRunner_Numbers(t *testing.T) {
	for _, tc := range []struct {
		op   Opcode
		x, y int64
		exp  int64
	}{
		{op: NADD, x: 7, y: 5, exp: 12},
		{op: NSUB, x: 5, y: 7, exp: -2},
		{op: NMUL, x: 7, y: 5, exp: 35},
		{op: NDIV, x: 7, y: 2, exp: 3},
		{op: NDIV, x: 7, y: 0, exp: 0},
		{op: NREM, x: 7, y: 5, exp: 2},
		{op: NREM, x: 7, y: 0, exp: 0},
		{op: NSHL, x: 1, y: 4, exp: 16},
		{op: NSHR, x: 16, y: 2, exp: 4},
		{op: NPOW, x: 2, y: 10, exp: 1024},
		{op: NPOW, x: 2, y: -1, exp: 0},
		{op: NAND, x: 6, y: 3, exp: 2},
		{op: NOR, x: 6, y: 3, exp: 7},
		{op: NXOR, x: 6, y: 3, exp: 5},
		{op: NCMPEQ, x: 5, y: 5, exp: 1},
		{op: NCMPNE, x: 5, y: 5, exp: 0},
		{op: NCMPLE, x: -1, y: 5, exp: 1},
		{op: NCMPGE, x: -1, y: 5, exp: 0},
		{op: NCMPLT, x: 5, y: 7, exp: 1},
		{op: NCMPGT, x: 5, y: 7, exp: 0},
		{op: BAND, x: 1, y: 0, exp: 0},
		{op: BOR, x: 1, y: 0, exp: 1},
		{op: BXOR, x: 1, y: 1, exp: 0},
	} {
		tc := tc
		t.Run(tc.op.String(), func(t *testing.T) {
			p := mustProgram(t, &ProgramData{
				Numbers: []int64{tc.x, tc.y},
				Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
					i(NCONST, 1, 0),
					i(NCONST, 2, 1),
					i(tc.op, 3, 1, 2),
					i(EXIT, 0),
				}}},
			})
			r := p.Handler(0).CreateRunner()
			require.False(t, r.Run(testCtx))
			require.Equal(t, tc.exp, int64(r.Register(3)))
			require.Equal(t, Inactive, r.State())
		})
	}
}

func TestRunner_Strings(t *testing.T) {
	p := mustProgram(t, &ProgramData{
		Strings: []string{"hello", "ell", "42"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(SCONST, 1, 0),
			i(SCONST, 2, 1),
			i(SCONTAINS, 3, 2, 1),
			i(SCMPBEG, 4, 1, 2),
			i(SADD, 5, 1, 2),
			i(SLEN, 6, 5),
			i(SCONST, 7, 2),
			i(S2N, 8, 7),
			i(N2S, 9, 6),
			i(SCMPLT, 10, 2, 1),
			i(SISEMPTY, 11, 1),
			i(B2S, 12, 3),
			i(EXIT, 1),
		}}},
	})
	r := p.Handler(0).CreateRunner()
	require.True(t, r.Run(testCtx))

	require.Equal(t, uint64(1), r.Register(3))
	require.Equal(t, uint64(0), r.Register(4))
	require.Equal(t, "helloell", r.str(r.Register(5)))
	require.Equal(t, uint64(8), r.Register(6))
	require.Equal(t, uint64(42), r.Register(8))
	require.Equal(t, "8", r.str(r.Register(9)))
	require.Equal(t, uint64(1), r.Register(10))
	require.Equal(t, uint64(0), r.Register(11))
	require.Equal(t, "true", r.str(r.Register(12)))

	// A second run starts from scratch.
	require.True(t, r.Run(testCtx))
	require.Equal(t, 3, len(r.strings))
}

func TestRunner_IPAddresses(t *testing.T) {
	p := mustProgram(t, &ProgramData{
		IPAddrs: []string{"192.168.0.7", "10.0.0.1"},
		Cidrs:   []string{"192.168.0.0/24"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(PCONST, 1, 0),
			i(PCONST, 2, 1),
			i(CCONST, 3, 0),
			i(PINCIDR, 4, 1, 3),
			i(PINCIDR, 5, 2, 3),
			i(PCMPEQ, 6, 1, 1),
			i(PCMPNE, 7, 1, 2),
			i(P2S, 8, 1),
			i(C2S, 9, 3),
			i(EXIT, 0),
		}}},
	})
	r := p.Handler(0).CreateRunner()
	r.Run(testCtx)
	require.Equal(t, uint64(1), r.Register(4))
	require.Equal(t, uint64(0), r.Register(5))
	require.Equal(t, uint64(1), r.Register(6))
	require.Equal(t, uint64(1), r.Register(7))
	require.Equal(t, "192.168.0.7", r.str(r.Register(8)))
	require.Equal(t, "192.168.0.0/24", r.str(r.Register(9)))
}

func TestRunner_Jumps(t *testing.T) {
	code := []Instruction{
		i(NCONST, 1, 0),
		i(JZ, 1, 3),
		i(EXIT, 1),
		i(JMP, 5),
		i(EXIT, 1),
		i(EXIT, 0),
	}
	require.True(t, mustProgram(t, &ProgramData{
		Numbers: []int64{1}, Handlers: []HandlerDef{{Name: "main", Code: code}},
	}).Handler(0).Run(testCtx, nil))
	require.False(t, mustProgram(t, &ProgramData{
		Numbers: []int64{0}, Handlers: []HandlerDef{{Name: "main", Code: code}},
	}).Handler(0).Run(testCtx, nil))
}

// matchProgram evaluates a match of the given class on input and stores the taken branch in
// r2: 1 for the first case, 2 for the second and 3 for else.
func matchProgram(t *testing.T, class api.MatchClass, labels []string, input string) *Runner {
	t.Helper()
	data := &ProgramData{
		Matches: []MatchDef{{Class: class, ElsePC: 6, Cases: []MatchCaseDef{{Label: 0, PC: 2}, {Label: 1, PC: 4}}}},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(SCONST, 1, 2),
			i(matchOpcodes[class], 0, 1),
			i(IMOV, 2, 1),
			i(EXIT, 1),
			i(IMOV, 2, 2),
			i(EXIT, 1),
			i(IMOV, 2, 3),
			i(EXIT, 0),
		}}},
	}
	if class == api.MatchRegExp {
		data.RegExps = labels
		data.Strings = []string{"", "", input}
	} else {
		data.Strings = append(append([]string{}, labels...), input)
	}
	r := mustProgram(t, data).Handler(0).CreateRunner()
	r.Run(testCtx)
	return r
}

func TestRunner_Match(t *testing.T) {
	for _, tc := range []struct {
		name   string
		class  api.MatchClass
		labels []string
		input  string
		exp    uint64
	}{
		{name: "same hit", class: api.MatchSame, labels: []string{"/foo", "/bar"}, input: "/bar", exp: 2},
		{name: "same miss", class: api.MatchSame, labels: []string{"/foo", "/bar"}, input: "/foo/", exp: 3},
		{name: "same duplicate", class: api.MatchSame, labels: []string{"/foo", "/foo"}, input: "/foo", exp: 1},
		{name: "head exact", class: api.MatchHead, labels: []string{"/foo", "/foo/bar"}, input: "/foo", exp: 1},
		{name: "head longest", class: api.MatchHead, labels: []string{"/foo", "/foo/bar"}, input: "/foo/bar/x", exp: 2},
		{name: "head miss", class: api.MatchHead, labels: []string{"/foo", "/foo/bar"}, input: "/other", exp: 3},
		{name: "head short", class: api.MatchHead, labels: []string{"/foo", "/foo/bar"}, input: "/fo", exp: 3},
		{name: "tail", class: api.MatchTail, labels: []string{".html", "index.html"}, input: "x.html", exp: 1},
		{name: "tail longest", class: api.MatchTail, labels: []string{".html", "index.html"}, input: "/a/index.html", exp: 2},
		{name: "tail miss", class: api.MatchTail, labels: []string{".html", "index.html"}, input: "x.css", exp: 3},
		{name: "regexp first", class: api.MatchRegExp, labels: []string{"^/u", "^/u/(\\d+)$"}, input: "/u/42", exp: 1},
		{name: "regexp second", class: api.MatchRegExp, labels: []string{"^/x", "^/u/(\\d+)$"}, input: "/u/42", exp: 2},
		{name: "regexp miss", class: api.MatchRegExp, labels: []string{"^/x", "^/y"}, input: "/u/42", exp: 3},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := matchProgram(t, tc.class, tc.labels, tc.input)
			require.Equal(t, tc.exp, r.Register(2))
		})
	}
}

func TestRunner_RegExpGroups(t *testing.T) {
	p := mustProgram(t, &ProgramData{
		Numbers: []int64{1},
		Strings: []string{"/u/42"},
		RegExps: []string{"^/u/(\\d+)$"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(SCONST, 1, 0),
			i(RCONST, 2, 0),
			i(SREGMATCH, 3, 1, 2),
			i(NCONST, 4, 0),
			i(SREGGROUP, 5, 4),
			i(IMOV, 6, 9),
			i(SREGGROUP, 7, 6),
			i(R2S, 8, 2),
			i(EXIT, 0),
		}}},
	})
	r := p.Handler(0).CreateRunner()
	r.Run(testCtx)
	require.Equal(t, uint64(1), r.Register(3))
	require.Equal(t, "42", r.str(r.Register(5)))
	require.Equal(t, "", r.str(r.Register(7)))
	require.Equal(t, "^/u/(\\d+)$", r.str(r.Register(8)))
	require.Equal(t, "/u/42", r.RegExpGroup(0))
}

func TestRunner_NativeCalls(t *testing.T) {
	type request struct{ path string }

	rt := NewRuntime()
	rt.RegisterFunction("add", api.TypeNumber).Params(api.TypeNumber, api.TypeNumber).SetReadOnly().Bind(func(p *Params) {
		require.Equal(t, 2, p.Count())
		p.SetResultInt(p.GetInt(0) + p.GetInt(1))
	})
	rt.RegisterFunction("req.path", api.TypeString).Bind(func(p *Params) {
		p.SetResultString(p.UserData().(*request).path)
	})
	rt.RegisterHandler("deny").Param("path", api.TypeString).Bind(func(p *Params) {
		p.SetResultBool(p.GetString(0) == "/admin")
	})

	p := mustLinked(t, rt, &ProgramData{
		NativeFunctionSignatures: []string{"add(II)I", "req.path()S"},
		NativeHandlerSignatures:  []string{"deny(S)B"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(IMOV, 2, 40),
			i(IMOV, 3, 2),
			i(CALL, 0, 3, 1),
			i(CALL, 1, 1, 4),
			i(MOV, 6, 4),
			i(HANDLER, 0, 2, 5),
			i(EXIT, 0),
		}}},
	})
	require.Equal(t, 7, p.Handler(0).RegisterCount())

	r := p.Handler(0).CreateRunner()
	r.SetUserData(&request{path: "/index.html"})
	require.False(t, r.Run(testCtx))
	require.Equal(t, uint64(42), r.Register(1))

	r.SetUserData(&request{path: "/admin"})
	require.True(t, r.Run(testCtx))
	require.Equal(t, 6, r.PC())
}

func TestRunner_Suspend(t *testing.T) {
	var suspended *Params
	rt := NewRuntime()
	rt.RegisterHandler("wait").Bind(func(p *Params) {
		suspended = p
		p.Runner().Suspend()
	})
	rt.RegisterFunction("nop", api.TypeVoid).Bind(func(p *Params) {
		p.Runner().Suspend()
	})
	p := mustLinked(t, rt, &ProgramData{
		NativeHandlerSignatures:  []string{"wait()B"},
		NativeFunctionSignatures: []string{"nop()V"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(HANDLER, 0, 1, 1),
			i(CALL, 0, 1, 2),
			i(EXIT, 1),
		}}},
	})

	t.Run("resume after handled", func(t *testing.T) {
		r := p.Handler(0).CreateRunner()
		require.False(t, r.Run(testCtx))
		require.Equal(t, Suspended, r.State())
		require.Equal(t, 1, r.PC())
		require.Panics(t, func() { r.Run(testCtx) })

		suspended.SetResultBool(true)
		require.True(t, r.Resume(testCtx))
		require.Equal(t, Inactive, r.State())
	})

	t.Run("resume continues", func(t *testing.T) {
		r := p.Handler(0).CreateRunner()
		require.False(t, r.Run(testCtx))

		// suspended again by the function call
		require.False(t, r.Resume(testCtx))
		require.Equal(t, Suspended, r.State())
		require.Equal(t, 2, r.PC())

		require.True(t, r.Resume(testCtx))
		require.Panics(t, func() { r.Resume(testCtx) })
		require.Panics(t, func() { r.Suspend() })
	})

	t.Run("registers survive", func(t *testing.T) {
		p := mustLinked(t, rt, &ProgramData{
			NativeFunctionSignatures: []string{"nop()V"},
			Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
				i(IMOV, 3, 77),
				i(IMOV, 4, 9),
				i(CALL, 0, 1, 2),
				i(NADD, 5, 3, 3),
				i(EXIT, 1),
			}}},
		})
		h := p.Handler(0)
		require.Equal(t, 6, h.RegisterCount())

		r := h.CreateRunner()
		require.False(t, r.Run(testCtx))
		require.Equal(t, Suspended, r.State())
		require.Equal(t, 3, r.PC())

		saved := make([]uint64, h.RegisterCount())
		for n := range saved {
			saved[n] = r.Register(n)
		}
		require.Equal(t, uint64(77), saved[3])
		require.Equal(t, uint64(9), saved[4])

		require.True(t, r.Resume(testCtx))
		for n := 0; n < 5; n++ {
			require.Equal(t, saved[n], r.Register(n), "r%d", n)
		}
		require.Equal(t, uint64(154), r.Register(5))
	})
}

func TestRunner_ContextDone(t *testing.T) {
	called := false
	rt := NewRuntime()
	rt.RegisterHandler("h").Bind(func(p *Params) { called = true })
	p := mustLinked(t, rt, &ProgramData{
		NativeHandlerSignatures: []string{"h()B"},
		Handlers:                []HandlerDef{{Name: "main", Code: []Instruction{i(HANDLER, 0, 1, 1), i(EXIT, 1)}}},
	})

	ctx, cancel := context.WithCancel(testCtx)
	cancel()
	r := p.Handler(0).CreateRunner()
	require.False(t, r.Run(ctx))
	require.False(t, called)
	require.ErrorIs(t, r.Err(), context.Canceled)
	require.Equal(t, Inactive, r.State())
}

func TestParams_Arrays(t *testing.T) {
	var ints []int64
	var strs []string
	rt := NewRuntime()
	rt.RegisterFunction("sum", api.TypeVoid).Params(api.TypeIntArray, api.TypeStringArray).Bind(func(p *Params) {
		ints = p.GetIntArray(0)
		strs = p.GetStringArray(1)
	})
	p := mustLinked(t, rt, &ProgramData{
		Strings:                  []string{"a", "b"},
		NativeFunctionSignatures: []string{"sum(is)V"},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			// int[] window at r1
			i(IMOV, 1, 2), i(IMOV, 2, 10), i(IMOV, 3, 20),
			// string[] window at r4
			i(IMOV, 4, 2), i(SCONST, 5, 1), i(SCONST, 6, 0),
			i(IMOV, 8, 1), i(IMOV, 9, 4),
			i(CALL, 0, 3, 7),
			i(EXIT, 0),
		}}},
	})
	p.Handler(0).Run(testCtx, nil)
	require.Equal(t, []int64{10, 20}, ints)
	require.Equal(t, []string{"b", "a"}, strs)
}

func TestNewProgram_Errors(t *testing.T) {
	main := func(code ...Instruction) []HandlerDef { return []HandlerDef{{Name: "main", Code: code}} }
	for _, tc := range []struct {
		name   string
		data   *ProgramData
		expErr string
	}{
		{name: "no code", data: &ProgramData{Handlers: main()}, expErr: "handler main: no code"},
		{
			name:   "jump",
			data:   &ProgramData{Handlers: main(i(JMP, 5))},
			expErr: "handler main: pc 0: jump target 5 out of range [0, 1)",
		},
		{
			name:   "conditional jump",
			data:   &ProgramData{Handlers: main(i(JZ, 1, 2), i(EXIT, 0))},
			expErr: "handler main: pc 0: jump target 2 out of range [0, 2)",
		},
		{
			name:   "string constant",
			data:   &ProgramData{Strings: []string{"a"}, Handlers: main(i(SCONST, 1, 1), i(EXIT, 0))},
			expErr: "handler main: pc 0: string constant 1 out of range [0, 1)",
		},
		{
			name:   "native function",
			data:   &ProgramData{Handlers: main(i(CALL, 0, 1, 1), i(EXIT, 0))},
			expErr: "handler main: pc 0: native function 0 out of range [0, 0)",
		},
		{
			name:   "invalid opcode",
			data:   &ProgramData{Handlers: main(Instruction(opcodeEnd))},
			expErr: fmt.Sprintf("handler main: pc 0: invalid opcode %d", opcodeEnd),
		},
		{
			name:   "ipaddr",
			data:   &ProgramData{IPAddrs: []string{"x"}, Handlers: main(i(EXIT, 0))},
			expErr: `ipaddr constant 0: ParseAddr("x"): unable to parse IP`,
		},
		{
			name:   "regexp",
			data:   &ProgramData{RegExps: []string{"("}, Handlers: main(i(EXIT, 0))},
			expErr: "regexp constant 0: error parsing regexp: missing closing ): `(`",
		},
		{
			name: "match class",
			data: &ProgramData{
				Strings:  []string{"a"},
				Matches:  []MatchDef{{Class: api.MatchHead, Cases: []MatchCaseDef{{Label: 0}}}},
				Handlers: main(i(SCONST, 1, 0), i(SMATCHEQ, 0, 1)),
			},
			expErr: "handler main: pc 1: head match used with SMATCHEQ",
		},
		{
			name: "match label",
			data: &ProgramData{
				Matches:  []MatchDef{{Class: api.MatchSame, Cases: []MatchCaseDef{{Label: 0}}}},
				Handlers: main(i(EXIT, 0)),
			},
			expErr: "match 0: label 0 out of range [0, 0)",
		},
		{
			name: "match target",
			data: &ProgramData{
				Matches:  []MatchDef{{Class: api.MatchSame, ElsePC: 3}},
				Handlers: main(i(EXIT, 0)),
			},
			expErr: "handler main: match else pc 3 out of range",
		},
		{
			name: "match of other handler",
			data: &ProgramData{
				Strings: []string{"a"},
				Matches: []MatchDef{{Handler: 1, Class: api.MatchSame}},
				Handlers: []HandlerDef{
					{Name: "main", Code: []Instruction{i(SCONST, 1, 0), i(SMATCHEQ, 0, 1)}},
					{Name: "other", Code: []Instruction{i(EXIT, 0)}},
				},
			},
			expErr: "handler main: pc 1: match 0 belongs to another handler",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProgram(tc.data)
			require.EqualError(t, err, tc.expErr)
		})
	}
}

func TestProgram_Link(t *testing.T) {
	data := func() *ProgramData {
		return &ProgramData{
			Modules:                  []ModuleDef{{Name: "std"}, {Name: "ext", Path: "/usr/lib/ext"}},
			NativeHandlerSignatures:  []string{"respond(I)B"},
			NativeFunctionSignatures: []string{"req.path()S", "respond(I)B"},
			Handlers:                 []HandlerDef{{Name: "main", Code: []Instruction{i(EXIT, 0)}}},
		}
	}

	t.Run("unresolved", func(t *testing.T) {
		rt := NewRuntime()
		rt.RegisterHandler("respond").Param("status", api.TypeNumber)

		err := mustProgram(t, data()).Link(rt)
		var le *LinkError
		require.True(t, errors.As(err, &le))
		require.Equal(t, []string{"req.path()S", "respond(I)B"}, le.Unresolved)
		require.EqualError(t, err, "link: unresolved native signatures: req.path()S, respond(I)B")
	})

	t.Run("import", func(t *testing.T) {
		var imported []string
		rt := NewRuntime().WithImporter(func(rt *Runtime, name, path string) error {
			imported = append(imported, name)
			if name == "ext" {
				return errors.New("not found")
			}
			rt.RegisterHandler("respond").Param("status", api.TypeNumber)
			rt.RegisterFunction("req.path", api.TypeString)
			rt.RegisterFunction("respond", api.TypeBoolean).Param("status", api.TypeNumber)
			return nil
		})
		err := mustProgram(t, data()).Link(rt)
		require.EqualError(t, err, "link: import ext: not found")
		require.Equal(t, []string{"std", "ext"}, imported)

		// std is not imported twice
		_ = mustProgram(t, data()).Link(rt)
		require.Equal(t, []string{"std", "ext", "ext"}, imported)
	})

	t.Run("ok", func(t *testing.T) {
		rt := NewRuntime()
		rt.RegisterFunction("other", api.TypeVoid)
		rt.RegisterFunction("respond", api.TypeBoolean).Param("status", api.TypeNumber)
		rt.RegisterHandler("respond").Param("status", api.TypeNumber)
		rt.RegisterFunction("req.path", api.TypeString)

		p := mustProgram(t, data())
		require.NoError(t, p.Link(rt))
		require.Same(t, rt, p.Runtime())
		require.Equal(t, []int{2}, p.nativeHandlerIDs)
		require.Equal(t, []int{3, 1}, p.nativeFuncIDs)
	})
}

func TestRuntime(t *testing.T) {
	rt := NewRuntime()
	cb := rt.RegisterFunction("log.write", api.TypeVoid).Param("message", api.TypeString).Params(api.TypeNumber)
	h := rt.RegisterHandler("staticfile").SetNoReturn()

	require.Equal(t, "log.write(SI)V", cb.Signature().String())
	require.Equal(t, []string{"message", "arg2"}, cb.ParamNames())
	require.Equal(t, 0, cb.ID())
	require.False(t, cb.IsHandler())
	require.Equal(t, "staticfile()B", h.Signature().String())
	require.True(t, h.NoReturn())
	require.False(t, h.ReadOnly())

	require.Same(t, cb, rt.Find("log.write(SI)V"))
	require.Nil(t, rt.Find("log.write(S)V"))
	require.Equal(t, []*NativeCallback{cb, h}, rt.Builtins())
	require.Panics(t, func() { h.ReturnType(api.TypeNumber) })

	// unbound callbacks leave the result untouched
	argv := []uint64{0}
	cb.Invoke(&Params{argv: argv})
	require.Equal(t, uint64(0), argv[0])
}

func TestProgram_Disassemble(t *testing.T) {
	p := mustProgram(t, &ProgramData{
		Numbers:                  []int64{100000},
		Strings:                  []string{"/foo"},
		Modules:                  []ModuleDef{{Name: "std"}},
		NativeFunctionSignatures: []string{"req.path()S"},
		Matches:                  []MatchDef{{Class: api.MatchHead, ElsePC: 4, Cases: []MatchCaseDef{{Label: 0, PC: 3}}}},
		Handlers: []HandlerDef{{Name: "main", Code: []Instruction{
			i(NCONST, 2, 0),
			i(CALL, 0, 1, 1),
			i(SMATCHBEG, 0, 1),
			i(EXIT, 1),
			i(EXIT, 0),
		}}},
	})
	require.Equal(t, `; import std
.extern function    0 = req.path()S
.const number       0 = 100000
.const string       0 = "/foo"
.match head 0 handler=main else=4 ["/foo" -> 3]

.handler main ; registers=3
   0: NCONST     r2, 0                   ; 100000
   1: CALL       0, 1, r1                ; req.path()S
   2: SMATCHBEG  0, r1
   3: EXIT       1
   4: EXIT       0
`, p.Disassemble())
	require.Same(t, p.Handler(0), p.FindHandler("main"))
	require.Nil(t, p.FindHandler("other"))
	require.Equal(t, 0, p.IndexOf(p.Handler(0)))
	require.Same(t, p.Handler(0), p.Matches()[0].Handler())
}

func TestCodec(t *testing.T) {
	data := &ProgramData{
		Numbers:  []int64{-1, 1 << 40},
		Strings:  []string{"a", "b"},
		IPAddrs:  []string{"::1"},
		Matches:  []MatchDef{{Class: api.MatchTail, ElsePC: 1, Cases: []MatchCaseDef{{Label: 1, PC: 0}}}},
		Modules:  []ModuleDef{{Name: "std"}},
		Handlers: []HandlerDef{{Name: "main", RegisterCount: 3, Code: []Instruction{i(EXIT, 1), i(EXIT, 0)}}},
	}
	b, err := EncodeProgram(data)
	require.NoError(t, err)

	again, err := EncodeProgram(data)
	require.NoError(t, err)
	require.Equal(t, b, again)

	decoded, err := DecodeProgram(b)
	require.NoError(t, err)
	require.Equal(t, data, decoded)

	_, err = DecodeProgram([]byte{0xff, 0x00})
	require.Error(t, err)
}
