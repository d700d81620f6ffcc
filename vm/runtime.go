package vm

import (
	"fmt"
	"strings"

	"github.com/xzero/flow/api"
)

// Functor is the Go implementation of a native callback.
type Functor func(p *Params)

// Importer loads the natives of a module into a Runtime, typically by registering them.
type Importer func(rt *Runtime, name, path string) error

// Runtime is the registry of native functions and handlers a Program links against.
// Registration is not goroutine-safe; a Runtime is read-only once programs are linked.
type Runtime struct {
	builtins []*NativeCallback
	importer Importer
	imported map[string]struct{}
}

// NewRuntime returns an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{imported: map[string]struct{}{}}
}

// WithImporter sets the function Import delegates to and returns the runtime.
func (rt *Runtime) WithImporter(importer Importer) *Runtime {
	rt.importer = importer
	return rt
}

// Import loads a module at most once. Without an importer this only records the module,
// and its natives are expected to be registered up front.
func (rt *Runtime) Import(name, path string) error {
	key := name + "\x00" + path
	if _, ok := rt.imported[key]; ok {
		return nil
	}
	if rt.importer != nil {
		if err := rt.importer(rt, name, path); err != nil {
			return err
		}
	}
	rt.imported[key] = struct{}{}
	log.Debugf("imported module %s", name)
	return nil
}

// RegisterHandler registers a native handler. Its parameters are declared on the returned
// callback.
func (rt *Runtime) RegisterHandler(name string) *NativeCallback {
	return rt.register(name, true, api.TypeBoolean)
}

// RegisterFunction registers a native function returning ret.
func (rt *Runtime) RegisterFunction(name string, ret api.Type) *NativeCallback {
	return rt.register(name, false, ret)
}

func (rt *Runtime) register(name string, isHandler bool, ret api.Type) *NativeCallback {
	cb := &NativeCallback{
		runtime:   rt,
		id:        len(rt.builtins),
		isHandler: isHandler,
		sig:       api.Signature{Name: name, Return: ret},
	}
	rt.builtins = append(rt.builtins, cb)
	return cb
}

// Builtins returns every registered callback, indexed by NativeCallback.ID.
func (rt *Runtime) Builtins() []*NativeCallback { return rt.builtins }

// Find returns the callback whose signature string equals sig, or nil.
func (rt *Runtime) Find(sig string) *NativeCallback {
	for _, cb := range rt.builtins {
		if cb.sig.String() == sig {
			return cb
		}
	}
	return nil
}

func (rt *Runtime) find(sig string, isHandler bool) *NativeCallback {
	for _, cb := range rt.builtins {
		if cb.isHandler == isHandler && cb.sig.String() == sig {
			return cb
		}
	}
	return nil
}

// Invoke calls the callback with the given id. argv[0] is the result slot and
// argv[1:argc] hold the arguments.
func (rt *Runtime) Invoke(id int, argc int, argv []uint64, runner *Runner) {
	rt.builtins[id].Invoke(&Params{runner: runner, argv: argv[:argc]})
}

// VerifyNativeCalls checks that every native signature the program refers to is registered,
// as a handler or function respectively. All unresolved signatures are reported together
// in a *LinkError.
func (rt *Runtime) VerifyNativeCalls(p *Program) error {
	var unresolved []string
	for _, sig := range p.data.NativeHandlerSignatures {
		if rt.find(sig, true) == nil {
			unresolved = append(unresolved, sig)
		}
	}
	for _, sig := range p.data.NativeFunctionSignatures {
		if rt.find(sig, false) == nil {
			unresolved = append(unresolved, sig)
		}
	}
	if len(unresolved) > 0 {
		return &LinkError{Unresolved: unresolved}
	}
	return nil
}

// LinkError lists everything that prevented a program from being linked.
type LinkError struct {
	Imports    []error
	Unresolved []string
}

// Error implements error.
func (e *LinkError) Error() string {
	var parts []string
	for _, err := range e.Imports {
		parts = append(parts, err.Error())
	}
	if len(e.Unresolved) > 0 {
		parts = append(parts, "unresolved native signatures: "+strings.Join(e.Unresolved, ", "))
	}
	return "link: " + strings.Join(parts, "; ")
}

// NativeCallback is a native function or handler registered with a Runtime. The returned
// builder methods declare its parameters and attributes.
type NativeCallback struct {
	runtime    *Runtime
	id         int
	isHandler  bool
	sig        api.Signature
	paramNames []string
	fn         Functor
	readOnly   bool
	noReturn   bool
}

// ID returns the index of the callback within its runtime.
func (n *NativeCallback) ID() int { return n.id }

// IsHandler returns true for native handlers.
func (n *NativeCallback) IsHandler() bool { return n.isHandler }

// Signature returns the signature, which changes while parameters are declared.
func (n *NativeCallback) Signature() *api.Signature { return &n.sig }

// ParamNames returns the declared parameter names.
func (n *NativeCallback) ParamNames() []string { return n.paramNames }

// ReadOnly returns true if the callback has no side effects.
func (n *NativeCallback) ReadOnly() bool { return n.readOnly }

// NoReturn returns true if the handler always completes the request.
func (n *NativeCallback) NoReturn() bool { return n.noReturn }

// Param declares the next parameter.
func (n *NativeCallback) Param(name string, t api.Type) *NativeCallback {
	n.paramNames = append(n.paramNames, name)
	n.sig.Args = append(n.sig.Args, t)
	return n
}

// Params declares unnamed parameters.
func (n *NativeCallback) Params(types ...api.Type) *NativeCallback {
	for _, t := range types {
		n.Param(fmt.Sprintf("arg%d", len(n.sig.Args)+1), t)
	}
	return n
}

// ReturnType sets the result type of a function. Handlers always return a boolean.
func (n *NativeCallback) ReturnType(t api.Type) *NativeCallback {
	if n.isHandler {
		panic(fmt.Sprintf("BUG: setting return type of native handler %s", n.sig.Name))
	}
	n.sig.Return = t
	return n
}

// Bind sets the implementation.
func (n *NativeCallback) Bind(fn Functor) *NativeCallback {
	n.fn = fn
	return n
}

// SetReadOnly marks the callback as free of side effects.
func (n *NativeCallback) SetReadOnly() *NativeCallback {
	n.readOnly = true
	return n
}

// SetNoReturn marks a handler as always completing the request.
func (n *NativeCallback) SetNoReturn() *NativeCallback {
	n.noReturn = true
	return n
}

// Invoke calls the implementation. Unbound callbacks do nothing and leave the result zero.
func (n *NativeCallback) Invoke(p *Params) {
	if n.fn == nil {
		log.Warningf("native %s has no implementation bound", n.sig.String())
		return
	}
	n.fn(p)
}
