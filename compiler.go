// Package flow compiles flow programs, the request routing language of an embeddable web
// server, into bytecode executed by package vm.
//
// A host registers its native functions and handlers with a vm.Runtime, compiles a
// validated syntax tree with a Compiler and runs the resulting handlers once per request:
//
//	rt := vm.NewRuntime()
//	rt.RegisterFunction("req.path", api.TypeString).Bind(reqPath)
//	program, err := flow.NewCompiler(rt, flow.NewCompilerConfig()).Compile(ctx, unit)
//	handled := program.FindHandler("main").Run(ctx, request)
package flow

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/xzero/flow/ast"
	"github.com/xzero/flow/internal/codegen"
	"github.com/xzero/flow/internal/compilationcache"
	"github.com/xzero/flow/internal/irgen"
	"github.com/xzero/flow/internal/transform"
	"github.com/xzero/flow/vm"
)

var log = commonlog.GetLogger("flow.compiler")

// Compiler turns syntax trees into programs linked against one runtime.
type Compiler struct {
	rt     *vm.Runtime
	config *CompilerConfig
}

// NewCompiler returns a Compiler linking against rt. A nil config uses NewCompilerConfig.
func NewCompiler(rt *vm.Runtime, config *CompilerConfig) *Compiler {
	if config == nil {
		config = NewCompilerConfig()
	}
	return &Compiler{rt: rt, config: config}
}

// Compile lowers unit into a linked program. Errors in the syntax tree are reported together;
// link errors are returned as *vm.LinkError.
func (c *Compiler) Compile(ctx context.Context, unit *ast.Unit) (*vm.Program, error) {
	if ctx == nil {
		ctx = c.config.ctx
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *vm.Program
	cc, _ := c.config.cache.(*cache)
	var key compilationcache.Key
	if cc != nil {
		key = cacheKey(unit, c.config.optimizationLevel)
		p = c.load(cc, key)
	}

	if p == nil {
		data, err := c.compile(unit)
		if err != nil {
			return nil, err
		}
		if p, err = vm.NewProgram(data); err != nil {
			return nil, fmt.Errorf("BUG: generated program is invalid: %w", err)
		}
		if cc != nil {
			if err = cc.add(key, data); err != nil {
				log.Warningf("storing program %x: %s", key[:8], err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Link(c.rt); err != nil {
		return nil, err
	}
	return p, nil
}

// load returns the cached program of key, or nil. Entries which cannot be read back are
// removed.
func (c *Compiler) load(cc *cache, key compilationcache.Key) *vm.Program {
	data, ok, err := cc.get(key)
	if err == nil && ok {
		var p *vm.Program
		if p, err = vm.NewProgram(data); err == nil {
			log.Infof("compilation cache hit for %x", key[:8])
			return p
		}
	}
	if err != nil {
		log.Warningf("deleting corrupt compilation cache entry %x: %s", key[:8], err)
		if err = cc.delete(key); err != nil {
			log.Warningf("deleting compilation cache entry %x: %s", key[:8], err)
		}
		return nil
	}
	log.Infof("compilation cache miss for %x", key[:8])
	return nil
}

func (c *Compiler) compile(unit *ast.Unit) (*vm.ProgramData, error) {
	p, err := irgen.Generate(unit)
	if err != nil {
		return nil, err
	}
	pm := transform.NewPassManagerForLevel(c.config.optimizationLevel)
	pm.SetVerify(c.config.verifyPasses)
	rewrites := pm.Run(p)
	log.Debugf("applied %d rewrites at optimization level %d", rewrites, c.config.optimizationLevel)
	return codegen.Generate(p)
}

// cacheKey identifies the program compiled from unit.
func cacheKey(unit *ast.Unit, optimizationLevel int) compilationcache.Key {
	h := sha256.New()
	h.Write([]byte("flow-" + formatVersion + "\x00"))
	h.Write([]byte(strconv.Itoa(optimizationLevel) + "\x00"))
	h.Write([]byte(ast.Format(unit)))
	var key compilationcache.Key
	h.Sum(key[:0])
	return key
}
