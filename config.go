package flow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// CompilerConfig controls how a Compiler turns syntax trees into programs. The default
// implementation is NewCompilerConfig.
//
// Note: CompilerConfig is immutable. Each With* method returns a new instance including the
// corresponding change.
type CompilerConfig struct {
	ctx               context.Context
	optimizationLevel int
	verifyPasses      bool
	cache             Cache
}

// defaultConfig helps avoid copy/pasting the wrong defaults.
var defaultConfig = &CompilerConfig{
	ctx:               context.Background(),
	optimizationLevel: 2,
}

// NewCompilerConfig returns the default configuration: all passes enabled, no pass
// verification and no cache.
func NewCompilerConfig() *CompilerConfig {
	return defaultConfig.clone()
}

// clone ensures all fields are copied even if nil.
func (c *CompilerConfig) clone() *CompilerConfig {
	return &CompilerConfig{
		ctx:               c.ctx,
		optimizationLevel: c.optimizationLevel,
		verifyPasses:      c.verifyPasses,
		cache:             c.cache,
	}
}

// WithContext sets the default context used when Compiler.Compile is passed nil. Defaults to
// context.Background if nil.
func (c *CompilerConfig) WithContext(ctx context.Context) *CompilerConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithOptimizationLevel selects the pass pipeline: 0 runs no passes, 1 only removes
// unreachable and empty blocks and 2 (the default) also runs instruction elimination.
// Negative levels are treated as 0.
func (c *CompilerConfig) WithOptimizationLevel(level int) *CompilerConfig {
	ret := c.clone()
	ret.optimizationLevel = max(level, 0)
	return ret
}

// WithVerifyPasses verifies every handler after each round of passes. Defaults to false.
// A failed verification panics, as it means a pass corrupted the IR.
func (c *CompilerConfig) WithVerifyPasses(verify bool) *CompilerConfig {
	ret := c.clone()
	ret.verifyPasses = verify
	return ret
}

// WithCache configures the compilation cache. A Cache may be shared by any number of
// compilers, as long as they link against equivalent runtimes.
func (c *CompilerConfig) WithCache(cache Cache) *CompilerConfig {
	ret := c.clone()
	ret.cache = cache
	return ret
}

// tomlConfig is the document read by ParseCompilerConfig.
type tomlConfig struct {
	OptimizationLevel *int  `toml:"optimization_level"`
	VerifyPasses      *bool `toml:"verify_passes"`
	Cache             struct {
		Dir    string `toml:"dir"`
		SQLite string `toml:"sqlite"`
	} `toml:"cache"`
}

// ParseCompilerConfig reads a configuration from a TOML document, e.g.
//
//	optimization_level = 1
//	verify_passes = true
//
//	[cache]
//	dir = "/var/cache/flow"
//
// Unset keys keep their default. At most one of cache.dir and cache.sqlite may be set; the
// configured cache must be closed by the caller.
func ParseCompilerConfig(doc []byte) (*CompilerConfig, error) {
	var tc tomlConfig
	md, err := toml.Decode(string(doc), &tc)
	if err != nil {
		return nil, fmt.Errorf("parse compiler config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parse compiler config: unknown keys: %s", strings.Join(keys, ", "))
	}

	ret := NewCompilerConfig()
	if tc.OptimizationLevel != nil {
		if *tc.OptimizationLevel < 0 {
			return nil, fmt.Errorf("parse compiler config: optimization_level must not be negative, got %d", *tc.OptimizationLevel)
		}
		ret = ret.WithOptimizationLevel(*tc.OptimizationLevel)
	}
	if tc.VerifyPasses != nil {
		ret = ret.WithVerifyPasses(*tc.VerifyPasses)
	}

	switch {
	case tc.Cache.Dir != "" && tc.Cache.SQLite != "":
		return nil, fmt.Errorf("parse compiler config: cache.dir and cache.sqlite are mutually exclusive")
	case tc.Cache.Dir != "":
		cache := NewCache()
		if err = cache.WithCompilationCacheDirName(tc.Cache.Dir); err != nil {
			return nil, fmt.Errorf("parse compiler config: cache.dir: %w", err)
		}
		ret = ret.WithCache(cache)
	case tc.Cache.SQLite != "":
		cache := NewCache()
		if err = cache.WithCompilationCacheSQLite(tc.Cache.SQLite); err != nil {
			return nil, fmt.Errorf("parse compiler config: cache.sqlite: %w", err)
		}
		ret = ret.WithCache(cache)
	}
	return ret, nil
}

// LoadCompilerConfig reads the TOML configuration at path, see ParseCompilerConfig.
func LoadCompilerConfig(path string) (*CompilerConfig, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCompilerConfig(doc)
}
