package flow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

func TestCompilerConfig(t *testing.T) {
	tests := []struct {
		name     string
		with     func(*CompilerConfig) *CompilerConfig
		expected *CompilerConfig
	}{
		{
			name: "WithContext",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithContext(testCtx)
			},
			expected: &CompilerConfig{ctx: testCtx, optimizationLevel: 2},
		},
		{
			name: "WithContext nil",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithContext(nil) //nolint
			},
			expected: &CompilerConfig{ctx: context.Background(), optimizationLevel: 2},
		},
		{
			name: "WithOptimizationLevel",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithOptimizationLevel(1)
			},
			expected: &CompilerConfig{ctx: context.Background(), optimizationLevel: 1},
		},
		{
			name: "WithOptimizationLevel negative",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithOptimizationLevel(-3)
			},
			expected: &CompilerConfig{ctx: context.Background(), optimizationLevel: 0},
		},
		{
			name: "WithVerifyPasses",
			with: func(c *CompilerConfig) *CompilerConfig {
				return c.WithVerifyPasses(true)
			},
			expected: &CompilerConfig{ctx: context.Background(), optimizationLevel: 2, verifyPasses: true},
		},
	}
	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			input := NewCompilerConfig()
			rc := tc.with(input)
			require.Equal(t, tc.expected, rc)
			// The source wasn't modified
			require.Equal(t, NewCompilerConfig(), input)
		})
	}

	t.Run("WithCache", func(t *testing.T) {
		c := NewCache()
		input := NewCompilerConfig()
		rc := input.WithCache(c)
		require.Equal(t, c, rc.cache)
		require.Nil(t, input.cache)
	})
}

func TestParseCompilerConfig(t *testing.T) {
	tests := []struct {
		name, doc string
		expected  *CompilerConfig
	}{
		{
			name:     "empty",
			expected: NewCompilerConfig(),
		},
		{
			name: "all passes off",
			doc: `optimization_level = 0
verify_passes = true
`,
			expected: &CompilerConfig{ctx: context.Background(), verifyPasses: true},
		},
		{
			name:     "level only",
			doc:      "optimization_level = 1\n",
			expected: &CompilerConfig{ctx: context.Background(), optimizationLevel: 1},
		},
	}
	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseCompilerConfig([]byte(tc.doc))
			require.NoError(t, err)
			require.Equal(t, tc.expected, c)
		})
	}

	errTests := []struct {
		name, doc, expectedErr string
	}{
		{
			name:        "unknown key",
			doc:         "optimisation_level = 1\n",
			expectedErr: "parse compiler config: unknown keys: optimisation_level",
		},
		{
			name:        "negative level",
			doc:         "optimization_level = -1\n",
			expectedErr: "parse compiler config: optimization_level must not be negative, got -1",
		},
		{
			name: "two stores",
			doc: `[cache]
dir = "a"
sqlite = "b"
`,
			expectedErr: "parse compiler config: cache.dir and cache.sqlite are mutually exclusive",
		},
	}
	for _, tt := range errTests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCompilerConfig([]byte(tc.doc))
			require.EqualError(t, err, tc.expectedErr)
		})
	}

	t.Run("syntax error", func(t *testing.T) {
		_, err := ParseCompilerConfig([]byte("optimization_level = \n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "parse compiler config: ")
	})

	t.Run("cache.dir", func(t *testing.T) {
		dir := t.TempDir()
		c, err := ParseCompilerConfig([]byte("[cache]\ndir = '" + dir + "'\n"))
		require.NoError(t, err)
		require.NotNil(t, c.cache)
		defer c.cache.Close(testCtx)

		_, err = os.Stat(filepath.Join(dir, "flow-"+formatVersion))
		require.NoError(t, err)
	})

	t.Run("cache.sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache.db")
		c, err := ParseCompilerConfig([]byte("[cache]\nsqlite = '" + path + "'\n"))
		require.NoError(t, err)
		require.NotNil(t, c.cache)
		require.NoError(t, c.cache.Close(testCtx))

		_, err = os.Stat(path)
		require.NoError(t, err)
	})
}

func TestLoadCompilerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.toml")
	require.NoError(t, os.WriteFile(path, []byte("verify_passes = true\n"), 0o600))

	c, err := LoadCompilerConfig(path)
	require.NoError(t, err)
	require.Equal(t, &CompilerConfig{ctx: context.Background(), optimizationLevel: 2, verifyPasses: true}, c)

	_, err = LoadCompilerConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
