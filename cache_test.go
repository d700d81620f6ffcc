package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xzero/flow/internal/compilationcache"
	"github.com/xzero/flow/vm"
)

func TestCache_WithCompilationCacheDirName(t *testing.T) {
	t.Run("creates version dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "1", "2")
		c := NewCache().(*cache)
		require.NoError(t, c.withCompilationCacheDirName(dir, "dev"))

		st, err := os.Stat(filepath.Join(dir, "flow-dev"))
		require.NoError(t, err)
		require.True(t, st.IsDir())
		require.NotNil(t, c.store)
		require.Nil(t, c.closer)
	})

	t.Run("relative", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		dir := t.TempDir()
		require.NoError(t, os.Chdir(dir))
		defer os.Chdir(wd) //nolint

		require.NoError(t, NewCache().WithCompilationCacheDirName("cache"))
		_, err = os.Stat(filepath.Join(dir, "cache", "flow-"+formatVersion))
		require.NoError(t, err)
	})

	t.Run("not dir", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		err := NewCache().WithCompilationCacheDirName(file)
		require.EqualError(t, err, file+" is not dir")
	})
}

func TestCache_Layers(t *testing.T) {
	key := compilationcache.Key{1, 2, 3}
	data := &vm.ProgramData{
		Strings:  []string{"/"},
		Handlers: []vm.HandlerDef{{Name: "main", RegisterCount: 1, Code: []vm.Instruction{vm.MakeInstruction(vm.EXIT, 1)}}},
	}

	for _, tc := range []struct {
		name  string
		store func(t *testing.T, c Cache)
	}{
		{
			name:  "memory",
			store: func(t *testing.T, c Cache) {},
		},
		{
			name: "dir",
			store: func(t *testing.T, c Cache) {
				require.NoError(t, c.WithCompilationCacheDirName(t.TempDir()))
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T, c Cache) {
				require.NoError(t, c.WithCompilationCacheSQLite(filepath.Join(t.TempDir(), "cache.db")))
			},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c := NewCache()
			tc.store(t, c)
			defer c.Close(testCtx)
			impl := c.(*cache)

			_, ok, err := impl.get(key)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, impl.add(key, data))
			got, ok, err := impl.get(key)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, data, got)

			if impl.store != nil {
				// Drop the memory layer, so the entry is decoded from the store.
				impl.memory = map[compilationcache.Key]*vm.ProgramData{}
				got, ok, err = impl.get(key)
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, data, got)
			}

			require.NoError(t, impl.delete(key))
			_, ok, err = impl.get(key)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestCache_Close(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.WithCompilationCacheSQLite(filepath.Join(t.TempDir(), "cache.db")))
	impl := c.(*cache)
	require.NoError(t, impl.add(compilationcache.Key{1}, &vm.ProgramData{}))

	require.NoError(t, c.Close(testCtx))
	require.Nil(t, impl.store)
	require.Nil(t, impl.closer)
	require.Equal(t, 0, len(impl.memory))
	// Closing twice is a no-op.
	require.NoError(t, c.Close(testCtx))
}
