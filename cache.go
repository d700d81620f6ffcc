package flow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/xzero/flow/internal/compilationcache"
	"github.com/xzero/flow/vm"
)

// formatVersion identifies the layout of persisted programs. Entries written by another
// version are never read, as it is part of both the cache directory name and the cache key.
const formatVersion = "1"

// Cache is the configuration for caching compiled programs across compilers and, when
// persistence is configured, across processes.
type Cache interface {
	// Close releases the persistent store, if any. The cache must not be used afterwards.
	Close(ctx context.Context) error

	// WithCompilationCacheDirName persists programs as files below dir, which is created if it
	// doesn't exist. Regardless of the usage of this, compiled programs are cached in memory
	// for the lifetime of the Cache.
	//
	// Programs are written to a subdirectory named after the bytecode format version, so
	// several versions of this library may share dir.
	//
	// Note: The embedder must safeguard this directory from external changes.
	WithCompilationCacheDirName(dir string) error

	// WithCompilationCacheSQLite persists programs in the SQLite database at path, which is
	// created if it doesn't exist.
	WithCompilationCacheSQLite(path string) error
}

// NewCache returns a new Cache to be passed to CompilerConfig.WithCache.
func NewCache() Cache {
	return &cache{memory: map[compilationcache.Key]*vm.ProgramData{}}
}

// cache implements Cache interface.
type cache struct {
	mux    sync.Mutex
	memory map[compilationcache.Key]*vm.ProgramData
	// store is the persistent layer, nil unless configured.
	store compilationcache.Cache
	// closer releases store, if it holds resources.
	closer io.Closer
}

// Close implements the same method on the Cache interface.
func (c *cache) Close(_ context.Context) (err error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closer != nil {
		err = c.closer.Close()
		c.closer = nil
	}
	c.store = nil
	c.memory = map[compilationcache.Key]*vm.ProgramData{}
	return
}

// WithCompilationCacheDirName implements the same method on the Cache interface.
func (c *cache) WithCompilationCacheDirName(dir string) error {
	return c.withCompilationCacheDirName(dir, formatVersion)
}

func (c *cache) withCompilationCacheDirName(dir string, version string) error {
	// Resolve a potentially relative directory into an absolute one.
	var err error
	dir, err = filepath.Abs(dir)
	if err != nil {
		return err
	}

	// Ensure the user-supplied directory.
	if err = mkdir(dir); err != nil {
		return err
	}

	// Create a version-specific directory to avoid conflicts.
	dirname := filepath.Join(dir, "flow-"+version)
	if err = mkdir(dirname); err != nil {
		return err
	}

	return c.setStore(compilationcache.NewFileCache(dirname), nil)
}

// WithCompilationCacheSQLite implements the same method on the Cache interface.
func (c *cache) WithCompilationCacheSQLite(path string) error {
	sc, err := compilationcache.NewSQLiteCache(path)
	if err != nil {
		return err
	}
	return c.setStore(sc, sc)
}

func (c *cache) setStore(store compilationcache.Cache, closer io.Closer) (err error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if c.closer != nil {
		err = c.closer.Close()
	}
	c.store, c.closer = store, closer
	return
}

func mkdir(dirname string) error {
	if st, err := os.Stat(dirname); errors.Is(err, os.ErrNotExist) {
		// If the directory not found, create the cache dir.
		if err = os.MkdirAll(dirname, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %v", dirname, err)
		}
	} else if err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not dir", dirname)
	}
	return nil
}

// get returns the program stored under key, consulting memory before the persistent store.
func (c *cache) get(key compilationcache.Key) (*vm.ProgramData, bool, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if data, ok := c.memory[key]; ok {
		return data, true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}
	content, ok, err := c.store.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	defer content.Close()
	b, err := io.ReadAll(content)
	if err != nil {
		return nil, false, err
	}
	data, err := vm.DecodeProgram(b)
	if err != nil {
		return nil, false, err
	}
	c.memory[key] = data
	return data, true, nil
}

// add stores data in memory and, if configured, in the persistent store.
func (c *cache) add(key compilationcache.Key, data *vm.ProgramData) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.memory[key] = data
	if c.store == nil {
		return nil
	}
	b, err := vm.EncodeProgram(data)
	if err != nil {
		return err
	}
	return c.store.Add(key, bytes.NewReader(b))
}

// delete removes key from all layers.
func (c *cache) delete(key compilationcache.Key) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	delete(c.memory, key)
	if c.store == nil {
		return nil
	}
	return c.store.Delete(key)
}
