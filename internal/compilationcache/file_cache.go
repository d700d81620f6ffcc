package compilationcache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// NewFileCache returns a Cache storing one file per entry in dir. dir is created on the first
// Add.
func NewFileCache(dir string) Cache {
	return newFileCache(dir)
}

func newFileCache(dir string) *fileCache {
	return &fileCache{dirPath: dir}
}

// fileCache writes each entry to a temporary file first and renames it into place, so that
// concurrent readers never observe a partially written entry.
type fileCache struct {
	dirPath string
}

func (f *fileCache) path(key Key) string {
	return filepath.Join(f.dirPath, hex.EncodeToString(key[:]))
}

func (f *fileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	content, err = os.Open(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	} else {
		return content, true, nil
	}
}

func (f *fileCache) Add(key Key, content io.Reader) (err error) {
	if err = mkdir(f.dirPath); err != nil {
		return
	}
	file, err := os.CreateTemp(f.dirPath, "tmp-*")
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = os.Remove(file.Name())
		}
	}()
	if _, err = io.Copy(file, content); err != nil {
		_ = file.Close()
		return
	}
	if err = file.Close(); err != nil {
		return
	}
	return os.Rename(file.Name(), f.path(key))
}

func (f *fileCache) Delete(key Key) (err error) {
	err = os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return
}

func mkdir(dir string) error {
	if st, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(dir, 0o700)
	} else if err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("fileCache: expected dir %s", dir)
	}
	return nil
}
