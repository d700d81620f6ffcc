// Package compilationcache persists compiled flow programs across processes.
package compilationcache

import (
	"crypto/sha256"
	"io"
)

// Cache stores encoded programs keyed by a digest of their source. A compiler consults it
// before running the pipeline and adds the result after a successful compilation.
//
// Implementations must be goroutine-safe.
//
// See NewFileCache and NewSQLiteCache for the implementations in this package.
type Cache interface {
	// Get returns the content stored by Add. ok is false with a nil error if the key is
	// unknown. The caller closes content.
	//
	// Note: the content is decoded and validated again by the caller, so a corrupt entry is
	// detected there and removed with Delete.
	Get(key Key) (content io.ReadCloser, ok bool, err error)
	// Add stores content under key, replacing any previous entry.
	Add(key Key, content io.Reader) (err error)
	// Delete removes the entry of key. Deleting an unknown key is not an error.
	Delete(key Key) (err error)
}

// Key represents the 256-bit unique identifier assigned to each cache content.
type Key = [sha256.Size]byte
