package loader

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/ledgerforge/rledger/ast"
)

var cacheMagic = [8]byte{'R', 'L', 'E', 'D', 'G', 'E', 'R', 0}

const cacheVersion uint32 = 2

// SourceFile identifies one source file that contributed to a load, with
// the stat fields the cache key is derived from.
type SourceFile struct {
	Path  string
	MTime int64 // mtime in nanoseconds since the Unix epoch
	Size  int64
}

// Cache persists one fully-resolved load — the merged directive stream,
// options, plugin list, and the list of every file transitively reached —
// as a single binary file alongside the root input. The key is the
// SHA-256 over the ordered (path, mtime, size) tuples of that file list,
// so touching any included file invalidates the whole entry.
//
// On-disk layout, written by Store and checked by Load:
//
//	magic   [8]byte  "RLEDGER\0"
//	version uint32   little-endian
//	hash    [32]byte sha256 over the ordered (path, mtime, size) tuples
//	length  uint64   little-endian, byte length of the payload
//	payload []byte   CBOR of (directives, options, plugins, file list)
//
// Any mismatch — magic, version, hash, truncation, undecodable payload —
// is a silent miss, never an error.
type Cache struct {
	path string
	mu   sync.Mutex
}

// NewCache creates a cache backed by the file at path, conventionally
// the root input filename with a ".cache" suffix.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// wireCache is the CBOR payload: the merged AST plus the source files it
// was built from.
type wireCache struct {
	Tree  *wireAST
	Files []SourceFile
}

// statSource captures the (path, mtime, size) tuple for one file.
func statSource(path string) (SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFile{}, err
	}
	return SourceFile{Path: path, MTime: info.ModTime().UnixNano(), Size: info.Size()}, nil
}

// hashSources computes the cache key over the ordered file tuples. The
// caller passes the list already sorted; each tuple is folded in as
// path, NUL, then fixed-width little-endian mtime and size so no two
// distinct lists collide on concatenation.
func hashSources(files []SourceFile) [32]byte {
	h := sha256.New()
	var num [8]byte
	for _, f := range files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(num[:], uint64(f.MTime))
		h.Write(num[:])
		binary.LittleEndian.PutUint64(num[:], uint64(f.Size))
		h.Write(num[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Load returns the cached build if every file recorded in the entry
// still matches its stored (path, mtime, size) tuple. Everything that
// can go wrong is a miss.
func (c *Cache) Load() (*ast.AST, bool) {
	raw, err := os.ReadFile(c.path)
	if err != nil || len(raw) < 52 {
		return nil, false
	}

	var magic [8]byte
	copy(magic[:], raw[0:8])
	if magic != cacheMagic {
		return nil, false
	}
	if binary.LittleEndian.Uint32(raw[8:12]) != cacheVersion {
		return nil, false
	}
	var storedHash [32]byte
	copy(storedHash[:], raw[12:44])
	payload := raw[52:]
	if binary.LittleEndian.Uint64(raw[44:52]) != uint64(len(payload)) {
		return nil, false
	}

	var w wireCache
	if err := cbor.Unmarshal(payload, &w); err != nil || w.Tree == nil {
		return nil, false
	}

	current := make([]SourceFile, 0, len(w.Files))
	for _, f := range w.Files {
		sf, err := statSource(f.Path)
		if err != nil {
			return nil, false
		}
		current = append(current, sf)
	}
	if hashSources(current) != storedHash {
		return nil, false
	}

	return w.Tree.toAST(), true
}

// Store writes tree and its contributing files as a fresh cache entry.
// files must already be in the deterministic order the loader produces
// (sorted by path).
func (c *Cache) Store(tree *ast.AST, files []SourceFile) error {
	payload, err := cbor.Marshal(&wireCache{Tree: toWireAST(tree), Files: files})
	if err != nil {
		return err
	}
	key := hashSources(files)

	buf := make([]byte, 0, 52+len(payload))
	buf = append(buf, cacheMagic[:]...)
	var num [8]byte
	binary.LittleEndian.PutUint32(num[:4], cacheVersion)
	buf = append(buf, num[:4]...)
	buf = append(buf, key[:]...)
	binary.LittleEndian.PutUint64(num[:], uint64(len(payload)))
	buf = append(buf, num[:]...)
	buf = append(buf, payload...)

	c.mu.Lock()
	defer c.mu.Unlock()
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
