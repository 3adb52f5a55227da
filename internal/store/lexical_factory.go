package store

import (
	"fmt"
	"path/filepath"
)

// LexicalBackend names a lexical index implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite searches the FTS5 tables of the document store
	// (default). Postings are written in the same transaction as content.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve keeps a separate Bleve index that the indexer
	// updates after each document. Single process only (BoltDB lock).
	LexicalBackendBleve LexicalBackend = "bleve"
)

// Files inside the data directory.
const (
	DocumentDBFile = "casearch.db"
	BleveDir       = "lexical.bleve"
	VectorFile     = "vectors.hnsw"
	LockFile       = ".index.lock"
)

// ParseLexicalBackend validates a backend name. Empty means sqlite.
func ParseLexicalBackend(name string) (LexicalBackend, error) {
	switch LexicalBackend(name) {
	case LexicalBackendSQLite, "":
		return LexicalBackendSQLite, nil
	case LexicalBackendBleve:
		return LexicalBackendBleve, nil
	default:
		return "", fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", name)
	}
}

// NewLexicalIndex returns the lexical index for backend. The sqlite backend
// is the document store itself. If dataDir is empty the Bleve index is
// in-memory.
func NewLexicalIndex(backend string, dataDir string, docs *SQLiteStore) (LexicalIndex, error) {
	b, err := ParseLexicalBackend(backend)
	if err != nil {
		return nil, err
	}

	switch b {
	case LexicalBackendBleve:
		var path string
		if dataDir != "" {
			path = filepath.Join(dataDir, BleveDir)
		}
		return NewBleveIndex(path)
	default:
		if docs == nil {
			return nil, fmt.Errorf("sqlite lexical backend requires a document store")
		}
		return docs, nil
	}
}
