package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
)

// DefaultMaxFileSize is the largest source file the indexer reads (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// pageBreak separates pages in plain-text sources.
const pageBreak = "\f"

// Source is one document as read from disk, before normalization.
type Source struct {
	Name  string
	Path  string // Absolute path; the document's identity in the store
	Pages []string
}

// jsonSource is the on-disk layout of a .json source.
type jsonSource struct {
	Name  string   `json:"name"`
	Pages []string `json:"pages"`
}

// IsSourceFile reports whether path has an extension the indexer reads.
func IsSourceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".json":
		return true
	default:
		return false
	}
}

// ReadSource reads a .txt or .json source. Plain text is split into pages
// at form feeds. A JSON source without a name is named after its file.
func ReadSource(path string, maxSize int64) (*Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, caserrors.IOError("cannot resolve path", err).WithDetail("path", path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, caserrors.IOError("cannot read document", err).WithDetail("path", abs)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if info.Size() > maxSize {
		return nil, caserrors.New(caserrors.ErrCodeDocumentInvalid,
			fmt.Sprintf("document is larger than %d bytes", maxSize), nil).WithDetail("path", abs)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, caserrors.IOError("cannot read document", err).WithDetail("path", abs)
	}

	src := &Source{
		Name: strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
		Path: abs,
	}

	switch strings.ToLower(filepath.Ext(abs)) {
	case ".json":
		var js jsonSource
		if err := json.Unmarshal(data, &js); err != nil {
			return nil, caserrors.New(caserrors.ErrCodeDocumentInvalid, "malformed JSON document", err).
				WithDetail("path", abs).
				WithSuggestion(`Expected {"name": "...", "pages": ["page one", "page two"]}`)
		}
		if strings.TrimSpace(js.Name) != "" {
			src.Name = strings.TrimSpace(js.Name)
		}
		src.Pages = js.Pages
	case ".txt":
		src.Pages = strings.Split(string(data), pageBreak)
		// A trailing form feed does not start another page.
		if n := len(src.Pages); n > 1 && strings.TrimSpace(src.Pages[n-1]) == "" {
			src.Pages = src.Pages[:n-1]
		}
	default:
		return nil, caserrors.New(caserrors.ErrCodeDocumentInvalid, "unsupported document type", nil).
			WithDetail("path", abs).
			WithSuggestion("Convert the agreement to .txt (pages separated by form feeds) or .json")
	}

	if len(src.Pages) == 0 {
		return nil, caserrors.New(caserrors.ErrCodeDocumentInvalid, "document has no pages", nil).WithDetail("path", abs)
	}
	return src, nil
}

// CollectSources expands paths into source files. Directories are walked
// recursively and contribute their .txt and .json files; hidden directories
// are skipped. Files named explicitly are kept whatever their extension, so
// ReadSource can report them. The result is sorted and free of duplicates.
func CollectSources(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, caserrors.IOError("cannot resolve path", err).WithDetail("path", p)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, caserrors.IOError("path not found", err).WithDetail("path", abs)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != abs && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsSourceFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, caserrors.IOError("cannot walk directory", err).WithDetail("path", abs)
		}
	}

	sort.Strings(out)
	return out, nil
}
