package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/JCHanratty/CASearch/internal/query"
)

const (
	// WordTokenizerName is the name of the word tokenizer shared with query parsing.
	WordTokenizerName = "casearch_word"

	// WordAnalyzerName is the analyzer used for page and chunk text.
	WordAnalyzerName = "casearch_text"
)

func init() {
	_ = registry.RegisterTokenizer(WordTokenizerName, wordTokenizerConstructor)
}

// BleveIndex implements LexicalIndex and LexicalWriter on Bleve v2. Pages and
// chunks share one index and are told apart by the kind field.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time
var (
	_ LexicalIndex  = (*BleveIndex)(nil)
	_ LexicalWriter = (*BleveIndex)(nil)
)

// bleveUnit is the document structure for Bleve indexing.
type bleveUnit struct {
	Kind       string  `json:"kind"`
	DocumentID float64 `json:"document_id"`
	Ordinal    float64 `json:"ordinal"`
	Heading    string  `json:"heading"`
	Text       string  `json:"text"`
}

// headingBoost weighs heading matches over body matches in chunks.
const headingBoost = 2.0

// validateIndexIntegrity checks if a Bleve index is valid before opening.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewBleveIndex opens or creates a Bleve index at path.
// If path is empty, creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
			}
			slog.Info("bleve_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, please reindex"))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bleve_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))

			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("lexical index corrupted, cannot clear: %w (original: %v)", removeErr, err)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &BleveIndex{index: idx, path: path}, nil
}

// createIndexMapping maps page and chunk units. Text fields use a word
// analyzer without stemming or stopwords so prefix and phrase queries see
// the same tokens the query parser produces.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(WordAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     WordTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = WordAnalyzerName
	textField.Store = true
	textField.IncludeTermVectors = true

	headingField := bleve.NewTextFieldMapping()
	headingField.Analyzer = WordAnalyzerName
	headingField.Store = true
	headingField.IncludeTermVectors = true

	kindField := bleve.NewTextFieldMapping()
	kindField.Analyzer = keyword.Name

	unit := bleve.NewDocumentMapping()
	unit.AddFieldMappingsAt("kind", kindField)
	unit.AddFieldMappingsAt("document_id", bleve.NewNumericFieldMapping())
	unit.AddFieldMappingsAt("ordinal", bleve.NewNumericFieldMapping())
	unit.AddFieldMappingsAt("heading", headingField)
	unit.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = unit
	indexMapping.DefaultAnalyzer = WordAnalyzerName

	return indexMapping, nil
}

// IndexDocument replaces all units of a document.
func (b *BleveIndex) IndexDocument(ctx context.Context, documentID int64, pages []Page, chunks []Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	stale, err := b.documentUnitIDs(ctx, documentID)
	if err != nil {
		return err
	}

	batch := b.index.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	for _, p := range pages {
		unit := bleveUnit{
			Kind:       string(KindPage),
			DocumentID: float64(documentID),
			Ordinal:    float64(p.Number),
			Text:       p.CleanText,
		}
		ref := Ref{Kind: KindPage, DocumentID: documentID, Ordinal: p.Number}
		if err := batch.Index(ref.String(), unit); err != nil {
			return fmt.Errorf("failed to index page %d: %w", p.Number, err)
		}
	}
	for _, c := range chunks {
		unit := bleveUnit{
			Kind:       string(KindChunk),
			DocumentID: float64(documentID),
			Ordinal:    float64(c.Ordinal),
			Heading:    c.Heading,
			Text:       c.Text,
		}
		ref := Ref{Kind: KindChunk, DocumentID: documentID, Ordinal: c.Ordinal}
		if err := batch.Index(ref.String(), unit); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", c.Ordinal, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// DeleteDocument removes every unit of a document.
func (b *BleveIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	ids, err := b.documentUnitIDs(ctx, documentID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete document %d: %w", documentID, err)
	}
	return nil
}

// documentUnitIDs lists the unit ids of a document. Caller holds the lock.
func (b *BleveIndex) documentUnitIDs(ctx context.Context, documentID int64) ([]string, error) {
	docCount, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if docCount == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(documentQuery(documentID))
	req.Size = int(docCount)
	req.Fields = []string{}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list units of document %d: %w", documentID, err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

func documentQuery(documentID int64) bquery.Query {
	id := float64(documentID)
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&id, &id, &inclusive, &inclusive)
	q.SetField("document_id")
	return q
}

func kindQuery(kind Kind) bquery.Query {
	q := bleve.NewTermQuery(string(kind))
	q.SetField("kind")
	return q
}

// Search runs q over pages or chunks. Phrases become match-phrase queries,
// terms become prefix queries and synonym groups become disjunctions. The
// document filter and the collection are applied as required clauses.
func (b *BleveIndex) Search(ctx context.Context, coll Collection, q query.Query, limit int) ([]LexicalHit, error) {
	var (
		kind   Kind
		fields []string
	)
	switch coll {
	case CollectionPages:
		kind, fields = KindPage, []string{"text"}
	case CollectionChunks:
		kind, fields = KindChunk, []string{"heading", "text"}
	default:
		return nil, fmt.Errorf("unknown collection %q", coll)
	}

	match := buildBleveQuery(q, fields)
	if match == nil {
		return []LexicalHit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	scope := []bquery.Query{match, kindQuery(kind)}
	if q.DocumentID != 0 {
		scope = append(scope, documentQuery(q.DocumentID))
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(scope...))
	req.Size = limit
	req.Fields = []string{"document_id", "ordinal", "text"}
	req.SortBy([]string{"-_score", "document_id", "ordinal"})

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	words := q.Words()
	hits := make([]LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ref, err := ParseRef(hit.ID)
		if err != nil {
			slog.Debug("bleve_unit_id_invalid", slog.String("id", hit.ID))
			continue
		}
		text, _ := hit.Fields["text"].(string)
		hits = append(hits, LexicalHit{
			Ref:     ref,
			Score:   hit.Score,
			Snippet: Snippet(text, words, snippetTokens),
		})
	}
	return hits, nil
}

// buildBleveQuery mirrors query.BuildLexicalQuery for Bleve. Returns nil for
// an empty query.
func buildBleveQuery(q query.Query, fields []string) bquery.Query {
	var parts []bquery.Query

	for _, phrase := range q.Phrases {
		if phrase == "" {
			continue
		}
		parts = append(parts, acrossFields(fields, func(field string) bquery.Query {
			pq := bleve.NewMatchPhraseQuery(phrase)
			pq.SetField(field)
			pq.Analyzer = WordAnalyzerName
			return pq
		}))
	}

	for _, term := range q.Terms {
		alts := []bquery.Query{prefixQuery(term, fields)}
		seen := map[string]bool{term: true}
		for _, syn := range q.Expansions[term] {
			syn = strings.Join(query.Tokenize(syn), " ")
			if syn == "" || seen[syn] {
				continue
			}
			seen[syn] = true
			if strings.Contains(syn, " ") {
				alts = append(alts, acrossFields(fields, func(field string) bquery.Query {
					pq := bleve.NewMatchPhraseQuery(syn)
					pq.SetField(field)
					pq.Analyzer = WordAnalyzerName
					return pq
				}))
			} else {
				alts = append(alts, prefixQuery(syn, fields))
			}
		}
		if len(alts) == 1 {
			parts = append(parts, alts[0])
		} else {
			parts = append(parts, bleve.NewDisjunctionQuery(alts...))
		}
	}

	if len(parts) == 0 {
		return nil
	}
	if q.Mode == query.ModeOr {
		return bleve.NewDisjunctionQuery(parts...)
	}
	return bleve.NewConjunctionQuery(parts...)
}

func prefixQuery(term string, fields []string) bquery.Query {
	return acrossFields(fields, func(field string) bquery.Query {
		pq := bleve.NewPrefixQuery(term)
		pq.SetField(field)
		return pq
	})
}

// acrossFields ORs the same query over several fields, boosting headings.
func acrossFields(fields []string, build func(field string) bquery.Query) bquery.Query {
	if len(fields) == 1 {
		return build(fields[0])
	}
	qs := make([]bquery.Query, 0, len(fields))
	for _, field := range fields {
		fq := build(field)
		if field == "heading" {
			if bq, ok := fq.(bquery.BoostableQuery); ok {
				bq.SetBoost(headingBoost)
			}
		}
		qs = append(qs, fq)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// Count returns the number of indexed pages or chunks.
func (b *BleveIndex) Count(ctx context.Context, coll Collection) (int, error) {
	var kind Kind
	switch coll {
	case CollectionPages:
		kind = KindPage
	case CollectionChunks:
		kind = KindChunk
	default:
		return 0, fmt.Errorf("unknown collection %q", coll)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, ErrClosed
	}

	req := bleve.NewSearchRequest(kindQuery(kind))
	req.Size = 0
	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", coll, err)
	}
	return int(result.Total), nil
}

// Close closes the index. Safe to call more than once.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// wordTokenizerConstructor creates the word tokenizer for Bleve.
func wordTokenizerConstructor(config map[string]any, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &wordTokenizer{}, nil
}

// wordTokenizer splits on the same letter/digit runs as query.Tokenize.
type wordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *wordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	spans := query.WordSpans(string(input))
	result := make(analysis.TokenStream, 0, len(spans))
	for i, span := range spans {
		result = append(result, &analysis.Token{
			Term:     input[span[0]:span[1]],
			Start:    span[0],
			End:      span[1],
			Position: i + 1,
			Type:     tokenType(input[span[0]:span[1]]),
		})
	}
	return result
}

func tokenType(term []byte) analysis.TokenType {
	if _, err := strconv.Atoi(string(term)); err == nil {
		return analysis.Numeric
	}
	return analysis.AlphaNumeric
}
