package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// vectorFileMagic starts every saved vector index, followed by a format
// version byte, the header length and the gob-encoded header. The graph
// export follows the header.
const (
	vectorFileMagic   = "CASV"
	vectorFileVersion = 1
)

// exactSearchLimit is the largest filtered candidate set that is scored
// exhaustively instead of through the graph.
const exactSearchLimit = 4096

// vectorHeader is the persisted part of the store that the graph export
// does not carry. Refs[i] is the ref stored under graph key i.
type vectorHeader struct {
	Config VectorStoreConfig
	Refs   []string
}

// HNSWStore implements VectorStore on a coder/hnsw graph. Callers key
// vectors by chunk Ref strings; the graph uses dense uint64 keys assigned on
// insert. Replaced and deleted nodes stay in the graph unmapped until the
// next Save, which writes a compacted copy.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keys    map[string]uint64
	refs    map[uint64]string
	byDoc   map[int64]map[string]struct{}
	nextKey uint64
	stale   int

	closed bool
}

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid vector dimensions %d", cfg.Dimensions)
	}
	cfg = withVectorDefaults(cfg)

	s := &HNSWStore{config: cfg}
	s.reset(newGraph(cfg))
	return s, nil
}

func withVectorDefaults(cfg VectorStoreConfig) VectorStoreConfig {
	if cfg.Metric != "l2" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return cfg
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// reset installs g with empty mappings. Caller holds the write lock or owns s.
func (s *HNSWStore) reset(g *hnsw.Graph[uint64]) {
	s.graph = g
	s.keys = make(map[string]uint64)
	s.refs = make(map[uint64]string)
	s.byDoc = make(map[int64]map[string]struct{})
	s.nextKey = 0
	s.stale = 0
}

// refDocument returns the document a vector id belongs to, or 0 when the id
// is not a ref.
func refDocument(id string) int64 {
	ref, err := ParseRef(id)
	if err != nil {
		return 0
	}
	return ref.DocumentID
}

func (s *HNSWStore) mapID(id string, key uint64) {
	s.keys[id] = key
	s.refs[key] = id
	doc := refDocument(id)
	set, ok := s.byDoc[doc]
	if !ok {
		set = make(map[string]struct{})
		s.byDoc[doc] = set
	}
	set[id] = struct{}{}
}

func (s *HNSWStore) unmapID(id string) bool {
	key, ok := s.keys[id]
	if !ok {
		return false
	}
	delete(s.keys, id)
	delete(s.refs, key)
	doc := refDocument(id)
	if set, ok := s.byDoc[doc]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byDoc, doc)
		}
	}
	s.stale++
	return true
}

// Add inserts vectors keyed by ref string, replacing existing ids.
func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		// graph.Delete on the last remaining node corrupts coder/hnsw, so a
		// replaced node is only unmapped.
		s.unmapID(id)

		vec := s.prepare(vectors[i])
		key := s.nextKey
		s.nextKey++
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.mapID(id, key)
	}
	return nil
}

// prepare copies v and normalizes it for the cosine metric.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(out)
	}
	return out
}

// Search returns the k nearest vectors accepted by filter, nearest first
// with ties broken by id.
//
// A filtered search whose accepted set is small is scored exactly. Larger
// filtered searches widen the graph candidate pool until k accepted results
// are found or the whole graph has been seen, since coder/hnsw has no
// filtered search of its own.
func (s *HNSWStore) Search(ctx context.Context, query []float32, k int, filter VectorFilter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.keys) == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)

	if filter != nil {
		var accepted []string
		for id := range s.keys {
			if filter(id) {
				accepted = append(accepted, id)
			}
		}
		if len(accepted) <= exactSearchLimit {
			return s.exactSearch(q, k, accepted), nil
		}
	}
	return s.graphSearch(ctx, q, k, filter)
}

func (s *HNSWStore) exactSearch(q []float32, k int, ids []string) []*VectorResult {
	results := make([]*VectorResult, 0, len(ids))
	for _, id := range ids {
		vec, ok := s.graph.Lookup(s.keys[id])
		if !ok {
			continue
		}
		results = append(results, s.result(id, q, vec))
	}
	sortVectorResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (s *HNSWStore) graphSearch(ctx context.Context, q []float32, k int, filter VectorFilter) ([]*VectorResult, error) {
	total := s.graph.Len()
	want := min(k+s.stale, total)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		results := make([]*VectorResult, 0, k)
		for _, node := range s.graph.Search(q, want) {
			id, ok := s.refs[node.Key]
			if !ok || (filter != nil && !filter(id)) {
				continue
			}
			results = append(results, s.result(id, q, node.Value))
			if len(results) == k {
				break
			}
		}

		if len(results) == k || want >= total {
			sortVectorResults(results)
			return results, nil
		}
		want = min(want*4, total)
	}
}

func (s *HNSWStore) result(id string, q, vec []float32) *VectorResult {
	d := s.graph.Distance(q, vec)
	return &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)}
}

func sortVectorResults(results []*VectorResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// Delete removes vectors by id. Unknown ids are ignored.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		s.unmapID(id)
	}
	return nil
}

// DeleteDocument removes every vector of documentID and returns how many
// were removed.
func (s *HNSWStore) DeleteDocument(ctx context.Context, documentID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if documentID == 0 {
		return 0, nil
	}

	set := s.byDoc[documentID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.unmapID(id)
	}
	return len(ids), nil
}

// AllIDs returns every live id in sorted order.
func (s *HNSWStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	return s.sortedIDs()
}

func (s *HNSWStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether id has a live vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, ok := s.keys[id]
	return ok
}

// Count returns the number of live vectors in O(1).
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.keys)
}

// Save writes the store to path through a temp file and rename. When nodes
// have been replaced or deleted, a compacted graph holding only live
// vectors is written; the in-memory graph is left as is.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	graph, refs, err := s.snapshot()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = writeVectorHeader(w, vectorHeader{Config: s.config, Refs: refs})
	if err == nil {
		err = graph.Export(w)
	}
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write vector file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename vector file: %w", err)
	}

	slog.Debug("vector_index_saved",
		slog.String("path", path),
		slog.Int("vectors", len(refs)),
		slog.Int("compacted", s.stale))
	return nil
}

// snapshot returns a graph whose key i holds the vector of refs[i]. The
// live graph is returned as is when its keys are already dense.
func (s *HNSWStore) snapshot() (*hnsw.Graph[uint64], []string, error) {
	if s.stale == 0 && s.nextKey == uint64(len(s.keys)) {
		refs := make([]string, len(s.keys))
		for key, id := range s.refs {
			refs[key] = id
		}
		return s.graph, refs, nil
	}

	refs := s.sortedIDs()
	compact := newGraph(s.config)
	for i, id := range refs {
		vec, ok := s.graph.Lookup(s.keys[id])
		if !ok {
			return nil, nil, fmt.Errorf("vector %s missing from graph", id)
		}
		compact.Add(hnsw.MakeNode(uint64(i), vec))
	}
	return compact, refs, nil
}

// Load replaces the content of the store with the index saved at path.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open vector file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// coder/hnsw Import needs an io.ByteReader.
	r := bufio.NewReader(f)
	header, err := readVectorHeader(r)
	if err != nil {
		return err
	}

	cfg := withVectorDefaults(header.Config)
	graph := newGraph(cfg)
	if err := graph.Import(r); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	if graph.Len() != len(header.Refs) {
		return fmt.Errorf("vector file holds %d nodes for %d refs", graph.Len(), len(header.Refs))
	}

	s.config = cfg
	s.reset(graph)
	for key, id := range header.Refs {
		s.mapID(id, uint64(key))
	}
	s.nextKey = uint64(len(header.Refs))
	return nil
}

// Close releases the graph. Closing twice is a no-op.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	s.keys, s.refs, s.byDoc = nil, nil, nil
	return nil
}

func writeVectorHeader(w io.Writer, h vectorHeader) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return fmt.Errorf("encode vector header: %w", err)
	}
	if _, err := io.WriteString(w, vectorFileMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint8(vectorFileVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(buf.Len())); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// ErrVectorFormat is returned for files that are not vector indexes of a
// supported version.
var ErrVectorFormat = errors.New("unsupported vector index format")

func readVectorHeader(r io.Reader) (*vectorHeader, error) {
	magic := make([]byte, len(vectorFileMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != vectorFileMagic {
		return nil, ErrVectorFormat
	}
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil || version != vectorFileVersion {
		return nil, fmt.Errorf("%w: version %d", ErrVectorFormat, version)
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorFormat, err)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrVectorFormat)
	}

	var h vectorHeader
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode vector header: %w", err)
	}
	return &h, nil
}

// ReadHNSWStoreDimensions returns the dimensions of the index saved at
// vectorPath, or 0 when there is none.
func ReadHNSWStoreDimensions(vectorPath string) (int, error) {
	f, err := os.Open(vectorPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open vector file: %w", err)
	}
	defer func() { _ = f.Close() }()

	h, err := readVectorHeader(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}
	return h.Config.Dimensions, nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a similarity in [0, 1]. Cosine
// distance ranges over [0, 2]; L2 over [0, inf).
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + distance)
	}
	return 1 - distance/2
}
