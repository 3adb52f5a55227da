package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/JCHanratty/CASearch/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose chunk no longer exists.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a chunk of an indexed document with no vector.
	InconsistencyMissingVector
	// InconsistencyInvalidVectorID is a vector key that is not a chunk ref.
	InconsistencyInvalidVectorID
)

// String returns a short name for the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyInvalidVectorID:
		return "invalid_vector_id"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType
	ID      string // Ref string or raw vector key
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Chunks is the number of chunks of indexed documents verified.
	Chunks int
	// Vectors is the number of vectors verified.
	Vectors int
	// Inconsistencies contains all detected issues, ordered by ID.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Count returns how many issues of type t were found.
func (r *CheckResult) Count(t InconsistencyType) int {
	n := 0
	for _, issue := range r.Inconsistencies {
		if issue.Type == t {
			n++
		}
	}
	return n
}

// ConsistencyChecker compares the vector store against the chunks of the
// document store. SQLite is the source of truth: vectors without a chunk
// are orphans, and chunks of indexed documents without a vector are missing.
type ConsistencyChecker struct {
	docs    store.DocumentStore
	vectors store.VectorStore
}

// NewConsistencyChecker creates a new checker with the given stores.
func NewConsistencyChecker(docs store.DocumentStore, vectors store.VectorStore) *ConsistencyChecker {
	return &ConsistencyChecker{
		docs:    docs,
		vectors: vectors,
	}
}

// Check scans both stores for inconsistencies. Documents that are not in
// the indexed state are skipped when looking for missing vectors.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	docs, err := c.docs.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	chunkIDs := make(map[string]bool)
	for _, d := range docs {
		if d.Status != store.StatusIndexed {
			continue
		}
		chunks, err := c.docs.ListChunks(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list chunks of document %d: %w", d.ID, err)
		}
		for _, ch := range chunks {
			chunkIDs[ch.Ref().String()] = true
		}
	}

	vectorIDs := c.vectors.AllIDs()
	vectorSet := make(map[string]bool, len(vectorIDs))
	var refs []store.Ref
	for _, id := range vectorIDs {
		vectorSet[id] = true
		ref, err := store.ParseRef(id)
		if err != nil || ref.Kind != store.KindChunk {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyInvalidVectorID,
				ID:      id,
				Details: "Vector key is not a chunk reference",
			})
			continue
		}
		refs = append(refs, ref)
	}

	// A vector may belong to a chunk of a document that is not indexed
	// right now; only chunks missing from the store are orphans.
	existing, err := c.docs.ExistingRefs(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if !existing[ref] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanVector,
				ID:      ref.String(),
				Details: "Vector entry without matching chunk",
			})
		}
	}

	for id := range chunkIDs {
		if !vectorSet[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyMissingVector,
				ID:      id,
				Details: "Chunk missing from vector store",
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].ID != issues[j].ID {
			return issues[i].ID < issues[j].ID
		}
		return issues[i].Type < issues[j].Type
	})

	return &CheckResult{
		Chunks:          len(chunkIDs),
		Vectors:         len(vectorIDs),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphan and invalid vectors and returns how many were
// removed. Missing vectors are only logged; re-indexing the document
// restores them.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (int, error) {
	var orphans []string
	var missing int

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector, InconsistencyInvalidVectorID:
			orphans = append(orphans, issue.ID)
		case InconsistencyMissingVector:
			missing++
		}
	}

	if len(orphans) > 0 {
		if err := c.vectors.Delete(ctx, orphans); err != nil {
			return 0, fmt.Errorf("failed to delete orphan vectors: %w", err)
		}
		slog.Info("consistency_orphans_deleted", slog.Int("count", len(orphans)))
	}

	if missing > 0 {
		slog.Warn("consistency_missing_vectors",
			slog.Int("missing_count", missing),
			slog.String("fix", "run 'casearch index --force'"))
	}

	return len(orphans), nil
}

// QuickCheck compares counts only: the number of chunks of indexed
// documents against the number of vectors.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	docs, err := c.docs.ListDocuments(ctx)
	if err != nil {
		return false, err
	}

	chunks := 0
	for _, d := range docs {
		if d.Status != store.StatusIndexed {
			continue
		}
		list, err := c.docs.ListChunks(ctx, d.ID)
		if err != nil {
			return false, err
		}
		chunks += len(list)
	}

	vectors := c.vectors.Count()
	consistent := chunks == vectors
	if !consistent {
		slog.Debug("index_counts_mismatch",
			slog.Int("chunks", chunks),
			slog.Int("vectors", vectors))
	}
	return consistent, nil
}
