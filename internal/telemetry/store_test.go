package telemetry

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestMetricsStore(t *testing.T) *SQLiteMetricsStore {
	t.Helper()

	store, err := NewSQLiteMetricsStore(setupTestDB(t))
	require.NoError(t, err)
	return store
}

func TestNewSQLiteMetricsStore_RequiresDB(t *testing.T) {
	_, err := NewSQLiteMetricsStore(nil)
	assert.Error(t, err)
}

func TestInitTelemetrySchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, InitTelemetrySchema(db))
	require.NoError(t, InitTelemetrySchema(db))
}

func TestSQLiteMetricsStore_QueryTypeCounts_Incremental(t *testing.T) {
	store := newTestMetricsStore(t)

	require.NoError(t, store.SaveQueryTypeCounts("2026-01-06", map[QueryType]int64{
		QueryTypeKeyword: 5,
		QueryTypePhrase:  1,
	}))
	require.NoError(t, store.SaveQueryTypeCounts("2026-01-06", map[QueryType]int64{
		QueryTypeKeyword: 3,
	}))
	require.NoError(t, store.SaveQueryTypeCounts("2026-01-08", map[QueryType]int64{
		QueryTypeMixed: 2,
	}))

	counts, err := store.GetQueryTypeCounts("2026-01-06", "2026-01-07")
	require.NoError(t, err)
	assert.Equal(t, map[QueryType]int64{QueryTypeKeyword: 8, QueryTypePhrase: 1}, counts)

	all, err := store.GetQueryTypeCounts("2026-01-01", "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, int64(2), all[QueryTypeMixed])
}

func TestSQLiteMetricsStore_LatencyAndOutcomeCounts(t *testing.T) {
	store := newTestMetricsStore(t)

	require.NoError(t, store.SaveLatencyCounts("2026-02-01", map[LatencyBucket]int64{BucketP10: 4, BucketP500: 1}))
	require.NoError(t, store.SaveOutcomeCounts("2026-02-01", map[string]int64{OutcomeDegraded: 2}))
	require.NoError(t, store.SaveOutcomeCounts("2026-02-01", map[string]int64{OutcomeDegraded: 1, OutcomeFellBack: 1}))

	latency, err := store.GetLatencyCounts("2026-02-01", "2026-02-01")
	require.NoError(t, err)
	assert.Equal(t, int64(4), latency[BucketP10])
	assert.Equal(t, int64(1), latency[BucketP500])

	outcomes, err := store.GetOutcomeCounts("2026-02-01", "2026-02-01")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{OutcomeDegraded: 3, OutcomeFellBack: 1}, outcomes)
}

func TestSQLiteMetricsStore_TopTerms(t *testing.T) {
	store := newTestMetricsStore(t)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"wages": 2, "overtime": 5}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"wages": 4, "dental": 1}))
	require.NoError(t, store.UpsertTermCounts(nil))

	terms, err := store.GetTopTerms(2)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "wages", Count: 6}, {Term: "overtime", Count: 5}}, terms)
}

func TestSQLiteMetricsStore_ZeroResultQueries_Bounded(t *testing.T) {
	store := newTestMetricsStore(t)

	// When: adding more queries than the list keeps
	for i := 0; i < MaxZeroResultQueries+5; i++ {
		require.NoError(t, store.AddZeroResultQuery(fmt.Sprintf("q%d", i), time.Now()))
	}

	// Then: only the newest are kept, newest first
	queries, err := store.GetZeroResultQueries(1000)
	require.NoError(t, err)
	assert.Len(t, queries, MaxZeroResultQueries)
	assert.Equal(t, fmt.Sprintf("q%d", MaxZeroResultQueries+4), queries[0])
}
