package preflight

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JCHanratty/CASearch/pkg/version"
)

// MarkerFile records in the data directory that the required checks passed.
const MarkerFile = ".preflight-passed"

// marker is the content of MarkerFile. A marker written by another build
// does not count, so the checks run again after an upgrade.
type marker struct {
	PassedAt time.Time `json:"passed_at"`
	Version  string    `json:"version"`
}

func readMarker(dataDir string) (*marker, bool) {
	data, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return nil, false
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil || m.PassedAt.IsZero() {
		return nil, false
	}
	return &m, true
}

// NeedsCheck reports whether dataDir lacks a valid marker from this build.
func NeedsCheck(dataDir string) bool {
	m, ok := readMarker(dataDir)
	return !ok || m.Version != version.Version
}

// MarkPassed writes the marker, creating dataDir if needed.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	data, err := json.Marshal(marker{PassedAt: time.Now().UTC(), Version: version.Version})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), data, 0o644)
}

// ClearMarker removes the marker so the next index build checks again.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks last passed, or zero without a
// valid marker.
func MarkerAge(dataDir string) time.Duration {
	m, ok := readMarker(dataDir)
	if !ok {
		return 0
	}
	return time.Since(m.PassedAt)
}
