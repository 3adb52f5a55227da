// Package config loads CASearch configuration from defaults, the user config
// file, a project config file (YAML or TOML) and CASEARCH_* environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
)

// Project config file names, in lookup order.
var projectConfigFiles = []string{
	"casearch.yaml",
	".casearch.yaml",
	".casearch.yml",
	"casearch.toml",
	".casearch.toml",
}

// Config represents the complete CASearch configuration.
type Config struct {
	Version     int               `yaml:"version" toml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" toml:"paths" json:"paths"`
	Search      SearchConfig      `yaml:"search" toml:"search" json:"search"`
	Normalize   NormalizeConfig   `yaml:"normalize" toml:"normalize" json:"normalize"`
	Chunking    ChunkingConfig    `yaml:"chunking" toml:"chunking" json:"chunking"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" toml:"embeddings" json:"embeddings"`
	Synonyms    SynonymsConfig    `yaml:"synonyms" toml:"synonyms" json:"synonyms"`
	Performance PerformanceConfig `yaml:"performance" toml:"performance" json:"performance"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging" json:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
}

// PathsConfig configures where the index lives and what gets indexed.
type PathsConfig struct {
	// DataDir holds the document database, lexical index and vectors.
	DataDir string `yaml:"data_dir" toml:"data_dir" json:"data_dir"`
	// Documents are indexed by `casearch index` when no path is given.
	Documents []string `yaml:"documents" toml:"documents" json:"documents"`
}

// SearchConfig configures hybrid retrieval and rank fusion.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/casearch/config.yaml)
//  2. Project config (casearch.yaml or casearch.toml)
//  3. Env vars (CASEARCH_RRF_CONSTANT, CASEARCH_SEMANTIC_WEIGHT, ...)
type SearchConfig struct {
	// LexicalBackend is "sqlite" (FTS5, default) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" toml:"lexical_backend" json:"lexical_backend"`

	// DefaultMode is the lexical mode when none is given: "and" or "or".
	DefaultMode string `yaml:"default_mode" toml:"default_mode" json:"default_mode"`

	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" toml:"rrf_constant" json:"rrf_constant"`

	// Per-strategy RRF weights. Keyword strategies outweigh semantic search.
	LexicalPageWeight  float64 `yaml:"lexical_page_weight" toml:"lexical_page_weight" json:"lexical_page_weight"`
	LexicalChunkWeight float64 `yaml:"lexical_chunk_weight" toml:"lexical_chunk_weight" json:"lexical_chunk_weight"`
	SemanticWeight     float64 `yaml:"semantic_weight" toml:"semantic_weight" json:"semantic_weight"`

	// Re-ranking boosts added to the fused score.
	PhraseBoost    float64 `yaml:"phrase_boost" toml:"phrase_boost" json:"phrase_boost"`
	ProximityBoost float64 `yaml:"proximity_boost" toml:"proximity_boost" json:"proximity_boost"`
	RawScoreBoost  float64 `yaml:"raw_score_boost" toml:"raw_score_boost" json:"raw_score_boost"`
	HeadingBoost   float64 `yaml:"heading_boost" toml:"heading_boost" json:"heading_boost"`

	DefaultLimit   int `yaml:"default_limit" toml:"default_limit" json:"default_limit"`
	MaxLimit       int `yaml:"max_limit" toml:"max_limit" json:"max_limit"`
	CandidateLimit int `yaml:"candidate_limit" toml:"candidate_limit" json:"candidate_limit"`

	// OverallTimeout bounds a whole search, StrategyTimeout each strategy.
	// Both are Go durations ("5s", "750ms").
	OverallTimeout  string `yaml:"overall_timeout" toml:"overall_timeout" json:"overall_timeout"`
	StrategyTimeout string `yaml:"strategy_timeout" toml:"strategy_timeout" json:"strategy_timeout"`

	// PoolSize bounds concurrently running strategies across searches.
	PoolSize int `yaml:"pool_size" toml:"pool_size" json:"pool_size"`
}

// NormalizeConfig configures page text cleaning.
type NormalizeConfig struct {
	// KeepHeaders disables repeated header/footer stripping.
	KeepHeaders bool `yaml:"keep_headers" toml:"keep_headers" json:"keep_headers"`
	// RepeatThreshold is the share of pages a line must appear on to be
	// treated as a header or footer (default: 0.6).
	RepeatThreshold float64 `yaml:"repeat_threshold" toml:"repeat_threshold" json:"repeat_threshold"`
	// MinPages is the smallest document that gets header stripping (default: 3).
	MinPages int `yaml:"min_pages" toml:"min_pages" json:"min_pages"`
}

// ChunkingConfig configures the structure chunker, in characters.
type ChunkingConfig struct {
	MaxChars     int `yaml:"max_chars" toml:"max_chars" json:"max_chars"`
	MinChars     int `yaml:"min_chars" toml:"min_chars" json:"min_chars"`
	OverlapChars int `yaml:"overlap_chars" toml:"overlap_chars" json:"overlap_chars"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static" or "none".
	Provider   string `yaml:"provider" toml:"provider" json:"provider"`
	Model      string `yaml:"model" toml:"model" json:"model"`
	Host       string `yaml:"host" toml:"host" json:"host"` // Ollama API endpoint
	Dimensions int    `yaml:"dimensions" toml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" toml:"batch_size" json:"batch_size"`
	Timeout    string `yaml:"timeout" toml:"timeout" json:"timeout"`

	// RequestsPerSecond rate-limits remote embedding calls; 0 is unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`

	// CacheSize is the LRU size for query embeddings.
	CacheSize int `yaml:"cache_size" toml:"cache_size" json:"cache_size"`

	// Circuit breaker for remote providers.
	MaxFailures  int    `yaml:"max_failures" toml:"max_failures" json:"max_failures"`
	ResetTimeout string `yaml:"reset_timeout" toml:"reset_timeout" json:"reset_timeout"`
}

// SynonymsConfig configures query expansion.
type SynonymsConfig struct {
	// Disabled turns off synonym expansion for keyword strategies.
	Disabled bool `yaml:"disabled" toml:"disabled" json:"disabled"`
	// File is an optional CSV or JSON synonym file merged over the
	// built-in table at search time.
	File string `yaml:"file" toml:"file" json:"file"`
	// MaxExpansions caps synonyms added per term (default: 4).
	MaxExpansions int `yaml:"max_expansions" toml:"max_expansions" json:"max_expansions"`
}

// PerformanceConfig configures indexing throughput.
type PerformanceConfig struct {
	IndexWorkers  int `yaml:"index_workers" toml:"index_workers" json:"index_workers"`
	EmbedWorkers  int `yaml:"embed_workers" toml:"embed_workers" json:"embed_workers"`
	MaxFileSizeMB int `yaml:"max_file_size_mb" toml:"max_file_size_mb" json:"max_file_size_mb"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level" json:"level"`
	// FilePath is the rotating log file. Empty uses ~/.casearch/logs/casearch.log.
	FilePath  string `yaml:"file_path" toml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" toml:"max_files" json:"max_files"`
	// Disabled turns file logging off.
	Disabled bool `yaml:"disabled" toml:"disabled" json:"disabled"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	// Disabled stops recording query statistics.
	Disabled bool `yaml:"disabled" toml:"disabled" json:"disabled"`
	// TopTerms is how many frequent query terms are tracked (default: 100).
	TopTerms int `yaml:"top_terms" toml:"top_terms" json:"top_terms"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir:   ".casearch",
			Documents: []string{},
		},
		Search: SearchConfig{
			LexicalBackend:     "sqlite",
			DefaultMode:        "and",
			RRFConstant:        60,
			LexicalPageWeight:  1.0,
			LexicalChunkWeight: 1.2,
			SemanticWeight:     0.8,
			PhraseBoost:        0.02,
			ProximityBoost:     0.01,
			RawScoreBoost:      0.004,
			HeadingBoost:       0.008,
			DefaultLimit:       10,
			MaxLimit:           100,
			CandidateLimit:     50,
			OverallTimeout:     "5s",
			StrategyTimeout:    "3s",
			PoolSize:           8,
		},
		Normalize: NormalizeConfig{
			RepeatThreshold: 0.6,
			MinPages:        3,
		},
		Chunking: ChunkingConfig{
			MaxChars:     2000,
			MinChars:     200,
			OverlapChars: 200,
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "static", // Works offline; set "ollama" for model embeddings
			Model:        "nomic-embed-text",
			Host:         "", // Empty uses http://localhost:11434
			Dimensions:   0,  // Auto-detect from embedder
			BatchSize:    32,
			Timeout:      "30s",
			CacheSize:    1000,
			MaxFailures:  5,
			ResetTimeout: "30s",
		},
		Synonyms: SynonymsConfig{
			MaxExpansions: 4,
		},
		Performance: PerformanceConfig{
			IndexWorkers:  runtime.NumCPU(),
			EmbedWorkers:  2,
			MaxFileSizeMB: 100,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			TopTerms: 100,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/casearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/casearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "casearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "casearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "casearch", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// FindProjectConfig returns the first project config file in dir, or ""
// if there is none.
func FindProjectConfig(dir string) string {
	for _, name := range projectConfigFiles {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// Load loads configuration for the project in dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/casearch/config.yaml)
//  3. Project config (casearch.yaml, .casearch.yaml or casearch.toml in dir)
//  4. Environment variables (CASEARCH_*)
func Load(dir string) (*Config, error) {
	return load(FindProjectConfig(dir))
}

// LoadFile is Load with an explicit project config file in place of the
// lookup in the project directory.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, caserrors.New(caserrors.ErrCodeConfigNotFound, "config file not found", nil).
			WithDetail("path", path)
	}
	return load(path)
}

func load(projectPath string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if projectPath != "" {
		if err := cfg.loadFile(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, caserrors.ConfigError("invalid configuration", err).
			WithSuggestion("Check the values in your casearch config file and CASEARCH_* variables")
	}
	return cfg, nil
}

// loadFile parses a YAML or TOML file, chosen by extension, and merges its
// non-zero values into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return caserrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}

	// Parse into an empty struct so only values present in the file merge.
	var parsed Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &parsed)
	default:
		err = yaml.Unmarshal(data, &parsed)
	}
	if err != nil {
		return caserrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Boolean settings are
// all phrased so that false is the default, which lets them merge the same way.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if other.Paths.DataDir != "" {
		c.Paths.DataDir = other.Paths.DataDir
	}
	if len(other.Paths.Documents) > 0 {
		c.Paths.Documents = other.Paths.Documents
	}

	// Search
	mergeString(&c.Search.LexicalBackend, other.Search.LexicalBackend)
	mergeString(&c.Search.DefaultMode, other.Search.DefaultMode)
	mergeInt(&c.Search.RRFConstant, other.Search.RRFConstant)
	mergeFloat(&c.Search.LexicalPageWeight, other.Search.LexicalPageWeight)
	mergeFloat(&c.Search.LexicalChunkWeight, other.Search.LexicalChunkWeight)
	mergeFloat(&c.Search.SemanticWeight, other.Search.SemanticWeight)
	mergeFloat(&c.Search.PhraseBoost, other.Search.PhraseBoost)
	mergeFloat(&c.Search.ProximityBoost, other.Search.ProximityBoost)
	mergeFloat(&c.Search.RawScoreBoost, other.Search.RawScoreBoost)
	mergeFloat(&c.Search.HeadingBoost, other.Search.HeadingBoost)
	mergeInt(&c.Search.DefaultLimit, other.Search.DefaultLimit)
	mergeInt(&c.Search.MaxLimit, other.Search.MaxLimit)
	mergeInt(&c.Search.CandidateLimit, other.Search.CandidateLimit)
	mergeString(&c.Search.OverallTimeout, other.Search.OverallTimeout)
	mergeString(&c.Search.StrategyTimeout, other.Search.StrategyTimeout)
	mergeInt(&c.Search.PoolSize, other.Search.PoolSize)

	// Normalize
	if other.Normalize.KeepHeaders {
		c.Normalize.KeepHeaders = true
	}
	mergeFloat(&c.Normalize.RepeatThreshold, other.Normalize.RepeatThreshold)
	mergeInt(&c.Normalize.MinPages, other.Normalize.MinPages)

	// Chunking
	mergeInt(&c.Chunking.MaxChars, other.Chunking.MaxChars)
	mergeInt(&c.Chunking.MinChars, other.Chunking.MinChars)
	mergeInt(&c.Chunking.OverlapChars, other.Chunking.OverlapChars)

	// Embeddings
	mergeString(&c.Embeddings.Provider, other.Embeddings.Provider)
	mergeString(&c.Embeddings.Model, other.Embeddings.Model)
	mergeString(&c.Embeddings.Host, other.Embeddings.Host)
	mergeInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	mergeInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	mergeString(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	mergeFloat(&c.Embeddings.RequestsPerSecond, other.Embeddings.RequestsPerSecond)
	mergeInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)
	mergeInt(&c.Embeddings.MaxFailures, other.Embeddings.MaxFailures)
	mergeString(&c.Embeddings.ResetTimeout, other.Embeddings.ResetTimeout)

	// Synonyms
	if other.Synonyms.Disabled {
		c.Synonyms.Disabled = true
	}
	mergeString(&c.Synonyms.File, other.Synonyms.File)
	mergeInt(&c.Synonyms.MaxExpansions, other.Synonyms.MaxExpansions)

	// Performance
	mergeInt(&c.Performance.IndexWorkers, other.Performance.IndexWorkers)
	mergeInt(&c.Performance.EmbedWorkers, other.Performance.EmbedWorkers)
	mergeInt(&c.Performance.MaxFileSizeMB, other.Performance.MaxFileSizeMB)

	// Logging
	mergeString(&c.Logging.Level, other.Logging.Level)
	mergeString(&c.Logging.FilePath, other.Logging.FilePath)
	mergeInt(&c.Logging.MaxSizeMB, other.Logging.MaxSizeMB)
	mergeInt(&c.Logging.MaxFiles, other.Logging.MaxFiles)
	if other.Logging.Disabled {
		c.Logging.Disabled = true
	}

	// Telemetry
	if other.Telemetry.Disabled {
		c.Telemetry.Disabled = true
	}
	mergeInt(&c.Telemetry.TopTerms, other.Telemetry.TopTerms)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies CASEARCH_* environment variable overrides.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASEARCH_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}

	if v := os.Getenv("CASEARCH_LEXICAL_BACKEND"); v != "" {
		c.Search.LexicalBackend = v
	}
	if v := os.Getenv("CASEARCH_SEARCH_MODE"); v != "" {
		c.Search.DefaultMode = v
	}
	if v := os.Getenv("CASEARCH_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	// Weights accept explicit zero to switch a strategy off in fusion.
	if v := os.Getenv("CASEARCH_SEMANTIC_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && w >= 0 {
			c.Search.SemanticWeight = w
		}
	}
	if v := os.Getenv("CASEARCH_SEARCH_TIMEOUT"); v != "" {
		c.Search.OverallTimeout = v
	}
	if v := os.Getenv("CASEARCH_STRATEGY_TIMEOUT"); v != "" {
		c.Search.StrategyTimeout = v
	}
	if v := os.Getenv("CASEARCH_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.PoolSize = n
		}
	}

	if v := os.Getenv("CASEARCH_EMBED_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CASEARCH_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("CASEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}

	if v := os.Getenv("CASEARCH_SYNONYMS"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Synonyms.Disabled = !enabled
		}
	}
	if v := os.Getenv("CASEARCH_SYNONYMS_FILE"); v != "" {
		c.Synonyms.File = v
	}

	if v := os.Getenv("CASEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CASEARCH_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("CASEARCH_TELEMETRY"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Telemetry.Disabled = !enabled
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must not be empty")
	}

	switch strings.ToLower(c.Search.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'sqlite' or 'bleve', got %q", c.Search.LexicalBackend)
	}
	switch strings.ToLower(c.Search.DefaultMode) {
	case "and", "or":
	default:
		return fmt.Errorf("search.default_mode must be 'and' or 'or', got %q", c.Search.DefaultMode)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	weights := map[string]float64{
		"lexical_page_weight":  c.Search.LexicalPageWeight,
		"lexical_chunk_weight": c.Search.LexicalChunkWeight,
		"semantic_weight":      c.Search.SemanticWeight,
	}
	for name, w := range weights {
		if w < 0 {
			return fmt.Errorf("search.%s must be non-negative, got %f", name, w)
		}
	}
	if c.Search.LexicalPageWeight+c.Search.LexicalChunkWeight+c.Search.SemanticWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}
	if c.Search.DefaultLimit < 0 || c.Search.MaxLimit < 0 || c.Search.CandidateLimit < 0 {
		return fmt.Errorf("search limits must be non-negative")
	}
	if c.Search.MaxLimit > 0 && c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) exceeds search.max_limit (%d)", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.PoolSize < 0 {
		return fmt.Errorf("search.pool_size must be non-negative, got %d", c.Search.PoolSize)
	}

	durations := map[string]string{
		"search.overall_timeout":   c.Search.OverallTimeout,
		"search.strategy_timeout":  c.Search.StrategyTimeout,
		"embeddings.timeout":       c.Embeddings.Timeout,
		"embeddings.reset_timeout": c.Embeddings.ResetTimeout,
	}
	for name, v := range durations {
		if _, err := ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if t := c.Normalize.RepeatThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("normalize.repeat_threshold must be in (0, 1], got %f", t)
	}
	if c.Normalize.MinPages < 2 {
		return fmt.Errorf("normalize.min_pages must be at least 2, got %d", c.Normalize.MinPages)
	}

	if c.Chunking.MaxChars < 0 || c.Chunking.MinChars < 0 {
		return fmt.Errorf("chunking sizes must be non-negative")
	}
	if c.Chunking.MaxChars > 0 && c.Chunking.MinChars > c.Chunking.MaxChars {
		return fmt.Errorf("chunking.min_chars (%d) exceeds chunking.max_chars (%d)", c.Chunking.MinChars, c.Chunking.MaxChars)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static", "none":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'static' or 'none', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize < 0 {
		return fmt.Errorf("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.RequestsPerSecond < 0 {
		return fmt.Errorf("embeddings.requests_per_second must be non-negative, got %f", c.Embeddings.RequestsPerSecond)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %q", c.Logging.Level)
	}

	return nil
}

// ParseDuration parses a duration setting. Empty means unset and returns 0.
func ParseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}

// Duration parses a duration setting that Validate has already accepted.
// Invalid or empty values yield 0.
func Duration(s string) time.Duration {
	d, _ := ParseDuration(s)
	return d
}

// DataPath resolves a file name inside the data directory. A relative
// data directory is taken relative to base.
func (c *Config) DataPath(base, name string) string {
	dir := c.Paths.DataDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	return filepath.Join(dir, name)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteTOML writes the configuration to a TOML file.
func (c *Config) WriteTOML(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
