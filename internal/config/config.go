package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config file and directory names inside a library.
const (
	ProjectConfigName    = ".shelf.yaml"
	ProjectConfigAltName = ".shelf.yml"
	DefaultDataDir       = ".shelf"
	EnvFileName          = ".env"
)

// Config represents the complete shelf configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Library    LibraryConfig    `yaml:"library" json:"library"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// LibraryConfig locates the book tree and its data directory.
type LibraryConfig struct {
	// Root is the library root. Empty means the directory Load was given.
	Root string `yaml:"root,omitempty" json:"root,omitempty"`

	// DataDir holds the manifest and per-topic indices, relative to Root.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Extensions narrows which book formats are scanned.
	Extensions []string `yaml:"extensions" json:"extensions"`
}

// ChunkingConfig sizes the overlapping word windows.
type ChunkingConfig struct {
	Size     int `yaml:"size" json:"size"`
	Overlap  int `yaml:"overlap" json:"overlap"`
	MinWords int `yaml:"min_words" json:"min_words"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "ollama", "openai" or "static".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`

	OllamaHost    string `yaml:"ollama_host,omitempty" json:"ollama_host,omitempty"`
	OpenAIBaseURL string `yaml:"openai_base_url,omitempty" json:"openai_base_url,omitempty"`

	// Dimensions is required for openai models that support truncation
	// and for the static embedder. Zero means provider default.
	Dimensions int `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`

	// CallDelay is the minimum spacing between provider calls, e.g. "100ms".
	CallDelay string `yaml:"call_delay" json:"call_delay"`

	// Timeout bounds a single provider request, e.g. "60s".
	Timeout string `yaml:"timeout" json:"timeout"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexConfig tunes the per-topic HNSW graphs.
type IndexConfig struct {
	// Metric is "cosine" or "l2".
	Metric   string `yaml:"metric" json:"metric"`
	M        int    `yaml:"m" json:"m"`
	EfSearch int    `yaml:"ef_search" json:"ef_search"`
}

// RetrievalConfig configures query answering.
type RetrievalConfig struct {
	// DefaultTopic is used when a query names no topic and none can be inferred.
	DefaultTopic string `yaml:"default_topic,omitempty" json:"default_topic,omitempty"`
	TopK         int    `yaml:"top_k" json:"top_k"`
	MaxK         int    `yaml:"max_k" json:"max_k"`

	// Preload lists topics the server loads in the background at startup.
	Preload []string `yaml:"preload,omitempty" json:"preload,omitempty"`
}

// WatchConfig configures the library watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Library: LibraryConfig{
			DataDir:    DefaultDataDir,
			Extensions: []string{".pdf", ".epub", ".html", ".htm", ".xhtml", ".txt", ".md"},
		},
		Chunking: ChunkingConfig{
			Size:     300,
			Overlap:  50,
			MinWords: 40,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			CallDelay: "100ms",
			Timeout:   "60s",
			BatchSize: 16,
			CacheSize: 2048,
		},
		Index: IndexConfig{
			Metric:   "cosine",
			M:        16,
			EfSearch: 64,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
			MaxK: 50,
		},
		Watch: WatchConfig{
			Debounce: "5s",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/shelf/config.yaml when XDG_CONFIG_HOME is set
//   - ~/.config/shelf/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "shelf", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "shelf", "config.yaml")
	}
	return filepath.Join(home, ".config", "shelf", "config.yaml")
}

// Load resolves configuration for the library rooted at dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/shelf/config.yaml)
//  3. Library config (<dir>/.shelf.yaml)
//  4. <dir>/.env, which never overrides variables already set
//  5. SHELF_* environment variables
func Load(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path: %w", err)
	}

	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	for _, name := range []string{ProjectConfigName, ProjectConfigAltName} {
		path := filepath.Join(absDir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if envPath := filepath.Join(absDir, EnvFileName); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Library.Root == "" {
		cfg.Library.Root = absDir
	} else if !filepath.IsAbs(cfg.Library.Root) {
		cfg.Library.Root = filepath.Join(absDir, cfg.Library.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML merges the non-zero values of a YAML file into c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Library.Root, other.Library.Root)
	setString(&c.Library.DataDir, other.Library.DataDir)
	if len(other.Library.Extensions) > 0 {
		c.Library.Extensions = other.Library.Extensions
	}

	setInt(&c.Chunking.Size, other.Chunking.Size)
	setInt(&c.Chunking.Overlap, other.Chunking.Overlap)
	setInt(&c.Chunking.MinWords, other.Chunking.MinWords)

	setString(&c.Embeddings.Provider, other.Embeddings.Provider)
	setString(&c.Embeddings.Model, other.Embeddings.Model)
	setString(&c.Embeddings.OllamaHost, other.Embeddings.OllamaHost)
	setString(&c.Embeddings.OpenAIBaseURL, other.Embeddings.OpenAIBaseURL)
	setInt(&c.Embeddings.Dimensions, other.Embeddings.Dimensions)
	setString(&c.Embeddings.CallDelay, other.Embeddings.CallDelay)
	setString(&c.Embeddings.Timeout, other.Embeddings.Timeout)
	setInt(&c.Embeddings.BatchSize, other.Embeddings.BatchSize)
	setInt(&c.Embeddings.CacheSize, other.Embeddings.CacheSize)

	setString(&c.Index.Metric, other.Index.Metric)
	setInt(&c.Index.M, other.Index.M)
	setInt(&c.Index.EfSearch, other.Index.EfSearch)

	setString(&c.Retrieval.DefaultTopic, other.Retrieval.DefaultTopic)
	setInt(&c.Retrieval.TopK, other.Retrieval.TopK)
	setInt(&c.Retrieval.MaxK, other.Retrieval.MaxK)
	if len(other.Retrieval.Preload) > 0 {
		c.Retrieval.Preload = other.Retrieval.Preload
	}

	setString(&c.Watch.Debounce, other.Watch.Debounce)
	setString(&c.Server.LogLevel, other.Server.LogLevel)
}

// applyEnvOverrides applies SHELF_* variables, the highest precedence layer.
func (c *Config) applyEnvOverrides() {
	setString(&c.Library.Root, os.Getenv("SHELF_LIBRARY"))
	setString(&c.Embeddings.Provider, os.Getenv("SHELF_EMBEDDINGS_PROVIDER"))
	// SHELF_EMBEDDER is a short alias for SHELF_EMBEDDINGS_PROVIDER.
	setString(&c.Embeddings.Provider, os.Getenv("SHELF_EMBEDDER"))
	setString(&c.Embeddings.Model, os.Getenv("SHELF_EMBEDDINGS_MODEL"))
	setString(&c.Embeddings.OllamaHost, os.Getenv("SHELF_OLLAMA_HOST"))
	setString(&c.Embeddings.OpenAIBaseURL, os.Getenv("SHELF_OPENAI_BASE_URL"))
	setString(&c.Embeddings.CallDelay, os.Getenv("SHELF_CALL_DELAY"))
	setString(&c.Retrieval.DefaultTopic, os.Getenv("SHELF_DEFAULT_TOPIC"))
	setString(&c.Server.LogLevel, os.Getenv("SHELF_LOG_LEVEL"))

	if v := os.Getenv("SHELF_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.TopK = k
		}
	}
	if v := os.Getenv("SHELF_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.Size = n
		}
	}
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Library.DataDir == "" {
		return fmt.Errorf("library.data_dir must not be empty")
	}
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Chunking.MinWords < 0 {
		return fmt.Errorf("chunking.min_words must be non-negative, got %d", c.Chunking.MinWords)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "openai", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama', 'openai' or 'static', got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if _, err := parseDuration(c.Embeddings.CallDelay); err != nil {
		return fmt.Errorf("embeddings.call_delay: %w", err)
	}
	if _, err := parseDuration(c.Embeddings.Timeout); err != nil {
		return fmt.Errorf("embeddings.timeout: %w", err)
	}

	switch strings.ToLower(c.Index.Metric) {
	case "cosine", "l2":
	default:
		return fmt.Errorf("index.metric must be 'cosine' or 'l2', got %q", c.Index.Metric)
	}
	if c.Index.M < 2 {
		return fmt.Errorf("index.m must be at least 2, got %d", c.Index.M)
	}

	if c.Retrieval.TopK <= 0 || c.Retrieval.MaxK < c.Retrieval.TopK {
		return fmt.Errorf("retrieval.top_k must be in [1, max_k], got %d (max_k %d)", c.Retrieval.TopK, c.Retrieval.MaxK)
	}
	if _, err := parseDuration(c.Watch.Debounce); err != nil {
		return fmt.Errorf("watch.debounce: %w", err)
	}

	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// DataPath returns the absolute data directory of the library.
func (c *Config) DataPath() string {
	if filepath.IsAbs(c.Library.DataDir) {
		return c.Library.DataDir
	}
	return filepath.Join(c.Library.Root, c.Library.DataDir)
}

// CallDelay returns the parsed embeddings.call_delay.
func (c *Config) CallDelay() time.Duration {
	d, _ := parseDuration(c.Embeddings.CallDelay)
	return d
}

// EmbedTimeout returns the parsed embeddings.timeout.
func (c *Config) EmbedTimeout() time.Duration {
	d, _ := parseDuration(c.Embeddings.Timeout)
	return d
}

// WatchDebounce returns the parsed watch.debounce.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := parseDuration(c.Watch.Debounce)
	return d
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// FindLibraryRoot walks up from startDir looking for a .shelf.yaml file or
// a .shelf data directory. It returns startDir when neither is found.
func FindLibraryRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if fileExists(filepath.Join(current, ProjectConfigName)) ||
			fileExists(filepath.Join(current, ProjectConfigAltName)) ||
			dirExists(filepath.Join(current, DefaultDataDir)) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", s)
	}
	return d, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
