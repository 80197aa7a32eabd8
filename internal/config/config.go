package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the per-directory config file name.
const ProjectConfigFile = ".docindex.yaml"

// Config represents the complete docindex configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Vision     VisionConfig     `yaml:"vision" json:"vision"`
	Render     RenderConfig     `yaml:"render" json:"render"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// StoreConfig selects and locates the knowledge store backend.
type StoreConfig struct {
	// Backend is one of bleve, hnsw, sqlite.
	Backend string `yaml:"backend" json:"backend" validate:"required,oneof=bleve hnsw sqlite"`

	// Path is the data directory. Empty keeps everything in memory.
	Path string `yaml:"path" json:"path"`

	// FingerprintPath overrides <path>/fingerprint.yaml.
	FingerprintPath string `yaml:"fingerprint_path" json:"fingerprint_path"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is ollama, openai or static.
	Provider string `yaml:"provider" json:"provider" validate:"required,oneof=ollama openai static"`

	Model string `yaml:"model" json:"model" validate:"required"`

	// Host is the Ollama API endpoint.
	Host string `yaml:"host" json:"host" validate:"omitempty,url"`

	// BaseURL and APIKey address an OpenAI-compatible API (provider openai).
	// An empty BaseURL means api.openai.com.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Dimensions overrides auto-detection. 0 = auto-detect.
	Dimensions int `yaml:"dimensions" json:"dimensions" validate:"gte=0"`

	// CacheSize is the number of query embeddings kept in memory. 0 disables the cache.
	CacheSize int `yaml:"cache_size" json:"cache_size" validate:"gte=0"`

	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// VisionConfig configures the page layout model.
type VisionConfig struct {
	// Provider is ollama, openai or vertex.
	Provider string `yaml:"provider" json:"provider" validate:"required,oneof=ollama openai vertex"`

	Model string `yaml:"model" json:"model" validate:"required"`

	// Host is the Ollama API endpoint (provider ollama).
	Host string `yaml:"host" json:"host" validate:"omitempty,url"`

	// BaseURL and APIKey address an OpenAI-compatible chat completions API
	// (provider openai). An empty BaseURL means api.openai.com.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Project and Region select the Vertex AI endpoint (provider vertex).
	Project string `yaml:"project" json:"project"`
	Region  string `yaml:"region" json:"region"`

	// MaxAttempts is the total number of calls made per page before giving up.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`

	// RequestsPerSecond caps vision calls across all workers. 0 = unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`

	// Timeout bounds each vision call. 0 = no deadline.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// RenderConfig configures conversion of files into page images.
type RenderConfig struct {
	SofficePath  string `yaml:"soffice_path" json:"soffice_path" validate:"required"`
	PdftoppmPath string `yaml:"pdftoppm_path" json:"pdftoppm_path" validate:"required"`
	DPI          int    `yaml:"dpi" json:"dpi" validate:"gte=36,lte=600"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// Workers is the number of pages extracted concurrently.
	Workers int `yaml:"workers" json:"workers" validate:"gte=1,lte=32"`

	// WatchDebounce delays ingestion of a watched file until writes settle.
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce" validate:"gte=0"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport" validate:"oneof=stdio http"`
	Addr      string `yaml:"addr" json:"addr" validate:"required"`
	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend: "bleve",
			Path:    ".docindex",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			CacheSize: 1000,
			Timeout:   30 * time.Second,
		},
		Vision: VisionConfig{
			Provider:    "ollama",
			Model:       "llama3.2-vision",
			Host:        "http://localhost:11434",
			Region:      "us-central1",
			MaxAttempts: 4,
			Timeout:     2 * time.Minute,
		},
		Render: RenderConfig{
			SofficePath:  "soffice",
			PdftoppmPath: "pdftoppm",
			DPI:          150,
		},
		Ingest: IngestConfig{
			Workers:       3,
			WatchDebounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      ":8080",
			LogLevel:  "info",
		},
	}
}

// redactedSecret replaces API keys in Redacted.
const redactedSecret = "********"

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() *Config {
	r := *c
	if r.Embeddings.APIKey != "" {
		r.Embeddings.APIKey = redactedSecret
	}
	if r.Vision.APIKey != "" {
		r.Vision.APIKey = redactedSecret
	}
	return &r
}

// FingerprintFile returns the resolved fingerprint location.
func (c *Config) FingerprintFile() string {
	if c.Store.FingerprintPath != "" {
		return c.Store.FingerprintPath
	}
	if c.Store.Path == "" {
		return ""
	}
	return filepath.Join(c.Store.Path, "fingerprint.yaml")
}

// GetUserConfigPath returns the path to the user/global configuration file.
//   - $XDG_CONFIG_HOME/docindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "docindex", "config.yaml")
}

// Load loads configuration for dir in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/docindex/config.yaml)
//  3. Project config (.docindex.yaml in dir)
//  4. dir/.env, then the process environment (DOCINDEX_* and legacy names)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if projectPath := filepath.Join(dir, ProjectConfigFile); fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	dotenv := map[string]string{}
	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		vals, err := godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
		dotenv = vals
	}
	cfg.applyEnvOverrides(func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return dotenv[key]
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML decodes path over the current values. Keys absent from the file keep
// their current value.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment overrides read through getenv.
// Legacy variable names are applied first so DOCINDEX_* wins.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
			}
		}
	}

	setString(&c.Store.Backend, "DOCINDEX_STORE_BACKEND")
	setString(&c.Store.Path, "DOCINDEX_STORE_PATH")
	setString(&c.Store.FingerprintPath, "CONFIG_PATH", "DOCINDEX_FINGERPRINT_PATH")

	setString(&c.Embeddings.Provider, "VECTOR_MODEL_TYPE", "DOCINDEX_EMBEDDINGS_PROVIDER")
	setString(&c.Embeddings.Model, "VECTOR_MODEL", "DOCINDEX_EMBEDDINGS_MODEL")
	// The legacy base URL names whichever endpoint the provider talks to.
	if strings.EqualFold(c.Embeddings.Provider, "openai") {
		setString(&c.Embeddings.BaseURL, "VECTOR_MODEL_BASE_URL")
	} else {
		setString(&c.Embeddings.Host, "VECTOR_MODEL_BASE_URL")
	}
	setString(&c.Embeddings.Host, "DOCINDEX_OLLAMA_HOST")
	setString(&c.Embeddings.BaseURL, "OPENAI_BASE_URL", "DOCINDEX_EMBEDDINGS_BASE_URL")
	setString(&c.Embeddings.APIKey, "VECTOR_API_KEY", "OPENAI_API_KEY", "DOCINDEX_EMBEDDINGS_API_KEY")

	setString(&c.Vision.Provider, "DOCINDEX_VISION_PROVIDER")
	setString(&c.Vision.Model, "DOCINDEX_VISION_MODEL")
	setString(&c.Vision.Host, "DOCINDEX_VISION_HOST")
	setString(&c.Vision.BaseURL, "OPENAI_BASE_URL", "DOCINDEX_VISION_BASE_URL")
	setString(&c.Vision.APIKey, "OPENAI_API_KEY", "DOCINDEX_VISION_API_KEY")
	setString(&c.Vision.Project, "DOCINDEX_VERTEX_PROJECT")
	setString(&c.Vision.Region, "DOCINDEX_VERTEX_REGION")
	if v := getenv("DOCINDEX_VISION_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && rps >= 0 {
			c.Vision.RequestsPerSecond = rps
		}
	}
	if v := getenv("DOCINDEX_VISION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Vision.Timeout = d
		}
	}

	setString(&c.Render.SofficePath, "SOFFICE_PATH", "DOCINDEX_SOFFICE_PATH")
	setString(&c.Render.PdftoppmPath, "DOCINDEX_PDFTOPPM_PATH")

	if v := getenv("DOCINDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Ingest.Workers = n
		}
	}

	setString(&c.Server.Transport, "DOCINDEX_TRANSPORT")
	setString(&c.Server.Addr, "DOCINDEX_ADDR")
	setString(&c.Server.LogLevel, "DOCINDEX_LOG_LEVEL")
	c.Server.LogLevel = strings.ToLower(c.Server.LogLevel)
}

var validate = validator.New()

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return describeValidation(verrs)
		}
		return err
	}

	if c.Vision.Provider == "vertex" && (c.Vision.Project == "" || c.Vision.Region == "") {
		return fmt.Errorf("vision.project and vision.region are required for the vertex provider")
	}
	if c.Embeddings.Provider == "ollama" && c.Embeddings.Host == "" {
		return fmt.Errorf("embeddings.host is required for the ollama provider")
	}
	if c.Embeddings.Provider == "openai" && c.Embeddings.APIKey == "" {
		return fmt.Errorf("embeddings.api_key is required for the openai provider (or set OPENAI_API_KEY)")
	}
	if c.Vision.Provider == "openai" && c.Vision.APIKey == "" {
		return fmt.Errorf("vision.api_key is required for the openai provider (or set OPENAI_API_KEY)")
	}

	return nil
}

// describeValidation turns validator errors into one readable error.
func describeValidation(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s, got %v", field, e.Param(), e.Value()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a URL, got %v", field, e.Value()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s, got %v", field, e.Param(), e.Value()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be <= %s, got %v", field, e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
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

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
