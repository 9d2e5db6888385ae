package labeler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.json"

// Backend kinds.
const (
	BackendONNX   = "onnx"
	BackendHF     = "hf"
	BackendOpenAI = "openai"
)

// Checkpoint drivers.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Duration is a time.Duration written as "60s" in config files.
type Duration time.Duration

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// OrtConfig configures the local ONNX NLI model.
type OrtConfig struct {
	OrtDLL        string   `json:"ortDll" yaml:"ortDll" toml:"ortDll"`
	ModelPath     string   `json:"modelPath" yaml:"modelPath" toml:"modelPath"`
	TokenizerPath string   `json:"tokenizerPath" yaml:"tokenizerPath" toml:"tokenizerPath"`
	MaxSeqLen     int      `json:"maxSeqLen" yaml:"maxSeqLen" toml:"maxSeqLen"`
	LabelOrder    []string `json:"labelOrder" yaml:"labelOrder" toml:"labelOrder"`
	ScoreMode     string   `json:"scoreMode" yaml:"scoreMode" toml:"scoreMode"`
	CacheDir      string   `json:"cacheDir" yaml:"cacheDir" toml:"cacheDir"`
	ModelID       string   `json:"modelId" yaml:"modelId" toml:"modelId"`
}

// HFConfig configures the remote Hugging Face inference endpoint.
type HFConfig struct {
	URL        string   `json:"url" yaml:"url" toml:"url"`
	Token      string   `json:"token" yaml:"token" toml:"token"`
	MultiLabel bool     `json:"multiLabel" yaml:"multiLabel" toml:"multiLabel"`
	Timeout    Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// OpenAIConfig configures the chat-completion judge.
type OpenAIConfig struct {
	APIKey  string   `json:"apiKey" yaml:"apiKey" toml:"apiKey"`
	BaseURL string   `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
	Model   string   `json:"model" yaml:"model" toml:"model"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// BackendConfig selects and configures the classifier backend.
type BackendConfig struct {
	Kind   string       `json:"kind" yaml:"kind" toml:"kind"`
	Batch  bool         `json:"batch" yaml:"batch" toml:"batch"`
	ORT    OrtConfig    `json:"onnx" yaml:"onnx" toml:"onnx"`
	HF     HFConfig     `json:"hf" yaml:"hf" toml:"hf"`
	OpenAI OpenAIConfig `json:"openai" yaml:"openai" toml:"openai"`
}

// RetryConfig controls the retry/backoff policy. Negative TransientRetries
// disables the immediate retry.
type RetryConfig struct {
	MaxRetries       int      `json:"maxRetries" yaml:"maxRetries" toml:"maxRetries"`
	RateLimitDelay   Duration `json:"rateLimitDelay" yaml:"rateLimitDelay" toml:"rateLimitDelay"`
	WarmupDelay      Duration `json:"warmupDelay" yaml:"warmupDelay" toml:"warmupDelay"`
	TransientRetries int      `json:"transientRetries" yaml:"transientRetries" toml:"transientRetries"`
	MinInterval      Duration `json:"minInterval" yaml:"minInterval" toml:"minInterval"`
}

// ApplyDefaults populates zero values.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.RateLimitDelay == 0 {
		r.RateLimitDelay = Duration(60 * time.Second)
	}
	if r.WarmupDelay == 0 {
		r.WarmupDelay = Duration(10 * time.Second)
	}
	if r.TransientRetries == 0 {
		r.TransientRetries = 1
	} else if r.TransientRetries < 0 {
		r.TransientRetries = 0
	}
	if r.MinInterval == 0 {
		r.MinInterval = Duration(time.Second)
	}
}

// CheckpointConfig controls where and how often progress is persisted.
// Paths may contain "{timestamp}".
type CheckpointConfig struct {
	Driver    string `json:"driver" yaml:"driver" toml:"driver"`
	Path      string `json:"path" yaml:"path" toml:"path"`
	FinalPath string `json:"finalPath" yaml:"finalPath" toml:"finalPath"`
	Every     int    `json:"every" yaml:"every" toml:"every"`
	Resume    bool   `json:"resume" yaml:"resume" toml:"resume"`
}

// InputConfig selects the text column and an optional item limit.
type InputConfig struct {
	TextColumn string `json:"textColumn" yaml:"textColumn" toml:"textColumn"`
	Limit      int    `json:"limit" yaml:"limit" toml:"limit"`
}

// Config aggregates runtime settings.
type Config struct {
	Backend    BackendConfig    `json:"backend" yaml:"backend" toml:"backend"`
	Retry      RetryConfig      `json:"retry" yaml:"retry" toml:"retry"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint" toml:"checkpoint"`
	Input      InputConfig      `json:"input" yaml:"input" toml:"input"`
	Workers    int              `json:"workers" yaml:"workers" toml:"workers"`
	Categories []LabelCategory  `json:"categories" yaml:"categories" toml:"categories"`
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Backend.Kind == "" {
		c.Backend.Kind = BackendONNX
	}
	if c.Backend.ORT.MaxSeqLen == 0 {
		c.Backend.ORT.MaxSeqLen = 512
	}
	if len(c.Backend.ORT.LabelOrder) == 0 {
		c.Backend.ORT.LabelOrder = []string{"contradiction", "neutral", "entailment"}
	}
	if c.Backend.ORT.ScoreMode == "" {
		c.Backend.ORT.ScoreMode = "logit"
	}
	if c.Backend.ORT.ModelID == "" && c.Backend.ORT.ModelPath != "" {
		c.Backend.ORT.ModelID = filepath.Base(filepath.Dir(c.Backend.ORT.ModelPath)) + "/" + filepath.Base(c.Backend.ORT.ModelPath)
	}
	if c.Backend.HF.URL == "" {
		c.Backend.HF.URL = DefaultHFURL
	}
	if c.Backend.HF.Timeout == 0 {
		c.Backend.HF.Timeout = Duration(60 * time.Second)
	}
	if c.Backend.OpenAI.Model == "" {
		c.Backend.OpenAI.Model = DefaultOpenAIModel
	}
	if c.Backend.OpenAI.Timeout == 0 {
		c.Backend.OpenAI.Timeout = Duration(60 * time.Second)
	}
	c.Retry.ApplyDefaults()
	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = DriverJSON
	}
	if c.Checkpoint.Path == "" {
		if c.Checkpoint.Driver == DriverSQLite {
			c.Checkpoint.Path = "labeled_headlines.db"
		} else {
			c.Checkpoint.Path = "labeled_headlines_progress.json"
		}
	}
	if c.Checkpoint.FinalPath == "" && c.Checkpoint.Driver == DriverJSON {
		c.Checkpoint.FinalPath = "labeled_headlines.json"
	}
	if c.Checkpoint.Every <= 0 {
		c.Checkpoint.Every = 10
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories()
	}
}

// Validate reports configuration errors that would make a run meaningless.
func (c Config) Validate() error {
	switch c.Backend.Kind {
	case BackendONNX, BackendHF, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	switch c.Checkpoint.Driver {
	case DriverJSON, DriverSQLite:
	default:
		return fmt.Errorf("unknown checkpoint driver %q", c.Checkpoint.Driver)
	}
	return ValidateCategories(c.Categories)
}

// ValidateCategories checks names are unique and vocabularies closed and non-empty.
func ValidateCategories(categories []LabelCategory) error {
	if len(categories) == 0 {
		return errors.New("no categories configured")
	}
	names := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		if strings.TrimSpace(cat.Name) == "" {
			return errors.New("category with empty name")
		}
		if _, dup := names[cat.Name]; dup {
			return fmt.Errorf("duplicate category %q", cat.Name)
		}
		names[cat.Name] = struct{}{}
		if len(cat.Labels) == 0 {
			return fmt.Errorf("category %q has no labels", cat.Name)
		}
		seen := make(map[string]struct{}, len(cat.Labels))
		for _, label := range cat.Labels {
			if strings.TrimSpace(label) == "" {
				return fmt.Errorf("category %q has an empty label", cat.Name)
			}
			if _, dup := seen[label]; dup {
				return fmt.Errorf("category %q lists %q twice", cat.Name, label)
			}
			seen[label] = struct{}{}
		}
	}
	return nil
}

// LoadConfig loads configuration from the given path or the default config.json.
// The format follows the extension (.json, .yaml/.yml, .toml) and environment
// variables in the file are expanded. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if err := decodeConfig(path, expanded, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if cfg.Backend.ORT.CacheDir != "" {
		if err := os.MkdirAll(cfg.Backend.ORT.CacheDir, 0o755); err != nil {
			return cfg, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := encodeConfig(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func encodeConfig(path string, cfg Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".toml":
		return toml.Marshal(cfg)
	default:
		return json.MarshalIndent(cfg, "", "  ")
	}
}

// ExpandPath substitutes "{timestamp}" in an artifact path.
func ExpandPath(path string, now time.Time) string {
	return strings.ReplaceAll(path, "{timestamp}", now.Format("20060102_150405"))
}
