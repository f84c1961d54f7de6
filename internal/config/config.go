package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "BRAIN_"
	maxConfigFileSize = 1 << 20
)

// ErrMissingCredentials is returned when a remote LLM provider has no API key.
var ErrMissingCredentials = errors.New("missing required config")

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Storage   StorageConfig   `koanf:"storage"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Context   ContextConfig   `koanf:"context"`
	Digest    DigestConfig    `koanf:"digest"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Log       LogConfig       `koanf:"log"`
}

type ServerConfig struct {
	Port  int    `koanf:"port"`
	Token string `koanf:"token"`
}

type LLMConfig struct {
	Provider          string        `koanf:"provider"` // "openai" or "ollama"
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	Model             string        `koanf:"model"`
	EmbedModel        string        `koanf:"embed_model"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	RetryBaseDelay    time.Duration `koanf:"retry_base_delay"`
	MaxRetries        int           `koanf:"max_retries"`
}

type StorageConfig struct {
	DataDir string `koanf:"data_dir"`
}

type RetrievalConfig struct {
	Backend   string        `koanf:"backend"` // "sqlite" or "chromem"
	Threshold float64       `koanf:"threshold"`
	Limit     int           `koanf:"limit"`
	CacheTTL  time.Duration `koanf:"cache_ttl"`
}

type ContextConfig struct {
	MaxChars int `koanf:"max_chars"`
}

type DigestConfig struct {
	Schedule    string `koanf:"schedule"`
	MinMessages int    `koanf:"min_messages"`
	Window      int    `koanf:"window"`
}

type IngestConfig struct {
	StaleAfter   time.Duration `koanf:"stale_after"`
	PollInterval time.Duration `koanf:"poll_interval"`
	ReembedLimit int           `koanf:"reembed_limit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		LLM: LLMConfig{
			Provider:          "openai",
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			EmbedModel:        "text-embedding-3-small",
			RequestsPerSecond: 2,
			RetryBaseDelay:    20 * time.Second,
			MaxRetries:        2,
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Retrieval: RetrievalConfig{
			Backend:   "sqlite",
			Threshold: 0.3,
			Limit:     5,
			CacheTTL:  10 * time.Minute,
		},
		Context: ContextConfig{MaxChars: 800},
		Digest: DigestConfig{
			Schedule:    "@every 15m",
			MinMessages: 20,
			Window:      200,
		},
		Ingest: IngestConfig{
			StaleAfter:   10 * time.Minute,
			PollInterval: 500 * time.Millisecond,
			ReembedLimit: 50,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configuration from the YAML file at $BRAIN_CONFIG (or
// $XDG_CONFIG_HOME/brain/config.yaml when unset), then applies BRAIN_*
// environment variables on top. A missing file is not an error.
func Load() (Config, error) {
	path := os.Getenv("BRAIN_CONFIG")
	if path == "" {
		path = defaultConfigPath()
	}

	var content []byte
	if info, err := os.Stat(path); err == nil {
		if info.Size() > maxConfigFileSize {
			return Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return loadBytes(content)
}

func loadBytes(content []byte) (Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// BRAIN_LLM_API_KEY -> llm.api_key: split on the first underscore only.
	// Empty variables are ignored so they cannot blank out file values.
	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKey(key), value
	}), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: LLM API key. Set llm.api_key in the config file or BRAIN_LLM_API_KEY", ErrMissingCredentials)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown llm.provider %q (want openai or ollama)", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be >= 0")
	}
	switch c.Retrieval.Backend {
	case "sqlite", "chromem":
	default:
		return fmt.Errorf("unknown retrieval.backend %q (want sqlite or chromem)", c.Retrieval.Backend)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [0,1], got %v", c.Retrieval.Threshold)
	}
	if c.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval.limit must be positive")
	}
	if c.Context.MaxChars < 0 {
		return fmt.Errorf("context.max_chars must be >= 0")
	}
	if c.Digest.MinMessages <= 0 {
		return fmt.Errorf("digest.min_messages must be positive")
	}
	return nil
}

func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + "." + parts[1]
}

func defaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "brain.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "brain", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "brain-data"
		}
	}
	return filepath.Join(dir, "brain")
}
