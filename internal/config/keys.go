package config

import (
	"fmt"
	"strings"
)

type keySpec struct {
	key     string
	secret  bool
	extract func(cfg Config) any
}

var specs = []keySpec{
	{key: "server.port", extract: func(c Config) any { return c.Server.Port }},
	{key: "server.token", secret: true, extract: func(c Config) any { return c.Server.Token }},
	{key: "llm.provider", extract: func(c Config) any { return c.LLM.Provider }},
	{key: "llm.base_url", extract: func(c Config) any { return c.LLM.BaseURL }},
	{key: "llm.api_key", secret: true, extract: func(c Config) any { return c.LLM.APIKey }},
	{key: "llm.model", extract: func(c Config) any { return c.LLM.Model }},
	{key: "llm.embed_model", extract: func(c Config) any { return c.LLM.EmbedModel }},
	{key: "llm.requests_per_second", extract: func(c Config) any { return c.LLM.RequestsPerSecond }},
	{key: "llm.retry_base_delay", extract: func(c Config) any { return c.LLM.RetryBaseDelay }},
	{key: "llm.max_retries", extract: func(c Config) any { return c.LLM.MaxRetries }},
	{key: "storage.data_dir", extract: func(c Config) any { return c.Storage.DataDir }},
	{key: "retrieval.backend", extract: func(c Config) any { return c.Retrieval.Backend }},
	{key: "retrieval.threshold", extract: func(c Config) any { return c.Retrieval.Threshold }},
	{key: "retrieval.limit", extract: func(c Config) any { return c.Retrieval.Limit }},
	{key: "retrieval.cache_ttl", extract: func(c Config) any { return c.Retrieval.CacheTTL }},
	{key: "context.max_chars", extract: func(c Config) any { return c.Context.MaxChars }},
	{key: "digest.schedule", extract: func(c Config) any { return c.Digest.Schedule }},
	{key: "digest.min_messages", extract: func(c Config) any { return c.Digest.MinMessages }},
	{key: "digest.window", extract: func(c Config) any { return c.Digest.Window }},
	{key: "ingest.stale_after", extract: func(c Config) any { return c.Ingest.StaleAfter }},
	{key: "ingest.poll_interval", extract: func(c Config) any { return c.Ingest.PollInterval }},
	{key: "ingest.reembed_limit", extract: func(c Config) any { return c.Ingest.ReembedLimit }},
	{key: "log.level", extract: func(c Config) any { return c.Log.Level }},
	{key: "log.format", extract: func(c Config) any { return c.Log.Format }},
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns every config key with its effective value. Secrets are masked.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			v = mask(v)
		}
		result = append(result, KeyInfo{Key: s.key, EnvVar: envVar(s.key), Value: v})
	}
	return result
}

// envVar derives the environment variable that overrides key.
func envVar(key string) string {
	return envPrefix + strings.ToUpper(strings.Replace(key, ".", "_", 1))
}

func mask(v string) string {
	if v == "" {
		return "(unset)"
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
