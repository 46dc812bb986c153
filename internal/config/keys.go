package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kStringList // comma-separated in env and `config set`
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "WEIR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auth_token", typ: kString, env: "WEIR_SERVER_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "server.max_conns", typ: kInt, env: "WEIR_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "ollama.base_url", typ: kString, env: "WEIR_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "WEIR_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "WEIR_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "remote.api_key", typ: kString, env: "WEIR_REMOTE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Remote.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.APIKey },
	},
	{
		key: "remote.base_url", typ: kString, env: "WEIR_REMOTE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Remote.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.BaseURL },
	},
	{
		key: "remote.model", typ: kString, env: "WEIR_REMOTE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Remote.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Remote.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "WEIR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "WEIR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "retrieval.limit", typ: kInt, env: "WEIR_RETRIEVAL_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.Limit },
	},
	{
		key: "retrieval.score_threshold", typ: kFloat, env: "WEIR_RETRIEVAL_SCORE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.ScoreThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.ScoreThreshold },
	},
	{
		key: "routing.mode", typ: kString, env: "WEIR_ROUTING_MODE",
		apply:   func(cfg *Config, v any) { cfg.Routing.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.Mode },
	},
	{
		key: "extraction.enabled", typ: kBool, env: "WEIR_EXTRACTION_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Extraction.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Extraction.Enabled },
	},
	{
		key: "extraction.interval_minutes", typ: kInt, env: "WEIR_EXTRACTION_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Extraction.IntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.IntervalMinutes },
	},
	{
		key: "extraction.similarity_threshold", typ: kFloat, env: "WEIR_EXTRACTION_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Extraction.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Extraction.SimilarityThreshold },
	},
	{
		key: "extraction.min_cluster_size", typ: kInt, env: "WEIR_EXTRACTION_MIN_CLUSTER_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Extraction.MinClusterSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Extraction.MinClusterSize },
	},
	{
		key: "federation.enabled", typ: kBool, env: "WEIR_FEDERATION_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Federation.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Federation.Enabled },
	},
	{
		key: "federation.interval_minutes", typ: kInt, env: "WEIR_FEDERATION_INTERVAL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Federation.IntervalMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Federation.IntervalMinutes },
	},
	{
		key: "federation.export_dir", typ: kString, env: "WEIR_FEDERATION_EXPORT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Federation.ExportDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Federation.ExportDir },
	},
	{
		key: "federation.source_paths", typ: kStringList, env: "WEIR_FEDERATION_SOURCE_PATHS",
		apply:   func(cfg *Config, v any) { cfg.Federation.SourcePaths = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Federation.SourcePaths, ",") },
	},
	{
		key: "federation.retention_count", typ: kInt, env: "WEIR_FEDERATION_RETENTION_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Federation.RetentionCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Federation.RetentionCount },
	},
	{
		key: "federation.origin", typ: kString, env: "WEIR_FEDERATION_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Federation.Origin = v.(string) },
		extract: func(cfg Config) any { return cfg.Federation.Origin },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kStringList:
			s.apply(cfg, splitList(raw))
		}
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
