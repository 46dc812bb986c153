// Package config loads daemon configuration from a YAML file at
// $XDG_CONFIG_HOME/weir/config.yaml with WEIR_* environment variable
// overrides. Missing file and missing keys fall back to defaults; the
// daemon runs local-only out of the box with no configuration at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pkorolov/weir/internal/scoring"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Remote     RemoteConfig     `yaml:"remote"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Routing    RoutingConfig    `yaml:"routing"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Federation FederationConfig `yaml:"federation"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
	MaxConns  int    `yaml:"max_conns"`
}

type OllamaConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

type RemoteConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type RetrievalConfig struct {
	Limit          int     `yaml:"limit"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

type RoutingConfig struct {
	Mode           string  `yaml:"mode"`
	HighScore      float64 `yaml:"high_score"`
	HighComplexity int     `yaml:"high_complexity"`
	MidScore       float64 `yaml:"mid_score"`
	MidComplexity  int     `yaml:"mid_complexity"`
	LowScore       float64 `yaml:"low_score"`
	LowComplexity  int     `yaml:"low_complexity"`
}

type ScoringConfig struct {
	Weights scoring.Weights `yaml:"weights"`
}

type ExtractionConfig struct {
	Enabled             bool    `yaml:"enabled"`
	IntervalMinutes     int     `yaml:"interval_minutes"`
	WindowRecords       int     `yaml:"window_records"`
	WindowAgeDays       int     `yaml:"window_age_days"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MinClusterSize      int     `yaml:"min_cluster_size"`
	MinTemplateLength   int     `yaml:"min_template_length"`
}

type FederationConfig struct {
	Enabled         bool     `yaml:"enabled"`
	IntervalMinutes int      `yaml:"interval_minutes"`
	ExportDir       string   `yaml:"export_dir"`
	SourcePaths     []string `yaml:"source_paths"`
	RetentionCount  int      `yaml:"retention_count"`
	Origin          string   `yaml:"origin"`
}

func defaults() Config {
	dataDir := defaultDataDir()
	origin, _ := os.Hostname()
	return Config{
		Server: ServerConfig{
			Port:     4400,
			MaxConns: 64,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Remote: RemoteConfig{
			Model: "anthropic/claude-sonnet-4",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
		Retrieval: RetrievalConfig{
			Limit:          5,
			ScoreThreshold: 0.7,
		},
		Routing: RoutingConfig{
			Mode:           "auto",
			HighScore:      0.85,
			HighComplexity: 6,
			MidScore:       0.80,
			MidComplexity:  4,
			LowScore:       0.70,
			LowComplexity:  3,
		},
		Scoring: ScoringConfig{
			Weights: scoring.DefaultWeights(),
		},
		Extraction: ExtractionConfig{
			Enabled:             true,
			IntervalMinutes:     60,
			WindowRecords:       500,
			WindowAgeDays:       30,
			SimilarityThreshold: 0.85,
			MinClusterSize:      3,
			MinTemplateLength:   32,
		},
		Federation: FederationConfig{
			Enabled:         false,
			IntervalMinutes: 360,
			ExportDir:       filepath.Join(dataDir, "federation", "export"),
			RetentionCount:  5,
			Origin:          origin,
		},
	}
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/weir/config.yaml, falling
// back to ~/.config/weir/config.yaml.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "weir-config.yaml")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "weir", "config.yaml")
}

func defaultDataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "weir-data")
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "weir")
}

// Load reads configuration from the default config path and environment.
func Load() (Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads configuration from a specific YAML file. The precedence
// is defaults, then file, then WEIR_* environment variables.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; defaults plus env carry the day.
	case err != nil:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Scoring.Weights.Validate(); err != nil {
		return Config{}, fmt.Errorf("scoring weights: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	return cfg, nil
}
