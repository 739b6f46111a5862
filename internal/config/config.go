// Package config resolves the typed Config struct once at process startup
// from environment variables plus an optional YAML overlay, mirroring the
// split the original pipeline made between env_loader (required credentials)
// and loader (tunable settings file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved, typed configuration for every component.
// Nothing downstream re-reads the environment directly.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Budgets   BudgetsConfig   `yaml:"budgets"`
	Quotas    QuotasConfig    `yaml:"quotas"`
	Retries   RetriesConfig   `yaml:"retries"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Routing   RoutingConfig   `yaml:"routing"`
	Policy    PolicyConfig    `yaml:"policy"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Index     IndexConfig     `yaml:"index"`

	Env Env `yaml:"-"`
}

type SchedulerConfig struct {
	Timezone             string   `yaml:"timezone"`
	DailyLimitPerChannel int      `yaml:"daily_limit_per_channel"`
	Channels             []string `yaml:"channels"`
	Sheets               []string `yaml:"sheets"`
}

type BudgetsConfig struct {
	TranscriptionDailyUSD float64 `yaml:"transcription_daily_usd"`
}

type QuotasConfig struct {
	YouTubeDailyLimit        float64 `yaml:"youtube_daily_limit"`
	AssemblyAIDailyLimitUSD  float64 `yaml:"assemblyai_daily_limit_usd"`
}

type RetriesConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type RetrievalConfig struct {
	TopK              int    `yaml:"top_k"`
	PerSourceTimeoutMs int    `yaml:"per_source_timeout_ms"`
	RRFK              int    `yaml:"rrf_k"`
	FusionMode        string `yaml:"fusion_mode"` // "rrf" (default) or "weighted"
}

type RoutingConfig struct {
	Mode         string   `yaml:"mode"` // adaptive | always_on | forced
	ForcedSources []string `yaml:"forced_sources"`
}

type PolicyConfig struct {
	AllowedChannels []string `yaml:"allowed_channels"`
	MaxAgeDays      int      `yaml:"max_age_days"`
	Mode            string   `yaml:"mode"` // filter | redact | audit_only
}

type ChunkingConfig struct {
	MaxTokensPerChunk int `yaml:"max_tokens_per_chunk"`
	OverlapTokens     int `yaml:"overlap_tokens"`
}

type IndexConfig struct {
	StrictAllSinks bool `yaml:"strict_all_sinks"`
}

// Env holds credentials and endpoints validated at startup. Missing
// required values abort the process with exit code 2 (see cmd/autopilotctl).
type Env struct {
	PostgresDSN     string
	QdrantAddr      string
	OpenSearchURL   string
	ClickHouseDSN   string
	NATSURL         string
	YouTubeAPIKey   string
	AssemblyAIKey   string
	LLMWorkerAddr   string
	SlackWebhookURL string
	BlobStoreDir    string
	ProjectID       string
}

// requiredEnvVars lists the variables that must be set for the process to
// start, mirroring env_loader.get_required_env_var.
var requiredEnvVars = []string{
	"POSTGRES_DSN",
	"QDRANT_ADDR",
	"NATS_URL",
	"BLOB_STORE_DIR",
}

// ErrMissingEnv is returned by Load when a required environment variable is
// absent; callers translate this into exit code 2.
type ErrMissingEnv struct {
	Names []string
}

func (e *ErrMissingEnv) Error() string {
	return fmt.Sprintf("missing required environment variables: %v", e.Names)
}

// Default returns the tunable configuration defaults named throughout
// spec section 6, before any YAML overlay or env override is applied.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{Timezone: "Europe/Amsterdam", DailyLimitPerChannel: 10},
		Budgets:   BudgetsConfig{TranscriptionDailyUSD: 5.00},
		Quotas:    QuotasConfig{YouTubeDailyLimit: 10000, AssemblyAIDailyLimitUSD: 5.00},
		Retries:   RetriesConfig{MaxAttempts: 3},
		Retrieval: RetrievalConfig{TopK: 10, PerSourceTimeoutMs: 1500, RRFK: 60, FusionMode: "rrf"},
		Routing:   RoutingConfig{Mode: "adaptive"},
		Policy:    PolicyConfig{MaxAgeDays: 0, Mode: "filter"},
		Chunking:  ChunkingConfig{MaxTokensPerChunk: 1000, OverlapTokens: 100},
		Index:     IndexConfig{StrictAllSinks: false},
	}
}

// Load resolves configuration: defaults, overlaid by an optional YAML file
// at yamlPath (ignored if empty or missing), overlaid by environment
// variables loaded via .env (if present) then the process environment.
func Load(yamlPath string) (Config, error) {
	_ = godotenv.Load() // optional .env; absence is not an error

	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	var missing []string
	get := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	env := Env{
		PostgresDSN:     get("POSTGRES_DSN"),
		QdrantAddr:      get("QDRANT_ADDR"),
		OpenSearchURL:   os.Getenv("OPENSEARCH_URL"),
		ClickHouseDSN:   os.Getenv("CLICKHOUSE_DSN"),
		NATSURL:         get("NATS_URL"),
		YouTubeAPIKey:   os.Getenv("YOUTUBE_API_KEY"),
		AssemblyAIKey:   os.Getenv("ASSEMBLYAI_API_KEY"),
		LLMWorkerAddr:   os.Getenv("LLM_WORKER_ADDR"),
		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		BlobStoreDir:    get("BLOB_STORE_DIR"),
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
	}

	// requiredEnvVars is kept in sync with the `get` calls above; re-check
	// here catches any future addition that forgets to call get().
	for _, name := range requiredEnvVars {
		if os.Getenv(name) == "" {
			found := false
			for _, m := range missing {
				if m == name {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, name)
			}
		}
	}

	if len(missing) > 0 {
		return Config{}, &ErrMissingEnv{Names: missing}
	}

	cfg.Env = env
	return cfg, nil
}

// Location resolves the scheduler timezone, falling back to UTC if the
// configured zone cannot be loaded.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseFloatEnv reads a float environment variable, falling back when it is
// unset or malformed. Nothing in this package or its tests calls it.
func parseFloatEnv(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
