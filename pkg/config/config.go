// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Corpus, Match, Tracker, History, Kafka, Redis, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Match     MatchConfig     `yaml:"match"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	History   HistoryConfig   `yaml:"history"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	RPC       RPCConfig       `yaml:"rpc"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	RateLimit       int           `yaml:"rateLimit"`

	// AllowedOrigins lists browser origins for CORS and the websocket
	// stream. Empty allows CORS from anywhere and websockets from the same
	// host only.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// CorpusConfig locates the scripture corpus and its persisted index.
type CorpusConfig struct {
	Path         string `yaml:"path"`
	Format       string `yaml:"format"`
	IndexPath    string `yaml:"indexPath"`
	RebuildIndex bool   `yaml:"rebuildIndex"`
}

// RetrieverConfig tunes candidate retrieval.
type RetrieverConfig struct {
	IntersectionMin     int     `yaml:"intersectionMin"`
	FuzzyWordThreshold  float64 `yaml:"fuzzyWordThreshold"`
	FuzzyWordMaxMatches int     `yaml:"fuzzyWordMaxMatches"`
	FuzzyWordMinLen     int     `yaml:"fuzzyWordMinLen"`
	MaxCandidates       int     `yaml:"maxCandidates"`
}

// Weights are the coefficients of the weighted line score.
type Weights struct {
	Ratio    float64 `yaml:"ratio"`
	Partial  float64 `yaml:"partial"`
	TokenSet float64 `yaml:"tokenSet"`
}

// MatchConfig holds the match engine thresholds.
type MatchConfig struct {
	Threshold   float64 `yaml:"threshold"`
	DecentFloor float64 `yaml:"decentFloor"`
	EarlyExit   float64 `yaml:"earlyExit"`
	MaxAnchors  int     `yaml:"maxAnchors"`
	ScanShards  int     `yaml:"scanShards"`
	Weights     Weights `yaml:"weights"`
}

// TrackerConfig holds the streaming tracker parameters.
type TrackerConfig struct {
	Port            int           `yaml:"port"`
	MaxFailures     int           `yaml:"maxFailures"`
	WindowWords     int           `yaml:"windowWords"`
	MaxBufferWords  int           `yaml:"maxBufferWords"`
	LocalThreshold  float64       `yaml:"localThreshold"`
	GlobalThreshold float64       `yaml:"globalThreshold"`
	SessionIdleTTL  time.Duration `yaml:"sessionIdleTTL"`
	SearcherAddr    string        `yaml:"searcherAddr"`
}

// CacheConfig bounds the in-process memoization cache and toggles the
// Redis second level.
type CacheConfig struct {
	Capacity int  `yaml:"capacity"`
	UseRedis bool `yaml:"useRedis"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultTopK          int `yaml:"defaultTopK"`
	MaxTopK              int `yaml:"maxTopK"`
	MaxConcurrentQueries int `yaml:"maxConcurrentQueries"`
}

// HistoryConfig selects the comparison history backend.
type HistoryConfig struct {
	Driver       string  `yaml:"driver"`
	DSN          string  `yaml:"dsn"`
	MinSaveScore float64 `yaml:"minSaveScore"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	TranscriptChunks string `yaml:"transcriptChunks"`
	AnalyticsEvents  string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RPCConfig holds the JSON-over-TCP match service settings.
type RPCConfig struct {
	Port        int           `yaml:"port"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

type IngestionConfig struct {
	Port         int `yaml:"port"`
	MaxChunkSize int `yaml:"maxChunkSize"`
}

type AnalyticsConfig struct {
	Port         int           `yaml:"port"`
	WindowSize   int           `yaml:"windowSize"`
	SaveInterval time.Duration `yaml:"saveInterval"`
}

// GatewayConfig locates the backends behind the API gateway and its key
// store.
type GatewayConfig struct {
	Port            int           `yaml:"port"`
	SearcherURL     string        `yaml:"searcherURL"`
	IngestionURL    string        `yaml:"ingestionURL"`
	AnalyticsURL    string        `yaml:"analyticsURL"`
	TrackerURL      string        `yaml:"trackerURL"`
	KeysDriver      string        `yaml:"keysDriver"`
	KeysDSN         string        `yaml:"keysDSN"`
	AdminKeyName    string        `yaml:"adminKeyName"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result fails validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       50,
		},
		Corpus: CorpusConfig{
			Path:      "data/sggs.txt",
			Format:    "auto",
			IndexPath: "data/sggs.idx",
		},
		Retriever: RetrieverConfig{
			IntersectionMin:     5,
			FuzzyWordThreshold:  80,
			FuzzyWordMaxMatches: 3,
			FuzzyWordMinLen:     3,
		},
		Match: MatchConfig{
			Threshold:   40,
			DecentFloor: 55,
			EarlyExit:   95,
			MaxAnchors:  3,
			ScanShards:  4,
			Weights:     Weights{Ratio: 0.3, Partial: 0.4, TokenSet: 0.3},
		},
		Tracker: TrackerConfig{
			Port:            8082,
			MaxFailures:     3,
			WindowWords:     8,
			MaxBufferWords:  64,
			LocalThreshold:  60,
			GlobalThreshold: 65,
			SessionIdleTTL:  30 * time.Minute,
			SearcherAddr:    "localhost:9100",
		},
		Cache: CacheConfig{
			Capacity: 1000,
		},
		Search: SearchConfig{
			DefaultTopK:          5,
			MaxTopK:              50,
			MaxConcurrentQueries: 16,
		},
		History: HistoryConfig{
			Driver:       "sqlite",
			DSN:          "data/comparisons.db",
			MinSaveScore: 75,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "banialign",
			User:            "banialign",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "banialign",
			Topics: KafkaTopics{
				TranscriptChunks: "transcript-chunks",
				AnalyticsEvents:  "analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		RPC: RPCConfig{
			Port:        9100,
			DialTimeout: 5 * time.Second,
			CallTimeout: 5 * time.Second,
		},
		Ingestion: IngestionConfig{
			Port:         8081,
			MaxChunkSize: 4096,
		},
		Analytics: AnalyticsConfig{
			Port:         8083,
			WindowSize:   10000,
			SaveInterval: time.Minute,
		},
		Gateway: GatewayConfig{
			Port:            8000,
			SearcherURL:     "http://localhost:8080",
			IngestionURL:    "http://localhost:8081",
			AnalyticsURL:    "http://localhost:8083",
			TrackerURL:      "http://localhost:8082",
			KeysDriver:      "sqlite",
			KeysDSN:         "data/keys.db",
			AdminKeyName:    "admin",
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects scores outside [0,100] and inconsistent sizes.
func (c *Config) Validate() error {
	var errs []error
	checkScore := func(name string, v float64) {
		if v < 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be within [0,100], got %v", name, v))
		}
	}
	checkScore("match.threshold", c.Match.Threshold)
	checkScore("match.decentFloor", c.Match.DecentFloor)
	checkScore("match.earlyExit", c.Match.EarlyExit)
	checkScore("retriever.fuzzyWordThreshold", c.Retriever.FuzzyWordThreshold)
	checkScore("tracker.localThreshold", c.Tracker.LocalThreshold)
	checkScore("tracker.globalThreshold", c.Tracker.GlobalThreshold)
	checkScore("history.minSaveScore", c.History.MinSaveScore)

	w := c.Match.Weights
	if w.Ratio < 0 || w.Partial < 0 || w.TokenSet < 0 || w.Ratio+w.Partial+w.TokenSet == 0 {
		errs = append(errs, errors.New("match.weights must be non-negative and not all zero"))
	}
	if c.Match.MaxAnchors < 1 {
		errs = append(errs, errors.New("match.maxAnchors must be at least 1"))
	}
	if c.Match.ScanShards < 0 {
		errs = append(errs, errors.New("match.scanShards must not be negative"))
	}
	if c.Tracker.WindowWords < 1 {
		errs = append(errs, errors.New("tracker.windowWords must be at least 1"))
	}
	if c.Tracker.MaxBufferWords < c.Tracker.WindowWords {
		errs = append(errs, errors.New("tracker.maxBufferWords must be >= tracker.windowWords"))
	}
	if c.Tracker.MaxFailures < 1 {
		errs = append(errs, errors.New("tracker.maxFailures must be at least 1"))
	}
	if c.Cache.Capacity < 1 {
		errs = append(errs, errors.New("cache.capacity must be at least 1"))
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("history.driver %q is not one of sqlite, postgres", c.History.Driver))
	}
	switch c.Gateway.KeysDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("gateway.keysDriver %q is not one of sqlite, postgres", c.Gateway.KeysDriver))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides reads BA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("BA_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("BA_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	setString("BA_CORPUS_PATH", &cfg.Corpus.Path)
	setString("BA_CORPUS_FORMAT", &cfg.Corpus.Format)
	setString("BA_CORPUS_INDEX_PATH", &cfg.Corpus.IndexPath)
	if v := os.Getenv("BA_CORPUS_REBUILD_INDEX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Corpus.RebuildIndex = b
		}
	}
	// FUZZY_MATCH_THRESHOLD is kept for deployments that predate the BA_ prefix.
	setFloat("FUZZY_MATCH_THRESHOLD", &cfg.Match.Threshold)
	setFloat("BA_MATCH_THRESHOLD", &cfg.Match.Threshold)
	setFloat("BA_MATCH_DECENT_FLOOR", &cfg.Match.DecentFloor)
	setInt("BA_RETRIEVER_INTERSECTION_MIN", &cfg.Retriever.IntersectionMin)
	setInt("BA_RETRIEVER_MAX_CANDIDATES", &cfg.Retriever.MaxCandidates)
	setInt("BA_CACHE_CAPACITY", &cfg.Cache.Capacity)
	if v := os.Getenv("BA_CACHE_USE_REDIS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.UseRedis = b
		}
	}
	setString("BA_HISTORY_DRIVER", &cfg.History.Driver)
	setString("BA_HISTORY_DSN", &cfg.History.DSN)
	setInt("BA_TRACKER_PORT", &cfg.Tracker.Port)
	setString("BA_TRACKER_SEARCHER_ADDR", &cfg.Tracker.SearcherAddr)
	setString("BA_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("BA_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("BA_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("BA_POSTGRES_USER", &cfg.Postgres.User)
	setString("BA_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("BA_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("BA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("BA_REDIS_ADDR", &cfg.Redis.Addr)
	setString("BA_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("BA_RPC_PORT", &cfg.RPC.Port)
	setInt("BA_GATEWAY_PORT", &cfg.Gateway.Port)
	setString("BA_GATEWAY_SEARCHER_URL", &cfg.Gateway.SearcherURL)
	setString("BA_GATEWAY_INGESTION_URL", &cfg.Gateway.IngestionURL)
	setString("BA_GATEWAY_ANALYTICS_URL", &cfg.Gateway.AnalyticsURL)
	setString("BA_GATEWAY_TRACKER_URL", &cfg.Gateway.TrackerURL)
	setString("BA_GATEWAY_KEYS_DRIVER", &cfg.Gateway.KeysDriver)
	setString("BA_GATEWAY_KEYS_DSN", &cfg.Gateway.KeysDSN)
	setString("BA_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("BA_LOGGING_FORMAT", &cfg.Logging.Format)
}
