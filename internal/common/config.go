package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Database    DatabaseConfig   `toml:"database"`
	Blob        BlobConfig       `toml:"blob"`
	Ingest      IngestConfig     `toml:"ingest"`
	Queue       QueueConfig      `toml:"queue"`
	Worker      WorkerConfig     `toml:"worker"`
	Processing  ProcessingConfig `toml:"processing"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Embeddings  EmbeddingsConfig `toml:"embeddings"`
	Facts       FactsConfig      `toml:"facts"`
	Search      SearchConfig     `toml:"search"`
	Auth        AuthConfig       `toml:"auth"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Logging     LoggingConfig    `toml:"logging"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	Host           string   `toml:"host"`
	AllowedOrigins []string `toml:"allowed_origins"` // CORS origins, "*" allows all
}

// DatabaseConfig holds SQLite settings. The driver is modernc.org/sqlite,
// so no cgo toolchain is required at build time.
type DatabaseConfig struct {
	Path        string `toml:"path"`         // SQLite database file path
	BusyTimeout string `toml:"busy_timeout"` // e.g. "5s"
	CacheSizeKB int    `toml:"cache_size_kb"`
}

// BlobConfig controls where original uploaded files are stored.
type BlobConfig struct {
	Backend       string `toml:"backend"`        // "local" (filesystem); "s3" reserved
	LocalDir      string `toml:"local_dir"`      // Root directory for local blob storage
	SigningSecret string `toml:"signing_secret"` // HMAC secret for presigned download URLs
	URLTTL        string `toml:"url_ttl"`        // Presigned URL validity, e.g. "15m"
	MaxUploadMB   int    `toml:"max_upload_mb"`  // Reject uploads larger than this
}

// IngestConfig controls upload validation and URL ingestion.
type IngestConfig struct {
	SupportedExtensions []string `toml:"supported_extensions"` // Upload whitelist; empty allows any extension
	URLTimeout          string   `toml:"url_timeout"`          // Per-URL download timeout, e.g. "60s"
	BulkBatchSize       int      `toml:"bulk_batch_size"`      // URLs fetched per batch within a bulk job
	UserAgent           string   `toml:"user_agent"`           // User-Agent header on URL downloads
	AllowPrivateHosts   bool     `toml:"allow_private_hosts"`  // Permit loopback/private URL targets (tests, air-gapped setups)
	FolderRoot          string   `toml:"folder_root"`          // Jail for server-side folder ingestion; empty disables it
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Backend           string      `toml:"backend"`            // "badger" (embedded) or "redis"
	PollInterval      string      `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for messages
	VisibilityTimeout string      `toml:"visibility_timeout"` // e.g. "5m" - message redelivery timeout (badger)
	MaxReceive        int         `toml:"max_receive"`        // Max receives before a message is dead-lettered
	Badger            BadgerQueue `toml:"badger"`
	Redis             RedisQueue  `toml:"redis"`
}

type BadgerQueue struct {
	Path           string `toml:"path"`             // Queue database directory
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete queue database on startup
}

type RedisQueue struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"` // Prefix for queue list keys
}

// WorkerConfig controls the job execution side.
type WorkerConfig struct {
	Mode            string `toml:"mode"`              // "queue" (consume queue messages) or "polling" (claim rows by status)
	Concurrency     int    `toml:"concurrency"`       // Number of concurrent workers
	PollInterval    string `toml:"poll_interval"`     // Polling-mode claim interval, e.g. "2s"
	ClaimBatchSize  int    `toml:"claim_batch_size"`  // Polling-mode rows claimed per sweep
	ShutdownTimeout string `toml:"shutdown_timeout"`  // Grace period for in-flight jobs on SIGTERM
	MaxJobAttempts  int    `toml:"max_job_attempts"`  // Retries before a job is marked failed
	JobTimeout      string `toml:"job_timeout"`       // Per-run handler deadline, e.g. "10m"
}

// ProcessingConfig tunes span segmentation.
type ProcessingConfig struct {
	ChunkTargetChars int `toml:"chunk_target_chars"` // Preferred span size for prose
	ChunkMaxChars    int `toml:"chunk_max_chars"`    // Hard ceiling before forced split
	ChunkOverlapChars int `toml:"chunk_overlap_chars"`
	CSVRowsPerSpan    int `toml:"csv_rows_per_span"`
	CSVMinRowsPerSpan int `toml:"csv_min_rows_per_span"`
	CSVMaxRowsPerSpan int `toml:"csv_max_rows_per_span"`
}

// ExtractionConfig controls text extraction from uploaded files.
type ExtractionConfig struct {
	PDFEngine         string `toml:"pdf_engine"`          // "local" (pdfcpu) or "service" (remote extraction API)
	ServiceURL        string `toml:"service_url"`         // Remote PDF extraction endpoint
	ServiceAPIKey     string `toml:"service_api_key"`
	ServiceTimeout    string `toml:"service_timeout"`     // e.g. "120s"
	BreakerMaxFailures uint32 `toml:"breaker_max_failures"` // Consecutive failures before the circuit opens
	BreakerCooldown   string `toml:"breaker_cooldown"`    // Open-state duration, e.g. "30s"
	OCREnabled        bool   `toml:"ocr_enabled"`         // Run OCR on image uploads
	OCRCommand        string `toml:"ocr_command"`         // External OCR binary, e.g. "tesseract"
}

// EmbeddingsConfig controls the embedding provider and local cache.
type EmbeddingsConfig struct {
	Provider       string `toml:"provider"` // "openai"
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"` // Override for OpenAI-compatible endpoints
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	BatchSize      int    `toml:"batch_size"`       // Chunks per API request
	MaxTokens      int    `toml:"max_tokens"`       // Truncation limit per chunk
	RequestsPerMin int    `toml:"requests_per_min"` // Client-side rate limit
	MaxAttempts    int    `toml:"max_attempts"`     // Retries per batch on 429/5xx
	CachePath      string `toml:"cache_path"`       // BadgerHold cache directory, empty disables caching
	Concurrency    int    `toml:"concurrency"`      // Parallel batch submissions
}

// LLMProvider identifies a fact-extraction backend.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderGemini    LLMProvider = "gemini"
)

// FactsConfig controls LLM-backed fact extraction.
type FactsConfig struct {
	Provider        string  `toml:"provider"` // "anthropic" or "gemini"
	Anthropic       AnthropicConfig `toml:"anthropic"`
	Gemini          GeminiConfig    `toml:"gemini"`
	VocabularyDir   string  `toml:"vocabulary_dir"`    // Directory with per-profile YAML vocabularies
	MaxContextChars int     `toml:"max_context_chars"` // Span text budget per extraction request
	Temperature     float64 `toml:"temperature"`
	RequestTimeout  string  `toml:"request_timeout"`
}

type AnthropicConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// SearchConfig holds retrieval defaults. Weights are renormalized at
// request time when callers override them.
type SearchConfig struct {
	DefaultLimit       int     `toml:"default_limit"`
	MaxLimit           int     `toml:"max_limit"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	SemanticWeight     float64 `toml:"semantic_weight"`
	KeywordWeight      float64 `toml:"keyword_weight"`
	MetadataWeight     float64 `toml:"metadata_weight"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Required         bool   `toml:"required"`           // Reject unauthenticated requests when true
	BootstrapTenant  string `toml:"bootstrap_tenant"`   // Tenant name created on first startup
	BootstrapAPIKey  string `toml:"bootstrap_api_key"`  // Fixed API key for the bootstrap tenant (dev only)
	AdminAPIKey      string `toml:"admin_api_key"`      // Key for tenant-management endpoints
}

// SchedulerConfig controls background maintenance jobs.
type SchedulerConfig struct {
	Enabled            bool   `toml:"enabled"`
	StaleJobSchedule   string `toml:"stale_job_schedule"`   // Cron expression for stale-job sweep
	StaleJobThreshold  string `toml:"stale_job_threshold"`  // Running jobs older than this are failed, e.g. "30m"
	PurgeSchedule      string `toml:"purge_schedule"`       // Cron expression for deleted-document purge
	PurgeRetentionDays int    `toml:"purge_retention_days"` // Days a DELETED document row is kept before purge
}

type WebSocketConfig struct {
	Enabled         bool `toml:"enabled"`
	WriteBufferSize int  `toml:"write_buffer_size"`
	ReadBufferSize  int  `toml:"read_buffer_size"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig returns a Config with sensible defaults for local development
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8085,
			Host:           "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path:        "./data/probatio.db",
			BusyTimeout: "5s",
			CacheSizeKB: 64000,
		},
		Blob: BlobConfig{
			Backend:     "local",
			LocalDir:    "./data/blobs",
			URLTTL:      "15m",
			MaxUploadMB: 100,
		},
		Ingest: IngestConfig{
			SupportedExtensions: []string{
				".pdf", ".txt", ".md", ".markdown", ".html", ".htm",
				".csv", ".tsv", ".xlsx", ".xlsm",
				".png", ".jpg", ".jpeg", ".gif", ".webp", ".tiff",
			},
			URLTimeout:    "60s",
			BulkBatchSize: 10,
			UserAgent:     "probatio/1.0",
		},
		Queue: QueueConfig{
			Backend:           "badger",
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			Badger: BadgerQueue{
				Path: "./data/queue",
			},
			Redis: RedisQueue{
				Addr:      "localhost:6379",
				KeyPrefix: "probatio:queue",
			},
		},
		Worker: WorkerConfig{
			Mode:            "queue",
			Concurrency:     4,
			PollInterval:    "2s",
			ClaimBatchSize:  10,
			ShutdownTimeout: "30s",
			MaxJobAttempts:  3,
			JobTimeout:      "10m",
		},
		Processing: ProcessingConfig{
			ChunkTargetChars:  500,
			ChunkMaxChars:     1000,
			ChunkOverlapChars: 100,
			CSVRowsPerSpan:    25,
			CSVMinRowsPerSpan: 5,
			CSVMaxRowsPerSpan: 50,
		},
		Extraction: ExtractionConfig{
			PDFEngine:          "local",
			ServiceTimeout:     "120s",
			BreakerMaxFailures: 5,
			BreakerCooldown:    "30s",
			OCREnabled:         false,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      64,
			MaxTokens:      8191,
			RequestsPerMin: 3000,
			MaxAttempts:    5,
			CachePath:      "./data/embedding-cache",
			Concurrency:    4,
		},
		Facts: FactsConfig{
			Provider: "anthropic",
			Anthropic: AnthropicConfig{
				Model:     "claude-sonnet-4-5",
				MaxTokens: 8192,
			},
			Gemini: GeminiConfig{
				Model: "gemini-2.5-flash",
			},
			VocabularyDir:   "./vocabularies",
			MaxContextChars: 24000,
			Temperature:     0.0,
			RequestTimeout:  "120s",
		},
		Search: SearchConfig{
			DefaultLimit:        10,
			MaxLimit:            100,
			SimilarityThreshold: 0.7,
			SemanticWeight:      0.7,
			KeywordWeight:       0.3,
			MetadataWeight:      0.3,
		},
		Auth: AuthConfig{
			Required:        true,
			BootstrapTenant: "default",
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			StaleJobSchedule:   "*/10 * * * *",
			StaleJobThreshold:  "30m",
			PurgeSchedule:      "0 3 * * *",
			PurgeRetentionDays: 7,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			WriteBufferSize: 1024,
			ReadBufferSize:  1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFile loads configuration from a single TOML file over defaults.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PROBATIO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("PROBATIO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PROBATIO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Database
	if path := os.Getenv("PROBATIO_DB_PATH"); path != "" {
		config.Database.Path = path
	}

	// Blob storage
	if dir := os.Getenv("PROBATIO_BLOB_DIR"); dir != "" {
		config.Blob.LocalDir = dir
	}
	if secret := os.Getenv("PROBATIO_BLOB_SIGNING_SECRET"); secret != "" {
		config.Blob.SigningSecret = secret
	}

	// Ingest
	if exts := os.Getenv("PROBATIO_SUPPORTED_EXTENSIONS"); exts != "" {
		parsed := []string{}
		for _, e := range strings.Split(exts, ",") {
			if trimmed := strings.TrimSpace(e); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		if len(parsed) > 0 {
			config.Ingest.SupportedExtensions = parsed
		}
	}
	if timeout := os.Getenv("PROBATIO_URL_TIMEOUT"); timeout != "" {
		config.Ingest.URLTimeout = timeout
	}
	if root := os.Getenv("PROBATIO_INGEST_FOLDER_ROOT"); root != "" {
		config.Ingest.FolderRoot = root
	}

	// Queue
	if backend := os.Getenv("PROBATIO_QUEUE_BACKEND"); backend != "" {
		config.Queue.Backend = backend
	}
	if pollInterval := os.Getenv("PROBATIO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if path := os.Getenv("PROBATIO_QUEUE_BADGER_PATH"); path != "" {
		config.Queue.Badger.Path = path
	}
	if addr := os.Getenv("PROBATIO_REDIS_ADDR"); addr != "" {
		config.Queue.Redis.Addr = addr
	}
	if password := os.Getenv("PROBATIO_REDIS_PASSWORD"); password != "" {
		config.Queue.Redis.Password = password
	}

	// Worker
	if mode := os.Getenv("PROBATIO_WORKER_MODE"); mode != "" {
		config.Worker.Mode = mode
	}
	if concurrency := os.Getenv("PROBATIO_WORKER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Worker.Concurrency = c
		}
	}

	// Extraction
	if engine := os.Getenv("PROBATIO_PDF_ENGINE"); engine != "" {
		config.Extraction.PDFEngine = engine
	}
	if url := os.Getenv("PROBATIO_PDF_SERVICE_URL"); url != "" {
		config.Extraction.ServiceURL = url
	}
	if key := os.Getenv("PROBATIO_PDF_SERVICE_API_KEY"); key != "" {
		config.Extraction.ServiceAPIKey = key
	}

	// Embeddings
	if key := os.Getenv("PROBATIO_OPENAI_API_KEY"); key != "" {
		config.Embeddings.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Embeddings.APIKey == "" {
		config.Embeddings.APIKey = key
	}
	if model := os.Getenv("PROBATIO_EMBEDDINGS_MODEL"); model != "" {
		config.Embeddings.Model = model
	}
	if baseURL := os.Getenv("PROBATIO_EMBEDDINGS_BASE_URL"); baseURL != "" {
		config.Embeddings.BaseURL = baseURL
	}

	// Facts
	if provider := os.Getenv("PROBATIO_FACTS_PROVIDER"); provider != "" {
		config.Facts.Provider = provider
	}
	if key := os.Getenv("PROBATIO_ANTHROPIC_API_KEY"); key != "" {
		config.Facts.Anthropic.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Facts.Anthropic.APIKey == "" {
		config.Facts.Anthropic.APIKey = key
	}
	if key := os.Getenv("PROBATIO_GEMINI_API_KEY"); key != "" {
		config.Facts.Gemini.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Facts.Gemini.APIKey == "" {
		config.Facts.Gemini.APIKey = key
	}

	// Auth
	if key := os.Getenv("PROBATIO_ADMIN_API_KEY"); key != "" {
		config.Auth.AdminAPIKey = key
	}
	if key := os.Getenv("PROBATIO_BOOTSTRAP_API_KEY"); key != "" {
		config.Auth.BootstrapAPIKey = key
	}

	// Logging
	if level := os.Getenv("PROBATIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("PROBATIO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// CLI flags have the highest priority.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks cross-field constraints that TOML parsing cannot express.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "badger", "redis":
	default:
		return fmt.Errorf("invalid queue backend %q: must be 'badger' or 'redis'", c.Queue.Backend)
	}

	switch c.Worker.Mode {
	case "queue", "polling":
	default:
		return fmt.Errorf("invalid worker mode %q: must be 'queue' or 'polling'", c.Worker.Mode)
	}

	switch c.Extraction.PDFEngine {
	case "local":
	case "service":
		if c.Extraction.ServiceURL == "" {
			return fmt.Errorf("extraction.service_url is required when pdf_engine is 'service'")
		}
	default:
		return fmt.Errorf("invalid pdf engine %q: must be 'local' or 'service'", c.Extraction.PDFEngine)
	}

	if c.Processing.ChunkMaxChars < c.Processing.ChunkTargetChars {
		return fmt.Errorf("processing.chunk_max_chars (%d) must be >= chunk_target_chars (%d)",
			c.Processing.ChunkMaxChars, c.Processing.ChunkTargetChars)
	}
	if c.Processing.ChunkOverlapChars >= c.Processing.ChunkTargetChars {
		return fmt.Errorf("processing.chunk_overlap_chars (%d) must be < chunk_target_chars (%d)",
			c.Processing.ChunkOverlapChars, c.Processing.ChunkTargetChars)
	}

	if c.Scheduler.Enabled {
		if err := ValidateCronSchedule(c.Scheduler.StaleJobSchedule); err != nil {
			return fmt.Errorf("invalid scheduler.stale_job_schedule: %w", err)
		}
		if err := ValidateCronSchedule(c.Scheduler.PurgeSchedule); err != nil {
			return fmt.Errorf("invalid scheduler.purge_schedule: %w", err)
		}
	}

	return nil
}

// ValidateCronSchedule validates a standard 5-field cron expression.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// PollIntervalDuration returns the queue poll interval as a duration,
// falling back to one second on parse errors.
func (c *QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

// VisibilityTimeoutDuration returns the message visibility timeout.
func (c *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	return parseDurationOr(c.VisibilityTimeout, 5*time.Minute)
}

// PollIntervalDuration returns the polling-mode claim interval.
func (c *WorkerConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, 2*time.Second)
}

// ShutdownTimeoutDuration returns the worker drain grace period.
func (c *WorkerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDurationOr(c.ShutdownTimeout, 30*time.Second)
}

// JobTimeoutDuration returns the per-run handler deadline.
func (c *WorkerConfig) JobTimeoutDuration() time.Duration {
	return parseDurationOr(c.JobTimeout, 10*time.Minute)
}

// URLTTLDuration returns the presigned URL validity window.
func (c *BlobConfig) URLTTLDuration() time.Duration {
	return parseDurationOr(c.URLTTL, 15*time.Minute)
}

// MaxUploadBytes returns the upload size cap in bytes, or 0 for no cap.
func (c *BlobConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// URLTimeoutDuration returns the per-URL download timeout.
func (c *IngestConfig) URLTimeoutDuration() time.Duration {
	return parseDurationOr(c.URLTimeout, 60*time.Second)
}

// ServiceTimeoutDuration returns the remote extraction request timeout.
func (c *ExtractionConfig) ServiceTimeoutDuration() time.Duration {
	return parseDurationOr(c.ServiceTimeout, 120*time.Second)
}

// BreakerCooldownDuration returns the circuit breaker open-state duration.
func (c *ExtractionConfig) BreakerCooldownDuration() time.Duration {
	return parseDurationOr(c.BreakerCooldown, 30*time.Second)
}

// RequestTimeoutDuration returns the LLM request timeout.
func (c *FactsConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.RequestTimeout, 120*time.Second)
}

// HasCredentials reports whether the selected provider has an API key.
func (c *FactsConfig) HasCredentials() bool {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.APIKey != ""
	case "gemini":
		return c.Gemini.APIKey != ""
	}
	return false
}

// StaleJobThresholdDuration returns the age after which running jobs are failed.
func (c *SchedulerConfig) StaleJobThresholdDuration() time.Duration {
	return parseDurationOr(c.StaleJobThreshold, 30*time.Minute)
}

// BusyTimeoutDuration returns the SQLite busy timeout.
func (c *DatabaseConfig) BusyTimeoutDuration() time.Duration {
	return parseDurationOr(c.BusyTimeout, 5*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
