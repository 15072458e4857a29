package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Governor   GovernorConfig
	Health     HealthConfig
	Executor   ExecutorConfig
	Browser    BrowserConfig
	Scheduler  SchedulerConfig
	Sync       SyncConfig
	Quarantine QuarantineConfig
	Vault      VaultConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds the ops HTTP surface configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	TrustedProxies    []string
}

// GovernorConfig holds rate governor budgets. Per-account buckets are small
// and slow to reflect the conservative per-minute/per-day action ceiling; the
// global bucket bounds total outbound rate regardless of pool size.
type GovernorConfig struct {
	AccountCapacity   int
	AccountRefill     time.Duration // time to mint one per-account token
	GlobalCapacity    int
	GlobalRefill      time.Duration // time to mint one global token
	ActionWindow      time.Duration // rolling window for per-account accounting
	MaxActionsPerDay  int
	AcquirePollBudget time.Duration // upper bound a caller may wait on tokens
}

// HealthConfig holds account trust scoring settings
type HealthConfig struct {
	SuccessDelta        int
	SoftFailureDelta    int
	RateLimitDelta      int
	AbuseDelta          int
	ScoreFloor          int
	ScoreCeiling        int
	UpgradeThreshold    int
	UpgradeCooldown     time.Duration
	SoftFailureLimit    int
	AbuseWindow         time.Duration
	AbuseWindowLimit    int
	RateLimitQuarantine time.Duration
	AbuseQuarantine     time.Duration
	InitialScore        int
}

// ExecutorConfig holds human-pacing and remote call settings
type ExecutorConfig struct {
	MinActionDelay time.Duration
	MaxActionDelay time.Duration
	JitterFraction float64 // extra random fraction of the drawn delay
	ActionTimeout  time.Duration
}

// BrowserConfig holds the headless browser settings
type BrowserConfig struct {
	Headless       bool
	DisableGPU     bool
	NoSandbox      bool
	RemoteURL      string
	MarketplaceURL string
	NavTimeout     time.Duration
}

// SchedulerConfig holds job scheduler configuration
type SchedulerConfig struct {
	Enabled        bool
	Workers        int
	QueueDepth     int
	PollInterval   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	DedupTTL       time.Duration
	HistorySize    int
}

// SyncConfig holds the reconciler configuration
type SyncConfig struct {
	Enabled        bool
	Interval       time.Duration
	ConflictPolicy string // newest-wins, local-wins, remote-wins, manual
}

// QuarantineConfig holds the quarantine manager schedule
type QuarantineConfig struct {
	CheckInterval time.Duration
}

// VaultConfig holds the session vault settings
type VaultConfig struct {
	// Key is the base64-encoded 32-byte sealing key
	Key string
	// Dir is the directory holding the sealed session blobs
	Dir string
}

// StorageConfig holds object storage settings for listing images
type StorageConfig struct {
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	ForcePathStyle    bool
	PresignExpiration time.Duration
}

// TelemetryConfig holds OpenTelemetry metrics configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
	ExportInterval    time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with RELISTER_ prefix (e.g., RELISTER_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("RELISTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Governor: GovernorConfig{
			AccountCapacity:   v.GetInt("governor.account_capacity"),
			AccountRefill:     v.GetDuration("governor.account_refill"),
			GlobalCapacity:    v.GetInt("governor.global_capacity"),
			GlobalRefill:      v.GetDuration("governor.global_refill"),
			ActionWindow:      v.GetDuration("governor.action_window"),
			MaxActionsPerDay:  v.GetInt("governor.max_actions_per_day"),
			AcquirePollBudget: v.GetDuration("governor.acquire_poll_budget"),
		},
		Health: HealthConfig{
			SuccessDelta:        v.GetInt("health.success_delta"),
			SoftFailureDelta:    v.GetInt("health.soft_failure_delta"),
			RateLimitDelta:      v.GetInt("health.rate_limit_delta"),
			AbuseDelta:          v.GetInt("health.abuse_delta"),
			ScoreFloor:          v.GetInt("health.score_floor"),
			ScoreCeiling:        v.GetInt("health.score_ceiling"),
			UpgradeThreshold:    v.GetInt("health.upgrade_threshold"),
			UpgradeCooldown:     v.GetDuration("health.upgrade_cooldown"),
			SoftFailureLimit:    v.GetInt("health.soft_failure_limit"),
			AbuseWindow:         v.GetDuration("health.abuse_window"),
			AbuseWindowLimit:    v.GetInt("health.abuse_window_limit"),
			RateLimitQuarantine: v.GetDuration("health.rate_limit_quarantine"),
			AbuseQuarantine:     v.GetDuration("health.abuse_quarantine"),
			InitialScore:        v.GetInt("health.initial_score"),
		},
		Executor: ExecutorConfig{
			MinActionDelay: v.GetDuration("executor.min_action_delay"),
			MaxActionDelay: v.GetDuration("executor.max_action_delay"),
			JitterFraction: v.GetFloat64("executor.jitter_fraction"),
			ActionTimeout:  v.GetDuration("executor.action_timeout"),
		},
		Browser: BrowserConfig{
			Headless:       v.GetBool("browser.headless"),
			DisableGPU:     v.GetBool("browser.disable_gpu"),
			NoSandbox:      v.GetBool("browser.no_sandbox"),
			RemoteURL:      v.GetString("browser.remote_url"),
			MarketplaceURL: v.GetString("browser.marketplace_url"),
			NavTimeout:     v.GetDuration("browser.nav_timeout"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        v.GetBool("scheduler.enabled"),
			Workers:        v.GetInt("scheduler.workers"),
			QueueDepth:     v.GetInt("scheduler.queue_depth"),
			PollInterval:   v.GetDuration("scheduler.poll_interval"),
			MaxRetries:     v.GetInt("scheduler.max_retries"),
			RetryBaseDelay: v.GetDuration("scheduler.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("scheduler.retry_max_delay"),
			DedupTTL:       v.GetDuration("scheduler.dedup_ttl"),
			HistorySize:    v.GetInt("scheduler.history_size"),
		},
		Sync: SyncConfig{
			Enabled:        v.GetBool("sync.enabled"),
			Interval:       v.GetDuration("sync.interval"),
			ConflictPolicy: v.GetString("sync.conflict_policy"),
		},
		Quarantine: QuarantineConfig{
			CheckInterval: v.GetDuration("quarantine.check_interval"),
		},
		Vault: VaultConfig{
			Key: v.GetString("vault.key"),
			Dir: v.GetString("vault.dir"),
		},
		Storage: StorageConfig{
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			ForcePathStyle:    v.GetBool("storage.force_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			ExportInterval:    v.GetDuration("telemetry.export_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "relister-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "relister"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 10
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Governor.AccountCapacity == 0 {
		cfg.Governor.AccountCapacity = 3
	}
	if cfg.Governor.AccountRefill == 0 {
		cfg.Governor.AccountRefill = 90 * time.Second
	}
	if cfg.Governor.GlobalCapacity == 0 {
		cfg.Governor.GlobalCapacity = 10
	}
	if cfg.Governor.GlobalRefill == 0 {
		cfg.Governor.GlobalRefill = 10 * time.Second
	}
	if cfg.Governor.ActionWindow == 0 {
		cfg.Governor.ActionWindow = 24 * time.Hour
	}
	if cfg.Governor.MaxActionsPerDay == 0 {
		cfg.Governor.MaxActionsPerDay = 120
	}
	if cfg.Governor.AcquirePollBudget == 0 {
		cfg.Governor.AcquirePollBudget = 2 * time.Second
	}
	if cfg.Health.SuccessDelta == 0 {
		cfg.Health.SuccessDelta = 1
	}
	if cfg.Health.SoftFailureDelta == 0 {
		cfg.Health.SoftFailureDelta = 2
	}
	if cfg.Health.RateLimitDelta == 0 {
		cfg.Health.RateLimitDelta = 10
	}
	if cfg.Health.AbuseDelta == 0 {
		cfg.Health.AbuseDelta = 25
	}
	if cfg.Health.ScoreCeiling == 0 {
		cfg.Health.ScoreCeiling = 100
	}
	if cfg.Health.UpgradeThreshold == 0 {
		cfg.Health.UpgradeThreshold = 60
	}
	if cfg.Health.UpgradeCooldown == 0 {
		cfg.Health.UpgradeCooldown = 30 * time.Minute
	}
	if cfg.Health.SoftFailureLimit == 0 {
		cfg.Health.SoftFailureLimit = 3
	}
	if cfg.Health.AbuseWindow == 0 {
		cfg.Health.AbuseWindow = 10 * time.Minute
	}
	if cfg.Health.AbuseWindowLimit == 0 {
		cfg.Health.AbuseWindowLimit = 5
	}
	if cfg.Health.RateLimitQuarantine == 0 {
		cfg.Health.RateLimitQuarantine = time.Hour
	}
	if cfg.Health.AbuseQuarantine == 0 {
		cfg.Health.AbuseQuarantine = 24 * time.Hour
	}
	if cfg.Health.InitialScore == 0 {
		cfg.Health.InitialScore = 50
	}
	if cfg.Executor.MinActionDelay == 0 {
		cfg.Executor.MinActionDelay = 2 * time.Second
	}
	if cfg.Executor.MaxActionDelay == 0 {
		cfg.Executor.MaxActionDelay = 8 * time.Second
	}
	if cfg.Executor.JitterFraction == 0 {
		cfg.Executor.JitterFraction = 0.25
	}
	if cfg.Executor.ActionTimeout == 0 {
		cfg.Executor.ActionTimeout = 90 * time.Second
	}
	if cfg.Browser.MarketplaceURL == "" {
		cfg.Browser.MarketplaceURL = "https://marketplace.example.com"
	}
	if cfg.Browser.NavTimeout == 0 {
		cfg.Browser.NavTimeout = 30 * time.Second
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.QueueDepth == 0 {
		cfg.Scheduler.QueueDepth = 256
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 2 * time.Second
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 5
	}
	if cfg.Scheduler.RetryBaseDelay == 0 {
		cfg.Scheduler.RetryBaseDelay = time.Minute
	}
	if cfg.Scheduler.RetryMaxDelay == 0 {
		cfg.Scheduler.RetryMaxDelay = 30 * time.Minute
	}
	if cfg.Scheduler.DedupTTL == 0 {
		cfg.Scheduler.DedupTTL = 24 * time.Hour
	}
	if cfg.Scheduler.HistorySize == 0 {
		cfg.Scheduler.HistorySize = 100
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 15 * time.Minute
	}
	if cfg.Sync.ConflictPolicy == "" {
		// Manual by default: silent data loss is worse than a stale listing.
		cfg.Sync.ConflictPolicy = "manual"
	}
	if cfg.Quarantine.CheckInterval == 0 {
		cfg.Quarantine.CheckInterval = time.Minute
	}
	if cfg.Vault.Dir == "" {
		cfg.Vault.Dir = "data/sessions"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}
}

// validate checks cross-field consistency
func (c *Config) validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Executor.MinActionDelay > c.Executor.MaxActionDelay {
		return fmt.Errorf("executor min_action_delay %s exceeds max_action_delay %s",
			c.Executor.MinActionDelay, c.Executor.MaxActionDelay)
	}
	if c.Executor.JitterFraction < 0 || c.Executor.JitterFraction > 1 {
		return fmt.Errorf("executor jitter_fraction must be in [0,1], got %f", c.Executor.JitterFraction)
	}
	switch c.Sync.ConflictPolicy {
	case "newest-wins", "local-wins", "remote-wins", "manual":
	default:
		return fmt.Errorf("invalid sync conflict_policy: %s", c.Sync.ConflictPolicy)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler workers must be at least 1")
	}
	if c.Governor.AccountCapacity < 1 || c.Governor.GlobalCapacity < 1 {
		return fmt.Errorf("governor bucket capacities must be at least 1")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
