// Package config loads and validates the intake service configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the INTAKE_ prefix (e.g.,
// INTAKE_DATABASE_HOST overrides database.host in the YAML), so the same binary
// runs from a config.yaml on a laptop and from pure environment variables in a
// container.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Auth       AuthConfig       `mapstructure:"auth"`
	SignedURL  SignedURLConfig  `mapstructure:"signed_url"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the externally reachable URL used when building absolute
// signed links (bulk download). Falls back to server.base_url.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// StorageConfig holds blob storage backend configuration
type StorageConfig struct {
	DefaultBackend string               `mapstructure:"default_backend"`
	Azure          AzureStorageConfig   `mapstructure:"azure"`
	S3             S3StorageConfig      `mapstructure:"s3"`
	GCS            GCSStorageConfig     `mapstructure:"gcs"`
	Minio          MinioStorageConfig   `mapstructure:"minio"`
	Local          LocalStorageConfig   `mapstructure:"local"`
	Breaker        CircuitBreakerConfig `mapstructure:"breaker"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
	// ServiceURL overrides the https://{account}.blob.core.windows.net/ endpoint (Azurite).
	ServiceURL string `mapstructure:"service_url"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for DigitalOcean Spaces etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// Authentication method: "default", "service_account", "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for fake-gcs-server and similar)
	Endpoint string `mapstructure:"endpoint"`
}

// MinioStorageConfig holds MinIO configuration for on-premises deployments
type MinioStorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// CircuitBreakerConfig controls the breaker wrapped around every storage backend.
type CircuitBreakerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// AuthConfig holds PIN session and admin authentication configuration
type AuthConfig struct {
	// BcryptCost is the adaptive hash cost for PINs (12 is roughly 100-250ms).
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	// AdminToken enables the X-Admin-Token header for automation. Empty disables it.
	AdminToken string     `mapstructure:"admin_token"`
	OIDC       OIDCConfig `mapstructure:"oidc"`
}

// OIDCConfig configures verification of admin ID tokens issued by the organisation's SSO.
type OIDCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
	// AllowedDomains restricts admin email addresses; empty accepts any verified token.
	AllowedDomains []string `mapstructure:"allowed_domains"`
}

// SignedURLConfig holds image URL signing configuration
type SignedURLConfig struct {
	Secret      string        `mapstructure:"secret"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	DownloadTTL time.Duration `mapstructure:"download_ttl"`
}

// RateLimitsConfig holds the per-action attempt policies.
type RateLimitsConfig struct {
	// Backend is "memory" (single instance) or "redis" (shared budgets).
	Backend       string              `mapstructure:"backend"`
	PinAttempt    AttemptPolicyConfig `mapstructure:"pin_attempt"`
	AdminAuthFail AttemptPolicyConfig `mapstructure:"admin_auth_fail"`
	PinCreation   AttemptPolicyConfig `mapstructure:"pin_creation"`
	Upload        AttemptPolicyConfig `mapstructure:"upload"`
}

// AttemptPolicyConfig is one action's window and optional lockout.
type AttemptPolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	Lockout     time.Duration `mapstructure:"lockout"`
}

// RedisConfig holds the connection used by the shared rate limit store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// UploadConfig bounds photo ingestion
type UploadConfig struct {
	MaxFileSize      int64 `mapstructure:"max_file_size"`
	MaxBatchFiles    int   `mapstructure:"max_batch_files"`
	BatchConcurrency int   `mapstructure:"batch_concurrency"`
	MaxBulkIDs       int   `mapstructure:"max_bulk_ids"`
	MaxDownloadIDs   int   `mapstructure:"max_download_ids"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds the general per-IP request throttle
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit trail configuration. Entries always go to the
// database; shippers forward copies to external sinks.
type AuditConfig struct {
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	Enabled bool                `mapstructure:"enabled"`
	Type    string              `mapstructure:"type"` // webhook, file
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	File    *AuditFileConfig    `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Secret        string            `mapstructure:"secret"` // signs each payload, see audit.SignatureHeader
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars binds an INTAKE_* variable for every leaf key of Config.
// AutomaticEnv() alone does not reach nested structs during Unmarshal, and
// deriving the keys from the struct tags keeps new fields from being missed.
func bindEnvVars(v *viper.Viper) error {
	for _, key := range envKeys(reflect.TypeOf(Config{}), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// envKeys lists the dotted mapstructure keys below t. Lists of structs
// (audit shippers) can only come from the config file and are skipped.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch {
		case ft.Kind() == reflect.Struct:
			keys = append(keys, envKeys(ft, key)...)
		case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/intake")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Storage.Azure.AccountKey = expandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Storage.S3.AccessKeyID = expandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = expandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Minio.SecretAccessKey = expandEnv(cfg.Storage.Minio.SecretAccessKey)
	cfg.Auth.AdminToken = expandEnv(cfg.Auth.AdminToken)
	cfg.SignedURL.Secret = expandEnv(cfg.SignedURL.Secret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "photo_intake")
	v.SetDefault("database.user", "intake")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.azure.container_name", "aspr-photos")
	v.SetDefault("storage.s3.auth_method", "default")
	v.SetDefault("storage.gcs.auth_method", "default")
	v.SetDefault("storage.breaker.enabled", true)
	v.SetDefault("storage.breaker.consecutive_failures", 5)
	v.SetDefault("storage.breaker.open_timeout", "30s")

	// Auth defaults
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.session_ttl", "48h")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.oidc.enabled", false)

	// Signed URL defaults
	v.SetDefault("signed_url.default_ttl", "1h")
	v.SetDefault("signed_url.download_ttl", "24h")

	// Rate limit defaults
	v.SetDefault("rate_limits.backend", "memory")
	v.SetDefault("rate_limits.pin_attempt.max_attempts", 5)
	v.SetDefault("rate_limits.pin_attempt.window", "1m")
	v.SetDefault("rate_limits.pin_attempt.lockout", "15m")
	v.SetDefault("rate_limits.admin_auth_fail.max_attempts", 3)
	v.SetDefault("rate_limits.admin_auth_fail.window", "1m")
	v.SetDefault("rate_limits.admin_auth_fail.lockout", "30m")
	v.SetDefault("rate_limits.pin_creation.max_attempts", 20)
	v.SetDefault("rate_limits.pin_creation.window", "1m")
	v.SetDefault("rate_limits.upload.max_attempts", 50)
	v.SetDefault("rate_limits.upload.window", "1h")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Upload defaults
	v.SetDefault("upload.max_file_size", 50*1024*1024)
	v.SetDefault("upload.max_batch_files", 50)
	v.SetDefault("upload.batch_concurrency", 3)
	v.SetDefault("upload.max_bulk_ids", 200)
	v.SetDefault("upload.max_download_ids", 100)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 300)
	v.SetDefault("security.rate_limiting.burst", 50)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.service_name", "photo-intake")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "minio": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be azure, s3, gcs, minio, or local)", c.Storage.DefaultBackend)
	}

	switch c.Storage.DefaultBackend {
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "minio":
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("storage.minio.endpoint is required when using MinIO backend")
		}
		if c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.bucket is required when using MinIO backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 10 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.AdminToken != "" && len(c.Auth.AdminToken) < 32 {
		return fmt.Errorf("auth.admin_token must be at least 32 characters")
	}
	if c.Auth.OIDC.Enabled {
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id is required when OIDC is enabled")
		}
	}

	if len(c.SignedURL.Secret) < 32 {
		return fmt.Errorf("signed_url.secret must be at least 32 characters")
	}
	if c.SignedURL.DefaultTTL <= 0 {
		return fmt.Errorf("signed_url.default_ttl must be positive")
	}

	if c.RateLimits.Backend != "memory" && c.RateLimits.Backend != "redis" {
		return fmt.Errorf("invalid rate_limits.backend: %s (must be memory or redis)", c.RateLimits.Backend)
	}
	policies := map[string]AttemptPolicyConfig{
		"pin_attempt":     c.RateLimits.PinAttempt,
		"admin_auth_fail": c.RateLimits.AdminAuthFail,
		"pin_creation":    c.RateLimits.PinCreation,
		"upload":          c.RateLimits.Upload,
	}
	for name, p := range policies {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("rate_limits.%s.max_attempts must be at least 1", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("rate_limits.%s.window must be positive", name)
		}
	}
	if c.RateLimits.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when rate_limits.backend is redis")
	}

	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	if c.Upload.BatchConcurrency < 1 {
		return fmt.Errorf("upload.batch_concurrency must be at least 1")
	}
	if c.Upload.MaxBatchFiles < 1 {
		return fmt.Errorf("upload.max_batch_files must be at least 1")
	}

	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
