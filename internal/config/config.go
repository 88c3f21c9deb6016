package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"docparse-tracker/internal/models"
)

// Config holds runtime configuration for the API service and the operator CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string
	LogLevel    string

	// Outbound identity used to sign requests to the parsing service.
	AppID     string
	SecretKey string
	// CredentialsFile optionally lists more credentials accepted on callbacks.
	CredentialsFile     string
	CallbackRequireAuth bool
	CallbackBaseURL     string
	CallbackPath        string

	DocParseBaseURL   string
	ParseTimeout      time.Duration
	StatusTimeout     time.Duration
	ParseValidTime    time.Duration
	StatusValidTime   time.Duration
	SignatureValidity time.Duration

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3PathStyle       bool
	S3AccessKeyID     string
	S3SecretAccessKey string
	LocalStorageDir   string
	StoragePrefix     string
	SourceScheme      string
	SignedURLTTL      time.Duration
	MaxUploadBytes    int64

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	AuditPostgresDSN string

	SweepInterval  time.Duration
	ArtifactTTL    time.Duration
	ReconcileAfter time.Duration
	ReconcileBatch int
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "3001"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AppID:               getEnv("APP_ID", "demo-app-id"),
		SecretKey:           getEnv("SECRET_KEY", "demo-secret-key"),
		CredentialsFile:     getEnv("CREDENTIALS_FILE", ""),
		CallbackRequireAuth: getEnvBool("CALLBACK_REQUIRE_AUTH", true),
		CallbackBaseURL:     getEnv("CALLBACK_BASE_URL", "http://localhost:3001"),
		CallbackPath:        getEnv("CALLBACK_PATH", "/api/callback/document"),

		DocParseBaseURL:   getEnv("DOC_PARSE_BASE_URL", "http://localhost"),
		ParseTimeout:      getEnvDuration("PARSE_TIMEOUT", 30*time.Second),
		StatusTimeout:     getEnvDuration("STATUS_TIMEOUT", 10*time.Second),
		ParseValidTime:    getEnvDuration("PARSE_VALID_TIME", 5*time.Minute),
		StatusValidTime:   getEnvDuration("STATUS_VALID_TIME", 5*time.Minute),
		SignatureValidity: getEnvDuration("SIGNATURE_VALIDITY", time.Hour),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3PathStyle:       getEnvBool("S3_PATH_STYLE", false),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		LocalStorageDir:   getEnv("LOCAL_STORAGE_DIR", "./uploads"),
		StoragePrefix:     getEnv("STORAGE_PREFIX", "dev-plaso/temp/docparse-demo/"),
		SourceScheme:      getEnv("SOURCE_SCHEME", "oss"),
		SignedURLTTL:      getEnvDuration("SIGNED_URL_TTL", time.Hour),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 100*1024*1024)),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 30),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 1),

		AuditPostgresDSN: getEnv("AUDIT_POSTGRES_DSN", ""),

		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ArtifactTTL:    getEnvDuration("ARTIFACT_TTL", 24*time.Hour),
		ReconcileAfter: getEnvDuration("RECONCILE_AFTER", 0),
		ReconcileBatch: getEnvInt("RECONCILE_BATCH", 20),
	}
}

// Validate reports configuration that would make the service unusable.
func (c Config) Validate() error {
	var errs []error
	if c.AppID == "" || c.SecretKey == "" {
		errs = append(errs, errors.New("APP_ID and SECRET_KEY are required"))
	}
	if c.DocParseBaseURL == "" {
		errs = append(errs, errors.New("DOC_PARSE_BASE_URL is required"))
	}
	if c.ParseTimeout <= 0 || c.StatusTimeout <= 0 {
		errs = append(errs, errors.New("PARSE_TIMEOUT and STATUS_TIMEOUT must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// CallbackURL is the address the parsing service reports back to.
func (c Config) CallbackURL() string {
	return strings.TrimSuffix(c.CallbackBaseURL, "/") + c.CallbackPath
}

// Bucket names the bucket used in source locations handed to the parsing service.
func (c Config) Bucket() string {
	if c.S3Bucket != "" {
		return c.S3Bucket
	}
	return "local"
}

type credentialsFile struct {
	Credentials []struct {
		ID     string `toml:"id"`
		Secret string `toml:"secret"`
	} `toml:"credential"`
}

// Credentials returns the outbound credential first, followed by any listed in
// CredentialsFile.
func (c Config) Credentials() ([]models.Credential, error) {
	out := []models.Credential{{ID: c.AppID, Secret: c.SecretKey}}
	if c.CredentialsFile == "" {
		return out, nil
	}
	var f credentialsFile
	if _, err := toml.DecodeFile(c.CredentialsFile, &f); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	for i, cr := range f.Credentials {
		if cr.ID == "" || cr.Secret == "" {
			return nil, fmt.Errorf("credentials file entry %d: id and secret are required", i)
		}
		out = append(out, models.Credential{ID: cr.ID, Secret: cr.Secret})
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
