package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Lessons  LessonsConfig
	Oracle   OracleConfig
	Sweeps   SweepsConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LessonsConfig governs scheduling, change-policy and reporting behaviour.
type LessonsConfig struct {
	// GenerationWindowMonths is how far ahead recurring instances are materialized.
	GenerationWindowMonths int
	// QuotaRatio of a month's total classes each actor may change (cancel or
	// reschedule) before further requests are refused.
	QuotaRatio float64
	// GuardianCutoff is the pre-class window in which guardians may no longer
	// cancel or request a reschedule.
	GuardianCutoff time.Duration
	// ReportWindow is how long after class end a teacher may file a report.
	ReportWindow time.Duration
	// ExtensionWindow is the length of an admin-granted submission extension.
	ExtensionWindow time.Duration
	// UnreportedRetention is how long unreported lessons are kept before the
	// cleanup sweep removes them.
	UnreportedRetention time.Duration
	// StatsCacheTTL bounds staleness of cached monthly change statistics.
	StatsCacheTTL time.Duration
}

// OracleConfig locates the external teacher-availability service.
type OracleConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SweepsConfig holds cron expressions and lock tuning for background jobs.
type SweepsConfig struct {
	Enabled          bool
	MaterializeSpec  string
	UnreportedSpec   string
	CleanupSpec      string
	TrackingInitSpec string
	LockTTL          time.Duration
}

// NotifyConfig tunes the notification dispatch queue.
type NotifyConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Lessons = LessonsConfig{
		GenerationWindowMonths: v.GetInt("LESSON_GENERATION_WINDOW_MONTHS"),
		QuotaRatio:             v.GetFloat64("LESSON_CHANGE_QUOTA_RATIO"),
		GuardianCutoff:         parseDuration(v.GetString("LESSON_GUARDIAN_CUTOFF"), 3*time.Hour),
		ReportWindow:           parseDuration(v.GetString("REPORT_WINDOW"), 72*time.Hour),
		ExtensionWindow:        parseDuration(v.GetString("REPORT_EXTENSION_WINDOW"), 24*time.Hour),
		UnreportedRetention:    parseDuration(v.GetString("UNREPORTED_RETENTION"), 30*24*time.Hour),
		StatsCacheTTL:          parseDuration(v.GetString("CHANGE_STATS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Oracle = OracleConfig{
		BaseURL: v.GetString("AVAILABILITY_ORACLE_URL"),
		Timeout: parseDuration(v.GetString("AVAILABILITY_ORACLE_TIMEOUT"), 3*time.Second),
	}

	cfg.Sweeps = SweepsConfig{
		Enabled:          v.GetBool("ENABLE_SWEEPS"),
		MaterializeSpec:  v.GetString("SWEEP_MATERIALIZE_SPEC"),
		UnreportedSpec:   v.GetString("SWEEP_UNREPORTED_SPEC"),
		CleanupSpec:      v.GetString("SWEEP_CLEANUP_SPEC"),
		TrackingInitSpec: v.GetString("SWEEP_TRACKING_INIT_SPEC"),
		LockTTL:          parseDuration(v.GetString("SWEEP_LOCK_TTL"), 10*time.Minute),
	}

	cfg.Notify = NotifyConfig{
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		BufferSize: v.GetInt("NOTIFY_BUFFER_SIZE"),
		MaxRetries: v.GetInt("NOTIFY_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFY_RETRY_DELAY"), 5*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classes")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LESSON_GENERATION_WINDOW_MONTHS", 2)
	v.SetDefault("LESSON_CHANGE_QUOTA_RATIO", 0.4)
	v.SetDefault("LESSON_GUARDIAN_CUTOFF", "3h")
	v.SetDefault("REPORT_WINDOW", "72h")
	v.SetDefault("REPORT_EXTENSION_WINDOW", "24h")
	v.SetDefault("UNREPORTED_RETENTION", "720h")
	v.SetDefault("CHANGE_STATS_CACHE_TTL", "5m")

	v.SetDefault("AVAILABILITY_ORACLE_URL", "http://localhost:3000/internal/availability")
	v.SetDefault("AVAILABILITY_ORACLE_TIMEOUT", "3s")

	v.SetDefault("ENABLE_SWEEPS", true)
	v.SetDefault("SWEEP_MATERIALIZE_SPEC", "0 2 * * *")
	v.SetDefault("SWEEP_UNREPORTED_SPEC", "*/15 * * * *")
	v.SetDefault("SWEEP_CLEANUP_SPEC", "30 3 * * *")
	v.SetDefault("SWEEP_TRACKING_INIT_SPEC", "*/10 * * * *")
	v.SetDefault("SWEEP_LOCK_TTL", "10m")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_BUFFER_SIZE", 64)
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY", "5s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
