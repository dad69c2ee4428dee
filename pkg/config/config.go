package config

import (
	"errors"
	"strconv"
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

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Email        EmailConfig
	RateLimit    RateLimitConfig
	Continuation ContinuationConfig
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
	SingleSession     bool
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EmailConfig configures outbound delivery through Resend.
type EmailConfig struct {
	ResendAPIKey  string
	FromAddress   string
	ReplyTo       string
	PortalBaseURL string
}

// RateLimitConfig bounds participant-facing submission attempts per identity.
type RateLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
}

// ContinuationConfig tunes the term continuation workflow.
type ContinuationConfig struct {
	Enabled                 bool
	DefaultReminderSchedule []int
	FallbackLessonFeeCents  int
	RunListCacheTTL         time.Duration
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
		SingleSession:     v.GetBool("AUTH_SINGLE_SESSION"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Email = EmailConfig{
		ResendAPIKey:  v.GetString("RESEND_API_KEY"),
		FromAddress:   v.GetString("EMAIL_FROM_ADDRESS"),
		ReplyTo:       v.GetString("EMAIL_REPLY_TO"),
		PortalBaseURL: strings.TrimRight(v.GetString("PORTAL_BASE_URL"), "/"),
	}

	cfg.RateLimit = RateLimitConfig{
		Window:      parseDuration(v.GetString("RATE_LIMIT_WINDOW"), time.Minute),
		MaxAttempts: v.GetInt("RATE_LIMIT_MAX_ATTEMPTS"),
	}

	cfg.Continuation = ContinuationConfig{
		Enabled:                 v.GetBool("ENABLE_CONTINUATION"),
		DefaultReminderSchedule: splitInts(v.GetString("CONTINUATION_REMINDER_SCHEDULE")),
		FallbackLessonFeeCents:  v.GetInt("CONTINUATION_FALLBACK_LESSON_FEE"),
		RunListCacheTTL:         parseDuration(v.GetString("CONTINUATION_RUN_CACHE_TTL"), 30*time.Second),
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
	v.SetDefault("DB_NAME", "msm")
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
	v.SetDefault("AUTH_SINGLE_SESSION", false)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("EMAIL_FROM_ADDRESS", "no-reply@localhost")
	v.SetDefault("EMAIL_REPLY_TO", "")
	v.SetDefault("PORTAL_BASE_URL", "http://localhost:3000")

	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_MAX_ATTEMPTS", 10)

	v.SetDefault("ENABLE_CONTINUATION", true)
	v.SetDefault("CONTINUATION_REMINDER_SCHEDULE", "7,14")
	v.SetDefault("CONTINUATION_FALLBACK_LESSON_FEE", 3000)
	v.SetDefault("CONTINUATION_RUN_CACHE_TTL", "30s")
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

func splitInts(raw string) []int {
	parts := splitAndTrim(raw)
	if len(parts) == 0 {
		return nil
	}

	result := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			continue
		}
		result = append(result, n)
	}

	return result
}
