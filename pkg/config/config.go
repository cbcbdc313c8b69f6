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

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Attendance  AttendanceConfig
	Audit       AuditConfig
	Maintenance MaintenanceConfig
	Metrics     MetricsConfig
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
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig tunes attendance verification and replay tolerance.
type AttendanceConfig struct {
	GeofenceRadiusMeters float64
	DedupWindow          time.Duration
	MaxFutureSkew        time.Duration
	RateLimitPerMinute   int
}

// AuditConfig bounds audit exports.
type AuditConfig struct {
	ExportLimit int
}

// MaintenanceConfig sizes the background worker used for reconciliation passes.
type MaintenanceConfig struct {
	Workers    int
	Retries    int
	RetryDelay time.Duration
}

type MetricsConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	radius := v.GetFloat64("ATTENDANCE_GEOFENCE_RADIUS_METERS")
	if radius <= 0 {
		radius = 100
	}
	cfg.Attendance = AttendanceConfig{
		GeofenceRadiusMeters: radius,
		DedupWindow:          parseDuration(v.GetString("ATTENDANCE_DEDUP_WINDOW"), 5*time.Minute),
		MaxFutureSkew:        parseDuration(v.GetString("ATTENDANCE_MAX_FUTURE_SKEW"), 10*time.Minute),
		RateLimitPerMinute:   v.GetInt("ATTENDANCE_RATE_LIMIT_PER_MINUTE"),
	}

	cfg.Audit = AuditConfig{ExportLimit: v.GetInt("AUDIT_DEFAULT_EXPORT_LIMIT")}

	cfg.Maintenance = MaintenanceConfig{
		Workers:    v.GetInt("MAINTENANCE_WORKERS"),
		Retries:    v.GetInt("MAINTENANCE_RETRIES"),
		RetryDelay: parseDuration(v.GetString("MAINTENANCE_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Metrics = MetricsConfig{Enabled: v.GetBool("ENABLE_METRICS")}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_GEOFENCE_RADIUS_METERS", 100)
	v.SetDefault("ATTENDANCE_DEDUP_WINDOW", "5m")
	v.SetDefault("ATTENDANCE_MAX_FUTURE_SKEW", "10m")
	v.SetDefault("ATTENDANCE_RATE_LIMIT_PER_MINUTE", 60)

	v.SetDefault("AUDIT_DEFAULT_EXPORT_LIMIT", 10000)

	v.SetDefault("MAINTENANCE_WORKERS", 1)
	v.SetDefault("MAINTENANCE_RETRIES", 3)
	v.SetDefault("MAINTENANCE_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_METRICS", true)
}

// viper reports a missing explicit config file as a path error rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "no such file")
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
