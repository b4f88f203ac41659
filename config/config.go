package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	BindAddress string

	// DBDriver is "postgres" or "sqlite". SQLite is meant for local work.
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string

	// RedisAddr empty means no Redis; the sweep then coordinates in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret   string
	AdminToken  string
	CORSOrigins []string
	LogLevel    slog.Level

	SweepInterval        time.Duration
	SweepRetryDelay      time.Duration
	SweepLeaseTTL        time.Duration
	PurgeGrace           time.Duration
	DefaultQuestDuration time.Duration
	StartTimeSkew        time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		BindAddress:   getEnv("BIND_ADDRESS", "localhost"),
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "sidequests"),
		DBPassword:    getEnv("DB_PASSWORD", "sidequests"),
		DBName:        getEnv("DB_NAME", "sidequests"),
		DBPath:        getEnv("DB_PATH", "sidequests.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		AdminToken:    getEnv("ADMIN_TOKEN", ""),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = getEnvLevel("LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"SWEEP_INTERVAL", time.Hour, &cfg.SweepInterval},
		{"SWEEP_RETRY_DELAY", time.Minute, &cfg.SweepRetryDelay},
		{"SWEEP_LEASE_TTL", 5 * time.Minute, &cfg.SweepLeaseTTL},
		{"PURGE_GRACE", 7 * 24 * time.Hour, &cfg.PurgeGrace},
		{"DEFAULT_QUEST_DURATION", 7 * 24 * time.Hour, &cfg.DefaultQuestDuration},
		{"START_TIME_SKEW", 30 * time.Second, &cfg.StartTimeSkew},
	}
	for _, d := range durations {
		if *d.dest, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.SweepInterval <= 0 || c.SweepRetryDelay <= 0 {
		return fmt.Errorf("sweep interval and retry delay must be positive")
	}
	if c.PurgeGrace <= 0 || c.DefaultQuestDuration <= 0 {
		return fmt.Errorf("purge grace and default quest duration must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvLevel(key string, defaultValue slog.Level) (slog.Level, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return level, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// InitDB opens the configured database. nowFunc stamps gorm-managed
// timestamps and should come from the service clock.
func InitDB(cfg *Config, nowFunc func() time.Time) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		NowFunc:        nowFunc,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000")
	default:
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBDriver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

// InitRedis returns nil when no Redis address is configured.
func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
