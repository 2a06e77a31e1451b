package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSecret = "change-me"

type Config struct {
	Port          string
	Env           string
	AppName       string
	LogLevel      string
	DBAdapter     string
	SQLiteFile    string
	MigrationsDir string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	// Authentication
	SecretKey            string
	JWTAlgorithm         string
	AccessTokenTTL       time.Duration
	LoginThrottleWindow  time.Duration
	LoginThrottleMax     int
	LoginThrottleMaxKeys int
	PasswordMaxLength    int
	Argon2MemoryKiB      uint32
	Argon2Time           uint32
	Argon2Threads        uint8
	// API throttling and revocation
	APIRateLimitPerMinute int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getint(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or DATABASE_URL must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// RevocationEnabled reports whether a Redis denylist is configured.
func (c *Config) RevocationEnabled() bool { return c.RedisAddr != "" }

func New() (*Config, error) {
	var errs []error

	c := &Config{
		Port:          getenv("PORT", "8000"),
		Env:           strings.ToLower(getenv("ENV", "local")),
		AppName:       getenv("APP_NAME", "Job Tracker API"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		DBAdapter:     strings.ToLower(getenv("DB_ADAPTER", "sqlite")),
		SQLiteFile:    getenv("SQLITE_FILE", "./data/jobtracker.db"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./migrations"),
		// PostgreSQL settings
		PostgresDSN:      getenv("DATABASE_URL", getenv("POSTGRES_DSN", "")),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getenv("POSTGRES_PORT", "5432"),
		PostgresUser:     getenv("POSTGRES_USER", "jobtracker"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "jobtracker"),
		PostgresDB:       getenv("POSTGRES_DB", "jobtracker"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		// Authentication
		SecretKey:            getenv("SECRET_KEY", getenv("JWT_SECRET", defaultSecret)),
		JWTAlgorithm:         strings.ToUpper(getenv("JWT_ALGORITHM", "HS256")),
		AccessTokenTTL:       time.Duration(getint("ACCESS_TOKEN_EXPIRE_MINUTES", 60, &errs)) * time.Minute,
		LoginThrottleWindow:  time.Duration(getint("LOGIN_THROTTLE_WINDOW_MINUTES", 1, &errs)) * time.Minute,
		LoginThrottleMax:     getint("LOGIN_THROTTLE_MAX_ATTEMPTS", 5, &errs),
		LoginThrottleMaxKeys: getint("LOGIN_THROTTLE_MAX_KEYS", 10000, &errs),
		PasswordMaxLength:    getint("PASSWORD_MAX_LENGTH", 256, &errs),
		// API throttling and revocation
		APIRateLimitPerMinute: getint("API_RATE_LIMIT_PER_MINUTE", 120, &errs),
		RedisAddr:             getenv("REDIS_ADDR", ""),
		RedisPassword:         getenv("REDIS_PASSWORD", ""),
		RedisDB:               getint("REDIS_DB", 0, &errs),
	}

	memory := getint("ARGON2_MEMORY_KIB", 64*1024, &errs)
	iterations := getint("ARGON2_TIME", 3, &errs)
	threads := getint("ARGON2_THREADS", 4, &errs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.IsProduction() && (c.SecretKey == "" || c.SecretKey == defaultSecret) {
		return nil, errors.New("SECRET_KEY must be set in production")
	}

	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported JWT_ALGORITHM: %s (supported: HS256, HS384, HS512)", c.JWTAlgorithm)
	}

	if c.AccessTokenTTL <= 0 {
		return nil, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.LoginThrottleWindow <= 0 || c.LoginThrottleMax <= 0 || c.LoginThrottleMaxKeys <= 0 {
		return nil, errors.New("LOGIN_THROTTLE_* values must be positive")
	}
	if c.PasswordMaxLength <= 0 {
		return nil, errors.New("PASSWORD_MAX_LENGTH must be positive")
	}
	if c.APIRateLimitPerMinute < 0 {
		return nil, errors.New("API_RATE_LIMIT_PER_MINUTE must not be negative")
	}

	if memory <= 0 || int64(memory) > math.MaxUint32 ||
		iterations <= 0 || int64(iterations) > math.MaxUint32 ||
		threads <= 0 || threads > math.MaxUint8 {
		return nil, errors.New("ARGON2_* values out of range")
	}
	c.Argon2MemoryKiB = uint32(memory)
	c.Argon2Time = uint32(iterations)
	c.Argon2Threads = uint8(threads)

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
