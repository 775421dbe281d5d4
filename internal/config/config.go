package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	APIBaseURL string
	TenantID   string

	// widget login, optional
	Username string
	Password string

	// storage: memory, sqlite, mysql or redis
	StorageDriver string
	SQLitePath    string
	DBDSN         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	RedisTTL      time.Duration // zero keeps keys forever

	// rabbitMQ; empty URL disables event publishing
	RabbitURL   string
	RabbitQueue string

	HTTPTimeout time.Duration
	LogLevel    slog.Level

	// stub backend
	StubAddr       string
	JWTSecret      string
	AccessTokenTTL time.Duration
}

var storageDrivers = map[string]bool{"memory": true, "sqlite": true, "mysql": true, "redis": true}

func Load() (Config, error) {
	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		apiBase = "http://localhost:8000/api/v1"
	}

	tenantID := os.Getenv("TENANT_ID")
	if tenantID == "" {
		tenantID = "demo"
	}

	driver := strings.ToLower(os.Getenv("STORAGE_DRIVER"))
	if driver == "" {
		driver = "sqlite"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/widget.db"
	}

	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/shoshchat?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && driver == "mysql" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "shoshchat",
		)
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_DB: %w", err)
		}
		redisDB = n
	}

	redisPrefix := os.Getenv("REDIS_PREFIX")
	if redisPrefix == "" {
		redisPrefix = "shoshchat:"
	}

	var redisTTL time.Duration
	if v := os.Getenv("REDIS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_TTL: %w", err)
		}
		redisTTL = d
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "shoshchat.events"
	}

	var timeout time.Duration
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("HTTP_TIMEOUT: %w", err)
		}
		timeout = d
	}

	level := slog.LevelInfo
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	stubAddr := os.Getenv("STUB_ADDR")
	if stubAddr == "" {
		stubAddr = ":8000"
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	ttl := 5 * time.Minute
	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL: %w", err)
		}
		ttl = d
	}

	cfg := Config{
		APIBaseURL: strings.TrimRight(apiBase, "/"),
		TenantID:   tenantID,
		Username:   os.Getenv("WIDGET_USERNAME"),
		Password:   os.Getenv("WIDGET_PASSWORD"),

		StorageDriver: driver,
		SQLitePath:    sqlitePath,
		DBDSN:         dsn,
		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisPrefix:   redisPrefix,
		RedisTTL:      redisTTL,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		HTTPTimeout: timeout,
		LogLevel:    level,

		StubAddr:       stubAddr,
		JWTSecret:      secret,
		AccessTokenTTL: ttl,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !storageDrivers[c.StorageDriver] {
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER: unsupported value %q", c.StorageDriver))
	}
	if c.StorageDriver == "mysql" && c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required for mysql storage"))
	}
	if strings.TrimSpace(c.TenantID) == "" {
		errs = append(errs, errors.New("TENANT_ID must not be blank"))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must not be negative"))
	}
	if c.RedisTTL < 0 {
		errs = append(errs, errors.New("REDIS_TTL must not be negative"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if (c.Username == "") != (c.Password == "") {
		errs = append(errs, errors.New("WIDGET_USERNAME and WIDGET_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}
