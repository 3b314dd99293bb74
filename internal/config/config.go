package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultPort        = "8080"
	defaultEnv         = "dev"
	defaultDriver      = "postgres"
	defaultDSN         = "host=localhost user=postgres password=postgres dbname=drawsync port=5432 sslmode=disable TimeZone=UTC"
	DefaultJWTSecret   = "dev-secret-change-me"
	defaultRedisURL    = "redis://localhost:6379/0"
	defaultStore       = "redis"
	defaultTimeout     = 2 * time.Second
	defaultRateCap     = 5
	defaultRatePerSec  = 5
	defaultAccessTTL   = 15
	defaultLogLevel    = "info"
	defaultOriginsList = "*"
)

type Config struct {
	Port                  string
	Env                   string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RedisURL              string
	StoreBackend          string
	StoreTimeout          time.Duration
	RateCapacity          int
	RatePerSec            int
	FlushDelay            time.Duration
	AllowedOrigins        []string
	LogLevel              string
}

// 配置 key 与对应的环境变量。
var envBindings = map[string]string{
	"app.port":             "APP_PORT",
	"app.env":              "APP_ENV",
	"database.driver":      "DATABASE_DRIVER",
	"database.dsn":         "DATABASE_DSN",
	"jwt.secret":           "JWT_SECRET",
	"jwt.access_ttl":       "ACCESS_TOKEN_TTL_MINUTES",
	"redis.url":            "REDIS_URL",
	"store.backend":        "STORE_BACKEND",
	"store.timeout":        "STORE_TIMEOUT",
	"ws.rate_capacity":     "WS_RATE_CAPACITY",
	"ws.rate_per_sec":      "WS_RATE_PER_SEC",
	"canvas.flush_delay":   "CANVAS_FLUSH_DELAY",
	"http.allowed_origins": "ALLOWED_ORIGINS",
	"log.level":            "LOG_LEVEL",
}

// NewViper 返回已设置默认值和环境变量绑定的 viper 实例。
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

func ApplyDefaults(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	v.SetDefault("app.port", defaultPort)
	v.SetDefault("app.env", defaultEnv)
	v.SetDefault("database.driver", defaultDriver)
	v.SetDefault("database.dsn", defaultDSN)
	v.SetDefault("jwt.secret", DefaultJWTSecret)
	v.SetDefault("jwt.access_ttl", defaultAccessTTL)
	v.SetDefault("redis.url", defaultRedisURL)
	v.SetDefault("store.backend", defaultStore)
	v.SetDefault("store.timeout", defaultTimeout)
	v.SetDefault("ws.rate_capacity", defaultRateCap)
	v.SetDefault("ws.rate_per_sec", defaultRatePerSec)
	v.SetDefault("canvas.flush_delay", time.Duration(0))
	v.SetDefault("http.allowed_origins", defaultOriginsList)
	v.SetDefault("log.level", defaultLogLevel)
}

// Load 只从环境变量读取配置。
func Load() Config {
	return LoadFrom(NewViper())
}

// LoadFrom 从 viper 读取配置，非法数值回退为默认值。
func LoadFrom(v *viper.Viper) Config {
	cfg := Config{
		Port:                  v.GetString("app.port"),
		Env:                   v.GetString("app.env"),
		DatabaseDriver:        strings.ToLower(v.GetString("database.driver")),
		DatabaseDSN:           v.GetString("database.dsn"),
		JWTSecret:             v.GetString("jwt.secret"),
		AccessTokenTTLMinutes: v.GetInt("jwt.access_ttl"),
		RedisURL:              v.GetString("redis.url"),
		StoreBackend:          strings.ToLower(v.GetString("store.backend")),
		StoreTimeout:          v.GetDuration("store.timeout"),
		RateCapacity:          v.GetInt("ws.rate_capacity"),
		RatePerSec:            v.GetInt("ws.rate_per_sec"),
		FlushDelay:            v.GetDuration("canvas.flush_delay"),
		AllowedOrigins:        splitList(v.GetString("http.allowed_origins")),
		LogLevel:              v.GetString("log.level"),
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		cfg.AccessTokenTTLMinutes = defaultAccessTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultTimeout
	}
	if cfg.RateCapacity <= 0 {
		cfg.RateCapacity = defaultRateCap
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.FlushDelay < 0 {
		cfg.FlushDelay = 0
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 检查必填项；非 dev 环境不允许使用默认的 JWT 密钥。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("APP_PORT is required")
	}
	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == DefaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be changed when APP_ENV=%s", cfg.Env)
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	switch cfg.StoreBackend {
	case "", "redis", "memory":
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}
	return nil
}
