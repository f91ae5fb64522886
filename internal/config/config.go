package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	HTTPAddr    string
	LogLevel    string
	Env         string // dev|prod
	SentryDSN   string
	Location    *time.Location

	// REDIS_URL пустой — кэш запросов живёт в памяти процесса (LRU)
	RedisURL  string
	CacheSize int
	CacheTTL  time.Duration

	ResolveTimeout time.Duration

	// REALTIME_DRIVER: postgres (LISTEN/NOTIFY) | memory (локальная разработка)
	RealtimeDriver       string
	RealtimeMinReconnect time.Duration
	RealtimeMaxReconnect time.Duration

	// BotToken необязателен: без него уведомления только пишутся в лог
	BotToken string
}

func Load() (*Config, error) {
	tz := getenv("TZ", "Asia/Karachi")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.Local
	}

	cacheSize, err := getenvInt("CACHE_SIZE", 1024)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getenvDuration("CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	resolveTimeout, err := getenvDuration("ROLE_RESOLVE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	minReconnect, err := getenvDuration("REALTIME_MIN_RECONNECT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	maxReconnect, err := getenvDuration("REALTIME_MAX_RECONNECT", time.Minute)
	if err != nil {
		return nil, err
	}
	driver := getenv("REALTIME_DRIVER", "postgres")
	if driver != "postgres" && driver != "memory" {
		return nil, fmt.Errorf("REALTIME_DRIVER: unknown driver %q", driver)
	}
	if maxReconnect < minReconnect {
		return nil, fmt.Errorf("REALTIME_MAX_RECONNECT (%s) < REALTIME_MIN_RECONNECT (%s)", maxReconnect, minReconnect)
	}

	cfg := &Config{
		DatabaseURL:          mustEnv("DATABASE_URL"),
		JWTSecret:            mustEnv("JWT_SECRET"),
		JWTIssuer:            os.Getenv("JWT_ISSUER"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		Env:                  getenv("ENV", "dev"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		Location:             loc,
		RedisURL:             os.Getenv("REDIS_URL"),
		CacheSize:            cacheSize,
		CacheTTL:             cacheTTL,
		ResolveTimeout:       resolveTimeout,
		RealtimeDriver:       driver,
		RealtimeMinReconnect: minReconnect,
		RealtimeMaxReconnect: maxReconnect,
		BotToken:             os.Getenv("BOT_TOKEN"),
	}
	return cfg, nil
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("required env " + k + " is empty")
	}
	return v
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvDuration понимает и "15s", и голые секунды "15".
func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, aerr := strconv.Atoi(v)
		if aerr != nil {
			return 0, fmt.Errorf("%s: bad duration %q", k, v)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", k, d)
	}
	return d, nil
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", k, n)
	}
	return n, nil
}
