// Package config loads gateway settings from the environment. Required
// variables with no value abort startup; the error lists every missing name
// so an operator can fix a deployment in one pass.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Storage holds tuning for the shared HTTP client that talks to the blob
// worker. Read/write timeouts apply per chunk, not per upload, so multi-
// gigabyte streams do not trip them.
type Storage struct {
	Host           string
	Port           int
	MaxConnections int
	MaxKeepalive   int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// BaseURL returns the worker API root, e.g. http://storage:8001/api/v1.
func (s Storage) BaseURL() string {
	return fmt.Sprintf("http://%s:%d/api/v1", s.Host, s.Port)
}

// Config is the full gateway configuration.
type Config struct {
	// Connection string for the external pooler (pgbouncer).
	DatabaseURL string
	// Direct Postgres coordinates for pg_dump / psql, bypassing the pooler.
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	SecretKey                string
	Algorithm                string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int
	APIKey                   string

	CORSOrigins []string

	AppName        string
	AppDescription string
	AppVersion     string

	Storage Storage

	FunctionsHost string
	FunctionsPort int

	RealtimeHost string
	RealtimePort int

	BackupRetentionDays int
	BackupScheduleCron  string
	BackupDir           string
	// Blob tree root shared with the storage worker; empty skips the blob
	// tree in backups.
	StorageDir string

	ListenAddr string
	MaxDBConns int
}

// FunctionsBaseURL is the function runtime API root.
func (c *Config) FunctionsBaseURL() string {
	return fmt.Sprintf("http://%s:%d/api/v1", c.FunctionsHost, c.FunctionsPort)
}

// RealtimeWSURL is the internal pub/sub broker socket endpoint.
func (c *Config) RealtimeWSURL() string {
	return fmt.Sprintf("ws://%s:%d/socket/websocket", c.RealtimeHost, c.RealtimePort)
}

type loader struct {
	missing []string
	invalid []string
}

func (l *loader) str(name string) string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		l.missing = append(l.missing, name)
		return ""
	}
	return v
}

func (l *loader) strDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func (l *loader) num(name string) int {
	raw := l.str(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.invalid = append(l.invalid, name)
		return 0
	}
	return n
}

func (l *loader) numDefault(name string, def int) int {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.invalid = append(l.invalid, name)
		return def
	}
	return n
}

func (l *loader) seconds(name string, def float64) time.Duration {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return time.Duration(def * float64(time.Second))
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		l.invalid = append(l.invalid, name)
		return time.Duration(def * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

// Load reads the environment and returns a validated Config.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		DatabaseURL:      l.str("DATABASE_URL"),
		PostgresHost:     l.str("POSTGRES_HOST"),
		PostgresPort:     l.num("POSTGRES_PORT"),
		PostgresUser:     l.str("POSTGRES_USER"),
		PostgresPassword: l.str("POSTGRES_PASSWORD"),
		PostgresDB:       l.str("POSTGRES_DB"),

		SecretKey:                l.str("SECRET_KEY"),
		Algorithm:                l.str("ALGORITHM"),
		AccessTokenExpireMinutes: l.num("ACCESS_TOKEN_EXPIRE_MINUTES"),
		RefreshTokenExpireDays:   l.numDefault("REFRESH_TOKEN_EXPIRE_DAYS", 30),
		APIKey:                   l.str("API_KEY"),

		AppName:        l.str("APP_NAME"),
		AppDescription: l.str("APP_DESCRIPTION"),
		AppVersion:     l.str("APP_VERSION"),

		Storage: Storage{
			Host:           l.str("STORAGE_HOST"),
			Port:           l.num("STORAGE_INTERNAL_PORT"),
			MaxConnections: l.numDefault("STORAGE_MAX_CONNECTIONS", 100),
			MaxKeepalive:   l.numDefault("STORAGE_MAX_KEEPALIVE", 20),
			ConnectTimeout: l.seconds("STORAGE_CONNECT_TIMEOUT", 5),
			ReadTimeout:    l.seconds("STORAGE_READ_TIMEOUT", 300),
			WriteTimeout:   l.seconds("STORAGE_WRITE_TIMEOUT", 300),
		},

		FunctionsHost: l.str("FUNCTIONS_HOST"),
		FunctionsPort: l.num("FUNCTIONS_INTERNAL_PORT"),

		RealtimeHost: l.strDefault("REALTIME_HOST", "realtime"),
		RealtimePort: l.num("REALTIME_INTERNAL_PORT"),

		BackupRetentionDays: l.num("BACKUP_RETENTION_DAYS"),
		BackupScheduleCron:  l.str("BACKUP_SCHEDULE_CRON"),
		BackupDir:           l.strDefault("BACKUP_DIR", "/backups"),
		StorageDir:          l.strDefault("STORAGE_DIR", ""),

		ListenAddr: l.strDefault("LISTEN_ADDR", ":8000"),
		MaxDBConns: l.numDefault("DB_MAX_CONNECTIONS", 100),
	}

	for _, o := range strings.Split(l.str("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if len(l.missing) > 0 {
		sort.Strings(l.missing)
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		sort.Strings(l.invalid)
		return nil, fmt.Errorf("invalid numeric environment variables: %s", strings.Join(l.invalid, ", "))
	}
	return cfg, nil
}
