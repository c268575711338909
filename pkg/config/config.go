package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the server settings read from the environment.
type Config struct {
	ServerHost string
	ServerPort int

	StoreDSN string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	LogLevel  string
	LogFormat string
	LogFile   string

	MaxMessageBytes int64
	SendBuffer      int
}

// Load reads the given .env files (".env" when none are given) into the process
// environment and builds a Config from it. Missing files are ignored and
// variables already set in the environment win.
func Load(files ...string) *Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}

	return &Config{
		ServerHost: getEnv("SERVER_HOST", ""),
		ServerPort: getEnvInt("SERVER_PORT", 4001),

		StoreDSN: getEnv("STORE_DSN", ""),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "pagesync"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),

		MaxMessageBytes: int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 1<<20)),
		SendBuffer:      getEnvInt("WS_SEND_BUFFER", 256),
	}
}

// GetServerAddr returns host:port to listen on.
func (c *Config) GetServerAddr() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// GetDatabaseConnectionString returns a lib/pq connection URL built from the
// DB_* settings.
func (c *Config) GetDatabaseConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": []string{c.DBSSLMode}}.Encode(),
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else {
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// GetStoreDSN returns the store location: STORE_DSN when set, the Postgres URL
// when DB_HOST is set, and a local file store otherwise.
func (c *Config) GetStoreDSN() string {
	if c.StoreDSN != "" {
		return c.StoreDSN
	}
	if c.DBHost != "" {
		return c.GetDatabaseConnectionString()
	}
	return "file://data"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
