package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the optional environment variables
const (
	defaultDBPath        = "rides.db"
	defaultJwtExpire     = 24 * time.Hour
	defaultAppEnv        = "development"
	defaultLogLevel      = "info"
	defaultWsMaxMessages = 20
	defaultWsWindow      = time.Second
)

// Environment variables used by the server.
// Port and JwtSecret are required, everything else falls back to a default.
type envConfig struct {
	Port           string
	JwtSecret      string
	JwtExpire      time.Duration
	AllowedOrigins []string
	DBPath         string
	RedisURL       string
	AppEnv         string
	ClientURL      string
	StaticDir      string
	LogLevel       slog.Level
	WsMaxMessages  int
	WsWindow       time.Duration
}

var EnvConfig *envConfig

// Keeps track if ALL required environment variables were loaded correctly
var loadedAllEnvs bool

// Loads the .env file (if any) and the process environment into EnvConfig.
// Returns false when a required variable is missing.
func InitEnvConfig() bool {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", slog.String("error", err.Error()))
	}

	loadedAllEnvs = true

	EnvConfig = &envConfig{
		Port:           getEnv("PORT"),
		JwtSecret:      getEnv("JWT_SECRET"),
		JwtExpire:      getEnvDuration("JWT_EXPIRE", defaultJwtExpire),
		AllowedOrigins: getEnvArray("ALLOWED_ORIGINS"),
		DBPath:         getEnvDefault("DB_PATH", defaultDBPath),
		RedisURL:       os.Getenv("REDIS_URL"),
		AppEnv:         getEnvDefault("APP_ENV", defaultAppEnv),
		ClientURL:      os.Getenv("CLIENT_URL"),
		StaticDir:      os.Getenv("STATIC_DIR"),
		LogLevel:       getEnvLevel("LOG_LEVEL", defaultLogLevel),
		WsMaxMessages:  getEnvInt("WS_MAX_MESSAGES", defaultWsMaxMessages),
		WsWindow:       time.Duration(getEnvInt("WS_WINDOW_SECONDS", int(defaultWsWindow/time.Second))) * time.Second,
	}

	return loadedAllEnvs
}

// Production reports whether the server runs with APP_ENV=production.
func (c *envConfig) Production() bool {
	return c.AppEnv == "production"
}

// Returns a required environment variable
func getEnv(envName string) string {
	env := os.Getenv(envName)

	if len(env) == 0 {
		slog.Error("missing environment variable", slog.String("name", envName))
		loadedAllEnvs = false
	}

	return env
}

func getEnvDefault(envName, fallback string) string {
	if env := os.Getenv(envName); env != "" {
		return env
	}
	return fallback
}

// Returns an optional comma separated environment variable as a trimmed list.
// An unset variable yields an empty list.
func getEnvArray(envName string) []string {
	envStr := os.Getenv(envName)
	if len(envStr) == 0 {
		return nil
	}

	var envArray []string
	for _, item := range strings.Split(envStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			envArray = append(envArray, item)
		}
	}
	return envArray
}

func getEnvInt(envName string, fallback int) int {
	envStr := os.Getenv(envName)
	if envStr == "" {
		return fallback
	}

	n, err := strconv.Atoi(envStr)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer environment variable, using default",
			slog.String("name", envName),
			slog.String("value", envStr),
			slog.Int("default", fallback),
		)
		return fallback
	}
	return n
}

func getEnvDuration(envName string, fallback time.Duration) time.Duration {
	envStr := os.Getenv(envName)
	if envStr == "" {
		return fallback
	}

	d, err := time.ParseDuration(envStr)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration environment variable, using default",
			slog.String("name", envName),
			slog.String("value", envStr),
			slog.Duration("default", fallback),
		)
		return fallback
	}
	return d
}

func getEnvLevel(envName, fallback string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnvDefault(envName, fallback))); err != nil {
		slog.Warn("invalid log level, using info", slog.String("name", envName))
		return slog.LevelInfo
	}
	return level
}
