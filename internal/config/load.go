package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/geta-app/geta/internal/auth"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=geta sslmode=disable"

// Environment variables read by Load.
const (
	EnvAddr           = "GETA_ADDR"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvSigningKey     = "GETA_SIGNING_KEY"
	EnvAllowedOrigins = "GETA_ALLOWED_ORIGINS"
	EnvRedisAddr      = "REDIS_ADDR"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvEnv            = "GETA_ENV"
	EnvLogLevel       = "LOG_LEVEL"
	EnvTokenTTL       = "GETA_TOKEN_TTL"
	EnvAutoMigrate    = "GETA_AUTO_MIGRATE"
	EnvConfigFile     = "GETA_CONFIG"
)

func defaults() Settings {
	return Settings{
		ServerAddr:  "localhost:8000",
		DatabaseDSN: defaultDSN,
		Env:         Development,
		LogLevel:    "info",
		TokenTTL:    auth.DefaultTokenTTL,
		AutoMigrate: true,
	}
}

// LoadDotEnv loads .env files with priority .env.local > .env. Variables
// already present in the process environment are never overwritten.
// It returns the files that were loaded.
func LoadDotEnv() ([]string, error) {
	return loadDotEnv(".env.local", ".env")
}

func loadDotEnv(files ...string) ([]string, error) {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) == 0 {
		return nil, nil
	}

	if err := godotenv.Load(loaded...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	return loaded, nil
}

// Load assembles the configuration. Later sources win: defaults, then the
// YAML file named by --config or GETA_CONFIG, then the environment, then
// flags that were explicitly set on the command line.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	s := defaults()

	fs := pflag.NewFlagSet("geta", pflag.ContinueOnError)
	var (
		configFile  = fs.String("config", "", "path to a YAML config file")
		addr        = fs.String("addr", s.ServerAddr, "server address")
		dsn         = fs.String("dsn", s.DatabaseDSN, "database connection string")
		signingKey  = fs.String("signing-key", "", "base64 encoded signing key")
		origins     = fs.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
		redisAddr   = fs.String("redis-addr", "", "redis address for the feed cache (empty disables it)")
		redisPass   = fs.String("redis-password", "", "redis password")
		redisDB     = fs.Int("redis-db", 0, "redis database number")
		env         = fs.String("env", s.Env, "environment: development or production")
		logLevel    = fs.String("log-level", s.LogLevel, "log level")
		tokenTTL    = fs.Duration("token-ttl", s.TokenTTL, "session token lifetime")
		autoMigrate = fs.Bool("auto-migrate", s.AutoMigrate, "apply database migrations on startup")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configFile
	if path == "" {
		path, _ = lookupEnv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFile(path, &s); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&s, lookupEnv); err != nil {
		return nil, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "addr":
			s.ServerAddr = *addr
		case "dsn":
			s.DatabaseDSN = *dsn
		case "signing-key":
			s.SigningKey = *signingKey
		case "allowed-origins":
			s.AllowedOrigins = *origins
		case "redis-addr":
			s.RedisAddr = *redisAddr
		case "redis-password":
			s.RedisPassword = *redisPass
		case "redis-db":
			s.RedisDB = *redisDB
		case "env":
			s.Env = *env
		case "log-level":
			s.LogLevel = *logLevel
		case "token-ttl":
			s.TokenTTL = *tokenTTL
		case "auto-migrate":
			s.AutoMigrate = *autoMigrate
		}
	})

	return NewConfig(s)
}

func loadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

func applyEnv(s *Settings, lookupEnv func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	str(EnvAddr, &s.ServerAddr)
	str(EnvDatabaseURL, &s.DatabaseDSN)
	str(EnvSigningKey, &s.SigningKey)
	str(EnvRedisAddr, &s.RedisAddr)
	str(EnvRedisPassword, &s.RedisPassword)
	str(EnvEnv, &s.Env)
	str(EnvLogLevel, &s.LogLevel)

	if v, ok := lookupEnv(EnvAllowedOrigins); ok && v != "" {
		s.AllowedOrigins = splitList(v)
	}

	if v, ok := lookupEnv(EnvRedisDB); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRedisDB, err)
		}
		s.RedisDB = n
	}

	if v, ok := lookupEnv(EnvTokenTTL); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTokenTTL, err)
		}
		s.TokenTTL = d
	}

	if v, ok := lookupEnv(EnvAutoMigrate); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAutoMigrate, err)
		}
		s.AutoMigrate = b
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
