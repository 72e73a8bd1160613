package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/geta-app/geta/internal/auth"
)

const (
	Development = "development"
	Production  = "production"
)

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string

	// RedisAddr is optional. An empty address disables the feed cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Env         string
	LogLevel    string
	TokenTTL    time.Duration
	AutoMigrate bool
}

// Settings is the raw, not yet validated form of Config as it is assembled
// from defaults, the YAML file, the environment and flags.
type Settings struct {
	ServerAddr     string        `yaml:"addr"`
	DatabaseDSN    string        `yaml:"dsn"`
	SigningKey     string        `yaml:"signing_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	Env            string        `yaml:"env"`
	LogLevel       string        `yaml:"log_level"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	AutoMigrate    bool          `yaml:"auto_migrate"`
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("decoded key is empty")
	}
	return key, nil
}

func NewConfig(s Settings) (*Config, error) {
	if s.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if s.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if s.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(s.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	env := s.Env
	if env == "" {
		env = Development
	}
	if env != Development && env != Production {
		return nil, fmt.Errorf("env must be %q or %q, got %q", Development, Production, env)
	}

	ttl := s.TokenTTL
	if ttl == 0 {
		ttl = auth.DefaultTokenTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("token TTL cannot be negative")
	}

	if s.RedisDB < 0 {
		return nil, fmt.Errorf("redis db cannot be negative")
	}

	return &Config{
		ServerAddr:     s.ServerAddr,
		DatabaseDSN:    s.DatabaseDSN,
		SigningKey:     signingKey,
		AllowedOrigins: s.AllowedOrigins,
		RedisAddr:      s.RedisAddr,
		RedisPassword:  s.RedisPassword,
		RedisDB:        s.RedisDB,
		Env:            env,
		LogLevel:       s.LogLevel,
		TokenTTL:       ttl,
		AutoMigrate:    s.AutoMigrate,
	}, nil
}
