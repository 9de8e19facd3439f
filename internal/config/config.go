// Package config loads the node's runtime configuration from the
// environment, the same way the chat-service teacher's config package does:
// godotenv for local development, required-variable panics in production.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// InvokerMethod selects which Invoker implementation swarmd wires up.
type InvokerMethod string

const (
	InvokerTmux       InvokerMethod = "tmux"
	InvokerSubprocess InvokerMethod = "subprocess"
	InvokerWebhook    InvokerMethod = "webhook"
	InvokerSDK        InvokerMethod = "sdk"
	InvokerNoop       InvokerMethod = "noop"
)

// Config holds all runtime configuration for a swarmd node.
type Config struct {
	Env  string
	Port string

	AgentID          string
	Endpoint         string
	PublicKeyB64     string
	PrivateKeyB64    string // Ed25519 seed+pub, base64
	PrivateKeyPath   string

	DatabasePath string
	RedisURL     string

	PerSenderRateLimit int           // messages per window, default 60
	PerSenderWindow    time.Duration // default 1 minute
	PerIPJoinLimit     int           // joins per window, default 10
	PerIPJoinWindow    time.Duration // default 1 hour
	RateLimitWhitelist []string
	AutoBlockEnabled   bool

	WakeEnabled       bool
	WakeEndpoint      string
	WakeSharedSecret  string
	WakeTimeout       time.Duration

	InvokerMethod  InvokerMethod
	InvokerTarget  string // tmux session name, subprocess command, webhook URL, sdk socket path
	SessionTimeout time.Duration
	SessionPath    string

	PubKeyCacheTTL time.Duration
	InviteTokenTTL time.Duration

	RequestTimeout time.Duration
}

// Load reads configuration from the environment, loading a local .env file
// first when present. It panics on missing required identity/storage
// configuration when ENV=production.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:              getEnv("ENV", "development"),
		Port:             getEnv("PORT", "8443"),
		AgentID:          os.Getenv("AGENT_ID"),
		Endpoint:         os.Getenv("AGENT_ENDPOINT"),
		PublicKeyB64:     os.Getenv("AGENT_PUBLIC_KEY"),
		PrivateKeyB64:    os.Getenv("AGENT_PRIVATE_KEY"),
		PrivateKeyPath:   getEnv("AGENT_PRIVATE_KEY_PATH", ""),
		DatabasePath:     getEnv("DATABASE_PATH", "./swarmd.db"),
		RedisURL:         os.Getenv("REDIS_URL"),

		PerSenderRateLimit: getEnvInt("RATE_LIMIT_PER_SENDER", 60),
		PerSenderWindow:    getEnvDuration("RATE_LIMIT_PER_SENDER_WINDOW", time.Minute),
		PerIPJoinLimit:     getEnvInt("RATE_LIMIT_JOIN_PER_IP", 10),
		PerIPJoinWindow:    getEnvDuration("RATE_LIMIT_JOIN_PER_IP_WINDOW", time.Hour),
		AutoBlockEnabled:   getEnv("AUTO_BLOCK_ENABLED", "true") == "true",

		WakeEnabled:      getEnv("WAKE_ENABLED", "true") == "true",
		WakeEndpoint:     getEnv("WAKE_ENDPOINT", "http://127.0.0.1:8787/api/wake"),
		WakeSharedSecret: os.Getenv("WAKE_SHARED_SECRET"),
		WakeTimeout:      getEnvDuration("WAKE_TIMEOUT", 5*time.Second),

		InvokerMethod:  InvokerMethod(getEnv("INVOKER_METHOD", string(InvokerNoop))),
		InvokerTarget:  os.Getenv("INVOKER_TARGET"),
		SessionTimeout: getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		SessionPath:    getEnv("SESSION_PATH", "./session.json"),

		PubKeyCacheTTL: getEnvDuration("PUBKEY_CACHE_TTL", 24*time.Hour),
		InviteTokenTTL: getEnvDuration("INVITE_TOKEN_TTL", 7*24*time.Hour),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
	}

	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if cfg.Env == "production" {
		if cfg.AgentID == "" {
			panic("AGENT_ID is required in production")
		}
		if cfg.Endpoint == "" {
			panic("AGENT_ENDPOINT is required in production")
		}
		if cfg.PublicKeyB64 == "" {
			panic("AGENT_PUBLIC_KEY is required in production")
		}
		if cfg.PrivateKeyB64 == "" && cfg.PrivateKeyPath == "" {
			panic("AGENT_PRIVATE_KEY or AGENT_PRIVATE_KEY_PATH is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment reports whether the node is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadPrivateKey resolves the node's Ed25519 private key from either the
// inline base64 env var or the configured key file.
func (c *Config) LoadPrivateKey() ([]byte, error) {
	if c.PrivateKeyB64 != "" {
		return base64.StdEncoding.DecodeString(c.PrivateKeyB64)
	}
	if c.PrivateKeyPath != "" {
		raw, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading private key file: %w", err)
		}
		return base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	}
	return nil, fmt.Errorf("no private key configured")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
