// Package config provides configuration management for tripwire.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig
	Engine    EngineConfig
	Webhook   WebhookConfig
	Chain     ChainConfig
	Executor  ExecutorConfig
	Broadcast BroadcastConfig
	Control   ControlConfig
	Metrics   MetricsConfig
	DB        DBConfig
	Signer    SignerConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig tunes the run loop.
type EngineConfig struct {
	LogCapacity     int  // audit ring size
	ScalarOperators bool // apply declared operators to scalar comparisons
}

type WebhookConfig struct {
	Timeout time.Duration
}

type ChainConfig struct {
	DialTimeout time.Duration
}

// ExecutorConfig locates the remote action executor.
type ExecutorConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	CodeID  string
}

// BroadcastConfig enables MQTT publishing of executor responses when
// Broker is set.
type BroadcastConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// ControlConfig configures the gRPC control plane.
type ControlConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// MetricsConfig exposes /metrics on Addr; empty disables it.
type MetricsConfig struct {
	Addr string
}

// DBConfig enables the audit archive when URL is set.
type DBConfig struct {
	URL string
}

// SignerConfig enables credential provisioning when PublicKey is set.
type SignerConfig struct {
	PublicKey string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		Engine:    EngineConfig{LogCapacity: 1000},
		Webhook:   WebhookConfig{Timeout: 10 * time.Second},
		Chain:     ChainConfig{DialTimeout: 10 * time.Second},
		Executor:  ExecutorConfig{Timeout: 30 * time.Second},
		Broadcast: BroadcastConfig{Topic: "tripwire/responses", ClientID: "tripwire", Timeout: 10 * time.Second},
		Control:   ControlConfig{Host: "127.0.0.1", Port: 50051},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports TW_HMAC_SECRET (single) and TW_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check TW_HMAC_SECRET and TW_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("TW_HMAC_SECRET"); val != "" {
		if err := add("TW_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation.
	for i := 1; ; i++ {
		key := fmt.Sprintf("TW_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}

	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
