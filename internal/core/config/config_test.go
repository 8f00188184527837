package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"

func clearSecrets(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TW_HMAC_SECRET", "TW_HMAC_SECRET_1", "TW_HMAC_SECRET_2"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestHMACSecrets(t *testing.T) {
	t.Run("single secret", func(t *testing.T) {
		clearSecrets(t)
		t.Setenv("TW_HMAC_SECRET", "0123456789abcdef0123456789abcdef:"+testSecret)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		clearSecrets(t)
		t.Setenv("TW_HMAC_SECRET_1", "0123456789abcdef0123456789abcdef:"+testSecret)
		t.Setenv("TW_HMAC_SECRET_2", "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"invalid format", map[string]string{"TW_HMAC_SECRET": "invalid_format"}},
		{"short secret_id", map[string]string{"TW_HMAC_SECRET": "short:" + testSecret}},
		{"non-hex secret_id", map[string]string{"TW_HMAC_SECRET": "0123456789abcdefGHIJKLMNOPQRSTUV:" + testSecret}},
		{"secret too short", map[string]string{"TW_HMAC_SECRET": "0123456789abcdef0123456789abcdef:c2hvcnQ="}},
		{"duplicate numbered", map[string]string{
			"TW_HMAC_SECRET_1": "0123456789abcdef0123456789abcdef:" + testSecret,
			"TW_HMAC_SECRET_2": "0123456789abcdef0123456789abcdef:" + testSecret,
		}},
		{"duplicate single and numbered", map[string]string{
			"TW_HMAC_SECRET":   "0123456789abcdef0123456789abcdef:" + testSecret,
			"TW_HMAC_SECRET_1": "0123456789abcdef0123456789abcdef:" + testSecret,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearSecrets(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := HMACSecrets(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Engine.LogCapacity != 1000 {
			t.Errorf("expected log_capacity 1000, got %d", cfg.Engine.LogCapacity)
		}
		if cfg.Webhook.Timeout != 10*time.Second {
			t.Errorf("expected webhook timeout 10s, got %v", cfg.Webhook.Timeout)
		}
		if cfg.Executor.Timeout != 30*time.Second {
			t.Errorf("expected executor timeout 30s, got %v", cfg.Executor.Timeout)
		}
		if cfg.Control.Port != 50051 {
			t.Errorf("expected port 50051, got %d", cfg.Control.Port)
		}
		if cfg.DB.URL != "" || cfg.Metrics.Addr != "" {
			t.Errorf("archive and metrics should be disabled by default")
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("TW_EXECUTOR_URL", "http://executor:8080/run")
		t.Setenv("TW_ENGINE_SCALAR_OPERATORS", "true")
		t.Setenv("TW_CHAIN_DIAL_TIMEOUT", "3s")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Executor.URL != "http://executor:8080/run" {
			t.Errorf("executor url = %q", cfg.Executor.URL)
		}
		if !cfg.Engine.ScalarOperators {
			t.Error("scalar_operators not enabled")
		}
		if cfg.Chain.DialTimeout != 3*time.Second {
			t.Errorf("dial timeout = %v", cfg.Chain.DialTimeout)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		t.Setenv("TW_CONTROL_PORT", "70000")
		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for port > 65535")
		}
	})

	t.Run("invalid capacity", func(t *testing.T) {
		t.Setenv("TW_ENGINE_LOG_CAPACITY", "0")
		if _, err := LoadConfig(""); err == nil {
			t.Error("expected error for zero log_capacity")
		}
	})

	t.Run("broker without topic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "broadcast:\n  broker: tcp://localhost:1883\n  topic: \"\"\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected error for broker without topic")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	secretID, secret, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:" + testSecret)
	if err != nil {
		t.Fatalf("ParseHMACSecretWithID failed: %v", err)
	}
	if secretID != "0123456789abcdef0123456789abcdef" {
		t.Errorf("unexpected secret_id: %s", secretID)
	}
	if len(secret) < 32 {
		t.Errorf("secret too short: %d bytes", len(secret))
	}

	for _, bad := range []string{
		"0123456789abcdef0123456789abcdef",
		"tooshort:" + testSecret,
		"0123456789abcdef0123456789abcdef:not-valid-base64!!!",
	} {
		if _, _, err := ParseHMACSecretWithID(bad); err == nil {
			t.Errorf("ParseHMACSecretWithID(%q) expected error", bad)
		}
	}
}
