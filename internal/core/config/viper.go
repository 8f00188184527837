package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	// TW_EXECUTOR_URL, TW_DB_URL, ...
	v.SetEnvPrefix("TW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles.
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Engine: EngineConfig{
			LogCapacity:     v.GetInt("engine.log_capacity"),
			ScalarOperators: v.GetBool("engine.scalar_operators"),
		},
		Webhook: WebhookConfig{Timeout: v.GetDuration("webhook.timeout")},
		Chain:   ChainConfig{DialTimeout: v.GetDuration("chain.dial_timeout")},
		Executor: ExecutorConfig{
			URL:     v.GetString("executor.url"),
			APIKey:  v.GetString("executor.api_key"),
			Timeout: v.GetDuration("executor.timeout"),
			CodeID:  v.GetString("executor.code_id"),
		},
		Broadcast: BroadcastConfig{
			Broker:   v.GetString("broadcast.broker"),
			Topic:    v.GetString("broadcast.topic"),
			ClientID: v.GetString("broadcast.client_id"),
			Timeout:  v.GetDuration("broadcast.timeout"),
		},
		Control: ControlConfig{
			Enabled: v.GetBool("control.enabled"),
			Host:    v.GetString("control.host"),
			Port:    v.GetInt("control.port"),
		},
		Metrics: MetricsConfig{Addr: v.GetString("metrics.addr")},
		DB:      DBConfig{URL: v.GetString("db.url")},
		Signer:  SignerConfig{PublicKey: v.GetString("signer.public_key")},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("engine.log_capacity", d.Engine.LogCapacity)
	v.SetDefault("engine.scalar_operators", d.Engine.ScalarOperators)
	v.SetDefault("webhook.timeout", d.Webhook.Timeout)
	v.SetDefault("chain.dial_timeout", d.Chain.DialTimeout)
	v.SetDefault("executor.url", "")
	v.SetDefault("executor.api_key", "")
	v.SetDefault("executor.timeout", d.Executor.Timeout)
	v.SetDefault("executor.code_id", "")
	v.SetDefault("broadcast.broker", "")
	v.SetDefault("broadcast.topic", d.Broadcast.Topic)
	v.SetDefault("broadcast.client_id", d.Broadcast.ClientID)
	v.SetDefault("broadcast.timeout", d.Broadcast.Timeout)
	v.SetDefault("control.enabled", d.Control.Enabled)
	v.SetDefault("control.host", d.Control.Host)
	v.SetDefault("control.port", d.Control.Port)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("db.url", "")
	v.SetDefault("signer.public_key", "")
}

// Validate is run by LoadConfig and again by callers after flag overrides.
func (c *Config) Validate() error {
	return validateConfig(c)
}

func validateConfig(cfg *Config) error {
	if cfg.Engine.LogCapacity <= 0 {
		return fmt.Errorf("engine.log_capacity must be positive, got %d", cfg.Engine.LogCapacity)
	}
	if cfg.Webhook.Timeout <= 0 {
		return fmt.Errorf("webhook.timeout must be positive, got %v", cfg.Webhook.Timeout)
	}
	if cfg.Chain.DialTimeout <= 0 {
		return fmt.Errorf("chain.dial_timeout must be positive, got %v", cfg.Chain.DialTimeout)
	}
	if cfg.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout must be positive, got %v", cfg.Executor.Timeout)
	}
	if cfg.Broadcast.Broker != "" && cfg.Broadcast.Topic == "" {
		return fmt.Errorf("broadcast.topic required when broadcast.broker is set")
	}
	if cfg.Control.Port <= 0 || cfg.Control.Port > 65535 {
		return fmt.Errorf("control.port must be between 1 and 65535, got %d", cfg.Control.Port)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	// InConfig rather than IsSet: AutomaticEnv would make IsSet see TW_HMAC_SECRET.
	if v.InConfig("hmac_secret") || v.InConfig("control.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use TW_HMAC_SECRET environment variable)")
	}
	return nil
}
