package stripe

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Config is the per-organization credential set stored (encrypted) in
// payment_provider_configs.
type Config struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	IsTestMode    bool   `mapstructure:"is_test_mode"`
}

func parseConfig(raw map[string]any) (Config, error) {
	var cfg Config
	if err := mapstructure.WeakDecode(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("stripe: decode config: %w", err)
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: webhook secret is required")
	}
	if !strings.HasPrefix(c.WebhookSecret, "whsec_") {
		return fmt.Errorf("stripe: webhook secret must start with whsec_")
	}

	live := strings.HasPrefix(c.SecretKey, "sk_live") || strings.HasPrefix(c.SecretKey, "rk_live")
	test := strings.HasPrefix(c.SecretKey, "sk_test") || strings.HasPrefix(c.SecretKey, "rk_test")
	switch {
	case !live && !test:
		return fmt.Errorf("stripe: secret key must be a secret or restricted key")
	case c.IsTestMode && live:
		return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
	case !c.IsTestMode && test:
		return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
	}
	return nil
}
