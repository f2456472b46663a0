package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CONTRACTFLOW"

	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultLogLevel        = "info"
	defaultOutboxBatchSize = 50
	defaultOutboxInterval  = "30s"
)

// AppConfig captures runtime configuration for the contract service.
type AppConfig struct {
	HTTPAddress     string
	DatabaseURL     string
	LogLevel        string
	AuthSecret      string
	OutboxBatchSize int
	OutboxInterval  string

	// Optional first admin account, created at startup when both are set.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", defaultHTTPAddress)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("outbox.batch_size", defaultOutboxBatchSize)
	v.SetDefault("outbox.interval", defaultOutboxInterval)
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     v.GetString("http.address"),
		DatabaseURL:     v.GetString("database.url"),
		LogLevel:        v.GetString("log.level"),
		AuthSecret:      v.GetString("auth.signing_secret"),
		OutboxBatchSize: v.GetInt("outbox.batch_size"),
		OutboxInterval:  v.GetString("outbox.interval"),

		BootstrapAdminEmail:    v.GetString("auth.bootstrap_email"),
		BootstrapAdminPassword: v.GetString("auth.bootstrap_password"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database.url is required")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox.batch_size must be positive")
	}
	return nil
}
