package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "GRATIA"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "gratia.db"
	defaultLogLevel      = "info"
	defaultSessionIssuer = "gratia-auth"
	defaultEntityTTL     = 120 * time.Second
	defaultLedgerMaxAge  = 30 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// AppConfig captures runtime configuration for the gateway process.
type AppConfig struct {
	HTTPAddress          string
	UpstreamBaseURL      string
	SessionSigningSecret string
	SessionIssuer        string
	DatabasePath         string
	LogLevel             string
	EntityFreshTTL       time.Duration
	LedgerMaxAge         time.Duration
	SweepInterval        time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("engine.entity_ttl", defaultEntityTTL)
	configViper.SetDefault("engine.ledger_max_age", defaultLedgerMaxAge)
	configViper.SetDefault("engine.sweep_interval", defaultSweepInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		UpstreamBaseURL:      configViper.GetString("upstream.base_url"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		EntityFreshTTL:       configViper.GetDuration("engine.entity_ttl"),
		LedgerMaxAge:         configViper.GetDuration("engine.ledger_max_age"),
		SweepInterval:        configViper.GetDuration("engine.sweep_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.UpstreamBaseURL) == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.EntityFreshTTL <= 0 {
		return fmt.Errorf("engine.entity_ttl must be positive")
	}
	if c.LedgerMaxAge <= 0 {
		return fmt.Errorf("engine.ledger_max_age must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be positive")
	}
	return nil
}
