package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingRequired = errors.New("missing required configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "RELAYCP"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("controlplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/relay-control-plane")
		v.AddConfigPath("/etc/relay-control-plane")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", cfg.Server.MaxBodySize)

	v.SetDefault("server.cors.enabled", cfg.Server.CORS.Enabled)
	v.SetDefault("server.cors.allowed_origins", cfg.Server.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", cfg.Server.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", cfg.Server.CORS.AllowedHeaders)
	v.SetDefault("server.cors.exposed_headers", cfg.Server.CORS.ExposedHeaders)
	v.SetDefault("server.cors.allow_credentials", cfg.Server.CORS.AllowCredentials)
	v.SetDefault("server.cors.max_age", cfg.Server.CORS.MaxAge)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)

	v.SetDefault("auth.jwt.access_ttl", cfg.Auth.JWT.AccessTTL)
	v.SetDefault("auth.jwt.issuer", cfg.Auth.JWT.Issuer)
	v.SetDefault("auth.refresh_ttl", cfg.Auth.RefreshTTL)
	v.SetDefault("auth.password_reset_ttl", cfg.Auth.PasswordResetTTL)
	v.SetDefault("auth.email_verify_ttl", cfg.Auth.EmailVerifyTTL)
	v.SetDefault("auth.password.min_length", cfg.Auth.Password.MinLength)
	v.SetDefault("auth.password.require_uppercase", cfg.Auth.Password.RequireUppercase)
	v.SetDefault("auth.password.require_lowercase", cfg.Auth.Password.RequireLowercase)
	v.SetDefault("auth.password.require_number", cfg.Auth.Password.RequireNumber)
	v.SetDefault("auth.password.require_special", cfg.Auth.Password.RequireSpecial)
	v.SetDefault("auth.rate_limit.login.max", cfg.Auth.RateLimit.Login.Max)
	v.SetDefault("auth.rate_limit.login.window", cfg.Auth.RateLimit.Login.Window)
	v.SetDefault("auth.rate_limit.password_reset.max", cfg.Auth.RateLimit.PasswordReset.Max)
	v.SetDefault("auth.rate_limit.password_reset.window", cfg.Auth.RateLimit.PasswordReset.Window)
	v.SetDefault("auth.allow_registration", cfg.Auth.AllowRegistration)
	v.SetDefault("auth.require_verification", cfg.Auth.RequireVerification)

	v.SetDefault("relay.public_url", cfg.Relay.PublicURL)
	v.SetDefault("relay.token_ttl", cfg.Relay.TokenTTL)
	v.SetDefault("relay.issuer", cfg.Relay.Issuer)
	v.SetDefault("relay.private_key", cfg.Relay.PrivateKey)
	v.SetDefault("relay.key_id", cfg.Relay.KeyID)

	v.SetDefault("webhook.poll_interval", cfg.Webhook.PollInterval)
	v.SetDefault("webhook.batch_size", cfg.Webhook.BatchSize)
	v.SetDefault("webhook.attempt_timeout", cfg.Webhook.AttemptTimeout)
	v.SetDefault("webhook.debug", cfg.Webhook.Debug)
	v.SetDefault("webhook.user_agent", cfg.Webhook.UserAgent)

	v.SetDefault("smtp.host", cfg.SMTP.Host)
	v.SetDefault("smtp.port", cfg.SMTP.Port)
	v.SetDefault("smtp.tls", cfg.SMTP.TLS)
	v.SetDefault("smtp.from_address", cfg.SMTP.FromAddress)
	v.SetDefault("smtp.reply_to", cfg.SMTP.ReplyTo)
	v.SetDefault("smtp.send_timeout", cfg.SMTP.SendTimeout)
	v.SetDefault("smtp.poll_interval", cfg.SMTP.PollInterval)

	v.SetDefault("web.enabled", cfg.Web.Enabled)
	v.SetDefault("web.domain", cfg.Web.Domain)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envVar := val[2 : len(val)-1]
			if envVal := os.Getenv(envVar); envVal != "" {
				v.Set(key, envVal)
			}
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"controlplane.yaml",
		"controlplane.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "relay-control-plane", "controlplane.yaml"),
		"/etc/relay-control-plane/controlplane.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
