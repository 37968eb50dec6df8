package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "0.0.0.0"
	DefaultPort         = 8080
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 10 * 1024 * 1024 // 10MB

	// Database defaults.
	DefaultDBPath       = "controlplane.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with a single writer
	DefaultMaxIdleConns = 1

	// Auth defaults.
	DefaultAccessTTL        = time.Hour
	DefaultRefreshTTL       = 30 * 24 * time.Hour
	DefaultPasswordResetTTL = time.Hour
	DefaultEmailVerifyTTL   = 24 * time.Hour
	DefaultJWTIssuer        = "relay-control-plane"
	DefaultMinPassword      = 8

	// Relay defaults.
	DefaultRelayTokenTTL = 30 * time.Minute
	DefaultRelayIssuer   = "relay-control-plane"

	// Webhook worker defaults.
	DefaultWebhookPollInterval   = 10 * time.Second
	DefaultWebhookBatchSize      = 50
	DefaultWebhookAttemptTimeout = 10 * time.Second
	DefaultWebhookUserAgent      = "RelayOnPrem-Webhooks/1.0"

	// SMTP queue defaults.
	DefaultSMTPSendTimeout  = 10 * time.Second
	DefaultSMTPPollInterval = 10 * time.Second

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			},
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0,
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				AccessTTL: DefaultAccessTTL,
				Issuer:    DefaultJWTIssuer,
			},
			Password: PasswordConfig{
				MinLength:        DefaultMinPassword,
				RequireUppercase: false,
				RequireLowercase: false,
				RequireNumber:    false,
				RequireSpecial:   false,
			},
			RefreshTTL:       DefaultRefreshTTL,
			PasswordResetTTL: DefaultPasswordResetTTL,
			EmailVerifyTTL:   DefaultEmailVerifyTTL,
			RateLimit: AuthRateLimitConfig{
				Login: RateLimitRule{
					Max:    10,
					Window: time.Minute,
				},
				PasswordReset: RateLimitRule{
					Max:    3,
					Window: time.Hour,
				},
			},
			AllowRegistration:   true,
			RequireVerification: false,
		},
		Relay: RelayConfig{
			TokenTTL: DefaultRelayTokenTTL,
			Issuer:   DefaultRelayIssuer,
		},
		OAuth: OAuthConfig{
			Providers: make(map[string]OAuthProviderConfig),
		},
		Webhook: WebhookConfig{
			PollInterval:   DefaultWebhookPollInterval,
			BatchSize:      DefaultWebhookBatchSize,
			AttemptTimeout: DefaultWebhookAttemptTimeout,
			UserAgent:      DefaultWebhookUserAgent,
		},
		SMTP: SMTPConfig{
			SendTimeout:  DefaultSMTPSendTimeout,
			PollInterval: DefaultSMTPPollInterval,
		},
		Web: WebConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
