// Package config loads and validates the gateway's YAML configuration.
package config

import (
	"time"
)

// Config is the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Resiliency  ResiliencyConfig  `yaml:"resiliency"`
	JWT         JWTConfig         `yaml:"jwt"`
	JWKS        JWKSConfig        `yaml:"jwks"`
	KeyRotation KeyRotationConfig `yaml:"key_rotation"`
	APIKey      APIKeyConfig      `yaml:"api_key"`
	Session     SessionConfig     `yaml:"session"`
	Translation TranslationConfig `yaml:"translation"`
	Revocation  RevocationConfig  `yaml:"revocation"`
	AuthLimiter AuthLimiterConfig `yaml:"auth_rate_limit"`
	Registry    RegistryConfig    `yaml:"registry"`
	Proxy       ProxyConfig       `yaml:"proxy"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Redis       RedisConfig       `yaml:"redis"`
	Admin       AdminConfig       `yaml:"admin"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// ReservedPaths names the first path segments that fall to the admin
	// plane instead of the registry (§2 data-flow, §6 gateway.reserved-paths).
	ReservedPaths []string  `yaml:"reserved_paths"`
	TLS           TLSConfig `yaml:"tls"`
}

// TLSConfig configures manual TLS termination on the gateway listener.
// The gateway does not automate certificate issuance (§1 Non-goals).
type TLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	CertFile     string `yaml:"cert_file"`
	KeyFile      string `yaml:"key_file"`
	ClientAuth   string `yaml:"client_auth"` // "", "request", "require", "verify"
	ClientCAFile string `yaml:"client_ca_file"`
}

// LoggingConfig configures the zap/lumberjack logging stack.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // "stdout", "stderr", or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig selects and configures the Storage Ports (§4.1) providers.
type StorageConfig struct {
	// Mode is "memory" or "redis". Redis providers rank above the memory
	// fallback (see DESIGN.md provider-priority decision) when enabled.
	Mode              string        `yaml:"mode"`
	OperationTimeout  time.Duration `yaml:"operation_timeout"`
}

// ResiliencyConfig holds cross-cutting timeout/fail-open settings.
type ResiliencyConfig struct {
	RedisOperationTimeout time.Duration `yaml:"redis_operation_timeout"`
}

// JWTConfig configures local HMAC/RSA verification for self-issued tokens.
type JWTConfig struct {
	Secret     string `yaml:"secret" redact:"true"`
	PublicKey  string `yaml:"public_key"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
	Algorithm  string `yaml:"algorithm"` // HS256, RS256, ...
}

// JWKSConfig configures the JWKS Cache & OIDC Validator (§4.3).
type JWKSConfig struct {
	Issuers []JWKSIssuerConfig `yaml:"issuers"`
	CacheTTL time.Duration      `yaml:"cache_ttl"`
}

// JWKSIssuerConfig binds an issuer to its discovery/JWKS endpoint.
type JWKSIssuerConfig struct {
	Issuer          string            `yaml:"issuer"`
	JWKSURL         string            `yaml:"jwks_url"`
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
	Audiences       []string          `yaml:"audiences"`
	ClaimsMapping   map[string]string `yaml:"claims_mapping"` // external claim name -> internal claim name
}

// KeyRotationConfig configures the Signing-Key Registry's rotation scheduler (§4.2).
type KeyRotationConfig struct {
	RotationInterval  time.Duration `yaml:"rotation_interval"`
	DeprecationWindow time.Duration `yaml:"deprecation_window"`
	RetirementWindow  time.Duration `yaml:"retirement_window"`
}

// APIKeyConfig configures API key issuance and hashing (§3 ApiKey entity).
type APIKeyConfig struct {
	KeyLength   int    `yaml:"key_length"`
	KeyPrefix   string `yaml:"key_prefix"`
	HashAlgo    string `yaml:"hash_algo"` // "sha256" or "scrypt"
}

// SessionConfig configures session-cookie identity resolution (§4.7).
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

// TranslationConfig configures Token Translation (§4.4).
type TranslationConfig struct {
	CacheSize  int                          `yaml:"cache_size"`
	CacheTTL   time.Duration                `yaml:"cache_ttl"`
	ConfigFile *ConfigTranslationFileConfig `yaml:"config_file,omitempty"`
	Remote     *RemoteTranslationConfig     `yaml:"remote,omitempty"`
}

// RemoteTranslationConfig is the optional remote provider (§4.4 "remote" source).
type RemoteTranslationConfig struct {
	URL      string        `yaml:"url"`
	Timeout  time.Duration `yaml:"timeout"`
	APIKey   string        `yaml:"api_key" redact:"true"`
	FailMode string        `yaml:"fail_mode"` // "deny" or "allow_empty"
}

// ConfigTranslationFileConfig points the "config" provider at a schema-driven,
// hot-reloaded translation ruleset file (§4.4 "config" source).
type ConfigTranslationFileConfig struct {
	Path string `yaml:"path"`
}

// RevocationConfig configures the Revocation Engine (§4.5).
type RevocationConfig struct {
	BloomExpectedItems int           `yaml:"bloom_expected_items"`
	BloomFalsePositive float64       `yaml:"bloom_false_positive"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	PubSubChannel      string        `yaml:"pubsub_channel"`
	DefaultTTL         time.Duration `yaml:"default_ttl"`
	// CheckThreshold: tokens whose remaining lifetime falls below this skip
	// the revocation check entirely (§4.5, §8 boundary behavior).
	CheckThreshold time.Duration `yaml:"check_threshold"`
}

// AuthLimiterConfig configures the Auth Rate Limiter / Lockout (§4.6).
type AuthLimiterConfig struct {
	Window          time.Duration `yaml:"window"`
	MaxFailures     int           `yaml:"max_failures"`
	BaseLockout     time.Duration `yaml:"base_lockout"`
	LockoutBackoff  float64       `yaml:"lockout_backoff"` // validated (>= 1) but not read; the lockout tracker always multiplies by 1.5
	MaxLockout      time.Duration `yaml:"max_lockout"`
}

// RegistryConfig configures the Service Registry (§4.8).
type RegistryConfig struct {
	Mode            string        `yaml:"mode"` // "memory" or "redis"
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
}

// ProxyConfig configures the Proxy Transport (§4.11).
type ProxyConfig struct {
	DialTimeout           time.Duration        `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration        `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration        `yaml:"response_header_timeout"`
	IdleConnTimeout       time.Duration        `yaml:"idle_conn_timeout"`
	MaxIdleConns          int                  `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int                  `yaml:"max_idle_conns_per_host"`
	EnableHTTP3           bool                 `yaml:"enable_http3"`
	SSRFProtection        SSRFProtectionConfig `yaml:"ssrf_protection"`
}

// SSRFProtectionConfig restricts outbound proxy connections to safe targets.
type SSRFProtectionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AllowedCIDRs []string `yaml:"allowed_cidrs"`
	DenyPrivate  bool     `yaml:"deny_private"`
}

// WebSocketConfig configures the WebSocket Path (§4.12).
type WebSocketConfig struct {
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	ConnectionsPerMin float64       `yaml:"connection_rate"`
	ConnectionBurst   int           `yaml:"connection_burst"`
	MessagesPerSecond float64       `yaml:"message_rate"`
	MessageBurst      int           `yaml:"message_burst"`
}

// RedisConfig is the shared Redis connection used by every storage provider
// that chooses the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password" redact:"true"`
	DB       int    `yaml:"db"`
}

// AdminConfig configures the reference admin-plane collaborator (§12).
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// ShutdownConfig controls graceful-shutdown draining (§12).
type ShutdownConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns the configuration used when no file is supplied and
// no keys are overridden: a single in-memory gateway with every storage
// provider running in memory mode.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:    ":8080",
			ReservedPaths: []string{"admin", "gateway", "q"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Mode:             "memory",
			OperationTimeout: 200 * time.Millisecond,
		},
		Resiliency: ResiliencyConfig{
			RedisOperationTimeout: 200 * time.Millisecond,
		},
		JWT: JWTConfig{
			Algorithm: "HS256",
		},
		JWKS: JWKSConfig{
			CacheTTL: 15 * time.Minute,
		},
		KeyRotation: KeyRotationConfig{
			RotationInterval:  24 * time.Hour,
			DeprecationWindow: 1 * time.Hour,
			RetirementWindow:  24 * time.Hour,
		},
		APIKey: APIKeyConfig{
			KeyLength: 32,
			KeyPrefix: "gwk_",
			HashAlgo:  "sha256",
		},
		Session: SessionConfig{
			CookieName: "gw_session",
			TTL:        24 * time.Hour,
		},
		Translation: TranslationConfig{
			CacheSize: 10_000,
			CacheTTL:  5 * time.Minute,
		},
		Revocation: RevocationConfig{
			BloomExpectedItems: 1_000_000,
			BloomFalsePositive: 0.01,
			CacheTTL:           1 * time.Minute,
			PubSubChannel:      "gw:revocation",
			DefaultTTL:         24 * time.Hour,
			CheckThreshold:     30 * time.Second,
		},
		AuthLimiter: AuthLimiterConfig{
			Window:         5 * time.Minute,
			MaxFailures:    5,
			BaseLockout:    1 * time.Minute,
			LockoutBackoff: 1.5,
			MaxLockout:     1 * time.Hour,
		},
		Registry: RegistryConfig{
			Mode:      "memory",
			CacheSize: 1_000,
			CacheTTL:  1 * time.Minute,
		},
		Proxy: ProxyConfig{
			DialTimeout:           5 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			SSRFProtection: SSRFProtectionConfig{
				Enabled:     true,
				DenyPrivate: true,
			},
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    4096,
			WriteBufferSize:   4096,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      10 * time.Second,
			PingInterval:      30 * time.Second,
			PongTimeout:       60 * time.Second,
			ConnectionsPerMin: 10,
			ConnectionBurst:   5,
			MessagesPerSecond: 100,
			MessageBurst:      50,
		},
		Admin: AdminConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: 30 * time.Second,
		},
	}
}
