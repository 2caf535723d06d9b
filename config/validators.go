package config

import "fmt"

// Validate checks the configuration for internally inconsistent values.
// It does not reach out to any network resource — that belongs to each
// component's own startup healthcheck.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Storage.Mode != "memory" && c.Storage.Mode != "redis" {
		return fmt.Errorf("storage.mode must be %q or %q, got %q", "memory", "redis", c.Storage.Mode)
	}
	if c.Storage.Mode == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when storage.mode is %q", "redis")
	}
	if c.Registry.Mode != "memory" && c.Registry.Mode != "redis" {
		return fmt.Errorf("registry.mode must be %q or %q, got %q", "memory", "redis", c.Registry.Mode)
	}
	switch c.JWT.Algorithm {
	case "HS256", "HS384", "HS512":
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required for algorithm %q", c.JWT.Algorithm)
		}
	case "RS256", "RS384", "RS512":
		if c.JWT.PublicKey == "" {
			return fmt.Errorf("jwt.public_key is required for algorithm %q", c.JWT.Algorithm)
		}
	default:
		return fmt.Errorf("jwt.algorithm %q is not supported", c.JWT.Algorithm)
	}
	if c.Revocation.BloomFalsePositive <= 0 || c.Revocation.BloomFalsePositive >= 1 {
		return fmt.Errorf("revocation.bloom_false_positive must be in (0, 1), got %v", c.Revocation.BloomFalsePositive)
	}
	if c.AuthLimiter.MaxFailures <= 0 {
		return fmt.Errorf("auth_rate_limit.max_failures must be positive")
	}
	if c.AuthLimiter.LockoutBackoff < 1 {
		return fmt.Errorf("auth_rate_limit.lockout_backoff must be >= 1")
	}
	return nil
}
