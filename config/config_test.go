package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate, got: %v", err)
	}
}

func TestValidate_RejectsRedisModeWithoutAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Mode = "redis"
	cfg.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis mode without addr")
	}
}

func TestValidate_RejectsUnknownJWTAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.Algorithm = "none"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported jwt algorithm")
	}
}

func TestValidate_RequiresJWTSecretForHMAC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.Algorithm = "HS256"
	cfg.JWT.Secret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GW_TEST_LISTEN", ":9999")
	in := []byte("server:\n  listen_addr: \"${GW_TEST_LISTEN}\"\n  fallback: \"${GW_TEST_UNSET:-:8080}\"\n")
	out := expandEnv(in)
	want := "server:\n  listen_addr: \":9999\"\n  fallback: \":8080\"\n"
	if string(out) != want {
		t.Fatalf("expandEnv() = %q, want %q", out, want)
	}
}
