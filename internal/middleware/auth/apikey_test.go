package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/gateway/config"
)

func newTestAPIKeyAuth(t *testing.T) (*APIKeyAuth, *MemoryKeyStore) {
	t.Helper()
	store := NewMemoryKeyStore(time.Hour)
	cfg := config.APIKeyConfig{KeyLength: 16, KeyPrefix: "gwk_", HashAlgo: "sha256"}
	return NewAPIKeyAuth(cfg, store), store
}

func TestAPIKeyAuth(t *testing.T) {
	auth, _ := newTestAPIKeyAuth(t)

	raw, err := auth.GenerateKey("client-1", "primary", []string{"orders:read"}, 0)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	t.Run("ValidAPIKey", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("X-API-Key", raw)

		identity, err := auth.Authenticate(req)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if identity.ClientID != "client-1" {
			t.Errorf("expected client_id 'client-1', got '%s'", identity.ClientID)
		}
		if identity.AuthType != "api_key" {
			t.Errorf("expected auth_type 'api_key', got '%s'", identity.AuthType)
		}
		if !identity.HasPermission("orders:read") {
			t.Errorf("expected orders:read permission, got %v", identity.Permissions)
		}
	})

	t.Run("InvalidAPIKey", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("X-API-Key", "invalid-key")

		if _, err := auth.Authenticate(req); err == nil {
			t.Error("expected error for invalid key")
		}
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/test", nil)

		if _, err := auth.Authenticate(req); err == nil {
			t.Error("expected error for missing key")
		}
	})
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	auth, _ := newTestAPIKeyAuth(t)
	raw, err := auth.GenerateKey("test-client", "", nil, 0)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	t.Run("RequiredWithValidKey", func(t *testing.T) {
		handler := auth.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/api/test", nil)
		req.Header.Set("X-API-Key", raw)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("RequiredWithoutKey", func(t *testing.T) {
		handler := auth.Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/api/test", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rr.Code)
		}
	})

	t.Run("OptionalWithoutKey", func(t *testing.T) {
		handler := auth.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/api/test", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})
}

func TestAPIKeyRevoke(t *testing.T) {
	auth, _ := newTestAPIKeyAuth(t)
	raw, err := auth.GenerateKey("dynamic-client", "dynamic", nil, 0)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("X-API-Key", raw)

	if _, err := auth.Authenticate(req); err != nil {
		t.Errorf("expected no error before revoke, got %v", err)
	}

	if err := auth.RevokeKey(raw); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	if _, err := auth.Authenticate(req); err == nil {
		t.Error("expected error after revoking key")
	}
}

func TestAPIKeyExpiry(t *testing.T) {
	auth, _ := newTestAPIKeyAuth(t)
	raw, err := auth.GenerateKey("short-lived", "", nil, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("X-API-Key", raw)

	if _, err := auth.Authenticate(req); err == nil {
		t.Error("expected error for expired key")
	}
}
