package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRouter_ExactMatch(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{
		Pattern: "/v1/users",
		Methods: []string{"GET"},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	m := rt.Match(req)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Route.ID != "r1" {
		t.Errorf("Route.ID = %q, want r1", m.Route.ID)
	}
}

func TestRouter_ParamMatch(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/users/{id}", Methods: []string{"GET"}})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/42", nil)
	m := rt.Match(req)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.PathParams["id"] != "42" {
		t.Errorf("PathParams[id] = %q, want 42", m.PathParams["id"])
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/users", Methods: []string{"GET"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/users", nil)
	if m := rt.Match(req); m != nil {
		t.Fatal("expected no match for disallowed method")
	}
}

func TestRouter_PrefixMatch(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/files/*"})

	req := httptest.NewRequest(http.MethodGet, "/v1/files/a/b/c.txt", nil)
	m := rt.Match(req)
	if m == nil {
		t.Fatal("expected prefix match")
	}
	if m.Route.ID != "r1" {
		t.Errorf("Route.ID = %q, want r1", m.Route.ID)
	}
}

func TestRouter_MoreSpecificRouteWins(t *testing.T) {
	rt := New()
	rt.AddRoute("generic", "svc-1", EndpointConfig{Pattern: "/v1/files/*"})
	rt.AddRoute("specific", "svc-2", EndpointConfig{Pattern: "/v1/files/public/*"})

	req := httptest.NewRequest(http.MethodGet, "/v1/files/public/logo.png", nil)
	m := rt.Match(req)
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.Route.ID != "specific" {
		t.Errorf("Route.ID = %q, want specific (longer prefix wins)", m.Route.ID)
	}
}

func TestRouter_RemoveRoute(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/users"})

	if !rt.RemoveRoute("r1") {
		t.Fatal("RemoveRoute should report success")
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	if m := rt.Match(req); m != nil {
		t.Fatal("expected no match after removal")
	}
}

func TestRouter_RemoveService(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/a"})
	rt.AddRoute("r2", "svc-1", EndpointConfig{Pattern: "/v1/b"})
	rt.AddRoute("r3", "svc-2", EndpointConfig{Pattern: "/v1/c"})

	rt.RemoveService("svc-1")

	if len(rt.GetRoutes()) != 1 {
		t.Fatalf("expected 1 route left, got %d", len(rt.GetRoutes()))
	}
	if rt.GetRoute("r3") == nil {
		t.Fatal("r3 should still be registered")
	}
}

func TestRouter_NoMatch(t *testing.T) {
	rt := New()
	rt.AddRoute("r1", "svc-1", EndpointConfig{Pattern: "/v1/users"})

	req := httptest.NewRequest(http.MethodGet, "/v2/other", nil)
	if m := rt.Match(req); m != nil {
		t.Fatal("expected no match for unknown path")
	}
}
