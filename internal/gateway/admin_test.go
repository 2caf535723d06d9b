package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/registry/memory"
	"github.com/wudi/gateway/internal/router"
)

func newTestAdminPlane(t *testing.T) *AdminPlane {
	t.Helper()
	reg, err := registry.NewService(memory.New(), 16)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewAdminPlane(reg, router.New(), nil, nil, nil, nil)
}

func doAdmin(plane *AdminPlane, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	plane.ServeHTTP(rec, req)
	return rec
}

// TestAdminPlane_RegisterFetchUnregister is §8 scenario 1.
func TestAdminPlane_RegisterFetchUnregister(t *testing.T) {
	plane := newTestAdminPlane(t)

	create := doAdmin(plane, http.MethodPost, "/admin/services", map[string]any{
		"service_id": "foo",
		"base_url":   "http://u:8080",
	}, nil)
	if create.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201, body=%s", create.Code, create.Body.String())
	}
	if create.Header().Get("ETag") != "1" {
		t.Errorf("ETag = %q, want 1", create.Header().Get("ETag"))
	}

	get := doAdmin(plane, http.MethodGet, "/admin/services/foo", nil, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", get.Code)
	}

	del := doAdmin(plane, http.MethodDelete, "/admin/services/foo", nil, nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", del.Code)
	}

	getAfterDelete := doAdmin(plane, http.MethodGet, "/admin/services/foo", nil, nil)
	if getAfterDelete.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", getAfterDelete.Code)
	}
}

// TestAdminPlane_OptimisticLockConflict is §8 scenario 2: two clients read
// the same service at version=3; each PUT with If-Match: 3.
func TestAdminPlane_OptimisticLockConflict(t *testing.T) {
	plane := newTestAdminPlane(t)
	doAdmin(plane, http.MethodPost, "/admin/services", map[string]any{
		"service_id": "foo",
		"base_url":   "http://u:8080",
	}, nil)
	// Advance to version 3 the way the scenario assumes both readers observed.
	doAdmin(plane, http.MethodPut, "/admin/services/foo", map[string]any{"base_url": "http://u:8080"},
		map[string]string{"If-Match": "1"})
	doAdmin(plane, http.MethodPut, "/admin/services/foo", map[string]any{"base_url": "http://u:8080"},
		map[string]string{"If-Match": "2"})

	first := doAdmin(plane, http.MethodPut, "/admin/services/foo", map[string]any{"base_url": "http://u2:9090"},
		map[string]string{"If-Match": "3"})
	if first.Code != http.StatusOK {
		t.Fatalf("first PUT status = %d, want 200, body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get("ETag") != "4" {
		t.Errorf("first ETag = %q, want 4", first.Header().Get("ETag"))
	}

	second := doAdmin(plane, http.MethodPut, "/admin/services/foo", map[string]any{"base_url": "http://u3:9191"},
		map[string]string{"If-Match": "3"})
	if second.Code != http.StatusConflict {
		t.Fatalf("second PUT status = %d, want 409, body=%s", second.Code, second.Body.String())
	}

	var problem map[string]any
	json.Unmarshal(second.Body.Bytes(), &problem)
	if problem["detail"] != "Version mismatch: expected 4, got 3" {
		t.Errorf("detail = %v, want %q", problem["detail"], "Version mismatch: expected 4, got 3")
	}
}

func TestAdminPlane_UnknownPathIs404(t *testing.T) {
	plane := newTestAdminPlane(t)
	rec := doAdmin(plane, http.MethodGet, "/admin/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
