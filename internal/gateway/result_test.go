package gateway

import (
	"net/http/httptest"
	"testing"
)

func TestFirstSegment(t *testing.T) {
	cases := []struct {
		path          string
		wantService   string
		wantRemainder string
	}{
		{"/foo/bar/baz", "foo", "/bar/baz"},
		{"/foo", "foo", "/"},
		{"/", "", "/"},
	}
	for _, c := range cases {
		service, remainder := firstSegment(c.path)
		if service != c.wantService || remainder != c.wantRemainder {
			t.Errorf("firstSegment(%q) = (%q, %q), want (%q, %q)",
				c.path, service, remainder, c.wantService, c.wantRemainder)
		}
	}
}

func TestIsReserved(t *testing.T) {
	reserved := []string{"admin", "gateway", "q"}
	for _, id := range []string{"admin", "Admin", "gateway", "q"} {
		if !isReserved(id, reserved) {
			t.Errorf("expected %q to be reserved", id)
		}
	}
	if isReserved("orders", reserved) {
		t.Error("expected a registered service id not to be reserved")
	}
}

func TestWriteResult_NotFoundKinds(t *testing.T) {
	for _, kind := range []ResultKind{ResultRouteNotFound, ResultServiceNotFound, ResultReservedPath} {
		rec := httptest.NewRecorder()
		writeResult(rec, GatewayResult{Kind: kind, Reason: "nope"})
		if rec.Code != 404 {
			t.Errorf("kind %v: status = %d, want 404", kind, rec.Code)
		}
	}
}

func TestWriteResult_Unauthorized(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResult(rec, failUnauthorized("missing credential"))
	if rec.Code != 401 {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected a WWW-Authenticate header on 401")
	}
}

func TestWriteResult_ForbiddenRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResult(rec, failForbidden("rate-limited", 30))
	if rec.Code != 429 {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", rec.Header().Get("Retry-After"))
	}
}

func TestWriteResult_ForbiddenWithoutRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResult(rec, failForbidden("insufficient permission", 0))
	if rec.Code != 403 {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Error("expected no Retry-After header on a plain 403")
	}
}

func TestWriteResult_BadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	writeResult(rec, failBadRequest("malformed request"))
	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
