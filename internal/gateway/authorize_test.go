package gateway

import (
	"net/http"
	"testing"

	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/variables"
)

func TestAuthorize_PublicAlwaysAllows(t *testing.T) {
	route := &router.Route{Visibility: router.VisibilityPublic}
	reg := &registry.ServiceRegistration{ServiceID: "svc"}

	allowed, _ := authorize(route, reg, nil, http.MethodGet)
	if !allowed {
		t.Error("expected a PUBLIC route to allow an anonymous caller")
	}
}

func TestAuthorize_ProtectedRequiresAuthentication(t *testing.T) {
	route := &router.Route{Visibility: router.VisibilityProtected}
	reg := &registry.ServiceRegistration{ServiceID: "svc"}

	allowed, reason := authorize(route, reg, nil, http.MethodGet)
	if allowed {
		t.Fatal("expected a PROTECTED route to deny an anonymous caller")
	}
	if reason == "" {
		t.Error("expected a non-empty denial reason")
	}
}

func TestAuthorize_ProtectedAllowsRequiredPermission(t *testing.T) {
	route := &router.Route{
		Visibility:          router.VisibilityProtected,
		RequiredPermissions: []string{"orders:read"},
	}
	reg := &registry.ServiceRegistration{ServiceID: "svc"}
	identity := &variables.Identity{Permissions: map[string]struct{}{"orders:read": {}}}

	allowed, _ := authorize(route, reg, identity, http.MethodGet)
	if !allowed {
		t.Error("expected the required permission to allow the request")
	}
}

func TestAuthorize_ProtectedFallsBackToServicePolicy(t *testing.T) {
	route := &router.Route{Visibility: router.VisibilityProtected}
	reg := &registry.ServiceRegistration{
		ServiceID: "svc",
		PermissionPolicy: registry.PermissionPolicy{
			"read": {"catalog:browse": {}},
		},
	}
	identity := &variables.Identity{Permissions: map[string]struct{}{"catalog:browse": {}}}

	allowed, _ := authorize(route, reg, identity, http.MethodGet)
	if !allowed {
		t.Error("expected the service policy's read-kind permission to allow a GET")
	}

	// The same identity must not be authorized for a write-kind operation
	// the policy never granted (§3 closed-world invariant).
	allowed, reason := authorize(route, reg, identity, http.MethodPost)
	if allowed {
		t.Fatalf("expected POST to be denied by the closed-world policy, reason=%q", reason)
	}
}

func TestAuthorize_InternalRequiresAdminOrServicePermission(t *testing.T) {
	route := &router.Route{Visibility: router.VisibilityInternal}
	reg := &registry.ServiceRegistration{ServiceID: "billing"}

	denied := &variables.Identity{Permissions: map[string]struct{}{"orders:read": {}}}
	if allowed, _ := authorize(route, reg, denied, http.MethodGet); allowed {
		t.Error("expected an unrelated permission to be denied on an INTERNAL route")
	}

	withAdmin := &variables.Identity{Permissions: map[string]struct{}{"admin": {}}}
	if allowed, _ := authorize(route, reg, withAdmin, http.MethodGet); !allowed {
		t.Error("expected admin to be allowed on an INTERNAL route")
	}

	withInternal := &variables.Identity{Permissions: map[string]struct{}{"internal:billing": {}}}
	if allowed, _ := authorize(route, reg, withInternal, http.MethodGet); !allowed {
		t.Error("expected the service-scoped internal permission to be allowed")
	}
}

func TestOperationKind(t *testing.T) {
	cases := map[string]string{
		http.MethodGet:     "read",
		http.MethodHead:    "read",
		http.MethodOptions: "read",
		http.MethodPost:    "write",
		http.MethodPut:     "write",
		http.MethodPatch:   "write",
		http.MethodDelete:  "delete",
		"CONNECT":          "admin",
	}
	for method, want := range cases {
		if got := operationKind(method); got != want {
			t.Errorf("operationKind(%s) = %q, want %q", method, got, want)
		}
	}
}
