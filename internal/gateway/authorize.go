package gateway

import (
	"net/http"

	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/variables"
)

// operationKind classifies an HTTP method into the operation-kind a
// service's PermissionPolicy is keyed by. Not spelled out by name in the
// glossary; read/write/delete/admin is the smallest vocabulary that covers
// every standard method without collapsing GET and mutation semantics.
func operationKind(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "write"
	case http.MethodDelete:
		return "delete"
	default:
		return "admin"
	}
}

// authorize implements §4.10 step 7. route and reg describe the matched
// endpoint and its owning service; identity is nil for anonymous callers.
func authorize(route *router.Route, reg *registry.ServiceRegistration, identity *variables.Identity, method string) (allowed bool, reason string) {
	switch route.Visibility {
	case router.VisibilityPublic:
		return true, ""

	case router.VisibilityInternal:
		if identity == nil {
			return false, "internal endpoint requires authentication"
		}
		if identity.HasPermission("admin") || identity.HasPermission("internal:"+reg.ServiceID) {
			return true, ""
		}
		return false, "internal endpoint requires admin or internal-service permission"

	case router.VisibilityProtected:
		if identity == nil {
			return false, "protected endpoint requires authentication"
		}
		for _, perm := range route.RequiredPermissions {
			if identity.HasPermission(perm) {
				return true, ""
			}
		}
		kind := operationKind(method)
		for perm := range identity.Permissions {
			if reg.PermissionPolicy.Allows(kind, perm) {
				return true, ""
			}
		}
		return false, "caller lacks a required or policy-granted permission"

	default:
		return false, "unknown endpoint visibility"
	}
}
