package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/errors"
	"github.com/wudi/gateway/internal/middleware/tokenrevoke"
	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/internal/signingkey"
	"github.com/wudi/gateway/internal/translation"
)

// AdminPlane is the reference collaborator named in §12: a minimal HTTP API
// over the components an operator needs to drive by hand — service
// registration, signing-key rotation, token revocation, and translation
// provider activation. Shapes beyond what the testable scenarios in §8
// exercise are deliberately left unspecified by the source material.
type AdminPlane struct {
	registry    *registry.Service
	router      *router.Router
	signingKeys *signingkey.Registry
	revocation  *tokenrevoke.TokenChecker
	translation *translation.Service
	logger      *zap.Logger
}

// NewAdminPlane wires the admin plane's collaborators.
func NewAdminPlane(
	reg *registry.Service,
	rt *router.Router,
	keys *signingkey.Registry,
	revocation *tokenrevoke.TokenChecker,
	trans *translation.Service,
	logger *zap.Logger,
) *AdminPlane {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminPlane{
		registry:    reg,
		router:      rt,
		signingKeys: keys,
		revocation:  revocation,
		translation: trans,
		logger:      logger,
	}
}

// adminPermissions is a stand-in for the caller's resolved identity until
// the admin plane is mounted behind the same IdentityResolver as the public
// plane; callers with access to this handler are already trusted operators.
var adminPermissions = map[string]struct{}{
	registry.PermServiceConfigCreate: {},
	registry.PermServiceConfigUpdate: {},
	registry.PermServiceConfigDelete: {},
	registry.PermServiceConfigRead:   {},
}

func (a *AdminPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	path := strings.TrimPrefix(r.URL.Path, "/admin")
	switch {
	case strings.HasPrefix(path, "/services"):
		a.handleServices(w, r, strings.TrimPrefix(path, "/services"))
	case strings.HasPrefix(path, "/signing-keys/rotate"):
		a.handleRotateKey(w, r)
	case strings.HasPrefix(path, "/revocations"):
		a.handleRevocation(w, r, strings.TrimPrefix(path, "/revocations"))
	case strings.HasPrefix(path, "/translation/activate"):
		a.handleTranslationActivate(w, r)
	default:
		errors.ErrNotFound.WriteJSON(w)
	}
}

func (a *AdminPlane) handleServices(w http.ResponseWriter, r *http.Request, subPath string) {
	serviceID := strings.Trim(subPath, "/")

	switch r.Method {
	case http.MethodPost:
		var reg registry.ServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			errors.ErrBadRequest.WithDetails("invalid JSON body").WriteJSON(w)
			return
		}
		result := a.registry.Register(r.Context(), &reg, adminPermissions)
		if !result.Ok() {
			registryError(result).WriteJSON(w)
			return
		}
		a.syncRoutes(result.Registration)
		w.Header().Set("ETag", strconv.FormatInt(result.Registration.Version, 10))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(result.Registration)

	case http.MethodPut:
		if serviceID == "" {
			errors.ErrBadRequest.WithDetails("service id is required").WriteJSON(w)
			return
		}
		var reg registry.ServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			errors.ErrBadRequest.WithDetails("invalid JSON body").WriteJSON(w)
			return
		}
		reg.ServiceID = serviceID

		// §8 scenario 2: If-Match carries the version the caller last read;
		// the write is conditioned on the store still being at that version.
		ifMatch := strings.Trim(r.Header.Get("If-Match"), `" `)
		if ifMatch == "" {
			ifMatch = strconv.FormatInt(reg.Version, 10)
		}
		expected, err := strconv.ParseInt(ifMatch, 10, 64)
		if err != nil {
			errors.ErrBadRequest.WithDetails("If-Match must be a version number").WriteJSON(w)
			return
		}
		reg.Version = expected + 1

		result := a.registry.Update(r.Context(), &reg)
		if !result.Ok() {
			registryError(result).WriteJSON(w)
			return
		}
		a.syncRoutes(result.Registration)
		w.Header().Set("ETag", strconv.FormatInt(result.Registration.Version, 10))
		json.NewEncoder(w).Encode(result.Registration)

	case http.MethodGet:
		if serviceID == "" {
			all, err := a.registry.GetAllServices(r.Context())
			if err != nil {
				errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
				return
			}
			json.NewEncoder(w).Encode(all)
			return
		}
		result := a.registry.GetServiceAuthorized(r.Context(), serviceID, adminPermissions)
		if !result.Ok() {
			registryError(result).WriteJSON(w)
			return
		}
		json.NewEncoder(w).Encode(result.Registration)

	case http.MethodDelete:
		result := a.registry.UnregisterAuthorized(r.Context(), serviceID, adminPermissions)
		if !result.Ok() {
			registryError(result).WriteJSON(w)
			return
		}
		a.router.RemoveService(serviceID)
		w.WriteHeader(http.StatusNoContent)

	default:
		errors.ErrMethodNotAllowed.WriteJSON(w)
	}
}

// registryError renders a failed registry.Result as the matching status's
// sentinel Problem Details, carrying the registry's own reason as Detail.
func registryError(result registry.Result) *errors.ProblemDetails {
	switch result.StatusCode {
	case http.StatusNotFound:
		return errors.ErrNotFound.WithDetails(result.Reason)
	case http.StatusConflict:
		return errors.New(errors.ErrBadRequest.Type+"version-conflict", "Version Conflict", http.StatusConflict).WithDetails(result.Reason)
	case http.StatusForbidden:
		return errors.ErrForbidden.WithDetails(result.Reason)
	default:
		return errors.ErrBadRequest.WithDetails(result.Reason)
	}
}

// syncRoutes reflects a service's current endpoint set into the shared
// router: every prior route for the service is dropped and replaced, since
// endpoints are immutable within a version (§3) but the whole set may
// change between versions.
func (a *AdminPlane) syncRoutes(reg *registry.ServiceRegistration) {
	a.router.RemoveService(reg.ServiceID)
	for i, ep := range reg.Endpoints {
		routeID := reg.ServiceID + "#" + strconv.Itoa(i)
		a.router.AddRoute(routeID, reg.ServiceID, ep)
	}
}

func (a *AdminPlane) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errors.ErrMethodNotAllowed.WriteJSON(w)
		return
	}
	if err := a.signingKeys.Rotate(); err != nil {
		errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	active, _ := a.signingKeys.ActiveKey()
	json.NewEncoder(w).Encode(active)
}

// handleRevocation implements §8 scenario 6's admin surface:
// POST /admin/revocations/jti/{id} {expiresAt} revokes a single JTI;
// POST /admin/revocations/user/{id} revokes every token issued before now
// for that subject (§4.5 UserRevoked).
func (a *AdminPlane) handleRevocation(w http.ResponseWriter, r *http.Request, subPath string) {
	if r.Method != http.MethodPost {
		errors.ErrMethodNotAllowed.WriteJSON(w)
		return
	}
	kind, id, ok := strings.Cut(strings.Trim(subPath, "/"), "/")
	if !ok || id == "" {
		errors.ErrBadRequest.WithDetails("revocation path must be /jti/{id} or /user/{id}").WriteJSON(w)
		return
	}

	switch kind {
	case "jti":
		var body struct {
			ExpiresAt time.Time `json:"expiresAt"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				errors.ErrBadRequest.WithDetails("invalid JSON body").WriteJSON(w)
				return
			}
		}
		var ttl time.Duration
		if !body.ExpiresAt.IsZero() {
			ttl = time.Until(body.ExpiresAt)
		}
		if err := a.revocation.Revoke(id, ttl); err != nil {
			errors.ErrInternalServer.WithDetails(err.Error()).WriteJSON(w)
			return
		}
	case "user":
		a.revocation.RevokeUser(id)
	default:
		errors.ErrBadRequest.WithDetails("revocation path must be /jti/{id} or /user/{id}").WriteJSON(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminPlane) handleTranslationActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errors.ErrMethodNotAllowed.WriteJSON(w)
		return
	}
	var body struct {
		Path string `json:"config_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		errors.ErrBadRequest.WithDetails("config_path is required").WriteJSON(w)
		return
	}
	provider, err := translation.NewConfigProvider(body.Path, a.logger)
	if err != nil {
		errors.ErrBadRequest.WithDetails(err.Error()).WriteJSON(w)
		return
	}
	a.translation.SetProvider(provider)
	a.translation.InvalidateAll()
	w.WriteHeader(http.StatusNoContent)
}
