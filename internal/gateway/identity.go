package gateway

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/middleware/auth"
	"github.com/wudi/gateway/internal/middleware/tokenrevoke"
	"github.com/wudi/gateway/internal/oidc"
	"github.com/wudi/gateway/internal/translation"
	"github.com/wudi/gateway/variables"
)

// IdentityResolver runs the §4.7 credential chain in order: API key, then
// bearer JWT (OIDC validation, translation, role expansion, revocation
// check), then session cookie. The first credential present wins; it is
// never allowed to fail over to the next kind on its own rejection.
type IdentityResolver struct {
	apiKey      *auth.APIKeyAuth
	oidcValidator *oidc.Validator
	translator  *translation.Service
	roles       RoleRepository
	revocation  *tokenrevoke.TokenChecker
	sessions    SessionRepository
	cookieName  string
	logger      *zap.Logger
}

// NewIdentityResolver wires the resolver's collaborators. Any of apiKeyAuth,
// oidcValidator, or sessions may be nil to disable that credential path.
func NewIdentityResolver(
	apiKeyAuth *auth.APIKeyAuth,
	oidcValidator *oidc.Validator,
	translator *translation.Service,
	roles RoleRepository,
	revocation *tokenrevoke.TokenChecker,
	sessions SessionRepository,
	cookieName string,
	logger *zap.Logger,
) *IdentityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{
		apiKey:        apiKeyAuth,
		oidcValidator: oidcValidator,
		translator:    translator,
		roles:         roles,
		revocation:    revocation,
		sessions:      sessions,
		cookieName:    cookieName,
		logger:        logger,
	}
}

// identityOutcome is the closed sum the resolver returns: exactly one of
// Identity or Reason is meaningful, selected by Ok.
type identityOutcome struct {
	Identity *variables.Identity
	Ok       bool
	Reason   string
}

func identityOK(id *variables.Identity) identityOutcome { return identityOutcome{Identity: id, Ok: true} }

func identityFail(reason string) identityOutcome { return identityOutcome{Reason: reason} }

// Resolve runs the credential chain. A request with no credential at all
// resolves as anonymous (nil Identity, Ok true) — authorization then decides
// whether the route requires one.
func (ir *IdentityResolver) Resolve(r *http.Request) identityOutcome {
	if ir.apiKey != nil && ir.apiKey.IsEnabled() {
		if hasAPIKey(r) {
			id, err := ir.apiKey.Authenticate(r)
			if err != nil {
				return identityFail("invalid api key: " + err.Error())
			}
			return identityOK(id)
		}
	}

	if bearer := bearerToken(r); bearer != "" {
		return ir.resolveBearer(r, bearer)
	}

	if ir.sessions != nil && ir.cookieName != "" {
		if cookie, err := r.Cookie(ir.cookieName); err == nil && cookie.Value != "" {
			return ir.resolveSession(cookie.Value)
		}
	}

	return identityOK(nil)
}

func (ir *IdentityResolver) resolveBearer(r *http.Request, rawToken string) identityOutcome {
	if ir.oidcValidator == nil {
		return identityFail("bearer tokens not configured")
	}

	result := ir.oidcValidator.Validate(r.Context(), rawToken)
	switch result.Kind {
	case oidc.KindNoToken:
		return identityOK(nil)
	case oidc.KindInvalid:
		return identityFail(result.Reason)
	}

	if ir.revocation != nil && !ir.revocation.Check(r) {
		return identityFail("token has been revoked")
	}

	id := &variables.Identity{
		AuthType:    "jwt",
		Subject:     result.Subject,
		Claims:      result.Claims,
		Permissions: make(map[string]struct{}),
		Roles:       make(map[string]struct{}),
		ExpiresAt:   result.ExpiresAt,
		Attributes:  make(map[string]string),
	}

	if ir.translator != nil {
		translated, err := ir.translator.Translate(r.Context(), result.Issuer, result.Subject, result.Claims)
		if err != nil {
			ir.logger.Warn("translation failed", zap.Error(err), zap.String("subject", result.Subject))
		} else {
			for role := range translated.Roles {
				id.Roles[role] = struct{}{}
			}
			for perm := range translated.Permissions {
				id.Permissions[perm] = struct{}{}
			}
			for k, v := range translated.Attributes {
				id.Attributes[k] = v
			}
		}
	}

	expandRoles(ir.roles, id.Roles, id.Permissions)

	return identityOK(id)
}

func (ir *IdentityResolver) resolveSession(sessionID string) identityOutcome {
	sess, ok := ir.sessions.Get(sessionID)
	if !ok {
		return identityFail("session not found or expired")
	}
	ir.sessions.Touch(sessionID)

	perms := make(map[string]struct{}, len(sess.Permissions))
	for p := range sess.Permissions {
		perms[p] = struct{}{}
	}

	return identityOK(&variables.Identity{
		AuthType:    "session",
		Subject:     sess.UserID,
		Claims:      sess.Claims,
		Permissions: perms,
		Roles:       make(map[string]struct{}),
		ExpiresAt:   sess.ExpiresAt,
		Attributes:  make(map[string]string),
	})
}

func hasAPIKey(r *http.Request) bool {
	return r.Header.Get("X-API-Key") != ""
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
