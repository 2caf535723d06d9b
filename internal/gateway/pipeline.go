package gateway

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/middleware/ratelimit"
	"github.com/wudi/gateway/internal/proxy"
	"github.com/wudi/gateway/internal/registry"
	"github.com/wudi/gateway/internal/router"
	"github.com/wudi/gateway/variables"
)

// Pipeline implements the Gateway Pipeline Orchestrator (§4.10): the nine
// ordered stages every inbound request passes through before a response is
// written. It holds no per-request state; every method call is independent.
type Pipeline struct {
	reservedPaths []string
	registry      *registry.Service
	router        *router.Router
	lockout       *ratelimit.LockoutTracker
	identity      *IdentityResolver
	proxy         *proxy.Proxy
	logger        *zap.Logger
}

// NewPipeline wires the orchestrator's collaborators.
func NewPipeline(
	reservedPaths []string,
	reg *registry.Service,
	rt *router.Router,
	lockout *ratelimit.LockoutTracker,
	identity *IdentityResolver,
	px *proxy.Proxy,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		reservedPaths: reservedPaths,
		registry:      reg,
		router:        rt,
		lockout:       lockout,
		identity:      identity,
		proxy:         px,
		logger:        logger,
	}
}

// Handle runs the nine-stage pipeline (§4.10) and returns the closed-sum
// outcome. On ResultSuccess the response has already been streamed to w by
// the proxy; every other Kind has not written anything yet, leaving the
// caller (the HTTP handler) free to render it as a Problem Details document.
func (p *Pipeline) Handle(w http.ResponseWriter, r *http.Request) GatewayResult {
	serviceID, remainder := firstSegment(r.URL.Path)

	// Stage: reserved-path check (§2, §6) — admin/gateway/q never reach the
	// registry; the caller is expected to route them to the admin plane
	// before invoking the pipeline at all.
	if isReserved(serviceID, p.reservedPaths) {
		return failReservedPath()
	}

	reg, ok := p.registry.GetService(r.Context(), serviceID)
	if !ok {
		return failServiceNotFound()
	}

	subReq := r.Clone(r.Context())
	subReq.URL.Path = remainder

	match := p.router.Match(subReq)
	if match == nil || match.Route.ServiceID != serviceID {
		return failRouteNotFound()
	}
	route := match.Route

	ip := variables.ExtractClientIP(r)
	ipKey := ratelimit.LockoutKey{Kind: ratelimit.LockoutKeyIP, Value: ip}
	if p.lockout != nil && p.lockout.IsLockedOut(ipKey) {
		return failForbidden("rate-limited", retryAfterSeconds)
	}

	outcome := p.identity.Resolve(r)
	if !outcome.Ok {
		if p.lockout != nil {
			p.lockout.RecordFailure(ipKey)
		}
		return failUnauthorized(outcome.Reason)
	}
	if p.lockout != nil {
		p.lockout.ClearFailures(ipKey)
	}

	if route.Visibility != router.VisibilityPublic && outcome.Identity == nil {
		return failUnauthorized("authentication required")
	}

	allowed, reason := authorize(route, reg, outcome.Identity, r.Method)
	if !allowed {
		return failForbidden(reason, 0)
	}

	p.proxy.Forward(w, subReq, reg.ServiceID, reg.BaseURL, subReq.URL.Path)
	return success(http.StatusOK)
}

// retryAfterSeconds is the fixed Retry-After advertised on lockout-triggered
// 429s; the lockout's own escalating duration is internal bookkeeping the
// client isn't told exactly.
const retryAfterSeconds = 30
