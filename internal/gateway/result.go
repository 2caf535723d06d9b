// Package gateway implements the Gateway Pipeline Orchestrator (§4.10):
// the top-level request handler that composes the Service Registry, Router,
// Auth Rate Limiter, Identity Resolver, Authorization Engine, and Proxy
// Transport into a single closed-sum GatewayResult per request.
package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/gateway/internal/errors"
)

// GatewayRequest is the parsed request envelope the pipeline operates on
// (§3: GatewayRequest / GatewayResult).
type GatewayRequest struct {
	Method  string
	Path    string
	Headers http.Header
	URI     string
	Body    *http.Request // the original request carries the body/context
}

// ResultKind discriminates GatewayResult's closed sum (§4.10 step 9).
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultRouteNotFound
	ResultServiceNotFound
	ResultReservedPath
	ResultUnauthorized
	ResultForbidden
	ResultBadRequest
	ResultError
)

// GatewayResult is the pipeline's closed-sum outcome. Exactly the fields
// relevant to Kind are populated.
type GatewayResult struct {
	Kind ResultKind

	// Success payload (already written to the client by Forward; present
	// here only so callers/tests can assert on the terminal state).
	Status int

	// Failure payload.
	Reason        string
	RetryAfter    int // seconds; set when Kind==Forbidden due to rate limiting
	WWWAuthenticate string
}

func success(status int) GatewayResult { return GatewayResult{Kind: ResultSuccess, Status: status} }

func failRouteNotFound() GatewayResult { return GatewayResult{Kind: ResultRouteNotFound} }

func failServiceNotFound() GatewayResult { return GatewayResult{Kind: ResultServiceNotFound} }

func failReservedPath() GatewayResult { return GatewayResult{Kind: ResultReservedPath} }

func failUnauthorized(reason string) GatewayResult {
	return GatewayResult{Kind: ResultUnauthorized, Reason: reason, WWWAuthenticate: `Bearer realm="gateway"`}
}

func failForbidden(reason string, retryAfter int) GatewayResult {
	return GatewayResult{Kind: ResultForbidden, Reason: reason, RetryAfter: retryAfter}
}

func failBadRequest(reason string) GatewayResult {
	return GatewayResult{Kind: ResultBadRequest, Reason: reason}
}

func failError(reason string) GatewayResult {
	return GatewayResult{Kind: ResultError, Reason: reason}
}

// firstSegment splits the path's first segment (the serviceId, §2 data-flow)
// from the remainder (the path the router matches against).
func firstSegment(path string) (serviceID, remainder string) {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.IndexByte(trimmed, '/')
	if idx == -1 {
		return trimmed, "/"
	}
	return trimmed[:idx], trimmed[idx:]
}

// writeResult renders every non-success GatewayResult kind as the RFC 7807
// Problem Details document §4.10 step 9/§7 calls for.
func writeResult(w http.ResponseWriter, result GatewayResult) {
	switch result.Kind {
	case ResultRouteNotFound, ResultServiceNotFound, ResultReservedPath:
		errors.ErrNotFound.WithDetails(result.Reason).WriteJSON(w)
	case ResultUnauthorized:
		if result.WWWAuthenticate != "" {
			w.Header().Set("WWW-Authenticate", result.WWWAuthenticate)
		}
		errors.ErrUnauthorized.WithDetails(result.Reason).WriteJSON(w)
	case ResultForbidden:
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			errors.ErrTooManyRequests.WithDetails(result.Reason).WriteJSON(w)
			return
		}
		errors.ErrForbidden.WithDetails(result.Reason).WriteJSON(w)
	case ResultBadRequest:
		errors.ErrBadRequest.WithDetails(result.Reason).WriteJSON(w)
	default:
		errors.ErrInternalServer.WithDetails(result.Reason).WriteJSON(w)
	}
}

// isReserved reports whether serviceID is one of the configured reserved
// first-segment names (§2, §6 gateway.reserved-paths): admin, gateway, q
// fall to the admin plane before any registry lookup.
func isReserved(serviceID string, reserved []string) bool {
	for _, r := range reserved {
		if strings.EqualFold(r, serviceID) {
			return true
		}
	}
	return false
}
