// Package router implements the Router & Route Matcher component: a
// two-tier dispatcher that uses httprouter's radix tree for literal/param
// paths and falls back to manual segment matching for path-prefix routes,
// picking the most specific match when several routes could apply.
package router

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// Visibility controls which callers may reach an endpoint (§4.10 step 7).
type Visibility string

const (
	VisibilityPublic    Visibility = "PUBLIC"
	VisibilityProtected Visibility = "PROTECTED"
	VisibilityInternal  Visibility = "INTERNAL"
)

// EndpointConfig declares one routable endpoint on a registered service.
type EndpointConfig struct {
	Pattern              string
	Methods              []string
	Visibility           Visibility
	RequiredPermissions  []string
}

// Route is a registered endpoint bound to a backend service.
type Route struct {
	ID                  string
	ServiceID           string
	Pattern             string
	PathPrefix          bool
	Visibility          Visibility
	RequiredPermissions []string

	methods   map[string]bool // nil = all methods allowed
	score     int
	configIdx int
}

// Allows reports whether method is permitted on this route.
func (route *Route) Allows(method string) bool {
	return route.methods == nil || route.methods[strings.ToUpper(method)]
}

// Match is the result of a successful route lookup.
type Match struct {
	Route      *Route
	PathParams map[string]string
}

// RouteGroup holds every route registered under the same normalized path,
// ordered by specificity (descending), with registration order as tie-breaker.
type RouteGroup struct {
	routes []*Route
}

func (rg *RouteGroup) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw, ok := w.(*captureWriter)
	if !ok {
		return
	}

	params := httprouter.ParamsFromContext(r.Context())
	pathParams := make(map[string]string, len(params))
	for _, p := range params {
		pathParams[p.Key] = p.Value
	}

	for _, route := range rg.routes {
		if route.Allows(r.Method) {
			cw.match = &Match{Route: route, PathParams: pathParams}
			return
		}
	}
}

func (rg *RouteGroup) addRoute(route *Route) {
	rg.routes = append(rg.routes, route)
	sort.SliceStable(rg.routes, func(i, j int) bool {
		if rg.routes[i].score != rg.routes[j].score {
			return rg.routes[i].score > rg.routes[j].score
		}
		return rg.routes[i].configIdx < rg.routes[j].configIdx
	})
}

func (rg *RouteGroup) removeRoute(id string) bool {
	for i, route := range rg.routes {
		if route.ID == id {
			rg.routes = append(rg.routes[:i], rg.routes[i+1:]...)
			return true
		}
	}
	return false
}

// captureWriter is a no-op ResponseWriter used only to pull the matched
// route back out of httprouter's dispatch.
type captureWriter struct {
	match  *Match
	header http.Header
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (cw *captureWriter) Header() http.Header       { return cw.header }
func (cw *captureWriter) Write([]byte) (int, error) { return 0, nil }
func (cw *captureWriter) WriteHeader(int)           {}

// prefixRoute holds a prefix route with its pre-split segments for the
// tier-2 fallback matcher.
type prefixRoute struct {
	segments []string
	group    *RouteGroup
}

// Router dispatches requests to the most specific matching Route.
type Router struct {
	tree            *httprouter.Router
	groups          map[string]*RouteGroup
	prefixGroups    []*prefixRoute
	prefixByPath    map[string]*RouteGroup
	allRoutes       []*Route
	mu              sync.RWMutex
	notFound        http.Handler
	nextIdx         int
	registeredPaths map[string]bool
}

var standardMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

// New creates an empty Router.
func New() *Router {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	return &Router{
		tree:            tree,
		groups:          make(map[string]*RouteGroup),
		prefixByPath:    make(map[string]*RouteGroup),
		registeredPaths: make(map[string]bool),
		notFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Not Found", http.StatusNotFound)
		}),
	}
}

// AddRoute registers a service's endpoint as a routable Route.
func (rt *Router) AddRoute(id, serviceID string, ep EndpointConfig) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	prefix := strings.HasSuffix(ep.Pattern, "/*")
	pattern := strings.TrimSuffix(ep.Pattern, "/*")

	route := &Route{
		ID:                  id,
		ServiceID:           serviceID,
		Pattern:             pattern,
		PathPrefix:          prefix,
		Visibility:          ep.Visibility,
		RequiredPermissions: ep.RequiredPermissions,
		methods:             methodSet(ep.Methods),
		score:               specificity(pattern, prefix),
		configIdx:           rt.nextIdx,
	}
	rt.nextIdx++

	if prefix {
		rt.addPrefixRoute(route, pattern)
	} else {
		rt.addExactRoute(route, pattern)
	}
	rt.allRoutes = append(rt.allRoutes, route)
}

func (rt *Router) addExactRoute(route *Route, path string) {
	normalized := replaceParams(path)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	group, exists := rt.groups[normalized]
	if !exists {
		group = &RouteGroup{}
		rt.groups[normalized] = group
		for _, method := range standardMethods {
			key := method + " " + normalized
			if !rt.registeredPaths[key] {
				rt.tree.Handler(method, normalized, group)
				rt.registeredPaths[key] = true
			}
		}
	}
	group.addRoute(route)
}

func (rt *Router) addPrefixRoute(route *Route, path string) {
	normalized := replaceParams(path)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}

	group, exists := rt.groups[normalized]
	if !exists {
		group = &RouteGroup{}
		rt.groups[normalized] = group
		for _, method := range standardMethods {
			key := method + " " + normalized
			if !rt.registeredPaths[key] {
				rt.tree.Handler(method, normalized, group)
				rt.registeredPaths[key] = true
			}
		}
	}
	group.addRoute(route)

	prefixGroup, exists := rt.prefixByPath[normalized]
	if !exists {
		prefixGroup = &RouteGroup{}
		rt.prefixByPath[normalized] = prefixGroup
		segments := splitPath(normalized)
		rt.prefixGroups = append(rt.prefixGroups, &prefixRoute{segments: segments, group: prefixGroup})
		sort.Slice(rt.prefixGroups, func(i, j int) bool {
			return len(rt.prefixGroups[i].segments) > len(rt.prefixGroups[j].segments)
		})
	}
	prefixGroup.addRoute(route)
}

// Match finds the most specific Route for the request, or nil.
func (rt *Router) Match(r *http.Request) *Match {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	cw := newCaptureWriter()
	rt.tree.ServeHTTP(cw, r)
	if cw.match != nil {
		return cw.match
	}
	return rt.matchPrefix(r)
}

func (rt *Router) matchPrefix(r *http.Request) *Match {
	reqSegments := splitPath(r.URL.Path)
	for _, pr := range rt.prefixGroups {
		if !pathHasPrefix(reqSegments, pr.segments) {
			continue
		}
		for _, route := range pr.group.routes {
			if route.Allows(r.Method) {
				return &Match{Route: route, PathParams: make(map[string]string)}
			}
		}
	}
	return nil
}

// GetRoute returns a route by ID.
func (rt *Router) GetRoute(id string) *Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, route := range rt.allRoutes {
		if route.ID == id {
			return route
		}
	}
	return nil
}

// GetRoutes returns all configured routes.
func (rt *Router) GetRoutes() []*Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	result := make([]*Route, len(rt.allRoutes))
	copy(result, rt.allRoutes)
	return result
}

// RemoveRoute removes a route by ID, returning true if it existed.
func (rt *Router) RemoveRoute(id string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	found := false
	for i, route := range rt.allRoutes {
		if route.ID == id {
			rt.allRoutes = append(rt.allRoutes[:i], rt.allRoutes[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, group := range rt.groups {
		group.removeRoute(id)
	}
	for _, group := range rt.prefixByPath {
		group.removeRoute(id)
	}
	return true
}

// RemoveService removes every route belonging to serviceID (used on
// service deregistration).
func (rt *Router) RemoveService(serviceID string) {
	rt.mu.Lock()
	var ids []string
	for _, route := range rt.allRoutes {
		if route.ServiceID == serviceID {
			ids = append(ids, route.ID)
		}
	}
	rt.mu.Unlock()
	for _, id := range ids {
		rt.RemoveRoute(id)
	}
}

// SetNotFoundHandler overrides the handler invoked when no route matches.
func (rt *Router) SetNotFoundHandler(h http.Handler) { rt.notFound = h }

// NotFoundHandler returns the current not-found handler.
func (rt *Router) NotFoundHandler() http.Handler { return rt.notFound }

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func pathHasPrefix(reqSegments, prefixSegments []string) bool {
	if len(reqSegments) < len(prefixSegments) {
		return false
	}
	for i, seg := range prefixSegments {
		if strings.HasPrefix(seg, ":") {
			continue
		}
		if reqSegments[i] != seg {
			return false
		}
	}
	return true
}

// replaceParams converts {name} path parameters to httprouter's :name syntax.
func replaceParams(path string) string {
	var result strings.Builder
	i := 0
	for i < len(path) {
		if path[i] == '{' {
			j := strings.IndexByte(path[i:], '}')
			if j == -1 {
				result.WriteByte(path[i])
				i++
				continue
			}
			paramName := path[i+1 : i+j]
			result.WriteByte(':')
			result.WriteString(paramName)
			i += j + 1
		} else {
			result.WriteByte(path[i])
			i++
		}
	}
	return result.String()
}
