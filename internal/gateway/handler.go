package gateway

import "net/http"

// Handler adapts a Pipeline into an http.Handler, performing the §4.10 step
// 9 response mapping: GatewayResult's closed sum to a status code and (on
// failure) an RFC 7807 Problem Details body.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler wraps pipeline as an http.Handler.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result := h.pipeline.Handle(w, r)
	if result.Kind == ResultSuccess {
		return
	}
	writeResult(w, result)
}
