package collector

import (
	"net/http"

	"go.uber.org/zap"
)

// RouterOptions selects the protection applied to the submission endpoints
type RouterOptions struct {
	APIKeys           []string
	RequireClientCert bool
	RateLimiter       *RateLimiter // nil disables rate limiting
}

// NewRouter wires the collector endpoints. The status endpoint is never
// authenticated; intel and heartbeat submissions pass rate limiting, the
// client certificate check and API key authentication, in that order.
func NewRouter(h *Handler, opts RouterOptions, logger *zap.Logger) http.Handler {
	var guards []Middleware
	if opts.RateLimiter != nil {
		guards = append(guards, opts.RateLimiter.Middleware)
	}
	if opts.RequireClientCert {
		guards = append(guards, MTLSMiddleware(logger))
	}
	guards = append(guards, AuthMiddleware(opts.APIKeys, logger))

	mux := http.NewServeMux()
	mux.Handle(IntelPath, Chain(http.HandlerFunc(h.IngestIntel), guards...))
	mux.Handle(HeartbeatPath, Chain(http.HandlerFunc(h.Heartbeat), guards...))
	mux.HandleFunc(StatusPath, h.Status)

	return Chain(mux, LoggingMiddleware(logger), RecoveryMiddleware(logger))
}
