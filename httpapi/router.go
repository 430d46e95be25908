package httpapi

import (
	"net/http"

	"github.com/itsneelabh/reminderd/core"
)

// NewRouter builds the full HTTP handler: Handler's routes registered on a
// fresh ServeMux, wrapped in the teacher's middleware chain order (CORS ->
// Logging -> Recovery, outermost to innermost, matching core/tool.go's
// server setup).
func NewRouter(h *Handler, corsConfig *core.CORSConfig, logger core.Logger, devMode bool) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = core.RecoveryMiddleware(logger)(handler)
	handler = core.LoggingMiddleware(logger, devMode)(handler)
	if corsConfig != nil && corsConfig.Enabled {
		handler = core.CORSMiddleware(corsConfig)(handler)
	}
	return handler
}
