package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/itsneelabh/reminderd/core"
)

// errorResponse is the JSON body written for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps a core.Error's Kind to an HTTP status code per spec §7:
// Validation -> 400; Conflict -> 400/404; Store conflict after retries ->
// 409; Transport transient reaching the caller -> 503; Internal -> 500.
func statusFor(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsValidation(err):
		return http.StatusBadRequest
	case core.IsStoreConflict(err):
		return http.StatusConflict
	case core.IsConflict(err):
		return http.StatusBadRequest
	case errorKindIs(err, core.KindTransportTransient):
		return http.StatusServiceUnavailable
	case errorKindIs(err, core.KindTransportPermanent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorKindIs(err error, kind core.Kind) bool {
	var e *core.Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **core.Error) bool {
	for err != nil {
		if e, ok := err.(*core.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// writeError writes a JSON error envelope whose status is derived from
// err's Kind, and logs 5xx responses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.ErrorWithContext(r.Context(), "request failed", map[string]interface{}{
			"path": r.URL.Path, "method": r.Method, "error": err.Error(),
		})
	}
	writeJSONError(w, status, err.Error())
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: http.StatusText(status)})
}
