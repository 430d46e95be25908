// Package httpapi implements the External Interfaces (spec §6): the
// reminder CRUD/test/reset API, the platform response webhook, and the
// HMAC-verified link-acknowledgement route.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/ingest"
	"github.com/itsneelabh/reminderd/reminder"
)

// Handler wires every HTTP-facing operation to the reminder.Service and
// ingest.Ingestor. It holds no mutable state of its own.
type Handler struct {
	service  *reminder.Service
	ingestor *ingest.Ingestor
	verifier *LinkVerifier
	logger   core.Logger
}

// NewHandler builds a Handler. verifier may be nil, in which case the
// link-ack route (/ack/{id}) is not registered.
func NewHandler(service *reminder.Service, ingestor *ingest.Ingestor, verifier *LinkVerifier, logger core.Logger) *Handler {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine/httpapi")
	}
	return &Handler{service: service, ingestor: ingestor, verifier: verifier, logger: logger}
}

// RegisterRoutes attaches every route to mux, following the teacher's
// inline method-dispatch ServeMux pattern rather than Go 1.22 pattern
// routing, so one prefix handles GET/PUT/DELETE on /api/reminders/{id}.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/reminders", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/api/reminders/flush", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleFlush(w, r)
	})

	mux.HandleFunc("/api/reminders/", func(w http.ResponseWriter, r *http.Request) {
		id, rest, ok := splitReminderPath(r.URL.Path)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "reminder id is required")
			return
		}
		switch rest {
		case "":
			h.handleByID(w, r, id)
		case "test":
			h.handleTest(w, r, id)
		case "reset":
			h.handleReset(w, r, id)
		case "responses":
			h.handleResponses(w, r, id)
		default:
			writeJSONError(w, http.StatusNotFound, "unknown sub-resource")
		}
	})

	mux.HandleFunc("/webhook/responses", h.handleWebhook)

	if h.verifier != nil {
		mux.HandleFunc("/ack/", h.handleAck)
	}
}

// splitReminderPath extracts the {id} and an optional trailing segment
// ("test", "reset", "responses") from a /api/reminders/{id}[/{sub}] path.
func splitReminderPath(path string) (id, sub string, ok bool) {
	const prefix = "/api/reminders/"
	if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], rest[:i] != ""
		}
	}
	return rest, "", rest != ""
}

// reminderInput is the JSON request body for Create and Update.
type reminderInput struct {
	Content       string                  `json:"content"`
	TargetUserID  string                  `json:"targetUserId"`
	ScheduledTime time.Time               `json:"scheduledTime"`
	Timezone      string                  `json:"timezone,omitempty"`
	Escalation    *reminder.EscalationRule `json:"escalation,omitempty"`
	RepeatRule    *reminder.RepeatRule     `json:"repeatRule,omitempty"`
}

func (in reminderInput) toCreateInput(actor string) reminder.CreateInput {
	return reminder.CreateInput{
		Content:       in.Content,
		TargetUserID:  in.TargetUserID,
		ScheduledTime: in.ScheduledTime,
		Timezone:      in.Timezone,
		CreatedBy:     actor,
		Escalation:    in.Escalation,
		RepeatRule:    in.RepeatRule,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in reminderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rem, err := h.service.Create(r.Context(), in.toCreateInput(actorFrom(r)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rem)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := reminder.Status(q.Get("status"))
	limit := queryInt(q, "limit", 50)
	offset := queryInt(q, "offset", 0)

	reminders, err := h.service.List(r.Context(), status, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"total":     len(reminders),
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) handleByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rem, err := h.service.Get(r.Context(), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	case http.MethodPut:
		var in reminderInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rem, err := h.service.Update(r.Context(), id, in.toCreateInput(actorFrom(r)))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rem)
	case http.MethodDelete:
		if err := h.service.Delete(r.Context(), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type testRequest struct {
	TestType         reminder.TestType `json:"testType"`
	PreserveSchedule bool              `json:"preserveSchedule"`
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	exec, err := h.service.ExecuteTest(r.Context(), id, actorFrom(r), req.TestType, req.PreserveSchedule)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rem, err := h.service.Reset(r.Context(), id, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (h *Handler) handleResponses(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rem, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": rem.Responses})
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Flush(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

// actorFrom resolves the acting identity for admin-API writes. The
// platform's auth layer is expected to set this header after verifying
// the caller; httpapi trusts it the same way it trusts the webhook
// envelope's actor id (spec §4.5: "authenticated out-of-band").
func actorFrom(r *http.Request) string {
	if a := r.Header.Get("X-Reminderd-Actor"); a != "" {
		return a
	}
	return "admin"
}

func queryInt(q map[string][]string, key string, def int) int {
	v := q[key]
	if len(v) == 0 || v[0] == "" {
		return def
	}
	n, err := strconv.Atoi(v[0])
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
