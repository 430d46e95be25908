package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/itsneelabh/reminderd/ingest"
)

// webhookEnvelope is the inbound interaction object from the host platform
// (spec §6: "HTTP POST of a JSON interaction object... parses the nested
// data.custom_id field per §4.5 and the nested actor id"). Signature
// verification is the transport layer's concern, not httpapi's.
type webhookEnvelope struct {
	Member *webhookMember `json:"member,omitempty"`
	User   *webhookUser   `json:"user,omitempty"`
	Data   struct {
		CustomID string `json:"custom_id"`
	} `json:"data"`
}

type webhookMember struct {
	User webhookUser `json:"user"`
}

type webhookUser struct {
	ID string `json:"id"`
}

func (e webhookEnvelope) actorID() string {
	if e.Member != nil && e.Member.User.ID != "" {
		return e.Member.User.ID
	}
	if e.User != nil {
		return e.User.ID
	}
	return ""
}

// handleWebhook accepts an inbound response interaction and returns
// synchronously within the platform's interaction budget, per spec §4.5.
// The only durable work (RecordResponse) happens before any response is
// written, satisfying "heavier work ... must be durable" without deferring
// it to a background goroutine.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var env webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	actor := env.actorID()
	if actor == "" {
		writeJSONError(w, http.StatusBadRequest, "missing actor id")
		return
	}

	rem, err := h.ingestor.IngestCustomID(r.Context(), env.Data.CustomID, actor)
	if errors.Is(err, ingest.ErrLegacyNoTransition) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "accepted", "reminder": rem})
}
