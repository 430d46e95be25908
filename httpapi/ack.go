package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/itsneelabh/reminderd/ingest"
)

// LinkVerifier checks the signed-link acknowledgement route's token. A
// reminder delivered through a channel with no interactive button (e.g.
// plain email/SMS) instead carries a link of the form
// /ack/{id}?action=acknowledge&token=<hex-hmac>; the token authenticates
// (id, action) without a logged-in session, standing in for the
// out-of-band authentication the webhook route gets from the platform.
// This is the one place the engine performs its own signature
// verification, since no pack library provides signed action links.
type LinkVerifier struct {
	secret []byte
}

// NewLinkVerifier builds a LinkVerifier from the configured signing
// secret (core.SecurityConfig.SigningSecret).
func NewLinkVerifier(secret string) *LinkVerifier {
	return &LinkVerifier{secret: []byte(secret)}
}

// Sign produces the token for (id, action), to be embedded in an
// outbound link by the Transport layer.
func (v *LinkVerifier) Sign(id, action string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(action))
	return hex.EncodeToString(mac.Sum(nil))
}

var errBadToken = errors.New("ack: invalid or missing token")

// Verify reports whether token authenticates (id, action).
func (v *LinkVerifier) Verify(id, action, token string) error {
	want := v.Sign(id, action)
	got, err := hex.DecodeString(token)
	if err != nil {
		return errBadToken
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return errBadToken
	}
	if subtle.ConstantTimeCompare(got, wantBytes) != 1 {
		return errBadToken
	}
	return nil
}

// handleAck serves GET /ack/{id}?action=acknowledge|decline&token=...,
// the link-based acknowledgement route for channels without interactive
// buttons (spec §9 "polymorphic over input envelope").
func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/ack/")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "reminder id is required")
		return
	}
	action := r.URL.Query().Get("action")
	token := r.URL.Query().Get("token")

	if err := h.verifier.Verify(id, action, token); err != nil {
		writeJSONError(w, http.StatusForbidden, err.Error())
		return
	}

	rem, err := h.ingestor.Accept(r.Context(), action, id, "link:"+id)
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
