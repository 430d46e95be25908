package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/reminderd/core"
	"github.com/itsneelabh/reminderd/ingest"
	"github.com/itsneelabh/reminderd/reminder"
	"github.com/itsneelabh/reminderd/store"
	"github.com/itsneelabh/reminderd/transport"
)

func newTestHandler(t *testing.T) (*Handler, *reminder.Service) {
	t.Helper()
	repo := reminder.NewRepository(store.NewMemStore())
	svc := reminder.NewService(repo, transport.NewMock(), core.FixedClock{T: time.Now().UTC()}, core.NoOpLogger{})
	in := ingest.New(svc, core.NoOpLogger{})
	verifier := NewLinkVerifier("test-secret")
	return NewHandler(svc, in, verifier, core.NoOpLogger{}), svc
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestHandleCreateAndGet(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	body, _ := json.Marshal(map[string]interface{}{
		"content":       "take out trash",
		"targetUserId":  "12345678901234567",
		"scheduledTime": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/reminders", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var created reminder.Reminder
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, reminder.StatusPending, created.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/api/reminders/"+created.ID, nil)
	getRR := httptest.NewRecorder()
	mux.ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)
}

func TestHandleCreateValidationError(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	body, _ := json.Marshal(map[string]interface{}{
		"content":      "",
		"targetUserId": "bad-id",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/reminders", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleGetNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/reminders/does-not-exist", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleListRequiresStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	req := httptest.NewRequest(http.MethodGet, "/api/reminders", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleListByStatus(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	_, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/reminders?status=PENDING", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total"])
}

func TestHandleWebhookAcknowledge(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	payload := map[string]interface{}{
		"user": map[string]string{"id": "user-1"},
		"data": map[string]string{"custom_id": "acknowledge_reminder_" + r.ID},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhook/responses", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusAcknowledged, updated.Status)
}

func TestHandleWebhookLegacyFormAccepted(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	payload := map[string]interface{}{
		"user": map[string]string{"id": "user-1"},
		"data": map[string]string{"custom_id": "acknowledge_reminder"},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhook/responses", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleWebhookMissingActor(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	payload := map[string]interface{}{
		"data": map[string]string{"custom_id": "acknowledge_reminder_abc"},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/webhook/responses", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleAckValidToken(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)

	token := h.verifier.Sign(r.ID, "acknowledge")
	req := httptest.NewRequest(http.MethodGet, "/ack/"+r.ID+"?action=acknowledge&token="+token, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	updated, err := svc.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusAcknowledged, updated.Status)
}

func TestHandleAckInvalidToken(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ack/"+r.ID+"?action=acknowledge&token=deadbeef", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleFlush(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	_, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/reminders/flush", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["deleted"])
}

func TestHandleResetDisallowedFromAcknowledged(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	r, err := svc.Create(context.Background(), reminder.CreateInput{
		Content: "x", TargetUserID: "12345678901234567", ScheduledTime: time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = svc.MarkAsDelivered(context.Background(), r.ID)
	require.NoError(t, err)
	_, err = svc.RecordResponse(context.Background(), r.ID, "user-1", reminder.ResponseAcknowledged)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/reminders/"+r.ID+"/reset", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
