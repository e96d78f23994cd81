package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_PostsEvent(t *testing.T) {
	var got Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	err := notifier.Notify(context.Background(), Notification{
		Event:   EventReadyForReview,
		JobID:   "job-1",
		OwnerID: "owner-1",
		Title:   "doc.html",
	})
	require.NoError(t, err)

	assert.Equal(t, EventReadyForReview, got.Event)
	assert.Equal(t, "job-1", got.JobID)
	assert.False(t, got.SentAt.IsZero())
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Notify(context.Background(), Notification{Event: EventFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, LogNotifier{}, FromConfig(""))
	assert.IsType(t, &WebhookNotifier{}, FromConfig("https://hooks.example.com/jobs"))
}
