// Package notify delivers job lifecycle events to whoever is waiting on
// them. The pipeline fires events; delivery failures are logged and never
// block or fail the job itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lingodoc/lingodoc/pkg/log"
)

// Event names mirror the job state transitions worth telling a human about.
const (
	EventReadyForReview = "job.ready_for_review"
	EventApproved       = "job.approved"
	EventFailed         = "job.failed"
	EventPaused         = "job.paused"
	EventCancelled      = "job.cancelled"
)

// Notification is one job lifecycle event.
type Notification struct {
	Event   string    `json:"event"`
	JobID   string    `json:"job_id"`
	OwnerID string    `json:"owner_id"`
	Title   string    `json:"title"`
	Detail  string    `json:"detail,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes events to the application log. Used when no webhook is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	log.Info("Notification %s for job %s (%s): %s", n.Event, n.JobID, n.Title, n.Detail)
	return nil
}

// WebhookNotifier POSTs each event as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// FromConfig picks the webhook notifier when a URL is configured, otherwise
// the log notifier.
func FromConfig(webhookURL string) Notifier {
	if webhookURL != "" {
		return NewWebhookNotifier(webhookURL)
	}
	return LogNotifier{}
}
