package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/hanko-field/storefront/internal/payments"
)

type bufferWriter struct {
	bytes.Buffer
	closeErr error
}

func (w *bufferWriter) Close() error { return w.closeErr }

func newTestArchiver(w *bufferWriter, objects *[]string, meta *map[string]string) *WebhookArchiver {
	return &WebhookArchiver{
		open: func(_ context.Context, object string, metadata map[string]string) io.WriteCloser {
			*objects = append(*objects, object)
			*meta = metadata
			return w
		},
		now: func() time.Time { return time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC) },
	}
}

func TestWebhookArchiverWritesPayload(t *testing.T) {
	w := &bufferWriter{}
	var objects []string
	var meta map[string]string
	archiver := newTestArchiver(w, &objects, &meta)

	event := payments.WebhookEvent{
		ID:        "evt_1",
		Type:      payments.EventIntentSucceeded,
		IntentID:  "pi_1",
		CreatedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := archiver.ArchiveWebhook(context.Background(), event, []byte(`{"id":"evt_1"}`)); err != nil {
		t.Fatalf("ArchiveWebhook: %v", err)
	}
	if len(objects) != 1 || objects[0] != "webhooks/stripe/2024/06/01/evt_1.json" {
		t.Fatalf("unexpected objects %v", objects)
	}
	if w.String() != `{"id":"evt_1"}` {
		t.Fatalf("unexpected payload %q", w.String())
	}
	if meta["intentId"] != "pi_1" || meta["eventType"] != payments.EventIntentSucceeded {
		t.Fatalf("unexpected metadata %v", meta)
	}

	event.CreatedAt = time.Time{}
	event.ID = "evt_2"
	if err := archiver.ArchiveWebhook(context.Background(), event, nil); err != nil {
		t.Fatalf("ArchiveWebhook: %v", err)
	}
	if objects[1] != "webhooks/stripe/2024/06/02/evt_2.json" {
		t.Fatalf("expected clock fallback, got %s", objects[1])
	}
}

func TestWebhookArchiverCloseErrors(t *testing.T) {
	var objects []string
	var meta map[string]string
	event := payments.WebhookEvent{ID: "evt_1", CreatedAt: time.Now()}

	existing := &bufferWriter{closeErr: &googleapi.Error{Code: http.StatusPreconditionFailed}}
	if err := newTestArchiver(existing, &objects, &meta).ArchiveWebhook(context.Background(), event, nil); err != nil {
		t.Fatalf("expected redelivery to be skipped, got %v", err)
	}

	failing := &bufferWriter{closeErr: errors.New("network")}
	if err := newTestArchiver(failing, &objects, &meta).ArchiveWebhook(context.Background(), event, nil); err == nil {
		t.Fatalf("expected close error to surface")
	}
}
