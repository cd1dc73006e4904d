// Package storage archives verified payment webhook payloads in Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/hanko-field/storefront/internal/payments"
)

const archiveProvider = "stripe"

type openFunc func(ctx context.Context, object string, metadata map[string]string) io.WriteCloser

// WebhookArchiver writes each event once; a redelivered event finds the object present and is skipped.
type WebhookArchiver struct {
	open openFunc
	now  func() time.Time
}

// NewWebhookArchiver writes into bucket.
func NewWebhookArchiver(client *gcs.Client, bucket string) (*WebhookArchiver, error) {
	if client == nil {
		return nil, errors.New("webhook archiver: storage client is required")
	}
	if bucket == "" {
		return nil, errors.New("webhook archiver: bucket is required")
	}
	handle := client.Bucket(bucket)
	return &WebhookArchiver{
		open: func(ctx context.Context, object string, metadata map[string]string) io.WriteCloser {
			w := handle.Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = "application/json"
			w.Metadata = metadata
			return w
		},
		now: time.Now,
	}, nil
}

// ArchiveWebhook stores payload under the event's dated path.
func (a *WebhookArchiver) ArchiveWebhook(ctx context.Context, event payments.WebhookEvent, payload []byte) error {
	receivedAt := event.CreatedAt
	if receivedAt.IsZero() {
		receivedAt = a.now()
	}
	object, err := WebhookObjectPath(archiveProvider, event.ID, receivedAt)
	if err != nil {
		return err
	}
	w := a.open(ctx, object, map[string]string{
		"eventType": event.Type,
		"intentId":  event.IntentID,
	})
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return fmt.Errorf("archive webhook %s: %w", event.ID, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return fmt.Errorf("archive webhook %s: %w", event.ID, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
