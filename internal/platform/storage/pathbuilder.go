package storage

import (
	"fmt"
	"strings"
	"time"
)

// WebhookObjectPath lays archived payloads out by provider and UTC receive date:
// webhooks/<provider>/<yyyy>/<mm>/<dd>/<eventID>.json.
func WebhookObjectPath(provider, eventID string, receivedAt time.Time) (string, error) {
	provider = sanitizeSegment(provider)
	eventID = sanitizeSegment(eventID)
	if provider == "" {
		return "", fmt.Errorf("storage: provider is required")
	}
	if eventID == "" {
		return "", fmt.Errorf("storage: event id is required")
	}
	if receivedAt.IsZero() {
		return "", fmt.Errorf("storage: receive time is required")
	}
	return fmt.Sprintf("webhooks/%s/%s/%s.json", provider, receivedAt.UTC().Format("2006/01/02"), eventID), nil
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "-")
	value = strings.ReplaceAll(value, "..", "")
	return value
}
