package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/storefront/internal/services"
)

// PubSubNotificationPublisher publishes order lifecycle notifications to a Pub/Sub topic.
// Messages for one order share an ordering key so consumers see them in commit order.
type PubSubNotificationPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubNotificationPublisher enables message ordering on topic.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubNotificationPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until the server acknowledges the message and returns its id.
func (p *PubSubNotificationPublisher) PublishOrderEvent(ctx context.Context, message services.OrderNotification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "event", message.Event)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	setAttr(attrs, "refundId", message.RefundID)
	setAttr(attrs, "status", message.Status)

	orderingKey := strings.TrimSpace(message.OrderNumber)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey,
	})
	id, err := result.Get(ctx)
	if err != nil {
		if orderingKey != "" {
			// a failed publish pauses the key until resumed
			p.topic.ResumePublish(orderingKey)
		}
		return "", fmt.Errorf("publish order notification: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
