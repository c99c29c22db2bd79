// Package pubsub publishes task completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel"
)

// Attributer is implemented by payloads that carry routing attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Keyed is implemented by payloads that need per-key ordering.
type Keyed interface {
	OrderingKey() string
}

// Publisher wraps a Pub/Sub publisher bound to one topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it. The topic argument is
// informational; the publisher is already bound to its topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := buildMessage(ctx, payload)
	if err != nil {
		return "", err
	}
	if msg.OrderingKey != "" && !p.publisher.EnableMessageOrdering {
		msg.OrderingKey = ""
	}
	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// TopicName returns the fully qualified name of topicID.
func TopicName(projectID, topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
}

// VerifyTopic fails unless topicID exists in projectID and can accept
// messages.
func VerifyTopic(ctx context.Context, client *pubsub.Client, projectID, topicID string) error {
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: TopicName(projectID, topicID),
	})
	if err != nil {
		return fmt.Errorf("get pubsub topic %q: %w", topicID, err)
	}
	if topic.State == pubsubpb.Topic_INGESTION_RESOURCE_ERROR {
		return fmt.Errorf("pubsub topic %q is in state %s", topicID, topic.State)
	}
	return nil
}

// Stop flushes pending messages and releases the publisher's goroutines.
func (p *Publisher) Stop() {
	if p == nil || p.publisher == nil {
		return
	}
	p.publisher.Stop()
}

func buildMessage(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			msg.Attributes[k] = v
		}
	}
	if k, ok := payload.(Keyed); ok {
		msg.OrderingKey = k.OrderingKey()
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
