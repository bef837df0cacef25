// Package pubsub publishes save request notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/savecodenow/internal/publisher"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher *pubsub.Publisher
	topic     string
}

// New creates a Publisher bound to topic. Call Stop on shutdown.
func New(client *pubsub.Client, topic string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	p := client.Publisher(topic)
	p.EnableMessageOrdering = true
	return &Publisher{publisher: p, topic: topic}, nil
}

// Publish marshals the payload to JSON and publishes it. Messages for other
// topics than the bound one are rejected.
func (p *Publisher) Publish(ctx context.Context, msg publisher.Message) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if msg.Topic != "" && msg.Topic != p.topic {
		return "", fmt.Errorf("publish to %q: publisher is bound to %q", msg.Topic, p.topic)
	}
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	out := &pubsub.Message{Data: data, OrderingKey: msg.OrderingKey}
	out.Attributes = make(map[string]string, len(msg.Attributes)+2)
	for k, v := range msg.Attributes {
		out.Attributes[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: out.Attributes})

	id, err := p.publisher.Publish(ctx, out).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.publisher.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p != nil && p.publisher != nil {
		p.publisher.Stop()
	}
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
