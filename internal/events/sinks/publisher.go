package sinks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/publisher"
)

// Publisher is the notification transport used by PublisherSink.
type Publisher interface {
	Publish(ctx context.Context, msg publisher.Message) (string, error)
}

// PublisherSink forwards lifecycle events as notifications. Events for the
// same origin share an ordering key so subscribers see them in order.
type PublisherSink struct {
	pub   Publisher
	topic string
}

// NewPublisherSink builds a sink publishing to topic.
func NewPublisherSink(pub Publisher, topic string) (*PublisherSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &PublisherSink{pub: pub, topic: topic}, nil
}

// Consume publishes every event and joins the per-event failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		msg := publisher.Message{
			Topic:       s.topic,
			OrderingKey: evt.VisitType + ":" + evt.OriginURL,
			Attributes: map[string]string{
				"kind":       string(evt.Kind),
				"request_id": strconv.FormatInt(evt.RequestID, 10),
				"visit_type": evt.VisitType,
			},
			Payload: evt,
		}
		if _, err := s.pub.Publish(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("publish event for request %d: %w", evt.RequestID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
