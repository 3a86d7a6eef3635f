package service

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
)

// IPublisherService puts domain events on the in-process bus and, when
// configured, forwards them to an external broker.
type IPublisherService interface {
	events.Publisher
}

type publisherService struct {
	topicName string
	publisher message.Publisher
	forward   events.Publisher
}

func NewPublisherService(topicName string, publisher message.Publisher, forward events.Publisher) IPublisherService {
	return &publisherService{
		topicName: topicName,
		publisher: publisher,
		forward:   forward,
	}
}

func (ps *publisherService) Publish(ctx context.Context, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", event.EventType())
	msg.SetContext(ctx)

	if err := ps.publisher.Publish(ps.topicName, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}

	if ps.forward != nil {
		if err := ps.forward.Publish(ctx, event); err != nil {
			return fmt.Errorf("forward %s: %w", event.EventType(), err)
		}
	}
	return nil
}
