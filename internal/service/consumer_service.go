package service

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// EventNotifier pushes events to live clients of an actor.
type EventNotifier interface {
	Notify(actorID string, event events.Event)
}

// consumerService stores session summaries in long-term memory and relays
// every event to connected clients.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	memory     *memory.Adapter
	notifier   EventNotifier
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	mem *memory.Adapter,
	notifier EventNotifier,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		memory:     mem,
		notifier:   notifier,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	event, err := events.Unmarshal(msg.Payload)
	if err != nil {
		cs.logger.Warn("EVENTS", "Dropping malformed event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	actorID, _ := event.Data["actor_id"].(string)

	if event.Type == events.TypeSessionSummarized && cs.memory != nil && cs.memory.Enabled() {
		sessionID, _ := event.Data["session_id"].(string)
		summary, _ := event.Data["summary"].(string)

		if err := cs.memory.StoreSummary(ctx, actorID, sessionID, summary); err != nil {
			// memory being down is not worth a redelivery loop
			cs.logger.Warn("MEMORY", "Failed to store session summary", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}

	if cs.notifier != nil && actorID != "" {
		cs.notifier.Notify(actorID, event)
	}

	msg.Ack()
}
