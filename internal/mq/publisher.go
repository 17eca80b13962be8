package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/roomdoor/fan-out-call/internal/model"
)

// MessageType names the kind of a published message.
type MessageType string

const MessageTypeRunFinalized MessageType = "run.finalized"

// Message is the JSON envelope of every published message.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunFinalizedPayload announces a run that reached a terminal status.
type RunFinalizedPayload struct {
	TransactionNo int64           `json:"transactionNo"`
	TransactionID string          `json:"transactionId"`
	Status        model.RunStatus `json:"status"`
	SuccessCount  int             `json:"successCount"`
	FailureCount  int             `json:"failureCount"`
	ElapsedMs     int64           `json:"elapsedMs"`
}

// Publisher publishes persistent JSON messages.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher creates a publisher over conn.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish sends msg to exchange with routingKey.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// messagePublisher is the publishing operation RunNotifier needs.
type messagePublisher interface {
	Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error
}

// RunNotifier publishes a run.finalized message for every finished run.
type RunNotifier struct {
	publisher messagePublisher
	now       func() time.Time
}

// NewRunNotifier creates a notifier publishing through p.
func NewRunNotifier(p *Publisher) *RunNotifier {
	return &RunNotifier{publisher: p, now: time.Now}
}

// RunFinalized publishes snap as a run.finalized message.
func (n *RunNotifier) RunFinalized(ctx context.Context, snap *model.RunSnapshot) error {
	return n.publisher.Publish(ctx, ExchangeRuns, RoutingKeyFinalized, n.newMessage(snap))
}

func (n *RunNotifier) newMessage(snap *model.RunSnapshot) *Message {
	return &Message{
		ID:   uuid.NewString(),
		Type: MessageTypeRunFinalized,
		Payload: RunFinalizedPayload{
			TransactionNo: snap.TransactionNo,
			TransactionID: snap.TransactionID,
			Status:        snap.Status,
			SuccessCount:  snap.SuccessCount,
			FailureCount:  snap.FailureCount,
			ElapsedMs:     snap.ElapsedMs,
		},
		Timestamp: n.now().UTC(),
	}
}
