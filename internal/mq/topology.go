package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is an exchange name.
type Exchange string

// Queue is a queue name.
type Queue string

// RoutingKey is a routing key.
type RoutingKey string

const (
	ExchangeRuns Exchange = "loanlimit.runs"

	QueueRunsFinalized Queue = "loanlimit.runs.finalized"

	RoutingKeyFinalized RoutingKey = "finalized"
)

// SetupTopology declares the runs exchange and the finalized-runs queue.
// Declarations are idempotent.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeRuns), // name
			"direct",             // type
			true,                 // durable
			false,                // auto-deleted
			false,                // internal
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeRuns, err)
		}

		_, err = ch.QueueDeclare(
			string(QueueRunsFinalized), // name
			true,                       // durable
			false,                      // delete when unused
			false,                      // exclusive
			false,                      // no-wait
			nil,                        // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", QueueRunsFinalized, err)
		}

		err = ch.QueueBind(
			string(QueueRunsFinalized),
			string(RoutingKeyFinalized),
			string(ExchangeRuns),
			false,
			nil,
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", QueueRunsFinalized, ExchangeRuns, err)
		}
		return nil
	})
}
