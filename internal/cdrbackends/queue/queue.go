// Package queue implements a CDR backend that publishes each finalized
// record as a JSON message to a durable AMQP topic exchange, for
// downstream billing consumers that want a stream rather than a store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flowpbx/cdrengine/internal/cdr"
)

// Backend publishes finalized records to a durable AMQP exchange.
type Backend struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	exchange   string
	routingKey string
}

// Dial connects to the AMQP broker at url and declares a durable topic
// exchange named exchange, publishing every record under routingKey.
func Dial(logger *slog.Logger, url, exchange, routingKey string) (*Backend, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing cdr amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening cdr amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring cdr amqp exchange %q: %w", exchange, err)
	}

	return &Backend{
		conn:       conn,
		channel:    ch,
		logger:     logger.With("subsystem", "cdr.queue", "exchange", exchange),
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// Close tears down the channel and connection.
func (b *Backend) Close() error {
	b.channel.Close()
	return b.conn.Close()
}

// Sink implements cdr.SinkFunc, publishing r as a JSON message.
func (b *Backend) Sink(r *cdr.ExternalRecord) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling cdr record for amqp: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = b.channel.PublishWithContext(ctx, b.exchange, b.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing cdr record to amqp: %w", err)
	}
	return nil
}
