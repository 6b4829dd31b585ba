package mq

import (
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "digestgenie.events.dlq"

	// parked messages expire after two weeks
	dlqMessageTTL = 14 * 24 * time.Hour
)

// ErrDeadLetter makes the consumer reject a message without requeueing it; the work
// queue's dead-letter exchange then routes it into <routingKey>.dlq.
var ErrDeadLetter = errors.New("dead letter")

// workQueueArgs routes rejected messages of a work queue to the DLQ exchange.
func workQueueArgs() amqp091.Table {
	return amqp091.Table{"x-dead-letter-exchange": DLQExchangeName}
}

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		DLQExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares a dead letter queue for a specific routing key.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		routingKey+".dlq",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp091.Table{"x-message-ttl": dlqMessageTTL.Milliseconds()},
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}
