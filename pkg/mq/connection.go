package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "digestgenie.events"

	// Routing keys used across services.
	RoutingKeyArticleCreated  = "article.created"
	RoutingKeyArticleEnriched = "article.enriched"
	RoutingKeyEmailReceived   = "email.received"
)

// NewConnection dials RabbitMQ; name shows up in the management UI's connection list.
func NewConnection(url, name string) (*amqp091.Connection, error) {
	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName("digestgenie." + name)
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  10 * time.Second,
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the durable topic exchange all domain events go through.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}
