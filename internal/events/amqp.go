package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher sends events to one durable topic exchange per topic, named
// "<prefix>_<topic>".
type AMQPPublisher struct {
	prefix string

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewAMQPPublisher dials url and declares every topic
func NewAMQPPublisher(url, prefix string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	p := &AMQPPublisher{prefix: prefix, conn: conn}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	for _, topic := range AllTopics() {
		if err := defineTopic(ch, p.exchangeName(topic)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declare topic %s: %w", topic, err)
		}
	}

	log.Printf("Events: publishing to AMQP exchanges with prefix %q", prefix)
	return p, nil
}

// ExchangeName builds the exchange and routing key for a topic
func ExchangeName(prefix string, topic Topic) string {
	return fmt.Sprintf("%s_%s", prefix, topic)
}

func (p *AMQPPublisher) exchangeName(topic Topic) string {
	return ExchangeName(p.prefix, topic)
}

func defineTopic(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-delete
		false,   // internal
		false,   // noWait
		nil,     // arguments
	); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		name,  // name of the queue
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // noWait
		nil,   // arguments
	); err != nil {
		return err
	}
	return ch.QueueBind(name, name, name, false, nil)
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	name := p.exchangeName(event.Topic)
	return ch.PublishWithContext(ctx,
		name,
		name,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.OccurredAt,
			Body:        body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}
