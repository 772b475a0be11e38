package tracking

import (
	"context"
	"encoding/json"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ezoic/taxifare/pkg/errors"
)

// DefaultExchange is the topic exchange run events are published to.
const DefaultExchange = "taxifare.tracking"

// EventType names a tracking event. It is also the routing key suffix.
type EventType string

// Event types.
const (
	EventRunStarted  EventType = "run.started"
	EventParam       EventType = "param"
	EventMetric      EventType = "metric"
	EventRunFinished EventType = "run.finished"
)

// Event mirrors one tracking call.
type Event struct {
	Type         EventType `json:"type"`
	Experiment   string    `json:"experiment"`
	ExperimentID string    `json:"experiment_id"`
	RunID        string    `json:"run_id"`
	Key          string    `json:"key,omitempty"`
	Value        string    `json:"value,omitempty"`
	Metric       *float64  `json:"metric,omitempty"`
	Status       RunStatus `json:"status,omitempty"`
	Timestamp    int64     `json:"timestamp"`
}

// RoutingKey is the AMQP routing key of the event.
func (e Event) RoutingKey() string {
	return "taxifare." + string(e.Type)
}

// Publisher receives a copy of every successful tracking call.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as JSON to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
}

// DialAMQP connects to url and declares the exchange. An empty exchange
// selects DefaultExchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.NewValidationError("events.amqp_url", "must not be empty", url)
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "amqp: open channel")
	}
	p, err := NewAMQPPublisher(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher declares a durable topic exchange on ch and publishes to it.
func NewAMQPPublisher(ch Channel, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "amqp: declare exchange %s", exchange)
	}
	return &AMQPPublisher{channel: ch, exchange: exchange}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "amqp: encode event")
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	return errors.Wrapf(err, "amqp: publish %s", e.Type)
}

// Close closes the channel and, when the publisher dialed it, the connection.
func (p *AMQPPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return errors.Wrap(err, "amqp: close")
}
