package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDispatcher publishes OTP messages to a RabbitMQ topic exchange; an SMS
// gateway consumer delivers them.
type AMQPDispatcher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    amqpChannel
	reopen     func() (amqpChannel, error)
	exchange   string
	routingKey string
	declared   bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPDispatcher dials RabbitMQ and opens a channel.
func NewAMQPDispatcher(amqpURL, exchange, routingKey string) (*AMQPDispatcher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	d := newAMQPDispatcher(ch, exchange, routingKey)
	d.conn = conn
	d.reopen = func() (amqpChannel, error) { return conn.Channel() }
	return d, nil
}

func newAMQPDispatcher(ch amqpChannel, exchange, routingKey string) *AMQPDispatcher {
	return &AMQPDispatcher{channel: ch, exchange: exchange, routingKey: routingKey}
}

// SendOTP publishes msg as JSON. A failed publish reopens the channel once and retries.
func (d *AMQPDispatcher) SendOTP(ctx context.Context, msg OTPMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal otp message: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	err = d.publish(ctx, body)
	if err == nil {
		return nil
	}
	if d.reopen == nil {
		return err
	}

	log.Warn().Err(err).Str("exchange", d.exchange).Msg("amqp publish failed, reopening channel")
	ch, chErr := d.reopen()
	if chErr != nil {
		return errors.Join(err, chErr)
	}
	_ = d.channel.Close()
	d.channel = ch
	d.declared = false
	return d.publish(ctx, body)
}

// publish declares the exchange on first use and sends body. Caller holds mu.
func (d *AMQPDispatcher) publish(ctx context.Context, body []byte) error {
	if !d.declared {
		if err := d.channel.ExchangeDeclare(d.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", d.exchange, err)
		}
		d.declared = true
	}

	err := d.channel.PublishWithContext(ctx, d.exchange, d.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", d.exchange, err)
	}
	return nil
}

// Close closes the channel and connection.
func (d *AMQPDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		_ = d.channel.Close()
	}
	if d.conn != nil {
		_ = d.conn.Close()
	}
}
