package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Producer is stamped on every envelope.
const Producer = "switchboard"

// Envelope is the wire format on the broker.
type Envelope struct {
	Meta Meta  `json:"meta"`
	Data Event `json:"data"`
}

// Meta mirrors the AMQP properties so consumers can route without decoding Data.
type Meta struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Producer      string `json:"producer"`
	Time          string `json:"time"`
}

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// AMQPPublisher publishes event envelopes to a topic exchange with the event type as routing key.
type AMQPPublisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
	reopen  func() (amqpChannel, error)
}

// DialAMQP connects to url and declares exchange as a durable topic exchange.
func DialAMQP(log *slog.Logger, rawURL, exchange string) (*AMQPPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	log = log.With(slog.String("component", "amqp_publisher"), slog.String("exchange", exchange))
	log.Info("connecting to rabbitmq", slog.String("host", host))

	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	open := func() (amqpChannel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open channel: %w", err)
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
		return ch, nil
	}
	ch, err := open()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQPPublisher{exchange: exchange, logger: log, conn: conn, channel: ch, reopen: open}, nil
}

func newAMQPPublisherWithChannel(log *slog.Logger, exchange string, ch amqpChannel) *AMQPPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{exchange: exchange, logger: log, channel: ch}
}

// Publish sends ev as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		return errors.New("event id is required")
	}
	correlationID := ev.CorrelationID
	if correlationID == "" {
		correlationID = ev.ID
	}
	body, err := json.Marshal(Envelope{
		Meta: Meta{
			ID:            ev.ID,
			Type:          string(ev.Type),
			CorrelationID: correlationID,
			Producer:      Producer,
			Time:          ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
		Data: ev,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := p.currentChannel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     ev.ID,
		CorrelationId: correlationID,
		Type:          string(ev.Type),
		Timestamp:     ev.OccurredAt,
		AppId:         Producer,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) currentChannel() (amqpChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	if p.reopen == nil {
		return nil, errors.New("amqp channel closed")
	}
	ch, err := p.reopen()
	if err != nil {
		return nil, err
	}
	p.logger.Warn("amqp channel reopened")
	p.channel = ch
	return ch, nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
