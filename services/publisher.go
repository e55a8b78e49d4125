package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/flashbots/ledgermix/mixer"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher forwards session events to an outside consumer.
type Publisher interface {
	Publish(ctx context.Context, ev mixer.Event) error
}

// LogPublisher writes lifecycle events to a logger. Per-transfer events are
// logged at debug level.
type LogPublisher struct {
	log *slog.Logger
}

// NewLogPublisher creates a publisher that logs events.
func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, ev mixer.Event) error {
	level := slog.LevelInfo
	if ev.Kind == mixer.EventTransferApplied || ev.Kind == mixer.EventPhaseStarted {
		level = slog.LevelDebug
	}
	if ev.Kind == mixer.EventSessionFailed || ev.Kind == mixer.EventTransferRolledBack {
		level = slog.LevelWarn
	}

	attrs := []any{"session", ev.SessionID, "kind", ev.Kind, "phase", ev.Phase}
	if ev.Transfer != nil {
		attrs = append(attrs, "seq", ev.Transfer.Seq, "from", ev.Transfer.From, "to", ev.Transfer.To, "amount", ev.Transfer.Amount.String())
	}
	if len(ev.Accounts) > 0 {
		attrs = append(attrs, "accounts", ev.Accounts)
	}
	if ev.Err != "" {
		attrs = append(attrs, "err", ev.Err)
	}

	p.log.Log(ctx, level, "Session event", attrs...)
	return nil
}

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events as JSON to a topic exchange with routing
// key "session.<kind>".
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQPPublisher connects to a broker and declares a durable topic
// exchange.
func DialAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, ev mixer.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.Time,
		Type:         string(ev.Kind),
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, "session."+string(ev.Kind), false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if connErr := p.conn.Close(); err == nil {
			err = connErr
		}
	}
	return err
}
