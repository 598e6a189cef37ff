// Message bus client: AMQP publisher/consumer for the subjects listed in
// spec §6. Grounded via other_examples/manifests/evalgo-org-eve/go.mod,
// which pins github.com/streadway/amqp for the same publish/consume shape.
package core

import (
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Subjects published by the controller (spec §6).
const (
	SubjectBlockIrreversible = "koinos.block.irreversible"
	SubjectBlockAccept       = "koinos.block.accept"
	SubjectBlockForks        = "koinos.block.forks"
	SubjectTransactionAccept = "koinos.transaction.accept"
	SubjectTransactionFail   = "koinos.transaction.fail"
)

// EventSubject formats a per-event publish subject (spec §6).
func EventSubject(source, name string) string {
	return "koinos.event." + source + "." + name
}

// MessageBus wraps an AMQP channel for best-effort publish of controller
// events; failures are logged but non-fatal (spec §4.I step 9).
type MessageBus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	exchange string
	log     logrus.FieldLogger
}

// DialMessageBus connects to the broker at url and declares the topic
// exchange used for every subject above.
func DialMessageBus(url, exchange string, log logrus.FieldLogger) (*MessageBus, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, ErrRPCPeerError("amqp", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, ErrRPCPeerError("amqp", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, ErrRPCPeerError("amqp", err)
	}
	return &MessageBus{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

// Publish sends body to subject. Errors are returned to the caller, which
// (per spec §4.I step 9) is expected to log-and-continue rather than abort
// the enclosing apply-block call.
func (b *MessageBus) Publish(subject string, body []byte) error {
	if b == nil || b.channel == nil {
		return nil // message bus is an external collaborator; absence is tolerated
	}
	err := b.channel.Publish(b.exchange, subject, false, false, amqp.Publishing{
		ContentType: "application/octet-stream",
		Body:        body,
	})
	if err != nil {
		return ErrRPCPeerError("amqp publish "+subject, err)
	}
	return nil
}

// PublishBestEffort publishes and logs-but-swallows any error, matching the
// independently-caught broadcast sequence of original_source's
// controller.cpp (SPEC_FULL.md's supplemented-features section).
func (b *MessageBus) PublishBestEffort(subject string, body []byte) {
	if err := b.Publish(subject, body); err != nil {
		b.log.WithError(err).WithField("subject", subject).Warn("message bus publish failed")
	}
}

// Subscribe declares a fresh exclusive queue, binds it to subject on the
// bus exchange, and returns its delivery channel.
func (b *MessageBus) Subscribe(subject string) (<-chan amqp.Delivery, error) {
	q, err := b.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, ErrRPCPeerError("amqp", err)
	}
	if err := b.channel.QueueBind(q.Name, subject, b.exchange, false, nil); err != nil {
		return nil, ErrRPCPeerError("amqp", err)
	}
	return b.channel.Consume(q.Name, "", true, true, false, false, nil)
}

func (b *MessageBus) Close() error {
	if b == nil {
		return nil
	}
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
