package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/config"

	amqp "github.com/rabbitmq/amqp091-go"
)

// outboxMessage is the JSON document published to the mail queue. A separate
// worker owns the actual delivery.
type outboxMessage struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	TextBody string    `json:"textBody"`
	HTMLBody string    `json:"htmlBody"`
	QueuedAt time.Time `json:"queuedAt"`
}

// AMQPMailer publishes mails to a durable queue over one long-lived connection.
type AMQPMailer struct {
	url   string
	queue string
	from  string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPMailer(cfg config.AMQPConfig, from string) (*AMQPMailer, error) {
	m := &AMQPMailer{url: cfg.URL, queue: cfg.Queue, from: from}
	if _, err := m.connection(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AMQPMailer) Send(ctx context.Context, msg Message) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err = ch.QueueDeclare(m.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp queue declare failed: %w", err)
	}

	body, err := json.Marshal(outboxMessage{
		From:     m.from,
		To:       msg.To,
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, "", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (m *AMQPMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.conn.IsClosed() {
		return nil
	}
	return m.conn.Close()
}

// connection returns the shared connection, redialing once it was closed by the broker.
func (m *AMQPMailer) connection() (*amqp.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}

	conn, err := amqp.Dial(m.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial failed: %w", err)
	}
	m.conn = conn
	return conn, nil
}
