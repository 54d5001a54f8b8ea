// Package mail delivers account mails (verification, password reset, password
// changed) through the transport selected by MAIL_TRANSPORT.
package mail

import (
	"context"
	"fmt"

	"github.com/vibast-solutions/ms-go-accounts/app/metrics"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/sirupsen/logrus"
)

type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	TextBody string `json:"textBody"`
	HTMLBody string `json:"htmlBody"`
}

// Mailer is a process-wide transport. Send must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// New builds the mailer for cfg.Mail.Transport, wrapped with delivery metrics.
func New(cfg *config.Config) (Mailer, error) {
	var (
		transport Mailer
		err       error
	)

	switch cfg.Mail.Transport {
	case "smtp":
		transport = NewSMTPMailer(cfg.Mail.SMTP, cfg.Mail.From)
	case "amqp":
		transport, err = NewAMQPMailer(cfg.Mail.AMQP, cfg.Mail.From)
	case "log":
		transport = NewLogMailer()
	default:
		err = fmt.Errorf("unsupported mail transport %q", cfg.Mail.Transport)
	}
	if err != nil {
		return nil, err
	}

	return &instrumented{name: cfg.Mail.Transport, next: transport}, nil
}

type instrumented struct {
	name string
	next Mailer
}

func (m *instrumented) Send(ctx context.Context, msg Message) error {
	if err := m.next.Send(ctx, msg); err != nil {
		metrics.MailDeliveriesTotal.WithLabelValues(m.name, "failed").Inc()
		logrus.WithError(err).WithFields(logrus.Fields{
			"transport": m.name,
			"subject":   msg.Subject,
		}).Error("Mail delivery failed")
		return err
	}

	metrics.MailDeliveriesTotal.WithLabelValues(m.name, "sent").Inc()
	logrus.WithFields(logrus.Fields{
		"transport": m.name,
		"subject":   msg.Subject,
	}).Debug("Mail delivered")
	return nil
}

func (m *instrumented) Close() error {
	return m.next.Close()
}
