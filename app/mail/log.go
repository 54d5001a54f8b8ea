package mail

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogMailer writes mails to the log instead of delivering them. It is meant
// for local development.
type LogMailer struct{}

func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	logrus.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info(msg.TextBody)
	return nil
}

func (m *LogMailer) Close() error {
	return nil
}
