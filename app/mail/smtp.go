package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/config"
)

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

type SMTPMailer struct {
	cfg  config.SMTPConfig
	from string
	send sendFunc
}

func NewSMTPMailer(cfg config.SMTPConfig, from string) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg, from: from}
	if cfg.UseTLS {
		m.send = m.sendTLS
	} else {
		m.send = smtp.SendMail
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("smtp host is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := buildMIME(m.from, msg, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	return m.send(addr, auth, m.from, []string{msg.To}, body)
}

func (m *SMTPMailer) Close() error {
	return nil
}

// sendTLS talks SMTP over an implicit TLS connection (port 465 style).
func (m *SMTPMailer) sendTLS(addr string, auth smtp.Auth, from string, to []string, body []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return err
		}
	}
	if err = client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(body); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// buildMIME renders a multipart/alternative message with a text and an HTML part.
func buildMIME(from string, msg Message, now time.Time) ([]byte, error) {
	var sb strings.Builder
	mw := multipart.NewWriter(&sb)

	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=%q\r\n\r\n",
		from, msg.To, msg.Subject, now.Format(time.RFC1123Z), mw.Boundary(),
	)

	parts := []struct {
		contentType string
		body        string
	}{
		{contentType: "text/plain; charset=UTF-8", body: msg.TextBody},
		{contentType: "text/html; charset=UTF-8", body: msg.HTMLBody},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err = w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	return []byte(header + sb.String()), nil
}
