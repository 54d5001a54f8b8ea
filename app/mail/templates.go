package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
)

var (
	verificationHTML = template.Must(template.New("verification").Parse(
		`<p>Hello {{.Username}},</p>
<p>Please confirm your email address by following the link below.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>If you did not create an account you can ignore this message.</p>`))

	passwordResetHTML = template.Must(template.New("password_reset").Parse(
		`<p>Hello {{.Username}},</p>
<p>We received a request to reset your password. The link below is valid for one hour.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not request a reset you can ignore this message.</p>`))

	passwordChangedHTML = template.Must(template.New("password_changed").Parse(
		`<p>Hello {{.Username}},</p>
<p>The password of your account was just changed.</p>
<p>If this was not you, reset your password immediately.</p>`))
)

type templateData struct {
	Username string
	Link     string
}

// VerificationLink points at the API endpoint that consumes the token.
func VerificationLink(appBaseURL, token string) string {
	return appBaseURL + "/auth/verify-email?token=" + url.QueryEscape(token)
}

// ResetLink points at the frontend page that collects the new password.
func ResetLink(frontendURL, token string) string {
	return frontendURL + "/reset-password?token=" + url.QueryEscape(token)
}

func VerificationMessage(to, username, link string) (Message, error) {
	html, err := render(verificationHTML, templateData{Username: username, Link: link})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Verify your email address",
		TextBody: fmt.Sprintf(
			"Hello %s,\n\nPlease confirm your email address by opening:\n%s\n\nIf you did not create an account you can ignore this message.\n",
			username, link),
		HTMLBody: html,
	}, nil
}

func PasswordResetMessage(to, username, link string) (Message, error) {
	html, err := render(passwordResetHTML, templateData{Username: username, Link: link})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Reset your password",
		TextBody: fmt.Sprintf(
			"Hello %s,\n\nWe received a request to reset your password. Open the link below within one hour:\n%s\n\nIf you did not request a reset you can ignore this message.\n",
			username, link),
		HTMLBody: html,
	}, nil
}

func PasswordChangedMessage(to, username string) (Message, error) {
	html, err := render(passwordChangedHTML, templateData{Username: username})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Your password was changed",
		TextBody: fmt.Sprintf(
			"Hello %s,\n\nThe password of your account was just changed.\nIf this was not you, reset your password immediately.\n",
			username),
		HTMLBody: html,
	}, nil
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
