package service

import (
	"errors"

	"github.com/vibast-solutions/ms-go-accounts/app/metrics"
)

var outcomes = []struct {
	err   error
	label string
}{
	{ErrEmailInUse, "email_in_use"},
	{ErrUsernameInUse, "username_in_use"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrEmailNotVerified, "email_not_verified"},
	{ErrInvalidToken, "invalid_token"},
	{ErrExpiredToken, "expired_token"},
	{ErrInvalidOrExpiredToken, "invalid_or_expired_token"},
	{ErrUserNotFound, "user_not_found"},
	{ErrAlreadyVerified, "already_verified"},
	{ErrForbidden, "forbidden"},
	{ErrWeakPassword, "weak_password"},
	{ErrPasswordMismatch, "password_mismatch"},
	{ErrMailDelivery, "mail_delivery"},
}

func observe(event string, errp *error) {
	metrics.AuthEventsTotal.WithLabelValues(event, outcome(*errp)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.label
		}
	}
	return "error"
}
