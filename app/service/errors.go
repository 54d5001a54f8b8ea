package service

import "errors"

var (
	ErrEmailInUse            = errors.New("email already in use")
	ErrUsernameInUse         = errors.New("username already in use")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrInvalidToken          = errors.New("invalid token")
	ErrExpiredToken          = errors.New("token has expired")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUserNotFound          = errors.New("user not found")
	ErrAlreadyVerified       = errors.New("email is already verified")
	ErrForbidden             = errors.New("forbidden")
	ErrWeakPassword          = errors.New("password does not meet policy requirements")
	ErrPasswordMismatch      = errors.New("current password is incorrect")
	ErrSigning               = errors.New("failed to sign access token")
	ErrMailDelivery          = errors.New("failed to deliver mail")
)
