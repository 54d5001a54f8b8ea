package controller

import (
	"errors"
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/storage"
	"github.com/vibast-solutions/ms-go-accounts/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidBody        = "INVALID_BODY"
	CodeEmailInUse         = "EMAIL_IN_USE"
	CodeUsernameInUse      = "USERNAME_IN_USE"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidOrExpired   = "INVALID_OR_EXPIRED_TOKEN"
	CodeAlreadyVerified    = "ALREADY_VERIFIED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeWeakPassword       = "WEAK_PASSWORD"
	CodePasswordMismatch   = "PASSWORD_MISMATCH"
	CodeUnsupportedImage   = "UNSUPPORTED_IMAGE"
	CodeImageTooLarge      = "IMAGE_TOO_LARGE"
	CodeInternal           = "INTERNAL_ERROR"
)

func errorJSON(ctx echo.Context, status int, code, message string) error {
	return ctx.JSON(status, httpdto.ErrorResponse{Error: message, Code: code})
}

func invalidBody(ctx echo.Context, err error) error {
	logrus.WithError(err).Debug("Failed to bind request")
	return errorJSON(ctx, http.StatusBadRequest, CodeInvalidBody, "invalid request body")
}

func validationFailed(ctx echo.Context, err error) error {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   "validation failed",
			Code:    CodeValidation,
			Details: ve.Details,
		})
	}
	return errorJSON(ctx, http.StatusBadRequest, CodeValidation, err.Error())
}

// imageError renders upload rejections; ok is false for any other error.
func imageError(ctx echo.Context, err error) (error, bool) {
	switch {
	case errors.Is(err, storage.ErrUnsupportedImage):
		return errorJSON(ctx, http.StatusBadRequest, CodeUnsupportedImage, "profile image must be a jpeg, png, gif or webp file"), true
	case errors.Is(err, storage.ErrImageTooLarge):
		return errorJSON(ctx, http.StatusRequestEntityTooLarge, CodeImageTooLarge, "profile image is too large"), true
	}
	return nil, false
}

// HTTPErrorHandler renders errors no handler classified. Anything that is
// not an *echo.HTTPError is logged and hidden behind a generic 500.
func HTTPErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		if he.Code >= http.StatusInternalServerError {
			logrus.WithError(err).WithField("path", ctx.Path()).Error("Request failed")
		}
		_ = errorJSON(ctx, he.Code, "", message)
		return
	}

	logrus.WithError(err).WithFields(logrus.Fields{
		"method": ctx.Request().Method,
		"path":   ctx.Path(),
	}).Error("Unhandled request error")
	_ = errorJSON(ctx, http.StatusInternalServerError, CodeInternal, "internal server error")
}
