package types

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type SignupRequest struct {
	Username string                `json:"username" form:"username" validate:"required,min=3,max=30"`
	Email    string                `json:"email" form:"email" validate:"required,email,max=255"`
	Password string                `json:"password" form:"password" validate:"required"`
	Image    *multipart.FileHeader `json:"-" form:"-"`
}

func NewSignupRequestFromContext(ctx echo.Context) (*SignupRequest, error) {
	var body SignupRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	image, err := optionalFormFile(ctx, "image")
	if err != nil {
		return nil, err
	}
	body.Image = image

	return &body, nil
}

func (r *SignupRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = NormalizeEmail(r.Email)
	return validateStruct(r)
}

type VerifyEmailRequest struct {
	Token string `query:"token" validate:"required"`
}

func NewVerifyEmailRequestFromContext(ctx echo.Context) (*VerifyEmailRequest, error) {
	var body VerifyEmailRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *VerifyEmailRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	return validateStruct(r)
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func NewSigninRequestFromContext(ctx echo.Context) (*SigninRequest, error) {
	var body SigninRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *SigninRequest) Validate() error {
	r.Email = NormalizeEmail(r.Email)
	return validateStruct(r)
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func NewRefreshTokenRequestFromContext(ctx echo.Context) (*RefreshTokenRequest, error) {
	var body RefreshTokenRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *RefreshTokenRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	return validateStruct(r)
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func NewEmailRequestFromContext(ctx echo.Context) (*EmailRequest, error) {
	var body EmailRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *EmailRequest) Validate() error {
	r.Email = NormalizeEmail(r.Email)
	return validateStruct(r)
}

type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

func NewResetPasswordRequestFromContext(ctx echo.Context) (*ResetPasswordRequest, error) {
	var body ResetPasswordRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *ResetPasswordRequest) Validate() error {
	r.Token = strings.TrimSpace(r.Token)
	return validateStruct(r)
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func NewLogoutRequestFromContext(ctx echo.Context) (*LogoutRequest, error) {
	var body LogoutRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *LogoutRequest) Validate() error {
	r.RefreshToken = strings.TrimSpace(r.RefreshToken)
	return validateStruct(r)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=NewPassword"`
}

func NewChangePasswordRequestFromContext(ctx echo.Context) (*ChangePasswordRequest, error) {
	var body ChangePasswordRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *ChangePasswordRequest) Validate() error {
	return validateStruct(r)
}

// optionalFormFile returns nil when the request carries no file under name.
func optionalFormFile(ctx echo.Context, name string) (*multipart.FileHeader, error) {
	if !strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return nil, nil
	}

	fh, err := ctx.FormFile(name)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	return fh, nil
}
