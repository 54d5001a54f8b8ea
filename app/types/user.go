package types

import (
	"mime/multipart"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type UpdateProfileRequest struct {
	Username string                `json:"username" form:"username" validate:"omitempty,min=3,max=30"`
	Email    string                `json:"email" form:"email" validate:"omitempty,email,max=255"`
	Image    *multipart.FileHeader `json:"-" form:"-"`
}

func NewUpdateProfileRequestFromContext(ctx echo.Context) (*UpdateProfileRequest, error) {
	var body UpdateProfileRequest
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

func (r *UpdateProfileRequest) Validate() error {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = NormalizeEmail(r.Email)
	return validateStruct(r)
}

type ListUsersRequest struct {
	Page   int    `query:"page" validate:"gte=0"`
	Limit  int    `query:"limit" validate:"gte=0"`
	Search string `query:"search" validate:"max=100"`
}

func NewListUsersRequestFromContext(ctx echo.Context) (*ListUsersRequest, error) {
	var body ListUsersRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

// Validate applies the paging defaults; a limit above MaxPageSize is capped.
func (r *ListUsersRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Limit == 0 {
		r.Limit = DefaultPageSize
	}
	if r.Limit > MaxPageSize {
		r.Limit = MaxPageSize
	}
	r.Search = strings.TrimSpace(r.Search)
	return nil
}

type UserIDRequest struct {
	ID uint64 `param:"id" validate:"required"`
}

func NewUserIDRequestFromContext(ctx echo.Context) (*UserIDRequest, error) {
	var body UserIDRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *UserIDRequest) Validate() error {
	return validateStruct(r)
}
