package http

import (
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/dto"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

// EmailNotVerifiedResponse lets the client offer a resend action.
type EmailNotVerifiedResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	CanResend bool   `json:"canResend"`
}

type MessageResponse struct {
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

type SignupResponse struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Message  string `json:"message"`
	Warning  string `json:"warning,omitempty"`
}

type UserSummary struct {
	ID       uint64   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

type SigninResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
	User         UserSummary `json:"user"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type UserResponse struct {
	ID            uint64    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	ProfileImage  string    `json:"profileImage,omitempty"`
	Roles         []string  `json:"roles"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Pagination struct {
	TotalItems   int64 `json:"totalItems"`
	TotalPages   int   `json:"totalPages"`
	CurrentPage  int   `json:"currentPage"`
	ItemsPerPage int   `json:"itemsPerPage"`
}

type UserListResponse struct {
	Users      []UserResponse `json:"users"`
	Pagination Pagination     `json:"pagination"`
}

// NewUserResponse never exposes the password hash or pending tokens.
// imageBaseURL is prefixed to the stored image name.
func NewUserResponse(user *entity.User, imageBaseURL string) UserResponse {
	res := UserResponse{
		ID:            user.ID,
		Username:      user.Username,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Roles:         user.Roles.Names(),
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	if user.ProfileImage.Valid && user.ProfileImage.String != "" {
		res.ProfileImage = imageBaseURL + "/" + user.ProfileImage.String
	}
	return res
}

func NewUserSummary(user *entity.User) UserSummary {
	return UserSummary{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    user.Roles.Names(),
	}
}

func NewUserListResponse(page *dto.UserPage, imageBaseURL string) UserListResponse {
	users := make([]UserResponse, 0, len(page.Users))
	for _, u := range page.Users {
		users = append(users, NewUserResponse(u, imageBaseURL))
	}
	return UserListResponse{
		Users: users,
		Pagination: Pagination{
			TotalItems:   page.TotalItems,
			TotalPages:   page.TotalPages(),
			CurrentPage:  page.Page,
			ItemsPerPage: page.PageSize,
		},
	}
}
