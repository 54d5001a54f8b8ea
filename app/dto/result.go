package dto

import "github.com/vibast-solutions/ms-go-accounts/app/entity"

type SignupResult struct {
	User *entity.User
	// MailError is set when the verification mail could not be sent.
	MailError error
}

type SigninResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         *entity.User
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

type ResendVerificationResult struct {
	MailError error
}

type UserPage struct {
	Users      []*entity.User
	TotalItems int64
	Page       int
	PageSize   int
}

func (p *UserPage) TotalPages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.TotalItems + int64(p.PageSize) - 1) / int64(p.PageSize))
}
