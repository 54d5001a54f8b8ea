package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime/multipart"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/dto"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/mail"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/types"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	verificationTokenBytes = 20
	resetTokenBytes        = 20
	asyncTaskTimeout       = 10 * time.Second
)

type accountUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	FindByVerificationToken(ctx context.Context, token string) (*entity.User, error)
	FindByResetTokenNotExpired(ctx context.Context, token string, now time.Time) (*entity.User, error)
	SetResetToken(ctx context.Context, userID uint64, token string, expiresAt, now time.Time) error
	SetVerificationToken(ctx context.Context, userID uint64, token string, now time.Time) (bool, error)
	ConsumeVerificationToken(ctx context.Context, userID uint64, token string, now time.Time) (bool, error)
	UpdateLastLogin(ctx context.Context, userID uint64, lastLogin time.Time) error
}

type tokenManager interface {
	IssueAccessToken(user *entity.User) (string, error)
	IssueRefreshToken(ctx context.Context, userID uint64, clientIP string) (string, error)
	RotateRefreshToken(ctx context.Context, oldToken, clientIP string) (*RotationResult, error)
	RevokeRefreshToken(ctx context.Context, token string, userID uint64, clientIP string) error
	RevokeAllForUser(ctx context.Context, userID uint64, clientIP string) (int64, error)
	AccessTokenTTL() time.Duration
}

type imageStore interface {
	Save(fh *multipart.FileHeader) (string, error)
	Remove(name string) error
}

type AccountService interface {
	Signup(ctx context.Context, req *types.SignupRequest) (*dto.SignupResult, error)
	VerifyEmail(ctx context.Context, token string) error
	Signin(ctx context.Context, req *types.SigninRequest, clientIP string) (*dto.SigninResult, error)
	Refresh(ctx context.Context, refreshToken, clientIP string) (*dto.TokenPair, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req *types.ResetPasswordRequest, clientIP string) error
	ResendVerification(ctx context.Context, email string) (*dto.ResendVerificationResult, error)
	Logout(ctx context.Context, userID uint64, refreshToken, clientIP string) error
	ChangePassword(ctx context.Context, userID uint64, req *types.ChangePasswordRequest, clientIP string) error
}

type AsyncRunner func(task func())

type Option func(*options)

type options struct {
	asyncRunner AsyncRunner
	now         func() time.Time
}

func defaultOptions(opts []Option) options {
	o := options{
		asyncRunner: func(task func()) {
			go task()
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithAsyncRunner(runner AsyncRunner) Option {
	return func(o *options) {
		if runner != nil {
			o.asyncRunner = runner
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type accountService struct {
	db          *sql.DB
	userRepo    accountUserRepository
	tokens      tokenManager
	mailer      mail.Mailer
	images      imageStore
	cfg         *config.Config
	asyncRunner AsyncRunner
	now         func() time.Time

	dummyHashOnce sync.Once
	dummyHash     []byte
}

func NewAccountService(
	db *sql.DB,
	userRepo accountUserRepository,
	tokens tokenManager,
	mailer mail.Mailer,
	images imageStore,
	cfg *config.Config,
	opts ...Option,
) AccountService {
	o := defaultOptions(opts)
	return &accountService{
		db:          db,
		userRepo:    userRepo,
		tokens:      tokens,
		mailer:      mailer,
		images:      images,
		cfg:         cfg,
		asyncRunner: o.asyncRunner,
		now:         o.now,
	}
}

func (s *accountService) Signup(ctx context.Context, req *types.SignupRequest) (res *dto.SignupResult, err error) {
	defer observe("signup", &err)

	existing, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	existing, err = s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameInUse
	}

	if err = s.cfg.Password.Policy.Validate(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}

	verificationToken, err := generateOpaqueToken(verificationTokenBytes)
	if err != nil {
		return nil, err
	}

	var imageName string
	if req.Image != nil {
		if imageName, err = s.images.Save(req.Image); err != nil {
			return nil, err
		}
	}

	committed := false
	defer func() {
		if !committed {
			s.removeImage(imageName)
		}
	}()

	now := s.now()
	user := &entity.User{
		Username:          req.Username,
		Email:             req.Email,
		PasswordHash:      string(hashedPassword),
		ProfileImage:      sql.NullString{String: imageName, Valid: imageName != ""},
		EmailVerified:     false,
		VerificationToken: sql.NullString{String: verificationToken, Valid: true},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txUserRepo := repository.NewUserRepository(tx)
	if err = txUserRepo.Create(ctx, user); err != nil {
		return nil, mapDuplicate(err)
	}

	if err = txUserRepo.AddRole(ctx, user.ID, entity.RoleUser); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	user.Roles = entity.Roles{entity.RoleUser}

	// Synchronous and best-effort: the account exists either way, a failure is
	// reported back as a warning.
	result := &dto.SignupResult{User: user}
	if mailErr := s.sendVerificationMail(ctx, user); mailErr != nil {
		logrus.WithError(mailErr).WithField("user_id", user.ID).Warn("Failed to send verification mail")
		result.MailError = mailErr
	}

	return result, nil
}

func (s *accountService) VerifyEmail(ctx context.Context, token string) (err error) {
	defer observe("verify_email", &err)

	user, err := s.userRepo.FindByVerificationToken(ctx, token)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidToken
	}

	consumed, err := s.userRepo.ConsumeVerificationToken(ctx, user.ID, token, s.now())
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidToken
	}
	return nil
}

func (s *accountService) Signin(ctx context.Context, req *types.SigninRequest, clientIP string) (res *dto.SigninResult, err error) {
	defer observe("signin", &err)

	user, err := s.userRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Unknown emails cost one bcrypt comparison too.
		_ = bcrypt.CompareHashAndPassword(s.placeholderHash(), []byte(req.Password))
		return nil, ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.IssueRefreshToken(ctx, user.ID, clientIP)
	if err != nil {
		return nil, err
	}

	loginAt := s.now()
	s.asyncRunner(func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), asyncTaskTimeout)
		defer cancel()

		if updateErr := s.userRepo.UpdateLastLogin(updateCtx, user.ID, loginAt); updateErr != nil {
			logrus.WithError(updateErr).WithField("user_id", user.ID).Error("failed to update last_login")
		}
	})

	return &dto.SigninResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.AccessTokenTTL().Seconds()),
		User:         user,
	}, nil
}

// Refresh always rotates: the presented token is revoked and a successor is returned.
func (s *accountService) Refresh(ctx context.Context, refreshToken, clientIP string) (res *dto.TokenPair, err error) {
	defer observe("refresh", &err)

	rotation, err := s.tokens.RotateRefreshToken(ctx, refreshToken, clientIP)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.tokens.IssueAccessToken(rotation.User)
	if err != nil {
		return nil, err
	}

	return &dto.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: rotation.RefreshToken,
		ExpiresIn:    int64(s.tokens.AccessTokenTTL().Seconds()),
	}, nil
}

func (s *accountService) ForgotPassword(ctx context.Context, email string) (err error) {
	defer observe("forgot_password", &err)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	resetToken, err := generateOpaqueToken(resetTokenBytes)
	if err != nil {
		return err
	}

	now := s.now()
	if err = s.userRepo.SetResetToken(ctx, user.ID, resetToken, now.Add(config.ResetTokenTTL), now); err != nil {
		return err
	}

	// Synchronous and fatal: without the mail the caller has no way to use the token.
	msg, err := mail.PasswordResetMessage(user.Email, user.Username, mail.ResetLink(s.cfg.Links.FrontendURL, resetToken))
	if err != nil {
		return err
	}
	if err = s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s", ErrMailDelivery, err.Error())
	}
	return nil
}

func (s *accountService) ResetPassword(ctx context.Context, req *types.ResetPasswordRequest, clientIP string) (err error) {
	defer observe("reset_password", &err)

	if err = s.cfg.Password.Policy.Validate(req.Password); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	now := s.now()
	user, err := s.userRepo.FindByResetTokenNotExpired(ctx, req.Token, now)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidOrExpiredToken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.Password.BcryptCost)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	consumed, err := repository.NewUserRepository(tx).ConsumeResetToken(ctx, user.ID, req.Token, string(hashedPassword), now)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidOrExpiredToken
	}

	if _, err = repository.NewRefreshTokenRepository(tx).RevokeAllForUser(ctx, user.ID, now, clientIP); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	// Asynchronous and best-effort: the password is already changed.
	s.sendPasswordChangedMail(user)
	return nil
}

func (s *accountService) ResendVerification(ctx context.Context, email string) (res *dto.ResendVerificationResult, err error) {
	defer observe("resend_verification", &err)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.EmailVerified {
		return nil, ErrAlreadyVerified
	}

	if !user.VerificationToken.Valid || user.VerificationToken.String == "" {
		token, err := generateOpaqueToken(verificationTokenBytes)
		if err != nil {
			return nil, err
		}
		stored, err := s.userRepo.SetVerificationToken(ctx, user.ID, token, s.now())
		if err != nil {
			return nil, err
		}
		if stored {
			user.VerificationToken = sql.NullString{String: token, Valid: true}
		} else if user, err = s.reloadUnverified(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	// Synchronous and best-effort, same as signup.
	result := &dto.ResendVerificationResult{}
	if mailErr := s.sendVerificationMail(ctx, user); mailErr != nil {
		logrus.WithError(mailErr).WithField("user_id", user.ID).Warn("Failed to resend verification mail")
		result.MailError = mailErr
	}
	return result, nil
}

func (s *accountService) Logout(ctx context.Context, userID uint64, refreshToken, clientIP string) (err error) {
	defer observe("logout", &err)

	return s.tokens.RevokeRefreshToken(ctx, refreshToken, userID, clientIP)
}

func (s *accountService) ChangePassword(ctx context.Context, userID uint64, req *types.ChangePasswordRequest, clientIP string) (err error) {
	defer observe("change_password", &err)

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrPasswordMismatch
	}

	if err = s.cfg.Password.Policy.Validate(req.NewPassword); err != nil {
		return fmt.Errorf("%w: %s", ErrWeakPassword, err.Error())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cfg.Password.BcryptCost)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	if err = repository.NewUserRepository(tx).UpdatePassword(ctx, user.ID, string(hashedPassword), now); err != nil {
		return err
	}
	if _, err = repository.NewRefreshTokenRepository(tx).RevokeAllForUser(ctx, user.ID, now, clientIP); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.sendPasswordChangedMail(user)
	return nil
}

// reloadUnverified re-reads a user whose verification token was set or
// consumed by a concurrent request.
func (s *accountService) reloadUnverified(ctx context.Context, userID uint64) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.EmailVerified || !user.VerificationToken.Valid || user.VerificationToken.String == "" {
		return nil, ErrAlreadyVerified
	}
	return user, nil
}

func (s *accountService) sendVerificationMail(ctx context.Context, user *entity.User) error {
	link := mail.VerificationLink(s.cfg.Links.AppBaseURL, user.VerificationToken.String)
	msg, err := mail.VerificationMessage(user.Email, user.Username, link)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

func (s *accountService) sendPasswordChangedMail(user *entity.User) {
	email, username, userID := user.Email, user.Username, user.ID
	s.asyncRunner(func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), asyncTaskTimeout)
		defer cancel()

		msg, err := mail.PasswordChangedMessage(email, username)
		if err == nil {
			err = s.mailer.Send(sendCtx, msg)
		}
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("Failed to send password changed mail")
		}
	})
}

func (s *accountService) removeImage(name string) {
	if name == "" {
		return
	}
	if err := s.images.Remove(name); err != nil {
		logrus.WithError(err).WithField("image", name).Warn("Failed to remove profile image")
	}
}

func (s *accountService) placeholderHash() []byte {
	s.dummyHashOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("placeholder-password"), s.cfg.Password.BcryptCost)
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func mapDuplicate(err error) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail):
		return ErrEmailInUse
	case errors.Is(err, repository.ErrDuplicateUsername):
		return ErrUsernameInUse
	default:
		return err
	}
}
