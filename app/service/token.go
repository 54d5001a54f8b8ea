package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/metrics"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const refreshTokenBytes = 40

type Claims struct {
	UserID   uint64   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// UserRoles parses the role names carried by the token, dropping unknown names.
func (c *Claims) UserRoles() entity.Roles {
	roles := make(entity.Roles, 0, len(c.Roles))
	for _, name := range c.Roles {
		if role, err := entity.ParseRole(name); err == nil {
			roles = append(roles, role)
		}
	}
	return roles
}

type refreshTokenRepository interface {
	Create(ctx context.Context, token *entity.RefreshToken) error
	RevokeForUser(ctx context.Context, token string, userID uint64, revokedAt time.Time, revokedByIP string) (int64, error)
	RevokeAllForUser(ctx context.Context, userID uint64, revokedAt time.Time, revokedByIP string) (int64, error)
}

type refreshTokenCreator interface {
	Create(ctx context.Context, token *entity.RefreshToken) error
}

// RotationResult is the successor refresh token and the user that owns it.
type RotationResult struct {
	RefreshToken string
	User         *entity.User
}

type TokenService struct {
	db               *sql.DB
	refreshTokenRepo refreshTokenRepository
	secret           []byte
	accessTTL        time.Duration
	now              func() time.Time
}

func NewTokenService(db *sql.DB, refreshTokenRepo refreshTokenRepository, cfg *config.Config) *TokenService {
	return &TokenService{
		db:               db,
		refreshTokenRepo: refreshTokenRepo,
		secret:           []byte(cfg.JWT.AccessSecret),
		accessTTL:        cfg.JWT.AccessTokenTTL,
		now:              time.Now,
	}
}

func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

func (s *TokenService) IssueAccessToken(user *entity.User) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("%w: access secret is not configured", ErrSigning)
	}

	now := s.now()
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles.Names(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSigning, err.Error())
	}
	return signed, nil
}

func (s *TokenService) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) IssueRefreshToken(ctx context.Context, userID uint64, clientIP string) (string, error) {
	return s.issueRefreshTokenWithRepo(ctx, s.refreshTokenRepo, userID, clientIP)
}

// RotateRefreshToken revokes oldToken and records exactly one successor for it.
// A revoked token presented again is treated as stolen: every active token of
// its owner is revoked before the call fails.
func (s *TokenService) RotateRefreshToken(ctx context.Context, oldToken, clientIP string) (*RotationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txRefreshRepo := repository.NewRefreshTokenRepository(tx)
	current, err := txRefreshRepo.FindByTokenForUpdate(ctx, oldToken)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrInvalidToken
	}

	now := s.now()
	if current.IsRevoked() {
		metrics.RefreshTokenReuseTotal.Inc()
		revoked, err := txRefreshRepo.RevokeAllForUser(ctx, current.UserID, now, clientIP)
		if err != nil {
			return nil, err
		}
		if err = tx.Commit(); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"user_id":   current.UserID,
			"client_ip": clientIP,
			"revoked":   revoked,
		}).Warn("Revoked refresh token presented, all sessions revoked")
		return nil, ErrInvalidToken
	}
	if current.IsExpired(now) {
		return nil, ErrExpiredToken
	}

	user, err := repository.NewUserRepository(tx).FindByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}

	successor, err := generateOpaqueToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}

	affected, err := txRefreshRepo.Revoke(ctx, current.ID, now, clientIP, sql.NullString{String: successor, Valid: true})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrInvalidToken
	}

	if err = txRefreshRepo.Create(ctx, &entity.RefreshToken{
		UserID:      user.ID,
		Token:       successor,
		ExpiresAt:   now.Add(config.RefreshTokenTTL),
		CreatedAt:   now,
		CreatedByIP: clientIP,
	}); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &RotationResult{RefreshToken: successor, User: user}, nil
}

// RevokeRefreshToken revokes one active token owned by userID. Revoking an
// unknown or already revoked token is not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token string, userID uint64, clientIP string) error {
	_, err := s.refreshTokenRepo.RevokeForUser(ctx, token, userID, s.now(), clientIP)
	return err
}

func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint64, clientIP string) (int64, error) {
	return s.refreshTokenRepo.RevokeAllForUser(ctx, userID, s.now(), clientIP)
}

func (s *TokenService) issueRefreshTokenWithRepo(ctx context.Context, repo refreshTokenCreator, userID uint64, clientIP string) (string, error) {
	value, err := generateOpaqueToken(refreshTokenBytes)
	if err != nil {
		return "", err
	}

	now := s.now()
	if err = repo.Create(ctx, &entity.RefreshToken{
		UserID:      userID,
		Token:       value,
		ExpiresAt:   now.Add(config.RefreshTokenTTL),
		CreatedAt:   now,
		CreatedByIP: clientIP,
	}); err != nil {
		return "", err
	}
	return value, nil
}

func generateOpaqueToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
