package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-accounts/app/dto"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/types"

	"github.com/sirupsen/logrus"
)

type userDirectory interface {
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	UpdateProfile(ctx context.Context, userID uint64, username, email string, profileImage sql.NullString, now time.Time) error
	AddRole(ctx context.Context, userID uint64, role entity.Role) error
	List(ctx context.Context, filter repository.ListUsersFilter) ([]*entity.User, int64, error)
}

type sessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID uint64, clientIP string) (int64, error)
}

type UserService interface {
	Me(ctx context.Context, userID uint64) (*entity.User, error)
	UpdateProfile(ctx context.Context, userID uint64, req *types.UpdateProfileRequest) (*entity.User, error)
	List(ctx context.Context, req *types.ListUsersRequest) (*dto.UserPage, error)
	Get(ctx context.Context, id uint64) (*entity.User, error)
	Delete(ctx context.Context, actorRoles entity.Roles, id uint64, clientIP string) error
	GrantRole(ctx context.Context, email string, role entity.Role) (*entity.User, error)
	RevokeSessions(ctx context.Context, email, clientIP string) (int64, error)
}

type userService struct {
	db       *sql.DB
	userRepo userDirectory
	sessions sessionRevoker
	images   imageStore
	opts     options
}

func NewUserService(db *sql.DB, userRepo userDirectory, sessions sessionRevoker, images imageStore, opts ...Option) UserService {
	return &userService{
		db:       db,
		userRepo: userRepo,
		sessions: sessions,
		images:   images,
		opts:     defaultOptions(opts),
	}
}

func (s *userService) Me(ctx context.Context, userID uint64) (*entity.User, error) {
	return s.Get(ctx, userID)
}

func (s *userService) Get(ctx context.Context, id uint64) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile changes the username, email and image that are present in req.
// The previous image is removed only once the new state is persisted.
func (s *userService) UpdateProfile(ctx context.Context, userID uint64, req *types.UpdateProfileRequest) (*entity.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Email != "" && req.Email != user.Email {
		existing, err := s.userRepo.FindByEmail(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrEmailInUse
		}
		user.Email = req.Email
	}

	if req.Username != "" && req.Username != user.Username {
		existing, err := s.userRepo.FindByUsername(ctx, req.Username)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, ErrUsernameInUse
		}
		user.Username = req.Username
	}

	previousImage := user.ProfileImage.String
	var newImage string
	if req.Image != nil {
		if newImage, err = s.images.Save(req.Image); err != nil {
			return nil, err
		}
		user.ProfileImage = sql.NullString{String: newImage, Valid: true}
	}

	user.UpdatedAt = s.opts.now()
	if err = s.userRepo.UpdateProfile(ctx, user.ID, user.Username, user.Email, user.ProfileImage, user.UpdatedAt); err != nil {
		s.removeImage(newImage)
		return nil, mapDuplicate(err)
	}

	if newImage != "" {
		s.removeImage(previousImage)
	}
	return user, nil
}

func (s *userService) List(ctx context.Context, req *types.ListUsersRequest) (*dto.UserPage, error) {
	users, total, err := s.userRepo.List(ctx, repository.ListUsersFilter{
		Page:     req.Page,
		PageSize: req.Limit,
		Search:   req.Search,
	})
	if err != nil {
		return nil, err
	}

	return &dto.UserPage{
		Users:      users,
		TotalItems: total,
		Page:       req.Page,
		PageSize:   req.Limit,
	}, nil
}

// Delete soft-deletes the user and revokes every session it holds in one
// transaction. The profile image is removed afterwards, best-effort.
func (s *userService) Delete(ctx context.Context, actorRoles entity.Roles, id uint64, clientIP string) error {
	if !actorRoles.CanManageUsers() {
		return ErrForbidden
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.opts.now()
	deleted, err := repository.NewUserRepository(tx).SoftDelete(ctx, user.ID, now)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrUserNotFound
	}

	if _, err = repository.NewRefreshTokenRepository(tx).RevokeAllForUser(ctx, user.ID, now, clientIP); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.removeImage(user.ProfileImage.String)
	return nil
}

func (s *userService) GrantRole(ctx context.Context, email string, role entity.Role) (*entity.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %s", role)
	}

	user, err := s.userRepo.FindByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Roles.Has(role) {
		return user, nil
	}

	if err = s.userRepo.AddRole(ctx, user.ID, role); err != nil {
		return nil, err
	}
	user.Roles = append(user.Roles, role)
	return user, nil
}

func (s *userService) RevokeSessions(ctx context.Context, email, clientIP string) (int64, error) {
	user, err := s.userRepo.FindByEmail(ctx, types.NormalizeEmail(email))
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return s.sessions.RevokeAllForUser(ctx, user.ID, clientIP)
}

func (s *userService) removeImage(name string) {
	if name == "" || s.images == nil {
		return
	}
	if err := s.images.Remove(name); err != nil {
		logrus.WithError(err).WithField("image", name).Warn("Failed to remove profile image")
	}
}
