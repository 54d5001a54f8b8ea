package controller

import (
	"errors"
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-accounts/app/dto/http"
	"github.com/vibast-solutions/ms-go-accounts/app/middleware"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type UserController struct {
	users        service.UserService
	imageBaseURL string
}

func NewUserController(users service.UserService, imageBaseURL string) *UserController {
	return &UserController{users: users, imageBaseURL: imageBaseURL}
}

func (c *UserController) List(ctx echo.Context) error {
	req, err := types.NewListUsersRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("List users validation failed")
		return validationFailed(ctx, err)
	}

	page, err := c.users.List(ctx.Request().Context(), req)
	if err != nil {
		return err
	}

	return ctx.JSON(http.StatusOK, httpdto.NewUserListResponse(page, c.imageBaseURL))
}

func (c *UserController) Get(ctx echo.Context) error {
	req, err := types.NewUserIDRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		return validationFailed(ctx, err)
	}

	user, err := c.users.Get(ctx.Request().Context(), req.ID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		}
		return err
	}

	return ctx.JSON(http.StatusOK, httpdto.NewUserResponse(user, c.imageBaseURL))
}

func (c *UserController) Delete(ctx echo.Context) error {
	req, err := types.NewUserIDRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		return validationFailed(ctx, err)
	}

	actorID := middleware.UserID(ctx)
	fields := logrus.Fields{
		"actor_id": actorID,
		"user_id":  req.ID,
	}
	logrus.WithFields(fields).Info("Delete user request received")

	if err = c.users.Delete(ctx.Request().Context(), middleware.UserRoles(ctx), req.ID, ctx.RealIP()); err != nil {
		if errors.Is(err, service.ErrForbidden) {
			logrus.WithFields(fields).Warn("Delete user failed: forbidden")
			return errorJSON(ctx, http.StatusForbidden, CodeForbidden, "forbidden")
		}
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithFields(fields).Warn("Delete user failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		}
		return err
	}

	logrus.WithFields(fields).Info("User deleted")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "user deleted successfully"})
}
