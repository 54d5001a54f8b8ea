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

type AuthController struct {
	accounts            service.AccountService
	users               service.UserService
	frontendVerifiedURL string
	imageBaseURL        string
}

// NewAuthController serves the /auth routes. When frontendVerifiedURL is set
// a successful email verification redirects there instead of answering JSON.
func NewAuthController(accounts service.AccountService, users service.UserService, frontendVerifiedURL, imageBaseURL string) *AuthController {
	return &AuthController{
		accounts:            accounts,
		users:               users,
		frontendVerifiedURL: frontendVerifiedURL,
		imageBaseURL:        imageBaseURL,
	}
}

func (c *AuthController) Signup(ctx echo.Context) error {
	req, err := types.NewSignupRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Signup validation failed")
		return validationFailed(ctx, err)
	}

	logrus.WithFields(logrus.Fields{
		"email":    req.Email,
		"username": req.Username,
	}).Info("Signup request received")
	result, err := c.accounts.Signup(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailInUse):
			logrus.WithField("email", req.Email).Warn("Signup failed: email already in use")
			return errorJSON(ctx, http.StatusConflict, CodeEmailInUse, "email is already registered")
		case errors.Is(err, service.ErrUsernameInUse):
			logrus.WithField("username", req.Username).Warn("Signup failed: username already in use")
			return errorJSON(ctx, http.StatusConflict, CodeUsernameInUse, "username is already taken")
		case errors.Is(err, service.ErrWeakPassword):
			logrus.WithField("email", req.Email).Warn("Signup failed: weak password")
			return errorJSON(ctx, http.StatusBadRequest, CodeWeakPassword, err.Error())
		}
		if res, ok := imageError(ctx, err); ok {
			logrus.WithError(err).WithField("email", req.Email).Warn("Signup failed: profile image rejected")
			return res
		}
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_id": result.User.ID,
		"email":   result.User.Email,
	}).Info("User signed up")

	res := httpdto.SignupResponse{
		ID:       result.User.ID,
		Username: result.User.Username,
		Email:    result.User.Email,
		Message:  "signup successful, please check your email to verify your account",
	}
	if result.MailError != nil {
		res.Warning = "verification email could not be sent, request a new one later"
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (c *AuthController) VerifyEmail(ctx echo.Context) error {
	req, err := types.NewVerifyEmailRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Verify email validation failed")
		return validationFailed(ctx, err)
	}

	if err = c.accounts.VerifyEmail(ctx.Request().Context(), req.Token); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			logrus.Warn("Verify email failed: invalid token")
			return errorJSON(ctx, http.StatusBadRequest, CodeInvalidToken, "invalid or already used verification token")
		}
		return err
	}

	logrus.Info("Email verified")
	if c.frontendVerifiedURL != "" {
		return ctx.Redirect(http.StatusFound, c.frontendVerifiedURL)
	}
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "email verified successfully"})
}

func (c *AuthController) Signin(ctx echo.Context) error {
	req, err := types.NewSigninRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Signin validation failed")
		return validationFailed(ctx, err)
	}

	logrus.WithField("email", req.Email).Info("Signin request received")
	result, err := c.accounts.Signin(ctx.Request().Context(), req, ctx.RealIP())
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			logrus.WithField("email", req.Email).Warn("Signin failed: invalid credentials")
			return errorJSON(ctx, http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
		}
		if errors.Is(err, service.ErrEmailNotVerified) {
			logrus.WithField("email", req.Email).Warn("Signin failed: email not verified")
			return ctx.JSON(http.StatusForbidden, httpdto.EmailNotVerifiedResponse{
				Error:     "email is not verified",
				Code:      CodeEmailNotVerified,
				CanResend: true,
			})
		}
		return err
	}

	logrus.WithField("user_id", result.User.ID).Info("Signin successful")
	return ctx.JSON(http.StatusOK, httpdto.SigninResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		User:         httpdto.NewUserSummary(result.User),
	})
}

func (c *AuthController) RefreshToken(ctx echo.Context) error {
	req, err := types.NewRefreshTokenRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Refresh token validation failed")
		return validationFailed(ctx, err)
	}

	logrus.Info("Refresh token request received")
	result, err := c.accounts.Refresh(ctx.Request().Context(), req.RefreshToken, ctx.RealIP())
	if err != nil {
		if errors.Is(err, service.ErrExpiredToken) {
			logrus.Warn("Refresh token failed: expired token")
			return errorJSON(ctx, http.StatusUnauthorized, CodeTokenExpired, "refresh token has expired")
		}
		if errors.Is(err, service.ErrInvalidToken) {
			logrus.Warn("Refresh token failed: invalid token")
			return errorJSON(ctx, http.StatusUnauthorized, CodeInvalidToken, "invalid refresh token")
		}
		return err
	}

	logrus.Info("Refresh token successful")
	return ctx.JSON(http.StatusOK, httpdto.TokenPairResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

func (c *AuthController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewEmailRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Forgot password validation failed")
		return validationFailed(ctx, err)
	}

	logrus.WithField("email", req.Email).Info("Forgot password request received")
	if err = c.accounts.ForgotPassword(ctx.Request().Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("email", req.Email).Warn("Forgot password failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		}
		return err
	}

	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password reset email sent"})
}

func (c *AuthController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Reset password validation failed")
		return validationFailed(ctx, err)
	}

	logrus.Info("Reset password request received")
	if err = c.accounts.ResetPassword(ctx.Request().Context(), req, ctx.RealIP()); err != nil {
		if errors.Is(err, service.ErrInvalidOrExpiredToken) {
			logrus.Warn("Reset password failed: invalid or expired token")
			return errorJSON(ctx, http.StatusBadRequest, CodeInvalidOrExpired, "invalid or expired reset token")
		}
		if errors.Is(err, service.ErrWeakPassword) {
			logrus.Warn("Reset password failed: weak password")
			return errorJSON(ctx, http.StatusBadRequest, CodeWeakPassword, err.Error())
		}
		return err
	}

	logrus.Info("Password reset")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password has been reset"})
}

func (c *AuthController) ResendVerification(ctx echo.Context) error {
	req, err := types.NewEmailRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.WithField("email", req.Email).Debug("Resend verification validation failed")
		return validationFailed(ctx, err)
	}

	logrus.WithField("email", req.Email).Info("Resend verification request received")
	result, err := c.accounts.ResendVerification(ctx.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("email", req.Email).Warn("Resend verification failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		}
		if errors.Is(err, service.ErrAlreadyVerified) {
			logrus.WithField("email", req.Email).Warn("Resend verification failed: already verified")
			return errorJSON(ctx, http.StatusBadRequest, CodeAlreadyVerified, "email is already verified")
		}
		return err
	}

	res := httpdto.MessageResponse{Message: "verification email sent"}
	if result.MailError != nil {
		res.Message = "verification token is ready"
		res.Warning = "verification email could not be sent, try again later"
	}
	return ctx.JSON(http.StatusOK, res)
}

func (c *AuthController) Logout(ctx echo.Context) error {
	req, err := types.NewLogoutRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Logout validation failed")
		return validationFailed(ctx, err)
	}

	userID := middleware.UserID(ctx)
	logrus.WithField("user_id", userID).Info("Logout request received")
	if err = c.accounts.Logout(ctx.Request().Context(), userID, req.RefreshToken, ctx.RealIP()); err != nil {
		return err
	}

	logrus.WithField("user_id", userID).Info("Logout successful")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "logged out successfully"})
}

func (c *AuthController) ChangePassword(ctx echo.Context) error {
	req, err := types.NewChangePasswordRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Change password validation failed")
		return validationFailed(ctx, err)
	}

	userID := middleware.UserID(ctx)
	logrus.WithField("user_id", userID).Info("Change password request received")
	if err = c.accounts.ChangePassword(ctx.Request().Context(), userID, req, ctx.RealIP()); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			logrus.WithField("user_id", userID).Warn("Change password failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		case errors.Is(err, service.ErrPasswordMismatch):
			logrus.WithField("user_id", userID).Warn("Change password failed: wrong current password")
			return errorJSON(ctx, http.StatusBadRequest, CodePasswordMismatch, "current password is incorrect")
		case errors.Is(err, service.ErrWeakPassword):
			logrus.WithField("user_id", userID).Warn("Change password failed: weak password")
			return errorJSON(ctx, http.StatusBadRequest, CodeWeakPassword, err.Error())
		}
		return err
	}

	logrus.WithField("user_id", userID).Info("Password changed")
	return ctx.JSON(http.StatusOK, httpdto.MessageResponse{Message: "password changed successfully"})
}

func (c *AuthController) Me(ctx echo.Context) error {
	userID := middleware.UserID(ctx)
	user, err := c.users.Me(ctx.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logrus.WithField("user_id", userID).Warn("Me failed: user not found")
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		}
		return err
	}

	return ctx.JSON(http.StatusOK, httpdto.NewUserResponse(user, c.imageBaseURL))
}

func (c *AuthController) UpdateProfile(ctx echo.Context) error {
	req, err := types.NewUpdateProfileRequestFromContext(ctx)
	if err != nil {
		return invalidBody(ctx, err)
	}

	if err = req.Validate(); err != nil {
		logrus.Debug("Update profile validation failed")
		return validationFailed(ctx, err)
	}

	userID := middleware.UserID(ctx)
	logrus.WithField("user_id", userID).Info("Update profile request received")
	user, err := c.users.UpdateProfile(ctx.Request().Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return errorJSON(ctx, http.StatusNotFound, CodeUserNotFound, "user not found")
		case errors.Is(err, service.ErrEmailInUse):
			logrus.WithField("user_id", userID).Warn("Update profile failed: email already in use")
			return errorJSON(ctx, http.StatusConflict, CodeEmailInUse, "email is already registered")
		case errors.Is(err, service.ErrUsernameInUse):
			logrus.WithField("user_id", userID).Warn("Update profile failed: username already in use")
			return errorJSON(ctx, http.StatusConflict, CodeUsernameInUse, "username is already taken")
		}
		if res, ok := imageError(ctx, err); ok {
			logrus.WithError(err).WithField("user_id", userID).Warn("Update profile failed: profile image rejected")
			return res
		}
		return err
	}

	logrus.WithField("user_id", userID).Info("Profile updated")
	return ctx.JSON(http.StatusOK, httpdto.NewUserResponse(user, c.imageBaseURL))
}
