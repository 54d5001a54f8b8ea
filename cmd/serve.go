package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vibast-solutions/ms-go-accounts/app/controller"
	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/mail"
	"github.com/vibast-solutions/ms-go-accounts/app/middleware"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/app/storage"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// bodyLimitMargin leaves room for the multipart envelope and text fields
// around an upload of the maximum size.
const bodyLimitMargin = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the HTTP (Echo) server for the accounts service.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := repository.NewRoleRepository(db).Seed(context.Background()); err != nil {
		logrus.WithError(err).Fatal("Failed to seed roles")
	}

	rdb, err := openRedis(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to redis")
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logrus.Warn("REDIS_ADDR is not set, rate limiting is disabled")
	}

	mailer, err := mail.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure mail transport")
	}
	defer mailer.Close()

	images, err := storage.NewImageStore(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to prepare upload directory")
	}

	userRepo := repository.NewUserRepository(db)
	tokenService := service.NewTokenService(db, repository.NewRefreshTokenRepository(db), cfg)
	accountService := service.NewAccountService(db, userRepo, tokenService, mailer, images, cfg)
	userService := service.NewUserService(db, userRepo, tokenService, images)

	var counter middleware.WindowCounter
	if rdb != nil {
		counter = middleware.NewRedisWindowCounter(rdb)
	}

	e := newHTTPServer(cfg, httpDeps{
		accounts: accountService,
		users:    userService,
		tokens:   tokenService,
		health:   controller.NewHealthController(db, rdb),
		limiter:  middleware.NewRateLimiter(cfg.RateLimit, counter),
		imageDir: images.Dir(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	go func() {
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("HTTP server did not shut down cleanly")
	}
	logrus.Info("HTTP server stopped")
}

type httpDeps struct {
	accounts service.AccountService
	users    service.UserService
	tokens   *service.TokenService
	health   *controller.HealthController
	limiter  *middleware.RateLimiter
	imageDir string
}

func newHTTPServer(cfg *config.Config, deps httpDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = controller.HTTPErrorHandler

	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"request_id": v.RequestID,
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.BodyLimit(fmt.Sprintf("%dK", (cfg.Upload.MaxBytes+bodyLimitMargin)>>10)))
	e.Use(middleware.Metrics)

	authController := controller.NewAuthController(deps.accounts, deps.users, cfg.Links.FrontendVerifiedURL, cfg.Links.AppBaseURL+"/uploads")
	userController := controller.NewUserController(deps.users, cfg.Links.AppBaseURL+"/uploads")
	authMiddleware := middleware.NewAuthMiddleware(deps.tokens)
	limit := deps.limiter.Limit

	auth := e.Group("/auth")
	auth.POST("/signup", authController.Signup, limit)
	auth.GET("/verify-email", authController.VerifyEmail)
	auth.POST("/signin", authController.Signin, limit)
	auth.POST("/refresh-token", authController.RefreshToken)
	auth.POST("/resend-verification", authController.ResendVerification, limit)
	auth.POST("/forgot-password", authController.ForgotPassword, limit)
	auth.POST("/reset-password", authController.ResetPassword)

	authProtected := auth.Group("")
	authProtected.Use(authMiddleware.RequireAuth)
	authProtected.POST("/logout", authController.Logout)
	authProtected.POST("/change-password", authController.ChangePassword)
	authProtected.GET("/me", authController.Me)
	authProtected.PUT("/update-profile", authController.UpdateProfile)

	users := e.Group("/users")
	users.Use(authMiddleware.RequireAuth)
	users.GET("", userController.List)
	users.GET("/:id", userController.Get)
	users.DELETE("/:id", userController.Delete, authMiddleware.RequireRole(entity.RoleAdmin))

	e.Static("/uploads", deps.imageDir)

	e.GET("/health", deps.health.Liveness)
	e.GET("/health/ready", deps.health.Readiness)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
