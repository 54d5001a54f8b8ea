package cmd

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/app/service"
	"github.com/vibast-solutions/ms-go-accounts/config"

	"github.com/spf13/cobra"
)

// cliClientIP is recorded as the revoking address for sessions closed from
// the command line.
const cliClientIP = "cli"

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Administer user accounts",
}

var userGrantRoleCmd = &cobra.Command{
	Use:   "grant-role <email> <role>",
	Short: "Grant a role (user, moderator, admin) to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := entity.ParseRole(args[1])
		if err != nil {
			return err
		}

		users, db, err := newUserServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		user, err := users.GrantRole(cmd.Context(), args[0], role)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				return fmt.Errorf("no user with email %q", args[0])
			}
			return err
		}

		fmt.Printf("user_id: %d\n", user.ID)
		fmt.Printf("email: %s\n", user.Email)
		fmt.Printf("roles: %v\n", user.Roles.Names())
		return nil
	},
}

var userRevokeSessionsCmd = &cobra.Command{
	Use:   "revoke-sessions <email>",
	Short: "Revoke every active refresh token of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, db, err := newUserServiceForCommands()
		if err != nil {
			return err
		}
		defer db.Close()

		count, err := users.RevokeSessions(cmd.Context(), args[0], cliClientIP)
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				return fmt.Errorf("no user with email %q", args[0])
			}
			return err
		}

		fmt.Printf("revoked %d active session(s) for %s\n", count, args[0])
		return nil
	},
}

func init() {
	userCmd.AddCommand(userGrantRoleCmd)
	userCmd.AddCommand(userRevokeSessionsCmd)
	rootCmd.AddCommand(userCmd)
}

func newUserServiceForCommands() (service.UserService, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	userRepo := repository.NewUserRepository(db)
	tokens := service.NewTokenService(db, repository.NewRefreshTokenRepository(db), cfg)
	return service.NewUserService(db, userRepo, tokens, nil), db, nil
}
