package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/vibast-solutions/ms-go-accounts/app/repository"
	"github.com/vibast-solutions/ms-go-accounts/config"
	"github.com/vibast-solutions/ms-go-accounts/migrations"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and seed the fixed roles",
	Long:  `Apply every embedded schema statement in order and insert the user, moderator and admin roles. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_ = godotenv.Load()

		dsn := strings.TrimSpace(os.Getenv("MYSQL_DSN"))
		if dsn == "" {
			return errors.New("MYSQL_DSN environment variable is required")
		}

		db, err := openDatabase(&config.Config{MySQL: config.MySQLConfig{DSN: dsn}})
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := applyMigrations(cmd.Context(), db)
		if err != nil {
			return err
		}

		fmt.Printf("applied %d schema statement(s), roles seeded\n", applied)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func applyMigrations(ctx context.Context, db repository.DBTX) (int, error) {
	statements, err := migrations.Statements()
	if err != nil {
		return 0, err
	}

	for i, stmt := range statements {
		if _, err = db.ExecContext(ctx, stmt); err != nil {
			return i, fmt.Errorf("statement %d: %w", i+1, err)
		}
		logrus.WithField("statement", i+1).Debug("Schema statement applied")
	}

	if err = repository.NewRoleRepository(db).Seed(ctx); err != nil {
		return len(statements), fmt.Errorf("seed roles: %w", err)
	}
	return len(statements), nil
}
