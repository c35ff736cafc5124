package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pathway-backend/internal/catalog"
	"pathway-backend/internal/config"
	"pathway-backend/internal/database"
	"pathway-backend/internal/middleware"
	"pathway-backend/internal/models"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (postgres) or indexes (mongo)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			switch e.stores.Backend {
			case config.BackendPostgres:
				n, err := database.RunMigrations(cmd.Context(), e.stores.Pool(), e.log)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Applied %d migration(s)\n", n)
			case config.BackendMongo:
				fmt.Fprintln(out, "Indexes ensured")
			default:
				fmt.Fprintf(out, "Nothing to migrate for the %s backend\n", e.stores.Backend)
			}
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage learner accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a learner account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			name, _ := cmd.Flags().GetString("name")
			email = strings.TrimSpace(strings.ToLower(email))
			if email == "" {
				return errors.New("--email is required")
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			user := &models.User{Email: email, FullName: strings.TrimSpace(name)}
			if err := e.stores.Users.CreateUser(cmd.Context(), user); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), user)
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	create.Flags().String("email", "", "Email address")
	create.Flags().String("name", "", "Full name")

	cmd.AddCommand(create)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Issue an access token for a learner (local testing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			cfg := config.Load()

			token, err := middleware.NewJWTAuth(cfg.JWTSecret).GenerateAccessToken(userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")

	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect roadmap step catalogs",
	}

	validate := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check that a catalog file parses and has unique step ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read catalog: %w", err)
			}
			c, err := catalog.Parse(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d steps\n", c.Len())
			return nil
		},
	}

	cmd.AddCommand(validate)
	return cmd
}
