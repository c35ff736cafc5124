package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pathway-backend/internal/bootstrap"
	"pathway-backend/internal/catalog"
	"pathway-backend/internal/clock"
	"pathway-backend/internal/config"
	"pathway-backend/internal/logger"
	"pathway-backend/internal/services"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pathctl",
		Short:         "pathctl - admin tool for the Pathway engagement backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(engagementCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(catalogCmd())

	return rootCmd
}

// env is what store-backed commands share.
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	stores  *bootstrap.Stores
	tracker *services.Tracker
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	stores, err := bootstrap.OpenStores(ctx, cfg, false, log)
	if err != nil {
		return nil, err
	}
	steps, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		stores.Close()
		return nil, err
	}
	tracker := services.NewTracker(stores.Progress, steps, clock.SystemClock{Location: cfg.Location()}, log)
	return &env{cfg: cfg, log: log, stores: stores, tracker: tracker}, nil
}

func (e *env) Close() {
	e.stores.Close()
	e.log.Sync()
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
