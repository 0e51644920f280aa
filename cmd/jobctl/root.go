package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/spf13/cobra"
)

// flag names
const (
	flagDatabaseURL = "database-url"
	flagRedisURL    = "redis-url"
)

// queueStatus is the part of the dispatcher jobctl reads.
type queueStatus interface {
	Status(ctx context.Context) (queue.Status, error)
}

// app carries the connections commands open on demand. Tests replace them.
type app struct {
	out io.Writer

	migrate   func(databaseURL string) error
	openStore func(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error)
	openQueue func(ctx context.Context, redisURL string, cfg config.QueueConfig) (queueStatus, func(), error)

	databaseURL string
	redisURL    string
}

func defaultApp() *app {
	return &app{
		out:       os.Stdout,
		migrate:   store.RunMigrations,
		openStore: store.Open,
		openQueue: func(ctx context.Context, redisURL string, cfg config.QueueConfig) (queueStatus, func(), error) {
			rdb, err := cache.Connect(ctx, redisURL)
			if err != nil {
				return nil, nil, err
			}
			return queue.NewRedisDispatcher(rdb, cfg, nil), func() { rdb.Close() }, nil
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "jobctl",
		Short: "jobctl - operator CLI for genqueue",
		Long: `jobctl manages a genqueue deployment: it applies database migrations,
issues API keys and inspects the job queue.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Flag > env var.
			if !cmd.Flags().Changed(flagDatabaseURL) {
				a.databaseURL = os.Getenv("DATABASE_URL")
			}
			if !cmd.Flags().Changed(flagRedisURL) {
				a.redisURL = os.Getenv("REDIS_URL")
			}
			return nil
		},
	}
	root.SetOut(a.out)

	root.PersistentFlags().StringVar(&a.databaseURL, flagDatabaseURL, "", "Database URL, postgres:// or sqlite:// (env: DATABASE_URL)")
	root.PersistentFlags().StringVar(&a.redisURL, flagRedisURL, "", "Redis URL (env: REDIS_URL)")

	root.AddCommand(a.migrateCmd())
	root.AddCommand(a.apiKeyCmd())
	root.AddCommand(a.queueCmd())
	root.AddCommand(a.jobsCmd())
	return root
}

// databaseConfig returns the store settings for the selected database.
func (a *app) databaseConfig() (config.DatabaseConfig, error) {
	if a.databaseURL == "" {
		return config.DatabaseConfig{}, fmt.Errorf("database URL is required: set --%s or DATABASE_URL", flagDatabaseURL)
	}
	return config.DatabaseConfig{URL: a.databaseURL, MaxOpenConns: 2, MaxIdleConns: 1}, nil
}

func (a *app) withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, err := a.databaseConfig()
	if err != nil {
		return err
	}
	s, err := a.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer s.Close()
	return fn(s)
}

func (a *app) printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error formatting response: %w", err)
	}
	fmt.Fprintln(a.out, string(pretty))
	return nil
}
