package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.databaseConfig()
			if err != nil {
				return err
			}
			if err := a.migrate(cfg.URL); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "migrations applied (%s)\n", cfg.Driver())
			return nil
		},
	}
}

func (a *app) apiKeyCmd() *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key",
		Long:  "Issue an API key for a user. The raw key is printed once and cannot be recovered.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			name, _ := cmd.Flags().GetString("name")
			scopes, _ := cmd.Flags().GetStringSlice("scopes")
			for _, s := range scopes {
				if s != "jobs" && s != "admin" {
					return fmt.Errorf("unknown scope %q: must be jobs or admin", s)
				}
			}

			raw, key, err := mw.GenerateKey(userID, name, scopes)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				if err := s.CreateAPIKey(cmd.Context(), key); err != nil {
					return fmt.Errorf("error creating api key: %w", err)
				}
				return a.printJSON(map[string]any{
					"id":      key.ID,
					"user_id": key.UserID,
					"name":    key.Name,
					"scopes":  key.Scopes,
					"key":     raw,
				})
			})
		},
	}
	createCmd.Flags().StringP("user", "u", "", "user id the key authenticates as")
	createCmd.Flags().StringP("name", "n", "default", "label for the key")
	createCmd.Flags().StringSlice("scopes", []string{"jobs"}, "scopes to grant (jobs, admin)")
	_ = createCmd.MarkFlagRequired("user")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's API keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			return a.withStore(cmd.Context(), func(s store.Store) error {
				keys, err := s.ListAPIKeys(cmd.Context(), userID)
				if err != nil {
					return fmt.Errorf("error fetching api keys: %w", err)
				}
				if keys == nil {
					keys = []*models.APIKey{}
				}
				return a.printJSON(keys)
			})
		},
	}
	listCmd.Flags().StringP("user", "u", "", "user id")
	_ = listCmd.MarkFlagRequired("user")

	keyCmd.AddCommand(createCmd, listCmd)
	return keyCmd
}

func (a *app) queueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the dispatch queue",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth and worker activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.redisURL == "" {
				return fmt.Errorf("redis URL is required: set --%s or REDIS_URL", flagRedisURL)
			}
			name, _ := cmd.Flags().GetString("queue")
			qcfg := config.QueueConfig{
				Name:          name,
				SoftTimeLimit: envSecs("QUEUE_SOFT_TIME_LIMIT_SECS", 90*time.Second),
				HardTimeLimit: envSecs("QUEUE_HARD_TIME_LIMIT_SECS", 120*time.Second),
			}

			q, closeFn, err := a.openQueue(cmd.Context(), a.redisURL, qcfg)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer closeFn()

			st, err := q.Status(cmd.Context())
			if perr := a.printJSON(st); perr != nil {
				return perr
			}
			return err
		},
	}
	statusCmd.Flags().StringP("queue", "q", envOr("QUEUE_NAME", "ai_jobs"), "queue name (env: QUEUE_NAME)")

	queueCmd.AddCommand(statusCmd)
	return queueCmd
}

func (a *app) jobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by status or by user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			userID, _ := cmd.Flags().GetString("user")
			skip, _ := cmd.Flags().GetInt("skip")
			limit, _ := cmd.Flags().GetInt("limit")
			page := store.Page{Skip: skip, Limit: limit}.Normalize()

			if (status == "") == (userID == "") {
				return fmt.Errorf("exactly one of --status or --user is required")
			}

			return a.withStore(cmd.Context(), func(s store.Store) error {
				var (
					list []*models.Job
					err  error
				)
				if userID != "" {
					list, err = s.ListJobsByUser(cmd.Context(), userID, page)
				} else {
					st, perr := models.ParseJobStatus(strings.ToLower(status))
					if perr != nil {
						return perr
					}
					list, err = s.ListJobsByStatus(cmd.Context(), st, page)
				}
				if err != nil {
					return fmt.Errorf("error fetching jobs: %w", err)
				}
				if list == nil {
					list = []*models.Job{}
				}
				return a.printJSON(list)
			})
		},
	}
	listCmd.Flags().StringP("status", "s", "", "pending, processing, completed or failed")
	listCmd.Flags().StringP("user", "u", "", "user id")
	listCmd.Flags().Int("skip", 0, "number of jobs to skip")
	listCmd.Flags().Int("limit", 20, "maximum number of jobs")

	jobsCmd.AddCommand(listCmd)
	return jobsCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envSecs(key string, def time.Duration) time.Duration {
	var n int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &n); err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
