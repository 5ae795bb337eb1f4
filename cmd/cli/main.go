package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eatcast/eatcast/internal/api"
	"github.com/eatcast/eatcast/internal/config"
	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
	"github.com/eatcast/eatcast/internal/storage/sqlite"
	"github.com/eatcast/eatcast/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    storage.Repository
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eatcast",
		Short: "Operator CLI for the video processing pipeline",
		Long: `Inspect and control the discovery queue: manage channel
subscriptions, submit videos by hand, and retry, skip, or remove queue items.`,
		PersistentPreRunE: initializeApp,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(subsCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	// Load config
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	repo, err = sqlite.New(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := repo.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// ============ SUBSCRIPTION COMMANDS ============

func subsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subs",
		Short: "Manage channel subscriptions",
	}

	cmd.AddCommand(subsAddCmd())
	cmd.AddCommand(subsListCmd())
	cmd.AddCommand(subsPauseCmd(false, "pause", "Pause a subscription"))
	cmd.AddCommand(subsPauseCmd(true, "resume", "Resume a paused subscription"))
	return cmd
}

func subsAddCmd() *cobra.Command {
	var (
		name     string
		priority int
		interval int
	)

	cmd := &cobra.Command{
		Use:   "add <channel-url>",
		Short: "Subscribe to a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			channelID, err := api.DeriveChannelID(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = channelID
			}
			if priority < 1 || priority > 5 {
				priority = 3
			}
			if interval < 1 || interval > 168 {
				interval = 24
			}

			sub := &models.Subscription{
				ChannelID:          channelID,
				ChannelName:        name,
				URL:                args[0],
				SourceType:         "channel",
				Priority:           priority,
				CheckIntervalHours: interval,
				IsActive:           true,
			}
			if err := repo.CreateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}

			fmt.Printf("Subscribed to %s (id=%d, priority=%d, every %dh)\n",
				sub.ChannelName, sub.ID, sub.Priority, sub.CheckIntervalHours)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name for the channel")
	cmd.Flags().IntVar(&priority, "priority", 3, "priority 1 (critical) to 5 (very low)")
	cmd.Flags().IntVar(&interval, "interval", 24, "check interval in hours (1-168)")
	return cmd
}

func subsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := repo.ListSubscriptions(context.Background())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tPRIORITY\tINTERVAL\tACTIVE\tNEXT CHECK")
			for _, s := range subs {
				next := "-"
				if s.NextCheckAt != nil {
					next = s.NextCheckAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%dh\t%t\t%s\n",
					s.ID, s.ChannelName, s.Priority, s.CheckIntervalHours, s.IsActive, next)
			}
			return w.Flush()
		},
	}
}

func subsPauseCmd(active bool, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sub, err := repo.SetSubscriptionActive(context.Background(), id, active)
			if err != nil {
				return err
			}
			fmt.Printf("Subscription %d (%s) active=%t\n", sub.ID, sub.ChannelName, sub.IsActive)
			return nil
		},
	}
}

// ============ QUEUE COMMANDS ============

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the processing queue",
	}

	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueSubmitCmd())
	cmd.AddCommand(queueMutateCmd("retry", "Re-queue a failed item", func(ctx context.Context, id uint) error {
		_, err := repo.Retry(ctx, id, time.Now().UTC())
		return err
	}))
	cmd.AddCommand(queueMutateCmd("skip", "Skip a queued item without processing", func(ctx context.Context, id uint) error {
		_, err := repo.Skip(ctx, id)
		return err
	}))
	cmd.AddCommand(queueMutateCmd("prioritize", "Move a queued item to the front", func(ctx context.Context, id uint) error {
		_, err := repo.Prioritize(ctx, id)
		return err
	}))
	cmd.AddCommand(queueMutateCmd("remove", "Remove a queued or finished item", func(ctx context.Context, id uint) error {
		return repo.Remove(ctx, id)
	}))
	return cmd
}

func queueListCmd() *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending items in dequeue order",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, total, err := repo.ListQueue(context.Background(), page, pageSize)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVIDEO\tTITLE\tCHANNEL\tPRIO\tSTATUS\tATTEMPTS\tSCHEDULED")
			for _, it := range items {
				fmt.Fprintf(w, "%d\t%s\t%.40s\t%s\t%d\t%s\t%d/%d\t%s\n",
					it.ID, it.VideoID, it.VideoTitle, it.ChannelName, it.Priority,
					it.Status, it.AttemptCount, it.MaxAttempts,
					it.ScheduledAt.Format(time.RFC3339))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d items total\n", total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "items per page")
	return cmd
}

func queueSubmitCmd() *cobra.Command {
	var (
		title    string
		channel  string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "submit <video-id>",
		Short: "Submit a video for processing by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if priority < 1 || priority > 5 {
				priority = 3
			}
			now := time.Now().UTC()
			item := &models.QueueItem{
				VideoID:      args[0],
				VideoTitle:   title,
				ChannelName:  channel,
				Priority:     priority,
				Status:       models.StatusQueued,
				ScheduledAt:  now,
				DiscoveredAt: now,
				MaxAttempts:  cfg.Worker.MaxAttempts,
			}
			if err := repo.Enqueue(context.Background(), item); err != nil {
				return err
			}
			fmt.Printf("Enqueued video %s (item id=%d)\n", item.VideoID, item.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "video title")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name")
	cmd.Flags().IntVar(&priority, "priority", 3, "priority 1 (critical) to 5 (very low)")
	return cmd
}

func queueMutateCmd(use, short string, fn func(ctx context.Context, id uint) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := fn(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("OK: %s %d\n", use, id)
			return nil
		},
	}
}

// ============ HISTORY COMMAND ============

func historyCmd() *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, total, err := repo.ListHistory(context.Background(), page, pageSize)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVIDEO\tTITLE\tSTATUS\tFOUND\tDURATION\tERROR")
			for _, it := range items {
				rec := it.ToHistoryRecord()
				fmt.Fprintf(w, "%d\t%s\t%.40s\t%s\t%d\t%.0fs\t%.60s\n",
					rec.ID, rec.VideoID, rec.VideoTitle, rec.Status,
					rec.RestaurantsFound, rec.DurationSeconds, rec.ErrorMessage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d items total\n", total)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 25, "items per page")
	return cmd
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}
