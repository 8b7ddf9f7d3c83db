package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/maildesk-io/maildesk-ce/internal/config"
	"github.com/maildesk-io/maildesk-ce/internal/database"
	"github.com/maildesk-io/maildesk-ce/internal/events"
	"github.com/maildesk-io/maildesk-ce/internal/mail/fetcher"
	"github.com/maildesk-io/maildesk-ce/internal/repository"
	"github.com/maildesk-io/maildesk-ce/internal/storage"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPathFlag string
	scheduleFlag   string
)

var rootCmd = &cobra.Command{
	Use:     "maildesk",
	Short:   "Maildesk CLI - inbound email ingestion for shared mailboxes",
	Long:    "Maildesk turns shared support mailboxes into threaded conversations.\nThis CLI runs ingestion cycles, the polling daemon, and schema migrations.",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [mailbox-id]",
	Short: "Run one ingestion cycle for all active mailboxes, or one by id",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFetch,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the ingestion loop on the configured schedule until interrupted",
	RunE:  runPoll,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Maildesk CLI %s\n", rootCmd.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", ".", "Directory containing maildesk.yaml")
	pollCmd.Flags().StringVar(&scheduleFlag, "schedule", "", "Cron schedule, overrides fetch.schedule from config")
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildFetcher(logger *log.Logger) (*fetcher.Fetcher, *sqlx.DB, func(), error) {
	if err := config.Load(configPathFlag); err != nil {
		return nil, nil, nil, err
	}
	cfg := config.Get()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	backend, err := storage.NewFilesystem(cfg.Storage.Path, cfg.Storage.URLBase)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	bus := events.NewDispatcher(events.WithDispatcherLogger(logger))
	bus.Register(events.LogSink{Logger: logger})
	if cfg.Events.Webhook.Enabled {
		bus.Register(events.NewWebhookSink(cfg.Events.Webhook.URL, cfg.Events.Webhook.Secret))
	}

	f := fetcher.New(db, backend,
		fetcher.WithLogger(logger),
		fetcher.WithEvents(bus),
		fetcher.WithWindow(cfg.Fetch.Window),
	)
	return f, db, func() { db.Close() }, nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "maildesk ", log.LstdFlags)
	f, db, cleanup, err := buildFetcher(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) == 1 {
		return fetchOne(ctx, f, db, args[0])
	}

	results, err := f.FetchAll(ctx)
	if err != nil {
		return err
	}
	for email, stats := range results {
		printStats(email, stats)
	}
	return nil
}

func fetchOne(ctx context.Context, f *fetcher.Fetcher, db *sqlx.DB, rawID string) error {
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return fmt.Errorf("invalid mailbox id %q", rawID)
	}
	mailbox, err := repository.NewMailboxRepository(db).GetByID(id)
	if err != nil {
		return fmt.Errorf("mailbox %d: %w", id, err)
	}
	printStats(mailbox.Email, f.FetchMailbox(ctx, mailbox))
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "maildesk ", log.LstdFlags)
	f, _, cleanup, err := buildFetcher(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedule := config.Get().Fetch.Schedule
	if scheduleFlag != "" {
		schedule = scheduleFlag
	}
	engine := cron.New()
	_, err = engine.AddFunc(schedule, func() {
		results, err := f.FetchAll(ctx)
		if err != nil {
			logger.Printf("poll: %v", err)
			return
		}
		for email, stats := range results {
			printStats(email, stats)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	logger.Printf("poll: running on schedule %q", schedule)
	engine.Start()
	<-ctx.Done()
	logger.Printf("poll: shutting down")
	<-engine.Stop().Done()
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := config.Load(configPathFlag); err != nil {
		return err
	}
	db, err := database.Connect(config.Get().Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}
	fmt.Println("schema up to date")
	return nil
}

func printStats(email string, stats *fetcher.RunStats) {
	fmt.Printf("%s: fetched=%d created=%d errors=%d\n", email, stats.Fetched, stats.Created, stats.Errors)
	for _, msg := range stats.Messages {
		fmt.Printf("  %s\n", msg)
	}
}
