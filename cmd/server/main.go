package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionwatch/backend/internal/api"
	"github.com/sessionwatch/backend/internal/config"
	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/ingest"
	"github.com/sessionwatch/backend/internal/mock"
	"github.com/sessionwatch/backend/internal/persist"
	"github.com/sessionwatch/backend/internal/query"
	"github.com/sessionwatch/backend/internal/session"
)

var (
	configPath string
	dataFile   string
	port       int
	mockMode   bool
)

var rootCmd = &cobra.Command{
	Use:          "sessionwatch-server",
	Short:        "Track remote development-tool sessions from lifecycle hook events",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print a summary of the persisted snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshot()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&dataFile, "data-file", "", "Override snapshot file path")
	rootCmd.Flags().IntVar(&port, "port", 0, "Override server port")
	rootCmd.Flags().BoolVar(&mockMode, "mock", false, "Generate synthetic session data")
	rootCmd.AddCommand(snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if dataFile != "" {
		cfg.Storage.Path = dataFile
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfgStore := config.NewStore(cfg, configPath)

	registry := session.NewRegistry()
	eventLog := event.NewLog(cfg.Storage.EventCapacity)
	store := persist.NewStore(cfg.Storage.Path)

	snap := store.LoadOrInit()
	registry.Restore(snap.Sessions)
	eventLog.Restore(snap.Events)
	if len(snap.Sessions) > 0 || len(snap.Events) > 0 {
		log.Printf("Loaded %d sessions and %d events from %s", len(snap.Sessions), len(snap.Events), store.Path())
	}

	broadcaster := api.NewBroadcaster(registry)

	// The save closure reads the ingestor's counter; the ingestor needs
	// the scheduler. Declare first, wire after.
	var ingestor *ingest.Ingestor
	scheduler := persist.NewScheduler(func() error {
		return store.Save(&persist.Snapshot{
			Sessions:    registry.Export(),
			Events:      eventLog.Export(),
			LastEventID: ingestor.Seq(),
		})
	}, cfg.Storage.Debounce, cfg.Storage.MaxFlushDelay)
	ingestor = ingest.New(eventLog, registry, scheduler, broadcaster)
	ingestor.RestoreSeq(snap.LastEventID)

	sweeper := session.NewSweeper(registry, cfg.Sweep.Interval, cfg.Sweep.StaleAfter)
	queries := query.NewService(registry, eventLog, sweeper)
	server := api.NewServer(cfgStore, ingestor, queries, broadcaster)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go sweeper.Start(ctx)
	if mockMode {
		mock.NewGenerator(ingestor).Start(ctx)
	}
	go func() {
		if err := cfgStore.Watch(ctx); err != nil {
			log.Printf("Config watcher unavailable: %v", err)
		}
	}()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			scheduler.Close()
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Drain any pending snapshot so a clean shutdown loses nothing.
	if err := scheduler.Close(); err != nil {
		log.Printf("Final snapshot flush failed: %v", err)
	}
	return nil
}

func runSnapshot() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := persist.NewStore(cfg.Storage.Path)
	snap, err := store.Load()
	if err != nil {
		return err
	}

	byStatus := make(map[session.Status]int)
	for _, s := range snap.Sessions {
		byStatus[s.Status]++
	}

	fmt.Printf("Snapshot: %s\n", store.Path())
	fmt.Printf("  sessions:    %d (%d active, %d idle, %d ended)\n",
		len(snap.Sessions), byStatus[session.Active], byStatus[session.Idle], byStatus[session.Ended])
	fmt.Printf("  events:      %d\n", len(snap.Events))
	fmt.Printf("  lastEventId: %d\n", snap.LastEventID)
	return nil
}
