package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lingodoc/lingodoc/internal/blob"
	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/health"
	"github.com/lingodoc/lingodoc/internal/httpapi"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/pipeline"
	"github.com/lingodoc/lingodoc/internal/store"
	"github.com/lingodoc/lingodoc/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, pipeline workers and health monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewFromEnv()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, cfg *config.Config) error {
	log.InitLogger(log.ParseLevel(cfg.Server.LogLevel))

	st, blobs, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := engine.New(cfg.Engine, cfg.Pipeline.SpanBatchThreshold)
	if err != nil {
		return err
	}

	signalBus := bus.New(cfg.Pipeline.WorkerCount, st)
	notifier := notify.FromConfig(cfg.Server.NotifyWebhookURL)
	orch := pipeline.NewOrchestrator(st, blobs, signalBus, eng, notifier, cfg.Pipeline.MaxChunkAttempts)

	cronEngine := cron.New()
	monitor := health.NewMonitor(st, signalBus, orch, cronEngine, cfg.Health)
	if err := monitor.Schedule(parent); err != nil {
		return err
	}

	server := httpapi.NewServer(orch, st, blobs)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signalBus.Start(orch.Handle)
	cronEngine.Start()
	log.Info("lingodoc serving on %s (provider %s, %d workers)",
		cfg.Server.ListenAddr, cfg.Engine.Provider, cfg.Pipeline.WorkerCount)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := server.ListenAndServe(cfg.Server.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP shutdown: %v", err)
		}
		<-cronEngine.Stop().Done()
		signalBus.Stop()
		return nil
	})
	return group.Wait()
}

func openStorage(cfg *config.Config) (*store.Store, *blob.Store, error) {
	blobs, err := blob.NewStore(cfg.Storage.BlobDir)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(cfg.Storage.DBPath,
		store.WithPayloadStore(blobs, cfg.Storage.OffloadThreshold))
	if err != nil {
		return nil, nil, err
	}
	return st, blobs, nil
}
