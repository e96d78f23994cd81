package cmd

import (
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/lingodoc/lingodoc/internal/bus"
	"github.com/lingodoc/lingodoc/internal/config"
	"github.com/lingodoc/lingodoc/internal/engine"
	"github.com/lingodoc/lingodoc/internal/health"
	"github.com/lingodoc/lingodoc/internal/notify"
	"github.com/lingodoc/lingodoc/internal/pipeline"
	"github.com/lingodoc/lingodoc/pkg/log"
)

// sweepCmd runs one health sweep against the shared database and exits.
// Useful when the server is down and stuck jobs need repairing by hand.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single health sweep and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewFromEnv()
		if err != nil {
			return err
		}
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
		monitor := health.NewMonitor(st, signalBus, orch, cron.New(), cfg.Health)

		return monitor.Sweep(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
