package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/bus"
	"github.com/droverhq/drover/internal/channels"
	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/dashboard"
	"github.com/droverhq/drover/internal/dispatch"
	"github.com/droverhq/drover/internal/orchestrator"
	"github.com/droverhq/drover/internal/reasoner"
	"github.com/droverhq/drover/internal/store"
)

var upDryRun bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the orchestrator daemon",
	Run:   runUp,
}

func init() {
	upCmd.Flags().BoolVar(&upDryRun, "dry-run", false, "use the echo reasoner instead of the external process")
}

func runUp(cmd *cobra.Command, args []string) {
	fmt.Printf("🐑 Drover %s starting...\n", version)

	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	// 2. Store
	st, err := store.Open(cfg.Core.DBPath)
	if err != nil {
		fmt.Printf("Store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Printf("💾 Store open at %s\n", cfg.Core.DBPath)

	// 3. Reasoner
	var think reasoner.Reasoner
	if upDryRun {
		think = &reasoner.Echo{}
		fmt.Println("🧪 Dry run: echo reasoner active")
	} else {
		think = reasoner.NewSubprocess(cfg.Reasoner.Argv(), cfg.Reasoner.RunTimeout())
		fmt.Printf("🧠 Reasoner: %s\n", cfg.Reasoner.Command)
	}

	// 4. Orchestrator core
	orch := orchestrator.New(orchestrator.Options{
		Store:         st,
		Reasoner:      think,
		MaxAgents:     cfg.Core.MaxAgents,
		HistoryWindow: cfg.Core.HistoryWindow,
		PromptBudget:  cfg.Core.PromptBudget,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Registry().Load(ctx); err != nil {
		fmt.Printf("Registry load error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("🤖 %d agent(s) loaded\n", orch.Registry().Len())

	// 5. Bus + dispatcher
	messageBus := bus.New()
	disp := dispatch.New(dispatch.Options{
		Bus:          messageBus,
		Orchestrator: orch,
		Workers:      cfg.Core.Workers,
		RunTimeout:   cfg.Reasoner.RunTimeout(),
		DrainTimeout: time.Duration(cfg.Core.DrainTimeoutSeconds) * time.Second,
	})
	go messageBus.DispatchOutbound(ctx)
	go disp.Run(ctx)

	// 6. Idle reaper (disabled at timeout 0)
	reaper := orchestrator.NewReaper(orch, time.Duration(cfg.Core.IdleTimeoutSeconds)*time.Second)
	go reaper.Run(ctx)

	// 7. Channels
	var active []channels.Channel
	if cfg.Console.Enabled {
		active = append(active, channels.NewConsole(messageBus))
	}
	if cfg.Slack.Enabled {
		active = append(active, channels.NewSlack(cfg.Slack, messageBus))
	}
	if cfg.Kafka.Enabled {
		active = append(active, channels.NewKafka(cfg.Kafka, messageBus))
	}
	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			fmt.Printf("⚠️ Channel %s failed to start: %v\n", ch.Name(), err)
			continue
		}
		fmt.Printf("📨 Channel up: %s\n", ch.Name())
	}

	// 8. Dashboard
	var srv *http.Server
	if cfg.Dashboard.Enabled {
		srv = &http.Server{
			Addr:    cfg.Dashboard.Addr(),
			Handler: dashboard.New(orch, st, messageBus).Handler(),
		}
		go func() {
			fmt.Printf("📡 Dashboard on http://%s\n", cfg.Dashboard.Addr())
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Printf("Dashboard error: %v\n", err)
			}
		}()
	}

	fmt.Println("✅ Drover is up. Ctrl-C to stop.")
	<-ctx.Done()

	fmt.Println("\n🛑 Shutting down...")
	for _, ch := range active {
		_ = ch.Stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	fmt.Println("👋 Bye.")
}
