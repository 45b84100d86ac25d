// cmd/sarafan/main.go
//
// This is the entry point for the sarafan client.
//
// Flow:
// 1. Resolve the home directory and load config.yaml
// 2. Build the backend client, store, intent router, and orchestrator
// 3. Optionally start the local bridge
// 4. Run the TUI until the user quits, then drain the workflows

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/sarafan/internal/backend"
	"github.com/kingrea/sarafan/internal/bridge"
	"github.com/kingrea/sarafan/internal/config"
	"github.com/kingrea/sarafan/internal/intent"
	"github.com/kingrea/sarafan/internal/logbook"
	"github.com/kingrea/sarafan/internal/orchestrator"
	"github.com/kingrea/sarafan/internal/store"
	"github.com/kingrea/sarafan/internal/tui"
)

const shutdownTimeout = 3 * time.Second

func main() {
	if handleInitCommand() {
		return
	}

	home, err := config.DefaultHome()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving home directory: %v\n", err)
		os.Exit(1)
	}
	if err := config.InitDir(home); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s: %v\n", home, err)
		os.Exit(1)
	}
	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	lb, err := logbook.New(cfg.LogPath(), logbook.WithMinLevel(logbook.ParseLevel(cfg.LogLevel())))
	if err != nil {
		return err
	}
	client, err := backend.New(cfg.BackendURL(), backend.WithTimeout(cfg.BackendTimeout()))
	if err != nil {
		return err
	}
	st := store.New()
	router := intent.NewRouter(
		intent.WithLogger(lb),
		intent.WithSubscriberCapacity(cfg.QueueCapacity()),
	)
	orch, err := orchestrator.New(client, st, router,
		orchestrator.WithAutoPublish(cfg.AutoPublish()),
		orchestrator.WithRestartDelay(cfg.RestartDelay()),
		orchestrator.WithLogger(lb),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orchDone := make(chan error, 1)
	go func() {
		orchDone <- orch.Run(ctx)
	}()
	lb.Info("sarafan started against %s", client.BaseURL())

	var server *bridge.Server
	if cfg.BridgeEnabled() {
		server = bridge.NewServer(bridge.SettingsFromConfig(cfg), router, st, bridge.WithLogger(lb))
		if err := server.Start(ctx); err != nil {
			lb.Error("bridge: %v", err)
			server = nil
		}
	}

	app, err := tui.NewApp(router, st,
		tui.WithRuns(orch),
		tui.WithAuthenticator(client),
		tui.WithLogbook(lb),
		tui.WithAutoPublishToggle(cfg.AutoPublish(), func(enabled bool) error {
			orch.SetAutoPublish(enabled)
			return cfg.SetAutoPublish(enabled)
		}),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	_, runErr := tea.NewProgram(app, tea.WithAltScreen()).Run()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			lb.Warn("bridge shutdown: %v", err)
		}
	}
	cancel()
	select {
	case err := <-orchDone:
		if err != nil {
			lb.Error("orchestrator stopped: %v", err)
		}
	case <-shutdownCtx.Done():
		lb.Warn("orchestrator did not drain within %s", shutdownTimeout)
	}
	if runErr != nil {
		return fmt.Errorf("running TUI: %w", runErr)
	}
	return nil
}
