package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pipeboard/pipeboard/pkg/agent"
	"github.com/pipeboard/pipeboard/pkg/config"
	"github.com/pipeboard/pipeboard/pkg/correlate"
	"github.com/pipeboard/pipeboard/pkg/hub"
	"github.com/pipeboard/pipeboard/pkg/log"
	"github.com/pipeboard/pipeboard/pkg/proxy"
	"github.com/pipeboard/pipeboard/pkg/server"
	"github.com/pipeboard/pipeboard/pkg/session"
	"github.com/pipeboard/pipeboard/pkg/watcher"
)

var (
	serveConfigPath   string
	servePort         int
	serveRoot         string
	serveDataDir      string
	serveAgentCommand string
	serveLogLevel     string
	serveLogFormat    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	Long: `Run the dashboard server: the file watcher over the content root,
the websocket hub, the REST surface and the chat streaming bridge.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if cmd.Flags().Changed("root") {
			cfg.ContentRoot = serveRoot
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = serveDataDir
		}
		if cmd.Flags().Changed("agent-command") {
			cfg.Agent.Command = serveAgentCommand
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = serveLogLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = serveLogFormat
		}

		if err := log.Init(log.Config{Level: log.Level(cfg.Log.Level), Format: cfg.Log.Format}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		return runServe(cfg)
	},
}

func runServe(cfg config.Config) error {
	root, err := filepath.Abs(cfg.ContentRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve content root: %w", err)
	}
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}

	store, err := session.Open(dataDir)
	if err != nil {
		return err
	}
	watch, err := watcher.New(root)
	if err != nil {
		return err
	}

	runtime := agent.NewCLIRuntime(cfg.Agent.Command)
	runtime.ExtraArgs = cfg.Agent.ExtraArgs

	history := correlate.NewHistory()
	h := hub.New(store, watch)
	chat := proxy.NewHandler(runtime, proxy.NewRegistry(), history)

	srv, err := server.New(server.Config{
		Port:    cfg.Port,
		Root:    root,
		Version: version,
	}, store, watch, h, chat, history)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch.Start(ctx); err != nil {
		return err
	}
	defer watch.Stop()

	log.Info("pipeboard starting", "root", root, "data_dir", dataDir, "port", cfg.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		h.Run(ctx, watch.Events())
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML config file")
	serveCmd.Flags().IntVar(&servePort, "port", 3001, "HTTP listen port")
	serveCmd.Flags().StringVar(&serveRoot, "root", "content", "Content root holding the stage directories")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", ".pipeboard", "Directory for the session store")
	serveCmd.Flags().StringVar(&serveAgentCommand, "agent-command", "claude", "Agent CLI binary")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "console", "Log format: console or json")
}
