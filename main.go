package main

import (
	"context"
	"os"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/spf13/cobra"

	"studio/agent"
	"studio/config"
	"studio/db"
	"studio/kv"
	"studio/platform/shutdown"
	"studio/web"
)

var (
	configFile   string
	listenAddr   string
	agentCommand string
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Agent session orchestrator",
	Long: `Studio supervises AI agent subprocesses, streams their replies over
SSE and websockets, and persists conversations, transcripts, and
coordinator plans.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to TOML config file")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "address", "a", "", "listen address, overrides config")
	rootCmd.PersistentFlags().StringVar(&agentCommand, "agent-command", "", "agent binary to spawn, overrides config")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(configFile); err != nil {
		return err
	}
	cfg := config.Get()

	// Flags outrank both the config file and the environment
	if listenAddr != "" {
		cfg.Address = listenAddr
	}
	if agentCommand != "" {
		cfg.Agent.Command = agentCommand
	}

	store, err := db.GetDB()
	if err != nil {
		return err
	}

	forensics := kv.NewStore()
	bus := web.NewSocketBus()
	orch := agent.NewOrchestrator(cfg, store, forensics, bus)
	bus.SetReplyingFunc(orch.IsReplying)

	uploads := web.NewUploadIndex()
	h := web.NewHandlers(cfg, store, orch, uploads)

	s := rweb.NewServer(rweb.ServerOptions{
		Address: cfg.Address,
		Verbose: true,
	})
	s.Use(rweb.RequestInfo)
	web.SetupRoutes(s, h)

	// Teardown order matters: agents first so transcripts flush, then the
	// socket bus, then the stores. Registered hooks run concurrently, so the
	// ordered steps share one hook.
	shutdown.RegisterHook(func(d time.Duration) error {
		orch.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		bus.Shutdown(ctx)
		forensics.Close()
		return store.Close()
	})

	done := make(chan struct{})
	shutdown.InitShutdownService(done)

	go func() {
		if err := bus.Start(cfg.SocketAddress); err != nil {
			logger.LogErr(err, "socket bus stopped")
		}
	}()

	go func() {
		logger.Info("Starting studio server", "address", cfg.Address)
		if err := s.Run(); err != nil {
			logger.LogErr(err, "server stopped")
		}
	}()

	<-done
	logger.Info("Studio shut down")
	return nil
}
