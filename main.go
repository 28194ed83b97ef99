// codecrew is the generation pipeline server: it refines prompts, drives
// the Coder/Reviewer/Tester loop, and exposes the HTTP and WebSocket
// front end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codecrew/pkg/agent"
	"codecrew/pkg/config"
	"codecrew/pkg/eventlog"
	"codecrew/pkg/events"
	"codecrew/pkg/lint"
	"codecrew/pkg/logx"
	"codecrew/pkg/orch"
	"codecrew/pkg/persistence"
	"codecrew/pkg/session"
	"codecrew/pkg/version"
	"codecrew/pkg/webui"
)

func main() {
	var (
		configPath  = flag.String("config", "config.json", "Path to configuration file")
		listenAddr  = flag.String("addr", "", "Listen address override")
		showVersion = flag.Bool("version", false, "Show version information")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("codecrew %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	if err := run(*configPath, *listenAddr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listenAddr string) error {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listenAddr != "" {
		cfg.Web.ListenAddr = listenAddr
	}

	// Decrypt the secrets file when one exists; API keys fall back to
	// environment variables otherwise.
	if config.SecretsFileExists(".") {
		password := config.GetServicePassword()
		if password == "" {
			return fmt.Errorf("secrets file present but no password set (%s)", config.EnvServicePassword)
		}
		secrets, err := config.DecryptSecretsFile(".", password)
		if err != nil {
			return fmt.Errorf("failed to decrypt secrets: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
		logger.Info("secrets file loaded")
	}

	if err := persistence.Initialize(cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Error("failed to close database: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	emitter := events.NewEmitter(cfg.EventHistoryLimit)

	logWriter, err := eventlog.NewWriter(cfg.EventLogDir, cfg.EventLogRotationHours)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() {
		if err := logWriter.Close(); err != nil {
			logger.Error("failed to close event log: %v", err)
		}
	}()
	emitter.AddTransport(logWriter)

	var linter *lint.Checker
	if len(cfg.Tools.LintCommand) > 0 {
		linter = lint.NewChecker(cfg.Tools.LintCommand, time.Duration(cfg.Tools.TimeoutSec)*time.Second)
	}

	store := persistence.Store()
	registry := session.NewRegistry(cfg.Workflow.SessionGrace())
	defer registry.Close()

	factory := agent.NewClientFactory(cfg)
	orchestrator := orch.New(emitter, linter, store, cfg.Workflow.MaxAttempts)
	service := orch.NewService(registry, emitter, orchestrator, orch.NewAgentProvider(cfg, factory))

	server := webui.NewServer(service, registry, emitter, store, cfg.Web)
	server.Start(ctx, cfg.Web.ListenAddr)

	logger.Info("codecrew %s listening on %s", version.Version, cfg.Web.ListenAddr)

	<-ctx.Done()
	logger.Info("shutting down, waiting for running sessions")

	// Running sessions observe the cancel at their next stage boundary;
	// give them a bounded window to finish.
	done := make(chan struct{})
	go func() {
		service.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("shutdown timed out with sessions still running")
	}

	logger.Info("shutdown complete")
	return nil
}
