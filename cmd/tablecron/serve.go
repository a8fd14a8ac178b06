package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablecron/tablecron/config"
	"github.com/tablecron/tablecron/internal/controlapi"
	"github.com/tablecron/tablecron/internal/cronsched"
	"github.com/tablecron/tablecron/internal/executor"
	"github.com/tablecron/tablecron/internal/fetcher"
	"github.com/tablecron/tablecron/internal/logger"
	"github.com/tablecron/tablecron/internal/mailer"
	"github.com/tablecron/tablecron/internal/metrics"
	"github.com/tablecron/tablecron/internal/notifier"
	"github.com/tablecron/tablecron/internal/sandbox"
	"github.com/tablecron/tablecron/internal/store"
)

const shutdownDrain = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, executor, and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFile)

	st, err := store.Open(cfg.JobStoragePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mt, metricsHandler := metrics.New()
	nt := notifier.New(cfg.ResultWebhook)
	defer nt.Close()

	f := fetcher.New()
	sb := sandbox.New()
	ml := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFromEmail,
		UseTLS:   cfg.SMTPUseTLS,
	}, cfg.RateLimit, cfg.BurstLimit)

	exec := executor.New(st, f, sb, ml, mt, nt, log, cfg.ScriptTimeout)

	sched := cronsched.New(func(runCtx context.Context, jobName string) {
		exec.Run(runCtx, jobName)
	}, log, mt)
	if err := sched.LoadAll(st); err != nil {
		log.Errorf("load_all: %v", err)
	}
	sched.Start()

	api := controlapi.New(st, sched, exec, f, sb, log, cfg.ScriptTimeout)
	apiServer := &http.Server{Addr: cfg.ControlAddr, Handler: api}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		log.Infof("control API listening on %s", cfg.ControlAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("control API server: %v", err)
		}
	}()

	go func() {
		if err := metrics.Serve(runCtx, cfg.MetricsAddr, metricsHandler); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutdown signal received, draining")

	sched.Stop(shutdownDrain)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	cancel()

	return nil
}
