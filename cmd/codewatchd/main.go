// codewatchd watches a mailbox for verification codes and serves them to
// waiting HTTP and WebSocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewatch/codewatch/internal/baselib/actor"
	"github.com/codewatch/codewatch/internal/config"
	"github.com/codewatch/codewatch/internal/correlate"
	"github.com/codewatch/codewatch/internal/extract"
	"github.com/codewatch/codewatch/internal/fanout"
	"github.com/codewatch/codewatch/internal/watch"
	"github.com/codewatch/codewatch/internal/web"
)

// shutdownTimeout bounds how long graceful teardown may take before the
// process exits anyway.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "codewatchd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "codewatchd",
		Short: "Mailbox verification code watcher",
		Long: "codewatchd connects to an IMAP mailbox, extracts " +
			"verification codes from incoming mail, and delivers " +
			"them to clients waiting over HTTP or WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(
		&configPath, "config", "c", "",
		"path to a YAML config file (env vars still apply)",
	)

	return cmd
}

func run(cfg *config.Config) error {
	logCloser, err := setupLoggers(cfg)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logCloser()

	ctx := context.Background()

	actorSystem := actor.NewActorSystem()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := actorSystem.Shutdown(shutdownCtx); err != nil {
			log.WarnS(shutdownCtx,
				"Actor system shutdown incomplete", err)
		}
	}()

	hubRef := actor.RegisterWithSystem[fanout.HubRequest,
		fanout.HubResponse](actorSystem, "fanout-hub", fanout.NewHub())

	watcher := watch.NewWatcher(watch.WatcherConfig{
		Dialer: watch.NewIMAPDialer(cfg.Mail),
		Extractor: extract.New(
			cfg.Extract.MinCodeLength, cfg.Extract.MaxCodeLength,
		),
		Hub:                  hubRef,
		ReconnectMaxAttempts: cfg.Mail.ReconnectMaxAttempts,
		ReconnectDelay:       cfg.Mail.ReconnectDelay,
		CheckInterval:        cfg.Mail.CheckInterval,
	})
	watcherRef := actor.RegisterWithSystem[watch.WatcherRequest,
		watch.WatcherResponse](actorSystem, "mailbox-watcher", watcher)
	watcherRef.Tell(ctx, watch.StartMsg{Self: watcherRef})

	waiter := correlate.NewWaiter(hubRef, watcherRef)

	server := web.NewServer(web.Config{
		Addr:                  cfg.HTTP.Addr,
		DefaultWaitTimeout:    cfg.HTTP.DefaultWaitTimeout,
		WSDefaultWaitTimeout:  cfg.WS.DefaultWaitTimeout,
		WSClientCheckInterval: cfg.WS.ClientCheckInterval,
	}, waiter, watcherRef, hubRef)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.InfoS(ctx, "codewatchd running",
		"http_addr", cfg.HTTP.Addr,
		"mailbox", cfg.Mail.Mailbox,
		"mail_host", cfg.Mail.Host)

	var runErr error
	select {
	case sig := <-sigCh:
		log.InfoS(ctx, "Received signal, shutting down",
			"signal", sig.String())

	case err := <-serverErr:
		log.ErrorS(ctx, "Web server failed", err)
		runErr = err

	case <-watcher.Fatal():
		log.ErrorS(ctx, "Mailbox watching stopped, shutting down",
			watch.ErrReconnectBudgetExhausted)
		runErr = watch.ErrReconnectBudgetExhausted
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WarnS(shutdownCtx, "Web server shutdown incomplete", err)
	}

	return runErr
}
