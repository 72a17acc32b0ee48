package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync reconciler and keep the stores available",
	Long: `serve wires every component and runs the background sync
reconciler until interrupted. New write traffic reaches the memory
manager through whatever transport embeds this package; serve itself
only owns the reconciler loop and the graceful shutdown sequence.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx, debug)
	if err != nil {
		return err
	}

	a.log.Info("memoryd_starting",
		zap.String("redis_addr", fmt.Sprintf("%s:%d", a.cfg.RedisHost, a.cfg.RedisPort)),
		zap.String("graph_addr", a.cfg.Neo4jURI),
		zap.Int("sync_interval_seconds", a.cfg.SyncIntervalSeconds),
	)

	syncDone := make(chan struct{})
	go func() {
		a.sync.Run(ctx)
		close(syncDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		a.log.Info("memoryd_shutdown_signal_received")
	case <-ctx.Done():
	}

	cancel()
	<-syncDone

	if err := a.Close(); err != nil {
		a.log.Error("memoryd_shutdown_incomplete", zap.Error(err))
		return err
	}

	a.log.Info("memoryd_shutdown_complete")
	return nil
}
