package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"secwatch/channel"
	"secwatch/config"
	"secwatch/ingest"
	"secwatch/listener"
	"secwatch/server"
	"secwatch/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "secwatch",
	Short: "Secwatch security event ingestion server",
	Long: `Secwatch ingests syslog traffic over TCP and UDP, normalizes it into
security events and persists them per source channel. Pre-structured events
can also be submitted over HTTP.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the listeners and the HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./secwatch.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	config.InitLogging(cfg)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}

	resolver := channel.NewResolver(st)
	ingestor := ingest.NewIngestor(st, resolver)
	supervisor := listener.NewSupervisor(st, ingestor)
	httpServer := server.New(ingestor, cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logrus.WithError(err).Error("HTTP server failed")
		}
	}

	supervisor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown was not clean")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
