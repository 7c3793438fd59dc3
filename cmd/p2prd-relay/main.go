// Command p2prd-relay runs the standalone signaling relay: a single `/ws`
// endpoint pairing one host with however many operators present its host
// id, plus a `/health` probe. See internal/relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/agent/internal/logging"
	"github.com/breeze-rmm/agent/internal/relay"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var listenAddr string

var log = logging.L("relay-main")

var rootCmd = &cobra.Command{
	Use:   "p2prd-relay",
	Short: "P2PRD signaling relay",
	Long:  "Pairs one unattended host with one operator over a single WebSocket endpoint.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("P2PRD Relay %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&listenAddr, "listen", ":8443", "address to bind the relay's HTTP listener")
	logging.Init("text", "info", os.Stdout)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runRelay starts the relay's HTTP server and blocks until a shutdown
// signal arrives. Failing to bind the listener is the only startup
// condition fatal enough to warrant a non-zero exit.
func runRelay() error {
	srv := relay.New()

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Handler(),
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind relay listener on %s: %w", listenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()

	log.Info("relay listening", "addr", listenAddr, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down relay")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("relay server error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("relay shutdown did not complete cleanly", "error", err)
	}
	log.Info("relay stopped")
	return nil
}
