// Command p2prd-host runs the privileged host process: session admission,
// capture, encode, input injection, and WebRTC/signaling orchestration for
// one unattended remote-desktop session at a time. See internal/orchestrator
// for the state machine this wires together.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/agent/internal/config"
	"github.com/breeze-rmm/agent/internal/desktop"
	"github.com/breeze-rmm/agent/internal/ipc"
	"github.com/breeze-rmm/agent/internal/logging"
	"github.com/breeze-rmm/agent/internal/orchestrator"
	"github.com/breeze-rmm/agent/internal/sessionbroker"
	"github.com/breeze-rmm/agent/internal/signaling"
	"github.com/breeze-rmm/agent/internal/webrtccore"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgPath string

var log = logging.L("host-main")

var rootCmd = &cobra.Command{
	Use:   "p2prd-host",
	Short: "P2PRD unattended remote-desktop host",
	Long:  `P2PRD Host - unattended peer-to-peer remote-desktop host process.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("P2PRD Host %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the host",
	Long:  `Start the host process and begin accepting operator sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running host's configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := ipc.Dial()
		if err != nil {
			return fmt.Errorf("host does not appear to be running: %w", err)
		}
		defer client.Close()

		resp, err := client.Call(ipc.Request{Type: ipc.TypeStatus})
		if err != nil {
			return err
		}
		if resp.Status != "ok" {
			return fmt.Errorf("status request failed: %s", resp.Error)
		}

		fmt.Printf("Host ID: %s\n", resp.HostID)
		hasPassword := resp.HasPassword != nil && *resp.HasPassword
		fmt.Printf("Password set: %v\n", hasPassword)
		fmt.Printf("Resolver URL: %s\n", resp.SignalingResolverURL)
		fmt.Printf("STUN: %s\n", strings.Join(resp.STUN, ", "))
		if resp.TURN != nil {
			fmt.Printf("TURN: %s (user %s)\n", resp.TURN.URL, resp.TURN.Username)
		}
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password [password]",
	Short: "Set the operator password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := args[0]

		// Prefer the pipe so a running host picks the change up live; fall
		// back to the config file directly when no host is listening.
		if client, err := ipc.Dial(); err == nil {
			defer client.Close()
			resp, err := client.Call(ipc.Request{Type: ipc.TypeSetPassword, Password: password})
			if err != nil {
				return err
			}
			if resp.Status != "ok" {
				return fmt.Errorf("set_password failed: %s", resp.Error)
			}
			fmt.Println("Password updated (running host).")
			return nil
		}

		cfgStore, err := config.Open(configPath())
		if err != nil {
			return fmt.Errorf("failed to open config store: %w", err)
		}
		if err := cfgStore.SetPassword(password); err != nil {
			return fmt.Errorf("failed to set password: %w", err)
		}
		fmt.Println("Password updated; takes effect when the host starts.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetPasswordCmd)

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default platform-specific, see internal/config.DefaultPath)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

// runHost loads the Config Store, wires capture/encode/input/WebRTC into the
// Session Orchestrator, starts the Signaling Client's Resolver Loop, the IPC
// Config Store surface, and the Session-0 Watcher, then blocks until a
// shutdown signal cancels every loop at once. Config persistence, capturer
// construction, encoder construction and IPC bind failures are fatal here
// (an encoder that fails to construct is not replaced by a still-image
// fallback) — everything past that point is logged and kept running.
func runHost() error {
	path := configPath()

	cfgStore, err := config.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config store at %s: %w", path, err)
	}

	snap := cfgStore.Snapshot()

	var logOutput io.Writer = os.Stdout
	rotator, err := logging.NewRotatingWriter(logging.DefaultLogPath(path),
		int(snap.Logging.MaxBytes/(1024*1024)), snap.Logging.Files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: host log file unavailable, logging to stdout only: %v\n", err)
	} else {
		defer rotator.Close()
		logOutput = logging.TeeWriter(os.Stdout, rotator)
	}
	logging.Init("text", "info", logOutput)
	log = logging.L("host-main")
	log.Info("starting host", "hostId", snap.HostID, "version", version)

	capturer, err := desktop.NewCapturer(desktop.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize capture pipeline: %w", err)
	}
	injector := desktop.NewInjector()
	encoder, err := desktop.NewVideoEncoder(desktop.DefaultEncoderConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize encoder: %w", err)
	}

	orch := orchestrator.New(cfgStore, capturer, injector, encoder, iceServers(snap))

	sigClient := signaling.New(orch.OnSignalingMessage, orch.OnSignalingDisconnected)
	orch.SetSignaling(sigClient)

	ipcServer, err := ipc.Listen(cfgStore)
	if err != nil {
		return fmt.Errorf("failed to bind ipc listener: %w", err)
	}
	defer ipcServer.Close()

	watcher := sessionbroker.NewWatcher(func(ev sessionbroker.SessionEvent) {
		log.Info("console session transition", "type", ev.Type, "username", ev.Username)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orch.Run(ctx)
	go ipcServer.Serve(ctx)
	go watcher.Run(ctx)

	resolver := signaling.NewResolver(sigClient, snap.SignalingResolverURL, 0)
	go resolver.Run(ctx)

	log.Info("host is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down host")
	cancel()
	sigClient.Close()
	time.Sleep(200 * time.Millisecond) // let in-flight pumps observe cancellation
	log.Info("host stopped")
	return nil
}

// iceServers builds the WebRTC ICE server list from the persisted STUN/TURN
// configuration.
func iceServers(snap config.Config) []webrtccore.ICEServer {
	servers := make([]webrtccore.ICEServer, 0, len(snap.STUN)+1)
	for _, url := range snap.STUN {
		servers = append(servers, webrtccore.ICEServer{URLs: []string{url}})
	}
	if snap.TURN.URL != "" {
		servers = append(servers, webrtccore.ICEServer{
			URLs:       []string{snap.TURN.URL},
			Username:   snap.TURN.Username,
			Credential: snap.TURN.Credential,
		})
	}
	return servers
}
