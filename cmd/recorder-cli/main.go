package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/breeze-audio/recorder/internal/config"
	"github.com/breeze-audio/recorder/internal/events"
	"github.com/breeze-audio/recorder/internal/ipc"
	"github.com/breeze-audio/recorder/internal/logging"
	"github.com/breeze-audio/recorder/internal/session"
	"github.com/breeze-audio/recorder/internal/wsrelay"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "recorder-cli",
	Short: "System + mic capture-and-mix recording engine",
	Long:  `recorder-cli runs the capture/mix engine and exposes a local control socket for a GUI or script to drive.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the recording engine and its control socket",
	Run: func(cmd *cobra.Command, args []string) {
		runEngine()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recorder-cli v%s\n", version)
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start monitor mode against a running engine (no disk writes)",
	Run: func(cmd *cobra.Command, args []string) {
		loopbackID, _ := cmd.Flags().GetString("loopback-device")
		micID, _ := cmd.Flags().GetString("mic-device")
		sendCommand(ipc.TypeMonitor, ipc.MonitorRequest{LoopbackDeviceID: loopbackID, MicDeviceID: micID})
	},
}

var stopMonitorCmd = &cobra.Command{
	Use:   "stop-monitor",
	Short: "Stop monitor mode",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeStopMonitor, nil)
	},
}

var startCmd = &cobra.Command{
	Use:   "start [output-base-path]",
	Short: "Start recording to System/Mic/Mix WAV files (and optional MP3)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		loopbackID, _ := cmd.Flags().GetString("loopback-device")
		micID, _ := cmd.Flags().GetString("mic-device")
		mp3Kbps, _ := cmd.Flags().GetInt("mp3-bitrate")
		sendCommand(ipc.TypeStart, ipc.StartRequest{
			LoopbackDeviceID: loopbackID,
			MicDeviceID:      micID,
			OutputBasePath:   args[0],
			MP3BitrateKbps:   mp3Kbps,
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording and print the output paths",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeStop, nil)
	},
}

var disposeCmd = &cobra.Command{
	Use:   "dispose",
	Short: "Tear down the engine's devices and release all resources",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeDispose, nil)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the engine's current session state",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeGetStatus, nil)
	},
}

var micGainCmd = &cobra.Command{
	Use:   "mic-gain [0.0-4.0]",
	Short: "Adjust the microphone gain of the running session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var gain float32
		if _, err := fmt.Sscanf(args[0], "%f", &gain); err != nil {
			fmt.Fprintf(os.Stderr, "invalid gain: %v\n", err)
			os.Exit(1)
		}
		sendCommand(ipc.TypeSetMicGain, ipc.GainRequest{Gain: gain})
	},
}

var loopGainCmd = &cobra.Command{
	Use:   "loopback-gain [0.0-4.0]",
	Short: "Adjust the system (loopback) gain of the running session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var gain float32
		if _, err := fmt.Sscanf(args[0], "%f", &gain); err != nil {
			fmt.Fprintf(os.Stderr, "invalid gain: %v\n", err)
			os.Exit(1)
		}
		sendCommand(ipc.TypeSetLoopGain, ipc.GainRequest{Gain: gain})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	monitorCmd.Flags().String("loopback-device", "", "loopback device ID (empty for system default)")
	monitorCmd.Flags().String("mic-device", "", "microphone device ID (empty for system default)")
	startCmd.Flags().String("loopback-device", "", "loopback device ID (empty for system default)")
	startCmd.Flags().String("mic-device", "", "microphone device ID (empty for system default)")
	startCmd.Flags().Int("mp3-bitrate", 0, "MP3 bitrate in kbps (0 disables MP3 output)")

	rootCmd.AddCommand(runCmd, versionCmd, monitorCmd, stopMonitorCmd, startCmd, stopCmd, disposeCmd, statusCmd, micGainCmd, loopGainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
}

// runEngine starts the Session Controller, its IPC control socket, and (if
// configured) the WebSocket event relay, and blocks until SIGINT/SIGTERM.
func runEngine() {
	cfg := loadConfig()
	initLogging(cfg)

	log.Info("starting engine", "version", version, "outputDir", cfg.OutputDir, "ipcEndpoint", cfg.IPCEndpoint)

	bus := events.NewBus()
	ctrl := session.New(cfg, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ipcSrv := ipc.NewServer(ctrl, bus)
	go func() {
		if err := ipcSrv.Serve(ctx, cfg.IPCEndpoint); err != nil {
			log.Error("ipc server stopped", "error", err)
		}
	}()

	var relaySrv *wsrelay.Server
	if cfg.RelayPort > 0 {
		relaySrv = wsrelay.New(bus)
		go func() {
			addr := fmt.Sprintf("127.0.0.1:%d", cfg.RelayPort)
			if err := relaySrv.Serve(ctx, addr); err != nil {
				log.Error("relay server stopped", "error", err)
			}
		}()
	}

	log.Info("engine is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down engine")
	cancel()
	if relaySrv != nil {
		relaySrv.Close()
	}
	ipcSrv.Close()

	if ctrl.IsRecording() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 35*time.Second)
		defer drainCancel()
		if _, err := ctrl.Stop(drainCtx); err != nil {
			log.Error("stop on shutdown failed", "error", err)
		}
	}
	if err := ctrl.Dispose(); err != nil {
		log.Error("dispose on shutdown failed", "error", err)
	}

	log.Info("engine stopped")
}

// sendCommand dials the engine's IPC endpoint, sends a single command
// envelope, prints the response (or error) to stdout/stderr, and exits.
func sendCommand(cmdType string, payload any) {
	cfg := loadConfig()

	conn, err := dialEndpoint(cfg.IPCEndpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to engine at %s: %v\n", cfg.IPCEndpoint, err)
		fmt.Fprintln(os.Stderr, "is 'recorder-cli run' running?")
		os.Exit(1)
	}
	defer conn.Close()

	c := ipc.NewConn(conn)
	c.SetDeadline(time.Now().Add(10 * time.Second))

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode request: %v\n", err)
			os.Exit(1)
		}
	}

	id := uuid.NewString()
	if err := c.Send(&ipc.Envelope{ID: id, Type: cmdType, Payload: raw}); err != nil {
		fmt.Fprintf(os.Stderr, "send command: %v\n", err)
		os.Exit(1)
	}

	// Skip any TypeEvent envelopes forwarded before our response arrives.
	for {
		resp, err := c.Recv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "receive response: %v\n", err)
			os.Exit(1)
		}
		if resp.Type == ipc.TypeEvent {
			continue
		}
		if resp.Error != "" {
			fmt.Fprintf(os.Stderr, "engine error: %s\n", resp.Error)
			os.Exit(1)
		}
		printResponse(cmdType, resp.Payload)
		return
	}
}

func printResponse(cmdType string, payload json.RawMessage) {
	switch cmdType {
	case ipc.TypeStop:
		var out ipc.StopResponse
		if err := json.Unmarshal(payload, &out); err == nil {
			fmt.Printf("system: %s\nmic:    %s\nmix:    %s\n", out.SystemPath, out.MicPath, out.MixPath)
			if out.MP3Path != "" {
				fmt.Printf("mp3:    %s\n", out.MP3Path)
			}
			fmt.Printf("log:    %s\n", out.SessionLogPath)
			return
		}
	case ipc.TypeGetStatus:
		var out ipc.StatusResponse
		if err := json.Unmarshal(payload, &out); err == nil {
			fmt.Printf("state: %s\n", out.State)
			return
		}
	}
	fmt.Println("ok")
}
