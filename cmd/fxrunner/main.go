// Command fxrunner is the worker side of the cold-start capture
// protocol: it listens for a controller connection, stages a browser
// build and profile into a session directory, then restarts the
// machine and waits to be reconnected to after the reboot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozfx/coldstart/internal/artifact"
	"github.com/mozfx/coldstart/internal/config"
	"github.com/mozfx/coldstart/internal/idle"
	"github.com/mozfx/coldstart/internal/logging"
	"github.com/mozfx/coldstart/internal/proto"
	"github.com/mozfx/coldstart/internal/runner"
	"github.com/mozfx/coldstart/internal/session"
	"github.com/mozfx/coldstart/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "fxrunner",
	Short: "Cold-start measurement worker",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for a controller and serve session requests",
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/coldstart/runner.yaml)")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config, tee-ing to a
// rotating log file when one is configured. Call once, before any
// other package logs.
func initLogging(format, level, logFile string, maxSizeMB, maxBackups int) {
	var output io.Writer = os.Stdout
	fallback := false

	if logFile != "" {
		rw, err := logging.NewRotatingWriter(logFile, maxSizeMB, maxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", logFile, err)
			fallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(format, level, output)
	log = logging.L("main")

	if fallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", logFile)
	}
}

func run() error {
	cfg, err := config.LoadRunnerConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	initLogging(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)

	sessions := session.New(cfg.SessionRoot, cfg.BrowserBinary)
	if err := os.MkdirAll(cfg.SessionRoot, 0755); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}
	if err := sessions.SweepStale(); err != nil {
		log.Warn("sweep stale sessions at startup failed", "error", err)
	}

	ctx := context.Background()
	provider, err := artifact.New(ctx, artifact.Config{
		Kind:              artifact.Kind(cfg.ArtifactProvider),
		LocalBasePath:     cfg.LocalBasePath,
		S3Bucket:          cfg.S3Bucket,
		S3Region:          cfg.S3Region,
		AzureContainerURL: cfg.AzureContainerURL,
		GCSBucket:         cfg.GCSBucket,
		B2Bucket:          cfg.B2Bucket,
		B2KeyID:           cfg.B2KeyID,
		B2Key:             cfg.B2Key,
	})
	if err != nil {
		return fmt.Errorf("build artifact provider: %w", err)
	}

	shutdown := runner.NewShutdownProvider(cfg.RebootMaxPerDay, cfg.RebootHistoryPath)
	perf := idle.NewPerfProvider()
	pool := workerpool.New(cfg.PoolWorkers, cfg.PoolQueueSize)
	defer func() {
		pool.StopAccepting()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pool.Drain(ctx)
	}()

	deps := runner.Deps{
		Sessions:  sessions,
		Shutdown:  shutdown,
		Artifacts: provider,
		Perf:      perf,
		Pool:      pool,
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer ln.Close()
	log.Info("fxrunner listening", "version", version, "addr", cfg.ListenAddr, "sessionRoot", cfg.SessionRoot)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down fxrunner")
		ln.Close()
	}()

	return acceptLoop(ln, deps)
}

// acceptLoop serves one connection at a time: the protocol has no
// multiplexing, and a worker only ever has one controller attached at
// a point in time (before or after its reboot).
func acceptLoop(ln net.Listener, deps runner.Deps) error {
	for {
		rawConn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("accept failed", "error", err)
			continue
		}

		conn := proto.NewConn(rawConn)
		restart, err := runner.Handle(context.Background(), conn, deps)
		conn.Close()

		if err != nil {
			log.Error("session handling failed", "error", err)
			continue
		}
		if restart {
			log.Info("worker restarting, exiting accept loop")
			return nil
		}

		if err := deps.Sessions.SweepStale(); err != nil {
			log.Warn("sweep stale sessions after resume failed", "error", err)
		}
	}
}
