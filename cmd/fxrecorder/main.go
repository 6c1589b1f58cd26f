// Command fxrecorder is the controller side of the cold-start capture
// protocol: it drives a worker through a new or resumed session, then
// hands off to the external recorder/analysis collaborators once the
// worker reports the machine idle.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozfx/coldstart/internal/config"
	"github.com/mozfx/coldstart/internal/controller"
	"github.com/mozfx/coldstart/internal/logging"
	"github.com/mozfx/coldstart/internal/proto"
)

var (
	version = "0.1.0"
	cfgFile string

	buildTaskID string
	profilePath string
	prefFlags   []string

	sessionID string
	skipIdle  bool
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "fxrecorder",
	Short: "Cold-start measurement controller",
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Drive a worker through a cold-start measurement",
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session with a build and optional profile",
	Run: func(cmd *cobra.Command, args []string) {
		if err := recordNew(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a session that survived the worker's reboot",
	Run: func(cmd *cobra.Command, args []string) {
		if err := recordResume(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/coldstart/recorder.yaml)")

	newCmd.Flags().StringVar(&buildTaskID, "build", "", "build task ID to fetch")
	newCmd.Flags().StringVar(&profilePath, "profile", "", "path to a profile archive (optional)")
	newCmd.Flags().StringArrayVar(&prefFlags, "pref", nil, "key:value pref to set, repeatable")
	newCmd.MarkFlagRequired("build")

	resumeCmd.Flags().StringVar(&sessionID, "session", "", "session ID to resume")
	resumeCmd.Flags().BoolVar(&skipIdle, "skip-idle", false, "don't wait for the machine to go idle before proceeding")
	resumeCmd.MarkFlagRequired("session")

	recordCmd.AddCommand(newCmd)
	recordCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(recordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadAndInit() (*config.RecorderConfig, error) {
	cfg, err := config.LoadRecorderConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	initLogging(cfg.LogFormat, cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	return cfg, nil
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

func recordNew() error {
	cfg, err := loadAndInit()
	if err != nil {
		return err
	}

	prefs := make([]proto.PrefEntry, 0, len(prefFlags))
	for _, p := range prefFlags {
		entry, err := proto.ParsePref(p)
		if err != nil {
			return fmt.Errorf("parse --pref: %w", err)
		}
		prefs = append(prefs, entry)
	}

	conn, err := controller.ReconnectWithBackoff(context.Background(), cfg.WorkerAddr, 1, controller.DefaultReconnectDelay)
	if err != nil {
		return fmt.Errorf("connect to worker: %w", err)
	}
	defer conn.Close()

	client := controller.NewClient(conn)

	sid, err := client.NewSession(context.Background(), buildTaskID, profilePath, prefs)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}

	log.Info("new session started, worker restarting", "sessionId", sid, "version", version)
	fmt.Printf("session %s started; worker is restarting\n", sid)
	fmt.Printf("resume with: fxrecorder record resume --session %s\n", sid)
	return nil
}

func recordResume() error {
	cfg, err := loadAndInit()
	if err != nil {
		return err
	}

	idleMode := proto.IdleWait
	if skipIdle {
		idleMode = proto.IdleSkip
	}

	initialDelay := time.Duration(cfg.ReconnectInitialDelay) * time.Second
	conn, err := controller.ReconnectWithBackoff(context.Background(), cfg.WorkerAddr, cfg.ReconnectMaxTries, initialDelay)
	if err != nil {
		return fmt.Errorf("reconnect to worker: %w", err)
	}
	defer conn.Close()

	client := controller.NewClient(conn)
	if err := client.ResumeSession(sessionID, idleMode); err != nil {
		return fmt.Errorf("resume session: %w", err)
	}

	log.Info("session resumed, machine idle", "sessionId", sessionID)
	fmt.Printf("session %s resumed; machine is idle, handing off to the recorder\n", sessionID)
	return nil
}
