package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lanse6899/previewd/internal/config"
	configstore "github.com/lanse6899/previewd/internal/config/store"
	"github.com/lanse6899/previewd/internal/daemon"
	"github.com/lanse6899/previewd/internal/procutil"
	"github.com/lanse6899/previewd/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "previewd",
		Short:         "Preview daemon - live parameter previews for node-graph image pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "stop",
			Short: "Stop a running previewd instance",
			RunE:  stopDaemon,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether previewd is running",
			RunE:  statusDaemon,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if running, pid := daemon.IsRunning(config.DefaultInstance); running {
		return fmt.Errorf("previewd is already running (PID %d)", pid)
	}

	if _, err := config.EnsureInstanceDirs(config.DefaultInstance); err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}

	store, err := configstore.Open(configstore.Options{
		InstanceName: config.DefaultInstance,
	})
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}

	d, err := daemon.New(daemon.Options{Store: store})
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		store.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Wait(ctx)
	}()

	log.Printf("previewd started (PID: %d)", os.Getpid())

	var runErr error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %s, shutting down...", sig)
	case runErr = <-errChan:
		if runErr != nil {
			log.Printf("Daemon error: %v", runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Daemon stopped")
	return runErr
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	running, pid := daemon.IsRunning(config.DefaultInstance)
	if !running {
		fmt.Println("previewd is not running")
		return nil
	}
	if err := procutil.TerminateByPID(pid); err != nil {
		return fmt.Errorf("failed to stop previewd (PID %d): %w", pid, err)
	}
	fmt.Printf("Sent stop signal to previewd (PID %d)\n", pid)
	return nil
}

func statusDaemon(cmd *cobra.Command, args []string) error {
	if running, pid := daemon.IsRunning(config.DefaultInstance); running {
		fmt.Printf("previewd is running (PID %d)\n", pid)
	} else {
		fmt.Println("previewd is not running")
	}
	return nil
}

func setupLogging() error {
	paths, err := config.EnsureInstanceDirs(config.DefaultInstance)
	if err != nil {
		return fmt.Errorf("initialise instance directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== previewd starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
