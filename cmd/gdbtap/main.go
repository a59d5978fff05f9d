// Command gdbtap drives gdb/MI debug sessions over an HTTP API or an
// interactive console.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gdbtap/gdbtap/internal/config"
	"github.com/gdbtap/gdbtap/internal/gdb"
	"github.com/gdbtap/gdbtap/internal/repl"
	"github.com/gdbtap/gdbtap/internal/server"
	"github.com/gdbtap/gdbtap/internal/target"
)

// Version information set during build with -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string

	flagListen     string
	flagTargetsDir string
	flagGDBPath    string
	flagLogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gdbtap",
	Short: "gdb/MI debug session driver",
	Long: `gdbtap spawns gdb in MI mode and drives debug sessions over it.

Two modes are available: an HTTP JSON API for sessions over a vetted
directory of target executables (serve), and an interactive console
bound to a single program (repl).`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP session API",
	RunE:  runServe,
}

var replCmd = &cobra.Command{
	Use:   "repl PROGRAM",
	Short: "Debug one program interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runREPL,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gdbtap %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagGDBPath, "gdb-path", "", "gdb binary to spawn")

	serveCmd.Flags().StringVar(&flagListen, "listen", "", "HTTP bind address")
	serveCmd.Flags().StringVar(&flagTargetsDir, "targets-dir", "", "directory of debuggable executables")

	rootCmd.AddCommand(serveCmd, replCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and layers flag overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagTargetsDir != "" {
		cfg.TargetsDir = flagTargetsDir
	}
	if flagGDBPath != "" {
		cfg.GDBPath = flagGDBPath
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	return cfg, nil
}

// newLogger builds a text slog.Logger at the configured level.
func newLogger(level string, w *os.File) (*slog.Logger, error) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "", "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := target.NewCatalog(cfg.TargetsDir, logger)
	if err != nil {
		return err
	}
	if err := catalog.Watch(ctx); err != nil {
		logger.Warn("targets watch unavailable, listing on demand", "error", err)
	}

	factory := func(program string, progArgs []string) server.Engine {
		return gdb.NewSession(gdb.Config{
			GDBPath:        cfg.GDBPath,
			Program:        program,
			Args:           progArgs,
			CommandTimeout: cfg.CommandTimeout.Std(),
			StopTimeout:    cfg.StopTimeout.Std(),
			Logger:         logger,
		})
	}

	srv := server.New(catalog, factory, logger)
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "targets", catalog.Dir())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	srv.Shutdown()

	return nil
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	program := args[0]
	if _, err := os.Stat(program); err != nil {
		return fmt.Errorf("program %q: %w", program, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := gdb.NewSession(gdb.Config{
		GDBPath:        cfg.GDBPath,
		Program:        program,
		CommandTimeout: cfg.CommandTimeout.Std(),
		StopTimeout:    cfg.StopTimeout.Std(),
		Logger:         logger,
	})
	defer session.Stop()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	console := repl.New(session, os.Stdout)
	if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
