// Package main provides the draftloop binary entry point. Draftloop is a
// quality-gated document generation service: drafts move through plan,
// draft, citation, grammar, and readability stages, and a failing quality
// gate rolls the document back for another draft pass.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	// Register LLM providers via init()
	_ "github.com/c360studio/draftloop/llm/providers"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/c360studio/draftloop/citation"
	"github.com/c360studio/draftloop/config"
	"github.com/c360studio/draftloop/readability"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "draftloop",
		Short: "Quality-gated document generation service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default draftloop.yaml when present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(serveCommand(), versionCommand(), readabilityCommand(), citeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the draftloop service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("draftloop %s (built %s, %s)\n", Version, BuildTime, runtime.Version())
		},
	}
}

// readabilityCommand scores files offline, without the service running.
func readabilityCommand() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "readability <glob>...",
		Short: "Score files with the readability analyzer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			analyzer := readability.New(logger)

			var paths []string
			for _, pattern := range args {
				matches, err := doublestar.FilepathGlob(pattern)
				if err != nil {
					return fmt.Errorf("bad pattern %q: %w", pattern, err)
				}
				paths = append(paths, matches...)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files match")
			}

			failed := false
			for _, path := range paths {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				m := analyzer.Analyze(string(data))
				fmt.Printf("%s: score=%.1f grade=%.1f level=%q sentences=%d words=%d\n",
					path, m.Score, m.Grade, m.Level, m.Sentences, m.Words)
				for _, s := range m.Suggestions {
					fmt.Printf("  - %s\n", s)
				}
				if m.Score < threshold {
					failed = true
				}
			}
			if failed {
				return fmt.Errorf("one or more files score below %.1f", threshold)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "fail when any file scores below this")
	return cmd
}

// citeCommand resolves a DOI and prints it in each citation style.
func citeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cite <doi>",
		Short: "Resolve a DOI and print formatted citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger()

			client := citation.NewClient(cfg.CrossRef.BaseURL, cfg.CrossRef.Mailto, cfg.CrossRef.Timeout, logger)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			record, err := client.Resolve(ctx, args[0])
			if err != nil {
				return err
			}

			for _, style := range []citation.Style{citation.StyleAPA, citation.StyleMLA, citation.StyleChicago} {
				fmt.Printf("%s:\n  %s\n", style, citation.Format(record, style))
			}
			return nil
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := newLoggerWithLevel(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, configPath, logger)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

func newLogger() *slog.Logger {
	return newLoggerWithLevel("info")
}

func newLoggerWithLevel(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
