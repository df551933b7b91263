package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/furisto/cadence/frontend/cli/pkg/fail"
)

var (
	// Version is the version of the CLI
	Version = "unknown"

	// Git Commit is the commit that the CLI was built from
	GitCommit = "unknown"

	// BuildDate is the date the CLI was built
	BuildDate = "unknown"
)

type globalOptions struct {
	LogLevel   LogLevel
	ConfigPath string
}

func NewRootCmd() *cobra.Command {
	options := globalOptions{}
	cmd := &cobra.Command{
		Use:           "cadence",
		Short:         "Cadence: play real-time games with a slow thinker and a fast actor.",
		Long:          figure.NewColorFigure("cadence", "standard", "blue", true).String(),
		Version:       fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigLoader(cmd.Context()).Load(options.ConfigPath)
			if err != nil {
				return fail.EnhanceError(err)
			}

			options.LogLevel = resolveLogLevel(cmd, &options, cfg.Log.Level)
			slog.SetDefault(slog.New(slog.NewJSONHandler(setupLogSink(cmd.Context(), cfg.Log.Dir, cmd.ErrOrStderr()), &slog.HandlerOptions{
				Level: options.LogLevel.SlogLevel(),
			})))

			cmd.SetContext(setGlobalOptions(cmd.Context(), &options))
			cmd.SetContext(setConfig(cmd.Context(), cfg))
			return nil
		},
	}

	cmd.PersistentFlags().Var(&options.LogLevel, "log-level", "set the log level")
	cmd.PersistentFlags().StringVar(&options.ConfigPath, "config", "", "config file (defaults to the user config directory)")

	cmd.AddGroup(
		&cobra.Group{
			ID:    "core",
			Title: "Core Commands",
		},
	)

	cmd.AddGroup(
		&cobra.Group{
			ID:    "system",
			Title: "System Commands",
		},
	)

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewResumeCmd())

	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewEnvsCmd())
	return cmd
}

func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Panic occurred: %v\n", r)
			fmt.Fprintf(os.Stderr, "Stack:\n%s\n", debug.Stack())
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, fail.EnhanceError(err))
		cancel()
		os.Exit(1)
	}
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (e *LogLevel) String() string {
	if e == nil {
		return ""
	}
	return string(*e)
}

func (e *LogLevel) Set(v string) error {
	for _, level := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError} {
		if v == string(level) {
			*e = level
			return nil
		}
	}
	return errors.New(`must be one of "debug", "info", "warn", or "error"`)
}

func (e *LogLevel) Type() string {
	return "log-level"
}

func (e *LogLevel) SlogLevel() slog.Level {
	switch *e {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	}

	return slog.LevelInfo
}

// resolveLogLevel prefers the flag, then CADENCE_LOG_LEVEL, then the config.
func resolveLogLevel(cmd *cobra.Command, options *globalOptions, configured string) LogLevel {
	if cmd.Flags().Changed("log-level") {
		return options.LogLevel
	}

	var level LogLevel
	for _, candidate := range []string{os.Getenv("CADENCE_LOG_LEVEL"), configured} {
		if candidate != "" && level.Set(candidate) == nil {
			return level
		}
	}
	return LogLevelInfo
}

func setupLogSink(ctx context.Context, logDir string, stderr io.Writer) io.Writer {
	if disable, ok := ctx.Value(ContextKeyDisableFileLogs).(bool); ok && disable {
		return stderr
	}
	if logDir == "" {
		return stderr
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "cadence.json"),
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
	return io.MultiWriter(stderr, fileLogger)
}
