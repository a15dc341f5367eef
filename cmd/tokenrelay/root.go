package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"token-relay/internal/app"
	"token-relay/internal/common/errors"
	"token-relay/internal/common/logging"
	"token-relay/internal/config"
)

// Exit codes for CLI commands
const (
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general failure (transport, retries, store)
	ExitCodeError = 1
	// ExitCodeConfig indicates invalid configuration or arguments
	ExitCodeConfig = 2
	// ExitCodeAcquisition indicates no usable token could be obtained
	ExitCodeAcquisition = 3
)

type rootOptions struct {
	envFile  string
	logLevel string
	jsonLogs bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tokenrelay",
		Short: "Call OAuth-protected APIs with cached, auto-refreshed tokens",
		Long: `tokenrelay resolves an access token for an identifier (cache, encrypted store,
refresh or acquisition), attaches it to the request and retries on 401 and 429.

Configuration is read from the environment, optionally seeded from a .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envLoaded := false
			if opts.envFile != "" {
				err := godotenv.Load(opts.envFile)
				if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
				}
				envLoaded = err == nil
			}
			level := opts.logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			jsonLogs := opts.jsonLogs || os.Getenv("LOG_FORMAT") == "json"

			logger, err := logging.NewZapLogger(logging.LogConfig{
				Level:  logging.ParseLevel(level),
				Output: stderr,
				JSON:   jsonLogs,
			})
			if err != nil {
				return err
			}
			logging.SetGlobalLogger(logger)

			if envLoaded {
				logging.Debug("Loaded environment file", logging.String("path", opts.envFile))
			}
			return nil
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate(`{{printf "tokenrelay version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (empty to skip)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	cmd.PersistentFlags().BoolVar(&opts.jsonLogs, "json-logs", false, "emit JSON logs")

	cmd.AddCommand(
		newGetCmd(),
		newPostCmd(),
		newTokenCmd(),
		newStoreCmd(),
		newForgetCmd(),
		newSealCmd(),
	)

	return cmd
}

// Execute runs the CLI and returns the process exit code
func Execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil {
		logging.Error("Command failed", err,
			logging.String("error_type", string(errors.GetType(err))),
			logging.Int("exit_code", code))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	logging.MustSync()
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.IsType(err, errors.ErrTypeConfig), errors.IsType(err, errors.ErrTypeValidation):
		return ExitCodeConfig
	case errors.IsType(err, errors.ErrTypeAcquisition):
		return ExitCodeAcquisition
	default:
		return ExitCodeError
	}
}

// withApp loads and validates configuration, builds the application and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.Debug("Configuration loaded", logging.String("config", cfg.String()))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
