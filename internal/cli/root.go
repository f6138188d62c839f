// Package cli implements the posbridge command line: the server itself and
// the operator commands that run one unit of background work on demand.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
	"github.com/tbourn/pos-device-bridge/internal/config"
	"github.com/tbourn/pos-device-bridge/internal/sysutil"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = ""

// RootOptions holds global flags and the configuration loaded before any
// subcommand runs.
type RootOptions struct {
	EnvFile  string
	LogLevel string

	Config config.Config

	// NewApp builds the application; tests replace it.
	NewApp func(config.Config) (*app.App, error)
}

// NewRootCommand creates the posbridge root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewApp: app.New})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "posbridge",
		Short:         "Bridge between POS devices and the POS engine",
		Long:          "posbridge accepts orders from ordering devices, relays kitchen status and print jobs, and replays missed events.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotenv(opts.EnvFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogPretty)
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file read before the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewDeviceTokenCommand(opts))

	return cmd
}

// version returns the stamped version, else the module version from build info.
func version() string {
	var mod string
	if bi, ok := debug.ReadBuildInfo(); ok {
		mod = bi.Main.Version
	}
	return sysutil.FirstNonEmpty(Version, mod, "dev")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp builds the application, runs fn, and closes it.
func withApp(opts *RootOptions, fn func(*app.App) error) error {
	a, err := opts.NewApp(opts.Config)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
