package cli

import (
	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
)

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(opts *RootOptions) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete acknowledged print jobs and expired idempotency keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				if olderThan != "" {
					d, err := parsePositiveDuration("--older-than", olderThan)
					if err != nil {
						return err
					}
					a.Retention.MaxAge = d
				}
				res, err := a.Retention.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "override RETENTION_MAX_AGE, e.g. 168h")
	return cmd
}
