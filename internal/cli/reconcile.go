package cli

import (
	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Apply pending order change-log rows once and print the counts",
		Long: `Run a single reconciliation cycle against the order change log and
print the per-outcome counts as JSON. Safe to run beside a live server:
every row is claimed before it is applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app.App) error {
				a.Broadcaster.Start()
				defer a.Broadcaster.Stop()

				res, err := a.Reconciler.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
