package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
)

// NewDeviceTokenCommand creates the device-token command.
func NewDeviceTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		deviceID uint
		admin    string
	)

	cmd := &cobra.Command{
		Use:   "device-token",
		Short: "Issue a bearer token for a registered device or an operator",
		Long: `Issue a signed bearer token.

Examples:
  posbridge device-token --device 12
  posbridge device-token --admin ops@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (deviceID == 0) == (admin == "") {
				return errors.New("exactly one of --device or --admin is required")
			}
			return withApp(opts, func(a *app.App) error {
				var (
					tok string
					err error
				)
				if admin != "" {
					tok, err = a.Issuer.IssueAdmin(admin)
				} else {
					tok, err = a.Devices.IssueToken(cmd.Context(), deviceID)
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
				return err
			})
		},
	}
	cmd.Flags().UintVar(&deviceID, "device", 0, "registered device id")
	cmd.Flags().StringVar(&admin, "admin", "", "operator subject for an admin token")
	return cmd
}

func parsePositiveDuration(flag, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", flag, s)
	}
	return d, nil
}
