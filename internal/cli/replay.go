package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/pos-device-bridge/internal/app"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Channel string
	Since   string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print the events a channel would receive from the replay endpoint",
		Long: `Print, as JSON, every persisted event on a channel newer than --since.

Examples:
  posbridge replay --channel admin.print --since 2024-05-01T10:00:00Z
  posbridge replay --channel device.12 --since 15m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			since, err := parseSince(opts.Since, time.Now())
			if err != nil {
				return err
			}
			return withApp(opts.RootOptions, func(a *app.App) error {
				events, err := a.Broadcaster.Replay(cmd.Context(), opts.Channel, since)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"channel": opts.Channel,
					"since":   since,
					"count":   len(events),
					"events":  events,
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.Channel, "channel", "", "channel name, e.g. admin.print or device.12 (required)")
	cmd.Flags().StringVar(&opts.Since, "since", "1h", "RFC 3339 timestamp or a duration back from now")
	_ = cmd.MarkFlagRequired("channel")

	return cmd
}

// parseSince accepts an RFC 3339 timestamp or a positive duration before now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC 3339 or a positive duration", s)
	}
	return now.Add(-d).UTC(), nil
}
