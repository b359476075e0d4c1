package notify

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/notification"
)

// Command returns a cobra command that sends a test notification to the configured URLs.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		userID string
		image  string
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification",
		Long: `Send one motion notification through every configured notification URL.

Examples:
  motioncam notify
  motioncam notify --user=alice --image=/var/lib/motioncam/stills/motion.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := settings.Notification
			n, err := notification.NewShoutrrrNotifier(notification.Config{
				URLs:     ns.URLs,
				Title:    ns.Title,
				NodeName: settings.Main.Name,
				Capacity: 1,
				Rate:     1,
				Timeout:  ns.Timeout,
			})
			if err != nil {
				return err
			}

			if err := n.Notify(cmd.Context(), userID, image); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent to %d URL(s)\n", len(ns.URLs))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", settings.Main.UserID, "User the notification is addressed to")
	cmd.Flags().StringVar(&image, "image", "", "Still image path mentioned in the message")

	return cmd
}
