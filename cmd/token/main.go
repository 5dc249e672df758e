// Command token mints signed access tokens for hosts and viewers using the
// server's JWT_SECRET.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hostelcast/livesession/config"
	"github.com/hostelcast/livesession/internal/auth"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		userID string
		name   string
		role   string
		hours  int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token",
		Long: `Mint a signed access token for the live session API.

Host tokens authorize starting and ending sessions, control changes,
announcements, moderation, kicks and attendance reads.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != auth.RoleHost && role != auth.RoleViewer {
				return fmt.Errorf("role must be %q or %q", auth.RoleHost, auth.RoleViewer)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if hours <= 0 {
				hours = cfg.JWT.ExpireHours
			}
			if userID == "" {
				userID = uuid.NewString()
			}
			token, err := auth.NewJWTService(cfg.JWT.Secret, hours).Generate(userID, name, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject id (random when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleHost, "host or viewer")
	cmd.Flags().IntVar(&hours, "hours", 0, "lifetime in hours (JWT_EXPIRE_HOURS when zero)")
	return cmd
}
