package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard stored tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		session, err := openSession(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if err := session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("✅ Logged out, stored tokens removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
