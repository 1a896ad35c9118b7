package cli

import (
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a one-shot balance and lending summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context())
	},
}
