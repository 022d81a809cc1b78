package cmd

import (
	"github.com/spf13/cobra"
)

var (
	devSessionID   string
	devInstruction string
	devDryRun      bool
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Development run operations",
}

var devRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coding agent against the latest PRD",
	RunE:  runDevRun,
}

func init() {
	rootCmd.AddCommand(devCmd)
	devCmd.AddCommand(devRunCmd)
	devRunCmd.Flags().StringVar(&devSessionID, "session-id", "", "Session identifier")
	devRunCmd.Flags().StringVar(&devInstruction, "instruction", "", "Override the default instruction")
	devRunCmd.Flags().BoolVar(&devDryRun, "dry-run", false, "Record the run without invoking the coding agent")
	devRunCmd.MarkFlagRequired("session-id")
}

func runDevRun(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.RunDev(cmd.Context(), tenant, devSessionID, devInstruction, devDryRun, false)
	if err != nil {
		return err
	}
	return printJSON(res)
}
