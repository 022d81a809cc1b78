package cmd

import (
	"github.com/spf13/cobra"
)

var (
	deploySessionID string
	deployEnv       string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Record a simulated deployment of the latest PRD",
	RunE:  runDeploy,
}

func init() {
	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().StringVar(&deploySessionID, "session-id", "", "Session identifier")
	deployCmd.Flags().StringVar(&deployEnv, "env", "staging", "Target environment")
	deployCmd.MarkFlagRequired("session-id")
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.RunDeploy(cmd.Context(), tenant, deploySessionID, deployEnv)
	if err != nil {
		return err
	}
	return printJSON(res)
}
