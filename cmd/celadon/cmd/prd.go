package cmd

import (
	"github.com/spf13/cobra"
)

var prdSessionID string

var prdCmd = &cobra.Command{
	Use:   "prd",
	Short: "PRD operations",
}

var prdGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate the next PRD version from the conversation",
	RunE:  runPrdGenerate,
}

func init() {
	rootCmd.AddCommand(prdCmd)
	prdCmd.AddCommand(prdGenerateCmd)
	prdGenerateCmd.Flags().StringVar(&prdSessionID, "session-id", "", "Session identifier")
	prdGenerateCmd.MarkFlagRequired("session-id")
}

func runPrdGenerate(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.GeneratePrd(cmd.Context(), tenant, prdSessionID)
	if err != nil {
		return err
	}
	return printJSON(res)
}
