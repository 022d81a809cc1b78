package cmd

import (
	"github.com/spf13/cobra"
)

var (
	startIdea string
	startName string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a project and session from an idea",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&startIdea, "idea", "", "Project idea text")
	startCmd.Flags().StringVar(&startName, "name", "", "Project name (derived from the idea when omitted)")
	startCmd.MarkFlagRequired("idea")
}

func runStart(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.Start(cmd.Context(), tenant, startIdea, startName)
	if err != nil {
		return err
	}
	return printJSON(res)
}
