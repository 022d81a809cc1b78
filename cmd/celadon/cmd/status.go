package cmd

import (
	"github.com/spf13/cobra"
)

var statusSessionID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the full status snapshot for a session",
	RunE:  runStatus,
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects with their most recent session",
	RunE:  runProjects,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(projectsCmd)
	statusCmd.Flags().StringVar(&statusSessionID, "session-id", "", "Session identifier")
	statusCmd.MarkFlagRequired("session-id")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.Status(cmd.Context(), tenant, statusSessionID)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runProjects(cmd *cobra.Command, _ []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.ListProjects(cmd.Context(), tenant)
	if err != nil {
		return err
	}
	return printJSON(res)
}
