package cmd

import (
	"github.com/spf13/cobra"
)

var ideaSessionID string

var ideaCmd = &cobra.Command{
	Use:   "idea <text>",
	Short: "Append an idea to a session's clarification conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdea,
}

func init() {
	rootCmd.AddCommand(ideaCmd)
	ideaCmd.Flags().StringVar(&ideaSessionID, "session-id", "", "Session identifier")
	ideaCmd.MarkFlagRequired("session-id")
}

func runIdea(cmd *cobra.Command, args []string) error {
	svc, tenant, err := buildService()
	if err != nil {
		return err
	}
	res, err := svc.AppendIdea(cmd.Context(), tenant, ideaSessionID, args[0])
	if err != nil {
		return err
	}
	return printJSON(res)
}
