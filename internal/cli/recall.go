package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [description]",
		Short: "Assemble relevant entries for a task",
		Long:  "Search and score entries, then greedily pack them into a character budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	cmd.Flags().StringP("type", "T", "", "Filter by type")
	cmd.Flags().IntP("budget", "b", 4000, "Max characters of payload in output")

	memoryCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	budget, _ := cmd.Flags().GetInt("budget")
	query := strings.Join(args, " ")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	result, err := s.Recall(cmd.Context(), store.RecallParams{
		Query:  query,
		Type:   typ,
		Budget: budget,
	})
	if err != nil {
		exitErr("recall", err)
	}

	printJSON(cmd.OutOrStdout(), result)
}
