package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entries by keyword",
		Long:  "Search entry keys and payloads for matching text. Searching does not count as an access.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("type", "T", "", "Filter by type")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	memoryCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	results, err := s.Search(cmd.Context(), store.SearchParams{
		Query: query,
		Type:  typ,
		Limit: limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return
	}

	printJSON(cmd.OutOrStdout(), results)
}
