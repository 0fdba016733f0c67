package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		Run:   runList,
	}

	cmd.Flags().StringP("type", "T", "", "Filter by type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("archived", false, "Include archived entries")
	cmd.Flags().Bool("promoted", false, "Only promoted entries")
	cmd.Flags().Bool("keys-only", false, "Only output type/key pairs")

	memoryCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tagsStr, _ := cmd.Flags().GetString("tags")
	limit, _ := cmd.Flags().GetInt("limit")
	archived, _ := cmd.Flags().GetBool("archived")
	promoted, _ := cmd.Flags().GetBool("promoted")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.List(cmd.Context(), store.ListParams{
		Type:            typ,
		Tags:            splitTags(tagsStr),
		Limit:           limit,
		IncludeArchived: archived,
		PromotedOnly:    promoted,
	})
	if err != nil {
		exitErr("list", err)
	}

	if keysOnly {
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", e.Type, e.Key)
		}
		return
	}

	printJSON(cmd.OutOrStdout(), entries)
}
