package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show long-term memory statistics",
		Run:   runStats,
	}
	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List entry types with counts",
		Run:   runTypes,
	}

	memoryCmd.AddCommand(statsCmd, typesCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(cmd.OutOrStdout(), stats)
}

func runTypes(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rows, err := s.ListTypes(cmd.Context())
	if err != nil {
		exitErr("list types", err)
	}

	printJSON(cmd.OutOrStdout(), rows)
}
