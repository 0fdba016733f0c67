package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entries as JSON",
		Long:  "Export every live entry as a JSON array. Filter by type with -T.",
		Run:   runExport,
	}

	cmd.Flags().StringP("type", "T", "", "Filter by type")

	memoryCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.ExportAll(cmd.Context(), typ)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(cmd.OutOrStdout(), entries)
}
