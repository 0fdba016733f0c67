package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	cmd.Flags().Bool("hard", false, "Permanent delete (irreversible)")

	memoryCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	hard, _ := cmd.Flags().GetBool("hard")
	id := args[0]

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.Rm(cmd.Context(), store.RmParams{ID: id, Hard: hard}); err != nil {
		exitErr("rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q,"hard":%t}`+"\n", id, hard)
}
