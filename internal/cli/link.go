package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create or remove relations between entries",
		Run:   runLink,
	}

	cmd.Flags().String("from", "", "Source entry id")
	cmd.Flags().String("to", "", "Target entry id")
	cmd.Flags().StringP("rel", "r", "", "Relation: relates_to, contradicts, derived_from, refines")
	cmd.Flags().Bool("rm", false, "Remove the link")

	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("rel")

	memoryCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	rel, _ := cmd.Flags().GetString("rel")
	rm, _ := cmd.Flags().GetBool("rm")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	link, err := s.Link(cmd.Context(), store.LinkParams{
		FromID: from,
		ToID:   to,
		Rel:    rel,
		Remove: rm,
	})
	if err != nil {
		exitErr("link", err)
	}

	printJSON(cmd.OutOrStdout(), link)
}
