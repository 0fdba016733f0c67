package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve an entry by id, or by --type and --key",
		Args:  cobra.MaximumNArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("type", "T", model.EntryTypeFact, "Type, with --key")
	cmd.Flags().StringP("key", "k", "", "Key")
	cmd.Flags().Bool("links", false, "Include relations")

	memoryCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	key, _ := cmd.Flags().GetString("key")
	withLinks, _ := cmd.Flags().GetBool("links")

	if len(args) == 0 && key == "" {
		exitErr("get", fmt.Errorf("an id or --key is required"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var e *model.LongTermEntry
	if len(args) > 0 {
		e, err = s.Get(cmd.Context(), args[0])
	} else {
		e, err = s.Find(cmd.Context(), typ, key)
	}
	if err != nil {
		exitErr("get", err)
	}

	if !withLinks {
		printJSON(cmd.OutOrStdout(), e)
		return
	}
	links, err := s.Links(cmd.Context(), e.ID)
	if err != nil {
		exitErr("links", err)
	}
	printJSON(cmd.OutOrStdout(), map[string]any{"entry": e, "links": links})
}
