package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/model"
	"github.com/rcliao/organism/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [payload]",
		Short: "Store an entry",
		Long:  "Store an entry. Payload can be a positional arg or piped via stdin. An existing entry with the same type and key is replaced.",
		Run:   runPut,
	}

	cmd.Flags().StringP("type", "T", model.EntryTypeFact, "Type: fact, promoted_fact, reset_snapshot, learning, cycle_note")
	cmd.Flags().StringP("key", "k", "", "Key (required)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().Bool("protected", false, "Never archive or remove")
	cmd.Flags().Bool("promoted", false, "Mark as promoted knowledge")

	cmd.MarkFlagRequired("key")

	memoryCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	key, _ := cmd.Flags().GetString("key")
	tagsStr, _ := cmd.Flags().GetString("tags")
	protected, _ := cmd.Flags().GetBool("protected")
	promoted, _ := cmd.Flags().GetBool("promoted")

	if !model.ValidEntryTypes[typ] {
		exitErr("put", fmt.Errorf("unknown type %q", typ))
	}

	payload, err := readInput(args)
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(payload) == "" {
		exitErr("put", fmt.Errorf("payload is required (positional arg or stdin)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	e, err := s.Put(cmd.Context(), store.PutParams{
		Type:      typ,
		Key:       key,
		Payload:   strings.TrimSpace(payload),
		Tags:      splitTags(tagsStr),
		Protected: protected,
		Promoted:  promoted,
	})
	if err != nil {
		exitErr("put", err)
	}

	printJSON(cmd.OutOrStdout(), e)
}
