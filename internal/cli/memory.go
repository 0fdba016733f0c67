package cli

import "github.com/spf13/cobra"

// memoryCmd groups operator access to the Long-Term tier.
var memoryCmd = &cobra.Command{
	Use:     "memory",
	Aliases: []string{"mem"},
	Short:   "Inspect and edit long-term memory",
}

func init() {
	RootCmd.AddCommand(memoryCmd)
}
