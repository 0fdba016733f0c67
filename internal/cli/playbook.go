package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/meta"
)

func init() {
	playbookCmd := &cobra.Command{
		Use:   "playbook",
		Short: "Playbook management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List drafted and active playbooks",
		Run:   runPlaybookList,
	}

	promoteCmd := &cobra.Command{
		Use:   "promote [draft-id|pattern-key]",
		Short: "Promote a draft to active",
		Long:  "Copies a drafted playbook into the active set. Running sessions pick it up through the playbook watcher.",
		Args:  cobra.ExactArgs(1),
		Run:   runPlaybookPromote,
	}

	playbookCmd.AddCommand(listCmd, promoteCmd)
	RootCmd.AddCommand(playbookCmd)
}

func runPlaybookList(cmd *cobra.Command, args []string) {
	fs, err := meta.NewFileStore(cfg.Home, logger)
	if err != nil {
		exitErr("open meta store", err)
	}
	drafts, err := fs.ListDrafts(cmd.Context())
	if err != nil {
		exitErr("list drafts", err)
	}
	active, err := fs.LoadActive(cmd.Context())
	if err != nil {
		exitErr("load active playbooks", err)
	}

	if formatFlag == "text" {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "drafts (%d)\n", len(drafts))
		for _, d := range drafts {
			fmt.Fprintf(out, "  %s  %s  %s\n", d.ID, d.PatternKey, d.TriggerDescription)
		}
		fmt.Fprintf(out, "active (%d)\n", len(active))
		for _, p := range active {
			fmt.Fprintf(out, "  %s  %s\n", p.ID, p.Trigger.PatternKey)
		}
		return
	}
	printJSON(cmd.OutOrStdout(), map[string]any{"drafts": drafts, "active": active})
}

func runPlaybookPromote(cmd *cobra.Command, args []string) {
	fs, err := meta.NewFileStore(cfg.Home, logger)
	if err != nil {
		exitErr("open meta store", err)
	}
	p, err := meta.PromoteDraft(cmd.Context(), fs, args[0], time.Now().UTC())
	if err != nil {
		exitErr("promote", err)
	}
	printJSON(cmd.OutOrStdout(), p)
}
