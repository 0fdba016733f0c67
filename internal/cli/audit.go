package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/meta"
)

func init() {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the learning layer's audit snapshot",
		Long:  "Prints lookup bias, playbooks, staleness, run statistics, top patterns and step values. Never modifies state.",
		Run:   runAudit,
	}

	RootCmd.AddCommand(cmd)
}

func runAudit(cmd *cobra.Command, args []string) {
	_, loop, err := openMeta(cmd.Context())
	if err != nil {
		exitErr("open meta store", err)
	}
	a, err := loop.Audit(cmd.Context())
	if err != nil {
		exitErr("audit", err)
	}
	if formatFlag == "text" {
		renderAudit(cmd.OutOrStdout(), a)
		return
	}
	printJSON(cmd.OutOrStdout(), a)
}

func relTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

// renderAudit writes a human-readable audit. Times are relative to the
// snapshot's own timestamp.
func renderAudit(w io.Writer, a *meta.Audit) {
	now := a.GeneratedAt
	r := a.Runs
	fmt.Fprintf(w, "runs: %s in window (%s success, %s partial, %s failure, %.0f%% success rate)\n",
		humanize.Comma(int64(r.Total)), humanize.Comma(int64(r.Success)),
		humanize.Comma(int64(r.Partial)), humanize.Comma(int64(r.Failure)), r.SuccessRate*100)
	fmt.Fprintf(w, "  avg %s ms, %d with lookup, %d resets\n", humanize.Commaf(r.AvgTimeMs), r.LookupUsed, r.Resets)

	fmt.Fprintf(w, "lookup bias (%d)\n", len(a.LookupBias))
	for _, b := range a.LookupBias {
		fmt.Fprintf(w, "  %-32s %+.4f\n", b.Key, b.Bias)
	}

	fmt.Fprintf(w, "active playbooks (%d)\n", len(a.Active))
	for _, p := range a.Active {
		stale := ""
		if p.Stale {
			stale = "  STALE"
		}
		fmt.Fprintf(w, "  %s  used %s, last %s%s\n", p.ID, english.Plural(p.UsageCount, "time", "times"), relTime(p.LastUsedAt, now), stale)
	}

	fmt.Fprintf(w, "drafts (%d)\n", len(a.Drafts))
	for _, d := range a.Drafts {
		created := d.CreatedAt
		fmt.Fprintf(w, "  %s  %s  drafted %s\n", d.ID, d.PatternKey, relTime(&created, now))
	}

	fmt.Fprintf(w, "top patterns (%d)\n", len(a.TopPatterns))
	for _, p := range a.TopPatterns {
		fmt.Fprintf(w, "  %4d  %s\n", p.Count, p.Key)
	}

	fmt.Fprintf(w, "steps (%d)\n", len(a.Steps))
	for _, s := range a.Steps {
		reduced := ""
		if s.PriorityReduced {
			reduced = "  reduced"
		}
		fmt.Fprintf(w, "  %-24s value %.2f  cost %s ms%s\n", s.Step, s.Value, humanize.Commaf(s.CostMs), reduced)
	}
}
