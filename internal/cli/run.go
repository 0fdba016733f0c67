package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/kernel"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Process one request through the cycle",
		Long: `Runs one request through capture, assessment, triage, budgeting, execution
and memory, records the cycle for the learning layer, and prints the result.
Input can be a positional arg or piped via stdin.

Exit codes: 0 success, 1 the cycle failed, 2 setup or usage error.`,
		Run: runRun,
	}

	cmd.Flags().String("domain", "", "Domain override (default: inferred from the input)")
	cmd.Flags().String("task-type", "", "Task type override (default: derived from the input type)")
	cmd.Flags().Bool("new-info", false, "Mark that the request carries new information")
	cmd.Flags().Int("corrections", 0, "Number of user corrections this request represents")

	RootCmd.AddCommand(cmd)
}

func runRun(cmd *cobra.Command, args []string) {
	domain, _ := cmd.Flags().GetString("domain")
	taskType, _ := cmd.Flags().GetString("task-type")
	newInfo, _ := cmd.Flags().GetBool("new-info")
	corrections, _ := cmd.Flags().GetInt("corrections")

	input, err := readInput(args)
	if err != nil {
		exitCode(ExitSetup, "read stdin", err)
	}
	if strings.TrimSpace(input) == "" {
		exitCode(ExitSetup, "run", fmt.Errorf("input is required (positional arg or stdin)"))
	}

	ltm, err := openStore()
	if err != nil {
		exitCode(ExitSetup, "open store", err)
	}
	_, loop, err := openMeta(cmd.Context())
	if err != nil {
		ltm.Close()
		exitCode(ExitSetup, "open meta store", err)
	}

	reqCtx := map[string]any{"newInfo": newInfo, "corrections": corrections}
	if domain != "" {
		reqCtx["domain"] = domain
	}
	if taskType != "" {
		reqCtx["taskType"] = taskType
	}

	k := buildKernel(ltm, loop)
	res := k.Process(cmd.Context(), strings.TrimSpace(input), kernel.Request{Context: reqCtx})
	writeResult(cmd.OutOrStdout(), res, formatFlag)

	if err := ltm.Close(); err != nil {
		logger.Warn("closing store failed", zap.Error(err))
	}
	if !res.Success {
		os.Exit(ExitFailure)
	}
}

// writeResult prints a kernel result as indented JSON, or as its result
// text followed by a one-line status in text format.
func writeResult(w io.Writer, res kernel.Result, format string) {
	if format != "text" {
		printJSON(w, res)
		return
	}
	if !res.Success {
		fmt.Fprintf(w, "failed: %s\n", res.Error)
	} else {
		fmt.Fprintln(w, res.Result)
	}
	status := fmt.Sprintf("[cycle %d, %dms", res.CycleCount, res.ElapsedMs)
	if res.ResetTriggered {
		status += ", reset"
	}
	if res.Playbook != nil {
		status += ", playbook " + res.Playbook.PlaybookID
	}
	if res.Draft != nil {
		status += ", drafted " + res.Draft.ID
	}
	fmt.Fprintln(w, status+"]")
}
