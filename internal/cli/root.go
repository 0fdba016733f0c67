// Package cli implements the organism CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/organism/internal/assess"
	"github.com/rcliao/organism/internal/budget"
	"github.com/rcliao/organism/internal/config"
	"github.com/rcliao/organism/internal/executor"
	"github.com/rcliao/organism/internal/kernel"
	"github.com/rcliao/organism/internal/logging"
	"github.com/rcliao/organism/internal/memory"
	"github.com/rcliao/organism/internal/meta"
	"github.com/rcliao/organism/internal/reset"
	"github.com/rcliao/organism/internal/store"
	"github.com/rcliao/organism/internal/triage"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitSetup   = 2
)

var (
	homeFlag   string
	configPath string
	formatFlag string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "organism",
	Short: "A rule-driven cognitive loop with a learning layer",
	Long: `organism turns one natural-language request into a bounded, prioritized,
time-boxed sequence of actions, remembers what happened, and learns which
of its own steps are worth repeating.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if homeFlag != "" {
			c.Home = homeFlag
		}
		l, err := logging.New(c.Logging, verbose)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Data directory (default: $ORGANISM_HOME or ~/.organism)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml or .toml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(cfg.DBPath())
}

func openMeta(ctx context.Context) (*meta.FileStore, *meta.Loop, error) {
	fs, err := meta.NewFileStore(cfg.Home, logger)
	if err != nil {
		return nil, nil, err
	}
	loop := meta.New(ctx, fs, meta.Options{
		ScanWindow:        cfg.Meta.ScanWindow,
		MinSuccess:        cfg.Meta.MinSuccess,
		StaleAfter:        cfg.StaleAfter(),
		UsageHistoryLimit: cfg.Meta.UsageHistoryLimit,
		ValueAlpha:        cfg.Meta.ValueAlpha,
		LowValue:          cfg.Meta.LowValue,
		Hysteresis:        cfg.Meta.Hysteresis,
	}, logger)
	return fs, loop, nil
}

// buildKernel wires a kernel over the persistent stores. The caller owns
// and closes ltm.
func buildKernel(ltm store.Store, loop *meta.Loop) *kernel.Kernel {
	wm := memory.NewWorking(cfg.WorkingMaxAge(), cfg.ReinforceWindow())
	return kernel.New(kernel.Deps{
		Stream:   memory.NewStream(cfg.Memory.StreamCapacity, cfg.Memory.HighActivityCapacity),
		Working:  wm,
		LongTerm: ltm,
		Meta:     loop,
		Assessor: assess.New(nil, logger),
		Triager:  triage.New(nil, logger),
		Governor: budget.New(cfg.Budget.DefaultMs, logger),
		Reset:    reset.New(cfg.Reset.Window, cfg.PlanStaleness(), nil, logger),
		Executor: executor.New(executor.Deps{Working: wm, LongTerm: ltm, Policy: loop, Logger: logger}),
		Logger:   logger,
	}, kernel.Options{
		ArchiveAfter: cfg.ArchiveAfter(),
		ArchiveEvery: cfg.ArchiveEvery(),
	})
}

// readInput joins the positional args, or reads stdin when it is piped.
func readInput(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

func exitErr(msg string, err error) {
	exitCode(ExitFailure, msg, err)
}

func exitCode(code int, msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(code)
}
