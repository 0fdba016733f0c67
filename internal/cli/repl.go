package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/organism/internal/kernel"
	"github.com/rcliao/organism/internal/meta"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Process one request per input line against a long-lived kernel",
		Long: `Reads requests from stdin, one per line, and prints each result. Working
memory persists between lines. Active playbooks are reloaded when an operator
promotes one. Type "exit" or send EOF to stop.`,
		RunE: runREPL,
	}

	RootCmd.AddCommand(cmd)
}

func runREPL(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ltm, err := openStore()
	if err != nil {
		return err
	}
	defer ltm.Close()

	fs, loop, err := openMeta(ctx)
	if err != nil {
		return err
	}

	k := buildKernel(ltm, loop)
	w := meta.NewWatcher(fs.ActivePath(), loop.Reload, cfg.WatchDebounce(), logger)
	return serveREPL(ctx, os.Stdin, cmd.OutOrStdout(), k, w, formatFlag, logger)
}

// serveREPL runs the request loop and, when w is set, the playbook watcher
// until input ends, the user exits, or ctx is cancelled.
func serveREPL(ctx context.Context, in io.Reader, out io.Writer, k *kernel.Kernel, w *meta.Watcher, format string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			logger.Warn("reading input failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				line = strings.TrimSpace(line)
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				writeResult(out, k.Process(gctx, line, kernel.Request{}), format)
			}
		}
	})
	return g.Wait()
}
