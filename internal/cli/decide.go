package cli

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/batch"
	"github.com/roach88/reportflow/internal/queue"
)

// DecideOptions holds flags for the decide command.
type DecideOptions struct {
	*RootOptions
	Loop     bool
	Work     bool
	Interval time.Duration
}

// DecideResult is the output of a single decide run.
type DecideResult struct {
	Run batch.RunReport `json:"run"`

	// Processed counts dispatch messages handled in-process with --work.
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// NewDecideCommand creates the decide command.
func NewDecideCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecideOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Enqueue batch work for receivers whose batch window is open",
		Long: `Evaluate every receiver once and enqueue dispatch messages for those
whose batch window opened within the last minute.

With --loop the decider runs every DECIDER_INTERVAL until interrupted.
With --work batch workers run in the same process; this is required with
the memory queue backend, whose messages never leave the process.

Examples:
  reportflow decide
  reportflow decide --work
  reportflow decide --loop --interval 30s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecide(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Loop, "loop", false, "run until interrupted")
	cmd.Flags().BoolVar(&opts.Work, "work", false, "also run batch workers in this process")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "loop interval; defaults to DECIDER_INTERVAL")

	return cmd
}

func runDecide(opts *DecideOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer q.Close()

	if _, ok := q.(*queue.Memory); ok && !opts.Work {
		a.logger.Warn("memory queue backend without --work: dispatch messages are dropped when the process exits")
	}

	d := a.decider(q)
	if opts.Loop {
		return loopDecide(ctx, opts, a, d, q)
	}

	report := d.Run(ctx)
	result := DecideResult{Run: report, Errors: errorStrings(report.Errors)}

	if opts.Work {
		n, err := drain(ctx, a.worker(), q, a.queueNames())
		result.Processed = n
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if err := out.Emit(result, func(w io.Writer) error { return renderDecide(w, result) }); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, "decide finished with errors")
	}
	return nil
}

func loopDecide(ctx context.Context, opts *DecideOptions, a *app, d *batch.Decider, q queue.Transport) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = a.cfg.DeciderInterval
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		pollErr error
	)
	if opts.Work {
		w := a.worker()
		names := a.queueNames()
		for _, name := range []string{names.Legacy, names.Universal} {
			name := name
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.Poll(ctx, q, name); err != nil {
					a.logger.Error("batch worker stopped", "queue", name, "error", err)
					mu.Lock()
					pollErr = errors.Join(pollErr, err)
					mu.Unlock()
					// Without its workers the loop would only fill the queue.
					stop()
				}
			}()
		}
	}

	a.logger.Info("decider starting", "interval", interval, "workers", opts.Work)
	err := d.Loop(ctx, interval)
	wg.Wait()
	a.logger.Info("decider stopped")
	if pollErr != nil {
		return WrapExitError(ExitFailure, "batch worker stopped", errors.Join(err, pollErr))
	}
	return err
}

// drain hands every message already visible on the memory queue to w and
// returns how many were handled.
// Staggered messages that are not yet visible stay queued.
func drain(ctx context.Context, w *batch.Worker, q queue.Transport, names batch.QueueNames) (int, error) {
	mem, ok := q.(*queue.Memory)
	if !ok {
		return 0, errors.New("--work without --loop needs the memory queue backend")
	}

	var (
		handled int
		errs    []error
	)
	for _, name := range []string{names.Legacy, names.Universal} {
		for {
			msg, ok := mem.TryReceive(name)
			if !ok {
				break
			}
			if err := w.Process(ctx, mem, msg); err != nil {
				errs = append(errs, err)
				// Leave the message leased; retrying it now would fail the same way.
				continue
			}
			handled++
		}
	}
	return handled, errors.Join(errs...)
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}
