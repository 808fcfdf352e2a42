package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/queue"
)

// NewWorkCommand creates the work command.
func NewWorkCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work <queue>",
		Short: "Run a batch worker on a queue",
		Long: `Consume dispatch messages from a queue and record the batches they
ask for, until interrupted.

Workers in separate processes need a shared queue, so this command
requires QUEUE_BACKEND=kafka. With the memory backend use
"reportflow decide --loop --work" instead.

Examples:
  reportflow work batch
  reportflow work universal-batch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWork(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runWork(opts *RootOptions, queueName string, cmd *cobra.Command) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := openApp(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	names := a.queueNames()
	if queueName != names.Legacy && queueName != names.Universal {
		return NewExitError(ExitCommandError, "unknown queue "+queueName+": expected "+names.Legacy+" or "+names.Universal)
	}

	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer q.Close()
	if _, ok := q.(*queue.Memory); ok {
		return NewExitError(ExitCommandError, `the memory queue is process-local; set QUEUE_BACKEND=kafka or use "decide --loop --work"`)
	}

	a.logger.Info("worker starting", "queue", queueName)
	if err := a.worker().Poll(ctx, q, queueName); err != nil {
		return WrapExitError(ExitFailure, "worker stopped", err)
	}
	a.logger.Info("worker stopped", "queue", queueName)
	return nil
}
