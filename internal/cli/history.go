package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/history"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <report-id>",
		Short: "Show the delivery history of a submission",
		Long: `Show the delivery history of a submission: where its items are going,
what was sent or downloaded, consolidated errors and warnings, and the
overall status.

Any report id may be given. A derived report is traced back to the
submission it came from; a batch that merged several submissions shows the
history of each.

Examples:
  reportflow history 0190a5c2-7f3e-7b1a-9c1d-2f6a8e4b3c21
  reportflow history --format json 0190a5c2-7f3e-7b1a-9c1d-2f6a8e4b3c21`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, reportID string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := commandContext(cmd)

	a, err := openApp(ctx, opts, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	roots, err := a.store.ReadRoots(ctx, reportID)
	if err != nil {
		return notFound(reportID, err)
	}

	builder := history.Builder{Settings: a.settings}
	histories := make([]history.SubmissionHistory, 0, len(roots))
	for _, root := range roots {
		snap, err := a.store.ReadSubmission(ctx, root.ID)
		if err != nil {
			return notFound(root.ID, err)
		}
		h, err := builder.Build(snap)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to build history", err)
		}
		histories = append(histories, h)
	}

	if len(histories) == 1 {
		h := histories[0]
		return out.Emit(h, func(w io.Writer) error { return renderHistory(w, h) })
	}
	return out.Emit(histories, func(w io.Writer) error {
		for i, h := range histories {
			if i > 0 {
				fmt.Fprintln(w)
			}
			if err := renderHistory(w, h); err != nil {
				return err
			}
		}
		return nil
	})
}
