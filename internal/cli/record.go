package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/store"
	"github.com/roach88/reportflow/internal/tracking"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Action          string
	NextAction      string
	NextActionAt    string
	Receiver        string
	Items           int
	BeforeFilter    int
	BodyFile        string
	BodyFormat      string
	TransportResult string
	DownloadedBy    string
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <parent-id>...",
		Short: "Record a pipeline step derived from existing reports",
		Long: `Record a pipeline step: a new report derived from one or more parents.

Pipeline stages call this after routing, translating, sending or
downloading a report so the submission history reflects it.

Examples:
  reportflow record --action translate --next batch --receiver co-phd.elr --items 3 <id>
  reportflow record --action send --receiver co-phd.elr --items 3 --transport-result ok <id>`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Action, "action", "", "action that produced the report (required)")
	_ = cmd.MarkFlagRequired("action")
	cmd.Flags().StringVar(&opts.NextAction, "next", "", "next scheduled action")
	cmd.Flags().StringVar(&opts.NextActionAt, "next-at", "", "when the next action is due (RFC 3339); defaults to now")
	cmd.Flags().StringVar(&opts.Receiver, "receiver", "", "destination receiver as org.svc")
	cmd.Flags().IntVar(&opts.Items, "items", 0, "number of items in the report")
	cmd.Flags().IntVar(&opts.BeforeFilter, "items-before-filter", -1, "items before the quality filter ran")
	cmd.Flags().StringVar(&opts.BodyFile, "body", "", "file with the report body")
	cmd.Flags().StringVar(&opts.BodyFormat, "body-format", "", "body format")
	cmd.Flags().StringVar(&opts.TransportResult, "transport-result", "", "transport outcome of a send")
	cmd.Flags().StringVar(&opts.DownloadedBy, "downloaded-by", "", "user who downloaded the report")

	return cmd
}

func runRecord(opts *RecordOptions, parents []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := commandContext(cmd)

	step, err := opts.step(parents)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid step", err)
	}

	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if step.Receiver != "" {
		if _, err := a.settings.FindReceiver(step.Receiver); err != nil {
			return WrapExitError(ExitCommandError, "invalid step", err)
		}
	}

	node, err := a.tracker().Record(ctx, step)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "parent report not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to record step", err)
	}

	return out.Emit(node, func(w io.Writer) error { return renderNode(w, node) })
}

func (o *RecordOptions) step(parents []string) (tracking.Step, error) {
	action, err := ir.ParseAction(o.Action)
	if err != nil {
		return tracking.Step{}, err
	}
	next, err := ir.ParseAction(o.NextAction)
	if err != nil {
		return tracking.Step{}, err
	}

	step := tracking.Step{
		Parents:         parents,
		Action:          action,
		NextAction:      next,
		Receiver:        o.Receiver,
		ItemCount:       o.Items,
		Format:          ir.Format(o.BodyFormat),
		TransportResult: o.TransportResult,
		DownloadedBy:    o.DownloadedBy,
	}
	if o.NextActionAt != "" {
		at, err := time.Parse(time.RFC3339, o.NextActionAt)
		if err != nil {
			return tracking.Step{}, fmt.Errorf("--next-at: %w", err)
		}
		step.NextActionAt = &at
	}
	if o.BeforeFilter >= 0 {
		n := o.BeforeFilter
		step.ItemCountBeforeQualityFilter = &n
	}
	if o.BodyFile != "" {
		if step.Body, err = os.ReadFile(o.BodyFile); err != nil {
			return tracking.Step{}, fmt.Errorf("read body: %w", err)
		}
	}
	return step, nil
}
