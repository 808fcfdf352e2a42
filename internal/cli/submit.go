package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/reportflow/internal/history"
	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/tracking"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Sender       string
	Topic        string
	BodyFormat   string
	SchemaName   string
	ExternalName string
	Items        int
	IntakeStatus int
	Warnings     []string
	Errors       []string
	ValidateOnly bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <file|->",
		Short: "Record a new submission",
		Long: `Record a new submission and print its history.

The body is read from the file, or from stdin when the argument is "-".
With --validate-only nothing is stored; the history shows what the
submission would look like.

Examples:
  reportflow submit --sender simple-report.default --topic covid-19 --items 3 results.csv
  reportflow submit --sender simple-report --items 1 --validate-only - < result.hl7`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Sender, "sender", "", "sending organization, optionally org.client (required)")
	_ = cmd.MarkFlagRequired("sender")
	cmd.Flags().StringVar(&opts.Topic, "topic", "covid-19", "report topic")
	cmd.Flags().StringVar(&opts.BodyFormat, "body-format", string(ir.FormatCSV), "body format (CSV|CSV_SINGLE|HL7|HL7_BATCH|FHIR)")
	cmd.Flags().StringVar(&opts.SchemaName, "schema", "", "schema the body follows")
	cmd.Flags().StringVar(&opts.ExternalName, "external-name", "", "sender's name for the payload; defaults to the file name")
	cmd.Flags().IntVar(&opts.Items, "items", 0, "number of items in the body")
	cmd.Flags().IntVar(&opts.IntakeStatus, "status", tracking.DefaultIntakeStatus, "HTTP status the intake returned")
	cmd.Flags().StringArrayVar(&opts.Warnings, "warning", nil, "report-level warning found at intake (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Errors, "error", nil, "report-level error found at intake (repeatable)")
	cmd.Flags().BoolVar(&opts.ValidateOnly, "validate-only", false, "validate without storing")

	return cmd
}

func runSubmit(opts *SubmitOptions, source string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := commandContext(cmd)

	sub, err := opts.submission(source, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid submission", err)
	}

	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a)

	tr := a.tracker()
	builder := history.Builder{Settings: a.settings, ValidationOnly: opts.ValidateOnly}

	var h history.SubmissionHistory
	if opts.ValidateOnly {
		snap, err := tr.Preview(sub)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid submission", err)
		}
		h, err = builder.Build(snap)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to build history", err)
		}
	} else {
		node, err := tr.Submit(ctx, sub)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to record submission", err)
		}
		out.VerboseLog("recorded submission %s", node.ID)

		snap, err := a.store.ReadSubmission(ctx, node.ID)
		if err != nil {
			return notFound(node.ID, err)
		}
		h, err = builder.Build(snap)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to build history", err)
		}
	}

	return out.Emit(h, func(w io.Writer) error { return renderHistory(w, h) })
}

// submission reads the body and assembles the tracking input.
func (o *SubmitOptions) submission(source string, stdin io.Reader) (tracking.Submission, error) {
	var (
		body []byte
		err  error
	)
	if source == "-" {
		body, err = io.ReadAll(stdin)
	} else {
		body, err = os.ReadFile(source)
	}
	if err != nil {
		return tracking.Submission{}, fmt.Errorf("read body: %w", err)
	}

	org, client, _ := strings.Cut(o.Sender, ir.FullNameSeparator)
	if org == "" {
		return tracking.Submission{}, fmt.Errorf("invalid sender %q", o.Sender)
	}
	if o.Items < 0 {
		return tracking.Submission{}, fmt.Errorf("items must not be negative")
	}

	external := o.ExternalName
	if external == "" && source != "-" {
		external = filepath.Base(source)
	}

	logs := make([]ir.ActionLogEntry, 0, len(o.Warnings)+len(o.Errors))
	for _, m := range o.Warnings {
		logs = append(logs, ir.ActionLogEntry{Scope: ir.ScopeReport, Level: ir.LevelWarning, Message: m})
	}
	for _, m := range o.Errors {
		logs = append(logs, ir.ActionLogEntry{Scope: ir.ScopeReport, Level: ir.LevelError, Message: m})
	}

	return tracking.Submission{
		SenderOrg:    org,
		SenderClient: client,
		Topic:        o.Topic,
		Format:       ir.Format(o.BodyFormat),
		SchemaName:   o.SchemaName,
		ExternalName: external,
		Body:         body,
		ItemCount:    o.Items,
		IntakeStatus: o.IntakeStatus,
		Logs:         logs,
	}, nil
}
