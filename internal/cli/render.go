package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/reportflow/internal/history"
	"github.com/roach88/reportflow/internal/ir"
)

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func renderHistory(w io.Writer, h history.SubmissionHistory) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	id := "(withheld: submission has errors)"
	if h.ID != nil {
		id = *h.ID
	}
	fmt.Fprintf(tw, "Report:\t%s\n", id)
	fmt.Fprintf(tw, "Submission:\t%s\n", h.SubmissionID)
	fmt.Fprintf(tw, "Received:\t%s\n", h.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "Sender:\t%s\n", h.Sender)
	if h.Topic != "" {
		fmt.Fprintf(tw, "Topic:\t%s\n", h.Topic)
	}
	if h.ExternalName != "" {
		fmt.Fprintf(tw, "File:\t%s\n", h.ExternalName)
	}
	fmt.Fprintf(tw, "Items:\t%d\n", h.ReportItemCount)
	fmt.Fprintf(tw, "Status:\t%s\n", h.OverallStatus)
	fmt.Fprintf(tw, "Planned completion:\t%s\n", formatTime(h.PlannedCompletionAt))
	fmt.Fprintf(tw, "Actual completion:\t%s\n", formatTime(h.ActualCompletionAt))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nDestinations (%d):\n", h.DestinationCount)
	for _, d := range h.Destinations {
		name := ir.ReceiverFullName(d.OrganizationID, d.Service)
		if d.Organization != "" {
			name += " (" + d.Organization + ")"
		}
		fmt.Fprintf(w, "  %s: %d items, %d sent, %d downloaded, sending at %s\n",
			name, d.ItemCount, len(d.SentReports), len(d.DownloadedReports), formatTime(d.SendingAt))
		for _, f := range d.FilteredReportItems {
			fmt.Fprintf(w, "    filtered: %s\n", f.Message)
		}
	}

	renderLogs(w, "Errors", h.ErrorCount, h.Errors)
	renderLogs(w, "Warnings", h.WarningCount, h.Warnings)
	return nil
}

func renderLogs(w io.Writer, title string, count int, logs []history.ConsolidatedLog) {
	if count == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, count)
	for _, l := range logs {
		fmt.Fprintf(w, "  [%s] %s", l.Scope, l.Message)
		if l.Field != "" {
			fmt.Fprintf(w, " (field %s)", l.Field)
		}
		if len(l.Indices) > 0 {
			idx := make([]string, len(l.Indices))
			for i, n := range l.Indices {
				idx[i] = strconv.Itoa(n)
			}
			fmt.Fprintf(w, " items %s", strings.Join(idx, ", "))
		}
		fmt.Fprintln(w)
	}
}

func renderNode(w io.Writer, n ir.ReportNode) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Report:\t%s\n", n.ID)
	fmt.Fprintf(tw, "Action:\t%s\n", n.Action)
	fmt.Fprintf(tw, "Next:\t%s at %s\n", n.NextAction, formatTime(n.NextActionAt))
	if r := n.Receiver(); r != "" {
		fmt.Fprintf(tw, "Receiver:\t%s\n", r)
	}
	fmt.Fprintf(tw, "Items:\t%d\n", n.ItemCount)
	if n.Body.URL != "" {
		fmt.Fprintf(tw, "Body:\t%s\n", n.Body.URL)
	}
	return tw.Flush()
}

func renderDecide(w io.Writer, r DecideResult) error {
	fmt.Fprintf(w, "Evaluated %d receivers at %s\n", r.Run.Receivers, r.Run.At.UTC().Format(time.RFC3339))
	for _, d := range r.Run.Dispatches {
		kind := "batch"
		if d.Empty {
			kind = "empty batch"
		}
		delays := make([]string, len(d.Delays))
		for i, delay := range d.Delays {
			delays[i] = delay.String()
		}
		fmt.Fprintf(w, "  %s -> %s: %d %s message(s), delays %s\n",
			d.Receiver, d.Queue, d.Messages, kind, strings.Join(delays, ", "))
	}
	if r.Processed > 0 {
		fmt.Fprintf(w, "Processed %d dispatch message(s)\n", r.Processed)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	return nil
}
