package ir

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind names the pipeline action that produced a node, or the action
// expected to run on it next.
type ActionKind string

const (
	ActionReceive   ActionKind = "receive"
	ActionRoute     ActionKind = "route"
	ActionTranslate ActionKind = "translate"
	ActionFilter    ActionKind = "filter"
	ActionReformat  ActionKind = "reformat"
	ActionBatch     ActionKind = "batch"
	ActionSend      ActionKind = "send"
	ActionDownload  ActionKind = "download"
	ActionResend    ActionKind = "resend"
	ActionNone      ActionKind = "none"
)

// ValidActions defines allowed action kinds.
var ValidActions = map[ActionKind]bool{
	ActionReceive:   true,
	ActionRoute:     true,
	ActionTranslate: true,
	ActionFilter:    true,
	ActionReformat:  true,
	ActionBatch:     true,
	ActionSend:      true,
	ActionDownload:  true,
	ActionResend:    true,
	ActionNone:      true,
}

// ParseAction converts a string into an ActionKind.
// The empty string maps to ActionNone.
func ParseAction(s string) (ActionKind, error) {
	if s == "" {
		return ActionNone, nil
	}
	a := ActionKind(strings.ToLower(s))
	if !ValidActions[a] {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Format is the opaque payload format tag carried next to a body reference.
type Format string

const (
	FormatCSV       Format = "CSV"
	FormatCSVSingle Format = "CSV_SINGLE"
	FormatHL7       Format = "HL7"
	FormatHL7Batch  Format = "HL7_BATCH"
	FormatFHIR      Format = "FHIR"
)

// SingleItem reports whether the format holds exactly one item per file.
// Single-item formats cannot represent an empty batch.
func (f Format) SingleItem() bool {
	return f == FormatHL7 || f == FormatCSVSingle
}

// BodyLocation references a stored payload. The core never reads the bytes.
type BodyLocation struct {
	URL    string `json:"url"`
	Format Format `json:"format"`
}

// IsZero reports whether no body was stored for the node.
func (b BodyLocation) IsZero() bool {
	return b.URL == ""
}

// ReportNode is one artifact produced by one pipeline action.
type ReportNode struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	Action       ActionKind   `json:"action"`
	NextAction   ActionKind   `json:"next_action"`
	NextActionAt *time.Time   `json:"next_action_at,omitempty"`
	ItemCount    int          `json:"item_count"`
	Body         BodyLocation `json:"body"`
	SchemaName   string       `json:"schema_name,omitempty"`
	Topic        string       `json:"topic,omitempty"`
	ExternalName string       `json:"external_name,omitempty"`

	// ItemCountBeforeQualityFilter is set only where a quality filter ran.
	ItemCountBeforeQualityFilter *int `json:"item_count_before_quality_filter,omitempty"`

	// Ingress nodes only.
	SendingOrg       string `json:"sending_org,omitempty"`
	SendingOrgClient string `json:"sending_org_client,omitempty"`
	IntakeStatus     int    `json:"intake_status,omitempty"`

	// Destination nodes only.
	ReceivingOrg    string `json:"receiving_org,omitempty"`
	ReceivingOrgSvc string `json:"receiving_org_svc,omitempty"`

	TransportResult string `json:"transport_result,omitempty"`
	DownloadedBy    string `json:"downloaded_by,omitempty"`
}

// IsIngress reports whether the node was created from a sender submission.
func (n ReportNode) IsIngress() bool {
	return n.SendingOrg != ""
}

// Receiver returns the "org.svc" full name of the node's destination, or ""
// when the node is not associated with one destination.
func (n ReportNode) Receiver() string {
	if n.ReceivingOrg == "" {
		return ""
	}
	return ReceiverFullName(n.ReceivingOrg, n.ReceivingOrgSvc)
}

// HasNextAction reports whether some action is still expected on the node.
func (n ReportNode) HasNextAction() bool {
	return n.NextAction != "" && n.NextAction != ActionNone
}

// Sent reports whether a send attempt was recorded on the node.
func (n ReportNode) Sent() bool {
	return n.TransportResult != ""
}

// Downloaded reports whether the node was fetched by a receiver.
func (n ReportNode) Downloaded() bool {
	return n.DownloadedBy != ""
}

// LineageEdge links a parent report to a child derived from it.
type LineageEdge struct {
	ParentID  string    `json:"parent_id"`
	ChildID   string    `json:"child_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ReceiverFullName joins an organization and service into "org.svc".
func ReceiverFullName(org, svc string) string {
	return org + FullNameSeparator + svc
}

// FullNameSeparator separates organization and service in full names.
const FullNameSeparator = "."

// SplitFullName splits "org.svc" into its parts.
// Returns false when name has no separator.
func SplitFullName(name string) (org, svc string, ok bool) {
	org, svc, ok = strings.Cut(name, FullNameSeparator)
	if !ok || org == "" || svc == "" {
		return "", "", false
	}
	return org, svc, true
}
