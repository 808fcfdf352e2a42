package history

import (
	"time"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/lineage"
	"github.com/roach88/reportflow/internal/settings"
)

// ReportRef is the part of a delivered report the status needs.
type ReportRef struct {
	ReportID  string    `json:"report_id"`
	CreatedAt time.Time `json:"created_at"`
	ItemCount int       `json:"item_count"`
}

// FilteredItem describes one item a filter removed for a destination.
type FilteredItem struct {
	FilterType              ir.FilterType `json:"filter_type,omitempty"`
	FilterName              string        `json:"filter_name"`
	FilteredTrackingElement string        `json:"filtered_tracking_element"`
	FilterArgs              []string      `json:"filter_args"`
	Message                 string        `json:"message"`
}

// Destination is the rollup of one submission for one receiving
// (organization, service) pair.
type Destination struct {
	Organization        string         `json:"organization,omitempty"`
	OrganizationID      string         `json:"organization_id"`
	Service             string         `json:"service"`
	FilteredReportRows  []string       `json:"filtered_report_rows"`
	FilteredReportItems []FilteredItem `json:"filtered_report_items"`
	SendingAt           *time.Time     `json:"sending_at,omitempty"`
	ItemCount           int            `json:"item_count"`
	SentReports         []ReportRef    `json:"sent_reports"`
	DownloadedReports   []ReportRef    `json:"downloaded_reports"`

	ItemCountBeforeQualFilter *int `json:"item_count_before_quality_filtering,omitempty"`
}

// IsReal reports whether any items are (or will be) delivered to the destination.
func (d Destination) IsReal() bool {
	return d.ItemCount != 0
}

// RealDestinations keeps destinations with a non-zero item count.
func RealDestinations(dests []Destination) []Destination {
	out := []Destination{}
	for _, d := range dests {
		if d.IsReal() {
			out = append(out, d)
		}
	}
	return out
}

type destinationKey struct {
	org, svc string
}

// accumulator collects one destination's contributions during the fold.
type accumulator struct {
	dest Destination
	// counted are the nodes eligible to define the item count.
	counted []ir.ReportNode
	// all holds every node for the key, used when none are eligible.
	all []ir.ReportNode
}

// Aggregate folds the nodes of one submission into one Destination per
// (receiving org, service), in order of first appearance.
//
// Item counts come only from the latest generation of the nodes that define
// the destination: nodes sharing the most recent NextActionAt. Delivery
// records (sent, downloaded) and batch nodes are not counted since a batch
// can merge items from other submissions. A destination with only delivery
// records falls back to counting those.
//
// When no destination exists but filter logs name receivers, one zero-item
// destination per named receiver is returned so the view explains why nothing
// is delivered.
//
// provider may be nil; organization names are then left empty and every
// receiver is assumed to have a transport.
func Aggregate(nodes []ir.ReportNode, logs []ir.ActionLogEntry, provider settings.Provider) []Destination {
	filterLogs := make(map[string][]ir.ActionLogEntry)
	for _, l := range logs {
		if l.Level == ir.LevelFilter {
			filterLogs[l.ReportID] = append(filterLogs[l.ReportID], l)
		}
	}

	var order []destinationKey
	accs := make(map[destinationKey]*accumulator)

	for _, n := range nodes {
		if n.ReceivingOrg == "" {
			continue
		}
		key := destinationKey{n.ReceivingOrg, n.ReceivingOrgSvc}
		acc, ok := accs[key]
		if !ok {
			acc = &accumulator{dest: newDestination(key.org, key.svc, provider)}
			accs[key] = acc
			order = append(order, key)
		}

		for _, l := range filterLogs[n.ID] {
			addFilterLog(&acc.dest, l)
		}

		if n.Sent() {
			acc.dest.SentReports = append(acc.dest.SentReports, refOf(n))
		}
		if n.Downloaded() {
			acc.dest.DownloadedReports = append(acc.dest.DownloadedReports, refOf(n))
		}

		if n.NextActionAt != nil && hasTransport(provider, n.Receiver()) {
			if acc.dest.SendingAt == nil || n.NextActionAt.After(*acc.dest.SendingAt) {
				t := *n.NextActionAt
				acc.dest.SendingAt = &t
			}
		}

		acc.all = append(acc.all, n)
		if definesItemCount(n) {
			acc.counted = append(acc.counted, n)
		}
	}

	dests := make([]Destination, 0, len(order))
	for _, key := range order {
		acc := accs[key]
		counted := acc.counted
		if len(counted) == 0 {
			counted = acc.all
		}
		acc.dest.ItemCount, acc.dest.ItemCountBeforeQualFilter = sumGeneration(lineage.LatestGeneration(counted))
		dests = append(dests, acc.dest)
	}

	if len(dests) == 0 {
		dests = filterOnlyDestinations(logs, provider)
	}
	return dests
}

// definesItemCount reports whether a node's item count describes what this
// submission routes to its destination.
func definesItemCount(n ir.ReportNode) bool {
	if n.Sent() || n.Downloaded() {
		return false
	}
	switch n.Action {
	case ir.ActionBatch, ir.ActionSend, ir.ActionDownload, ir.ActionResend:
		return false
	}
	return true
}

func sumGeneration(gen []ir.ReportNode) (int, *int) {
	var items int
	var before *int
	for _, n := range gen {
		items += n.ItemCount
		if n.ItemCountBeforeQualityFilter != nil {
			if before == nil {
				before = new(int)
			}
			*before += *n.ItemCountBeforeQualityFilter
		}
	}
	return items, before
}

func newDestination(org, svc string, provider settings.Provider) Destination {
	d := Destination{
		OrganizationID:      org,
		Service:             svc,
		FilteredReportRows:  []string{},
		FilteredReportItems: []FilteredItem{},
		SentReports:         []ReportRef{},
		DownloadedReports:   []ReportRef{},
	}
	if provider != nil {
		if o, _, err := provider.FindOrganizationAndReceiver(ir.ReceiverFullName(org, svc)); err == nil {
			d.Organization = o.Description
		}
	}
	return d
}

func hasTransport(provider settings.Provider, receiver string) bool {
	if provider == nil {
		return true
	}
	r, err := provider.FindReceiver(receiver)
	if err != nil {
		return true
	}
	return r.HasTransport()
}

func addFilterLog(d *Destination, l ir.ActionLogEntry) {
	d.FilteredReportRows = append(d.FilteredReportRows, l.Message)
	if l.Filter == nil {
		return
	}
	args := l.Filter.FilterArgs
	if args == nil {
		args = []string{}
	}
	d.FilteredReportItems = append(d.FilteredReportItems, FilteredItem{
		FilterType:              l.Filter.FilterType,
		FilterName:              l.Filter.FilterName,
		FilteredTrackingElement: l.Filter.FilteredTrackingElement,
		FilterArgs:              args,
		Message:                 l.Filter.Message(),
	})
}

func refOf(n ir.ReportNode) ReportRef {
	return ReportRef{ReportID: n.ID, CreatedAt: n.CreatedAt, ItemCount: n.ItemCount}
}

// filterOnlyDestinations builds a zero-item destination for every receiver
// named by a filter log, carrying that receiver's filter logs.
func filterOnlyDestinations(logs []ir.ActionLogEntry, provider settings.Provider) []Destination {
	var order []string
	byReceiver := make(map[string]*Destination)

	for _, l := range logs {
		if l.Level != ir.LevelFilter || l.Filter == nil {
			continue
		}
		name := l.Filter.ReceiverName
		d, ok := byReceiver[name]
		if !ok {
			org, svc, valid := ir.SplitFullName(name)
			if !valid {
				continue
			}
			nd := newDestination(org, svc, provider)
			original := l.Filter.OriginalCount
			nd.ItemCountBeforeQualFilter = &original
			d = &nd
			byReceiver[name] = d
			order = append(order, name)
		}
		addFilterLog(d, l)
	}

	dests := make([]Destination, 0, len(order))
	for _, name := range order {
		dests = append(dests, *byReceiver[name])
	}
	return dests
}
