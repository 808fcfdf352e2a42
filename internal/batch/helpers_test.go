package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reportflow/internal/ir"
	"github.com/roach88/reportflow/internal/settings"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// everyMinute opens a batch window every minute.
func everyMinute(max int, op settings.BatchOperation) *settings.Timing {
	return &settings.Timing{
		Operation:      op,
		NumberPerDay:   1440,
		InitialTime:    "00:00",
		TimeZone:       "UTC",
		MaxReportCount: max,
		WhenEmpty:      settings.WhenEmpty{Action: settings.EmptyActionNone},
	}
}

func testProvider(t *testing.T, receivers ...settings.Receiver) *settings.Settings {
	t.Helper()
	byOrg := map[string][]settings.Receiver{}
	var order []string
	for _, r := range receivers {
		if _, ok := byOrg[r.OrganizationName]; !ok {
			order = append(order, r.OrganizationName)
		}
		byOrg[r.OrganizationName] = append(byOrg[r.OrganizationName], r)
	}
	orgs := make([]settings.Organization, 0, len(order))
	for _, name := range order {
		orgs = append(orgs, settings.Organization{Name: name, Receivers: byOrg[name]})
	}
	s, err := settings.New(orgs...)
	require.NoError(t, err)
	return s
}

func receiver(org, name string, topic settings.Topic, format ir.Format, timing *settings.Timing) settings.Receiver {
	return settings.Receiver{
		Name:             name,
		OrganizationName: org,
		Topic:            topic,
		Format:           format,
		Timing:           timing,
		Transport:        "sftp",
	}
}

// fakeRepo answers decider queries from maps.
type fakeRepo struct {
	mu         sync.Mutex
	pending    map[string]int
	recent     map[string]bool
	failCount  map[string]bool
	countSince map[string]time.Time
	sentSince  map[string]time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		pending:    map[string]int{},
		recent:     map[string]bool{},
		failCount:  map[string]bool{},
		countSince: map[string]time.Time{},
		sentSince:  map[string]time.Time{},
	}
}

func (f *fakeRepo) CountReportsNeedingBatch(_ context.Context, receiver string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countSince[receiver] = since
	if f.failCount[receiver] {
		return 0, errors.New("database is locked")
	}
	return f.pending[receiver], nil
}

func (f *fakeRepo) CheckRecentlySent(_ context.Context, receiver string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentSince[receiver] = since
	return f.recent[receiver], nil
}

// failingQueue rejects every enqueue.
type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, string, []byte, time.Duration) error {
	return errors.New("broker unavailable")
}
