package settings

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // receivers name zones that may be missing from the host
)

const (
	minutesPerDay = 24 * 60
	secondsPerDay = minutesPerDay * 60

	// lookbackPadding is added to every batch lookback window.
	lookbackPadding = 5 * time.Minute

	// nextTimeSlack keeps NextTime from returning a boundary that is about to pass.
	nextTimeSlack = 10 * time.Second
)

// BatchOperation says how a batch worker combines pending reports.
type BatchOperation string

const (
	// OperationMerge combines every claimed report into one batch.
	OperationMerge BatchOperation = "MERGE"
	// OperationNone gives each claimed report its own batch.
	OperationNone BatchOperation = "NONE"
)

// EmptyAction says what to do when a batch window opens with nothing pending.
type EmptyAction string

const (
	EmptyActionNone EmptyAction = "NONE"
	EmptyActionSend EmptyAction = "SEND"
)

// WhenEmpty is the empty-batch policy of a receiver.
type WhenEmpty struct {
	Action         EmptyAction `yaml:"action" json:"action"`
	OnlyOncePerDay bool        `yaml:"onlyOncePerDay" json:"only_once_per_day"`
}

// Timing is the batch schedule of a receiver.
//
// The day is split into NumberPerDay equal periods aligned to InitialTime in
// TimeZone. A batch window is the first 60 seconds of each period.
type Timing struct {
	Operation      BatchOperation `yaml:"operation" json:"operation"`
	NumberPerDay   int            `yaml:"numberPerDay" json:"number_per_day"`
	InitialTime    string         `yaml:"initialTime" json:"initial_time"`
	TimeZone       string         `yaml:"timeZone" json:"time_zone"`
	MaxReportCount int            `yaml:"maxReportCount" json:"max_report_count"`
	WhenEmpty      WhenEmpty      `yaml:"whenEmpty" json:"when_empty"`

	// BetweenBatches overrides the stagger between dispatch messages, in
	// seconds.
	// Zero means 1440 / NumberPerDay.
	BetweenBatches int `yaml:"timeBetweenBatches,omitempty" json:"time_between_batches,omitempty"`
}

// usTimeZones maps the short zone names used in receiver settings to IANA names.
var usTimeZones = map[string]string{
	"ARIZONA":        "America/Phoenix",
	"CENTRAL":        "America/Chicago",
	"CHAMORRO":       "Pacific/Guam",
	"EASTERN":        "America/New_York",
	"EAST_INDIANA":   "America/Indiana/Indianapolis",
	"HAWAII":         "Pacific/Honolulu",
	"INDIANA_STARKE": "America/Indiana/Knox",
	"MICHIGAN":       "America/Detroit",
	"MOUNTAIN":       "America/Denver",
	"PACIFIC":        "America/Los_Angeles",
	"SAMOA":          "Pacific/Pago_Pago",
	"UTC":            "UTC",
}

// Location resolves TimeZone. An empty zone is UTC.
func (t Timing) Location() (*time.Location, error) {
	name := strings.TrimSpace(t.TimeZone)
	if name == "" {
		return time.UTC, nil
	}
	if iana, ok := usTimeZones[strings.ToUpper(name)]; ok {
		name = iana
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", t.TimeZone, err)
	}
	return loc, nil
}

// initialSeconds parses InitialTime ("HH:MM") into seconds after midnight.
func (t Timing) initialSeconds() (int, error) {
	hm, err := time.Parse("15:04", strings.TrimSpace(t.InitialTime))
	if err != nil {
		return 0, fmt.Errorf("initial time %q: %w", t.InitialTime, err)
	}
	return hm.Hour()*3600 + hm.Minute()*60, nil
}

// Validate reports the first problem with the timing configuration.
func (t Timing) Validate() error {
	if t.NumberPerDay < 1 || t.NumberPerDay > minutesPerDay {
		return fmt.Errorf("numberPerDay %d out of range 1..%d", t.NumberPerDay, minutesPerDay)
	}
	if t.MaxReportCount < 1 {
		return fmt.Errorf("maxReportCount %d must be positive", t.MaxReportCount)
	}
	switch t.Operation {
	case OperationMerge, OperationNone:
	default:
		return fmt.Errorf("unknown batch operation %q", t.Operation)
	}
	switch t.WhenEmpty.Action {
	case EmptyActionNone, EmptyActionSend, "":
	default:
		return fmt.Errorf("unknown whenEmpty action %q", t.WhenEmpty.Action)
	}
	if t.BetweenBatches < 0 {
		return fmt.Errorf("timeBetweenBatches %d must not be negative", t.BetweenBatches)
	}
	if _, err := t.initialSeconds(); err != nil {
		return err
	}
	if _, err := t.Location(); err != nil {
		return err
	}
	return nil
}

// IsValid reports whether the timing can drive the batch decider.
func (t Timing) IsValid() bool {
	return t.Validate() == nil
}

// period returns the length of one batch period in seconds.
func (t Timing) period() int {
	return secondsPerDay / t.NumberPerDay
}

// TimeBetweenBatches returns the stagger, in seconds, between consecutive
// dispatch messages of one decider run: the configured override, otherwise
// 1440 / NumberPerDay. The fallback divides minutes per day but is read as
// seconds, so a receiver batching hourly staggers by one minute.
func (t Timing) TimeBetweenBatches() int {
	if t.BetweenBatches > 0 {
		return t.BetweenBatches
	}
	if t.NumberPerDay <= 0 {
		return minutesPerDay
	}
	return minutesPerDay / t.NumberPerDay
}

// StaggerDelay returns the delay of the i-th (0-indexed) dispatch message:
// i × TimeBetweenBatches seconds.
func (t Timing) StaggerDelay(i int) time.Duration {
	return time.Duration(i*t.TimeBetweenBatches()) * time.Second
}

// secondsIntoPeriod returns how far now is past the most recent period
// boundary, in the receiver's zone.
func (t Timing) secondsIntoPeriod(now time.Time) (int, error) {
	loc, err := t.Location()
	if err != nil {
		return 0, err
	}
	initial, err := t.initialSeconds()
	if err != nil {
		return 0, err
	}
	local := now.In(loc)
	secondOfDay := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return (secondOfDay - initial + secondsPerDay) % t.period(), nil
}

// BatchInPrevious60Seconds reports whether a period boundary fell within the
// 60 seconds up to and including now. Invalid timing is never in a window.
func (t Timing) BatchInPrevious60Seconds(now time.Time) bool {
	if !t.IsValid() {
		return false
	}
	into, err := t.secondsIntoPeriod(now)
	if err != nil {
		return false
	}
	return into < 60
}

// NextTime returns the first period boundary after after + 10s, in UTC.
func (t Timing) NextTime(after time.Time) (time.Time, error) {
	if err := t.Validate(); err != nil {
		return time.Time{}, err
	}
	from := after.Add(nextTimeSlack).Truncate(time.Second)
	into, err := t.secondsIntoPeriod(from)
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(time.Duration(t.period()-into) * time.Second).UTC(), nil
}

// BatchLookback returns how far back the decider looks for reports needing
// batch: one period per attempt (retries + 1) plus padding. A non-positive
// NumberPerDay counts as one batch per day.
func (t Timing) BatchLookback(retries int) time.Duration {
	perDay := t.NumberPerDay
	if perDay <= 0 {
		perDay = 1
	}
	if retries < 0 {
		retries = 0
	}
	minutes := (minutesPerDay / perDay) * (retries + 1)
	return time.Duration(minutes)*time.Minute + lookbackPadding
}
