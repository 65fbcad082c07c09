package pipeline

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-hullwatch/pkg/dispatch"
	"github.com/teslashibe/go-hullwatch/pkg/processor"
)

// Policy defaults.
const (
	DefaultSamplingPeriod = 25
	DefaultCooldownWindow = 100
)

// Policy names.
const (
	PolicyInterval = "interval"
	PolicyCooldown = "cooldown"
)

// Policy decides which frames are processed and what gets dispatched.
// A Policy is owned by one Controller and is not safe for concurrent use.
type Policy interface {
	// Name returns the policy name.
	Name() string

	// Reset clears per-run state.
	Reset()

	// Admit reports whether frame index should be processed.
	Admit(index int) bool

	// Record feeds the processing result for an admitted frame. res is nil
	// when nothing was detected. It returns true when res should be
	// dispatched immediately.
	Record(index int, res *processor.Result) bool

	// Flush returns the end-of-run report, if the policy sends one.
	Flush() (dispatch.Report, bool)
}

// NewPolicy builds a policy by name. n is the sampling period for
// "interval" and the cooldown window for "cooldown".
func NewPolicy(name string, n int) (Policy, error) {
	switch name {
	case PolicyInterval:
		return NewFixedInterval(n), nil
	case PolicyCooldown:
		return NewCooldown(n), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown policy %q", name)
	}
}

// Accumulator collects every detection of a run into one report.
type Accumulator struct {
	records []processor.Record
	text    string
}

// Merge appends res's records and concatenates its text with no separator.
func (a *Accumulator) Merge(res *processor.Result) {
	if res == nil {
		return
	}
	a.records = append(a.records, res.Records...)
	a.text += res.Text
}

// Len returns the number of accumulated records.
func (a *Accumulator) Len() int {
	return len(a.records)
}

// Report returns a copy of the accumulated state.
func (a *Accumulator) Report() dispatch.Report {
	records := make([]processor.Record, len(a.records))
	copy(records, a.records)
	return dispatch.Report{
		HullNum:      records,
		DetectedText: strings.TrimSpace(a.text),
	}
}

// Reset empties the accumulator.
func (a *Accumulator) Reset() {
	a.records = nil
	a.text = ""
}

// FixedInterval processes every period-th frame and reports once at the end.
// The zero value uses DefaultSamplingPeriod.
type FixedInterval struct {
	period int
	acc    Accumulator
}

// NewFixedInterval returns a fixed-interval policy. A non-positive period
// falls back to DefaultSamplingPeriod.
func NewFixedInterval(period int) *FixedInterval {
	if period <= 0 {
		period = DefaultSamplingPeriod
	}
	return &FixedInterval{period: period}
}

// Period returns the sampling period in frames.
func (p *FixedInterval) Period() int {
	if p.period <= 0 {
		return DefaultSamplingPeriod
	}
	return p.period
}

func (p *FixedInterval) Name() string { return PolicyInterval }

func (p *FixedInterval) Reset() { p.acc.Reset() }

func (p *FixedInterval) Admit(index int) bool {
	return index%p.Period() == 0
}

func (p *FixedInterval) Record(_ int, res *processor.Result) bool {
	if res != nil && len(res.Records) > 0 {
		p.acc.Merge(res)
	}
	return false
}

// Flush always yields a report, empty or not.
func (p *FixedInterval) Flush() (dispatch.Report, bool) {
	return p.acc.Report(), true
}

// Accumulated returns the current report without ending the run.
func (p *FixedInterval) Accumulated() dispatch.Report {
	return p.acc.Report()
}

// Cooldown processes frames until one has a detection, then stays quiet for
// the window. Misses do not re-arm the cooldown. Build it with NewCooldown.
type Cooldown struct {
	window int
	last   int
}

// NewCooldown returns a cooldown policy. A non-positive window falls back
// to DefaultCooldownWindow.
func NewCooldown(window int) *Cooldown {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	c := &Cooldown{window: window}
	c.Reset()
	return c
}

func (p *Cooldown) Name() string { return PolicyCooldown }

// Reset puts the last detection far enough in the past that the first
// frame is admitted.
func (p *Cooldown) Reset() { p.last = -(p.Window() + 1) }

// Window returns the cooldown length in frames.
func (p *Cooldown) Window() int {
	if p.window <= 0 {
		return DefaultCooldownWindow
	}
	return p.window
}

func (p *Cooldown) Admit(index int) bool {
	return index-p.last > p.Window()
}

func (p *Cooldown) Record(index int, res *processor.Result) bool {
	if res == nil {
		return false
	}
	p.last = index
	return true
}

func (p *Cooldown) Flush() (dispatch.Report, bool) {
	return dispatch.Report{}, false
}

// LastDetection returns the index of the last frame that had a detection.
func (p *Cooldown) LastDetection() int {
	return p.last
}
