// Package notify renders change events and fans them out to the
// configured sinks. Sinks fail independently; a dead webhook never
// blocks console output.
package notify

import (
	"context"

	"github.com/polywatch/polywatch/internal/logger"
	"github.com/polywatch/polywatch/internal/models"
)

// Sink is a destination capable of delivering a rendered notification.
type Sink interface {
	// Name returns a human-readable identifier for the sink.
	Name() string
	// Deliver sends one change event, rendered sink-specifically.
	Deliver(ctx context.Context, ev models.ChangeEvent) error
	// Post sends a free-form notice (startup banner, periodic summary).
	Post(ctx context.Context, text string) error
}

// Outcome records one sink's attempt at one event.
type Outcome struct {
	Sink    string
	EventID string
	Err     error
}

// Report is the per-event, per-sink delivery record of one dispatch.
type Report struct {
	Delivered int
	Failed    int
	Outcomes  []Outcome
}

// Failures returns only the failed outcomes.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Dispatcher fans events out to every configured sink.
type Dispatcher struct {
	sinks []Sink
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch delivers every event to every sink and reports per-attempt
// outcomes. It never fails as a whole: partial sink failure is recorded
// in the report, not raised.
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.ChangeEvent) Report {
	var report Report
	for _, ev := range events {
		for _, sink := range d.sinks {
			err := sink.Deliver(ctx, ev)
			report.Outcomes = append(report.Outcomes, Outcome{
				Sink:    sink.Name(),
				EventID: ev.ID,
				Err:     err,
			})
			if err != nil {
				report.Failed++
				logger.Warn("Sink %s failed to deliver event %s (%s): %v",
					sink.Name(), ev.ID, ev.Kind, err)
			} else {
				report.Delivered++
			}
		}
	}
	return report
}

// Post sends a free-form notice to every sink, again independently.
func (d *Dispatcher) Post(ctx context.Context, text string) {
	for _, sink := range d.sinks {
		if err := sink.Post(ctx, text); err != nil {
			logger.Warn("Sink %s failed to post notice: %v", sink.Name(), err)
		}
	}
}
