package loans

import (
	"errors"
	"fmt"
	"log/slog"

	"loanchain/observability/metrics"
)

type compensation struct {
	name string
	undo func() error
}

// saga runs forward steps and remembers how to undo each one. On the first
// failure every recorded compensation runs in reverse order before the
// original error is returned.
type saga struct {
	operation string
	logger    *slog.Logger
	telemetry *metrics.LoanMetrics
	undo      []compensation
}

func (e *Engine) begin(operation string) *saga {
	return &saga{operation: operation, logger: e.log(), telemetry: e.telemetry}
}

// Step runs forward. When it succeeds and undo is non-nil the undo is
// recorded. When it fails the saga is rolled back and the forward error is
// returned.
func (s *saga) Step(name string, forward func() error, undo func() error) error {
	if err := forward(); err != nil {
		return s.Abort(fmt.Errorf("%s: %w", name, err))
	}
	if undo != nil {
		s.undo = append(s.undo, compensation{name: name, undo: undo})
	}
	return nil
}

// Abort rolls back every recorded step and returns cause, joined with any
// compensation failures.
func (s *saga) Abort(cause error) error {
	var failures []error
	for i := len(s.undo) - 1; i >= 0; i-- {
		step := s.undo[i]
		s.telemetry.ObserveCompensation(s.operation)
		if err := step.undo(); err != nil {
			s.logger.Error("loans: compensation failed",
				slog.String("operation", s.operation),
				slog.String("step", step.name),
				slog.Any("error", err))
			failures = append(failures, fmt.Errorf("loans: compensate %s: %w", step.name, err))
			continue
		}
		s.logger.Warn("loans: compensated step",
			slog.String("operation", s.operation),
			slog.String("step", step.name))
	}
	s.undo = nil
	if len(failures) == 0 {
		return cause
	}
	return errors.Join(append([]error{cause}, failures...)...)
}
