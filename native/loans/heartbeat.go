package loans

import "log/slog"

// HeartbeatReport describes the work done on one scheduling tick.
type HeartbeatReport struct {
	Height  uint64
	Paused  bool
	Sweep   SweepReport
	Accrual *AccrualReport
}

// OnHeartbeat runs the health sweep and, once the interest period has
// elapsed, the interest accrual. Nothing runs while the module is paused.
// now is a unix timestamp in seconds.
func (e *Engine) OnHeartbeat(height uint64, now int64) (HeartbeatReport, error) {
	report := HeartbeatReport{Height: height}
	if e == nil || e.state == nil {
		return report, errNilState
	}
	e.SetBlockHeight(height)
	if err := e.guard(); err != nil {
		report.Paused = true
		return report, nil
	}
	price, err := e.state.LoanPrice()
	if err != nil {
		return report, err
	}
	if price > 0 {
		sweep, err := e.Sweep()
		if err != nil {
			return report, err
		}
		report.Sweep = sweep
	} else {
		e.log().Debug("loans: sweep waiting for first price", slog.Uint64("height", height))
	}

	params, err := e.params()
	if err != nil {
		return report, err
	}
	interest, err := e.state.LoanInterestState()
	if err != nil {
		return report, err
	}
	if interest.LastAccrual == 0 || now-interest.LastAccrual >= params.InterestPeriod {
		accrual, err := e.AccrueInterest(now)
		if err != nil {
			return report, err
		}
		report.Accrual = &accrual
	}
	return report, nil
}
