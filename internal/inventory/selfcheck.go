package inventory

import (
	"context"
	"time"
)

// DefaultSelfCheckInterval is how often RunSelfCheck audits the seat map.
const DefaultSelfCheckInterval = 10 * time.Second

// SelfCheck counts available against total seats, logs the result and
// updates the gauges.  It only takes the read lock.
func (inv *Inventory) SelfCheck() Stats {
	st := inv.Stats()
	inv.metrics.SeatsAvailable.Set(float64(st.Available))
	inv.metrics.SeatsTotal.Set(float64(st.Total))
	inv.log.Info().Int("available", st.Available).Int("total", st.Total).Msg("seat check")
	return st
}

// RunSelfCheck calls SelfCheck every interval until ctx is done.  report,
// if non-nil, receives every result.
func (inv *Inventory) RunSelfCheck(ctx context.Context, interval time.Duration, report func(Stats)) {
	if interval <= 0 {
		interval = DefaultSelfCheckInterval
	}
	t := inv.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			st := inv.SelfCheck()
			if report != nil {
				report(st)
			}
		}
	}
}
