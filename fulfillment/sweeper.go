package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/bartossh/Ticketeer/ticket"
)

// SweepReport summarizes a single sweep.
type SweepReport struct {
	Removed map[ticket.Kind]int
	Failed  int
}

// Total returns number of removed requests of all kinds.
func (r SweepReport) Total() int {
	var sum int
	for _, n := range r.Removed {
		sum += n
	}
	return sum
}

// Sweep removes every pending request that outlived its time to live and does not hold a live claim.
// Removal of a purchase request releases ticket reservations held by it.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	report := SweepReport{Removed: make(map[ticket.Kind]int, len(ticket.Kinds()))}
	for _, kind := range ticket.Kinds() {
		pending, err := e.store.ReadPending(ctx, kind)
		if err != nil {
			e.log.Error(fmt.Sprintf("sweeper cannot read pending [ %s ] requests, %s", kind, err))
			report.Failed++
			continue
		}
		now := e.now()
		for _, r := range pending {
			if !r.Sweepable(now, e.ttl, e.lease) {
				continue
			}
			ok, err := e.remove(ctx, r, now)
			if err != nil {
				e.log.Error(fmt.Sprintf("sweeper cannot remove [ %s ] request [ %s ], %s", kind, r.Address, err))
				report.Failed++
				continue
			}
			if ok {
				report.Removed[kind]++
			}
		}
	}
	if n := report.Total(); n > 0 {
		e.measurer.AddToGauge(metricSwept, float64(n))
		e.log.Info(fmt.Sprintf("sweeper removed [ %d ] expired requests", n))
	}
	return report
}

// remove conditionally deletes expired request, the store re-checks expiry and claim atomically.
func (e *Engine) remove(ctx context.Context, r ticket.PendingRequest, now time.Time) (bool, error) {
	ok, err := e.store.RemoveExpiredPending(ctx, r.Kind, r.Address, now.Add(-e.ttl), now, e.lease)
	if err != nil || !ok {
		return ok, err
	}
	if r.Kind == ticket.KindPurchase {
		if err := e.store.ReleaseReservations(ctx, r.Address); err != nil {
			e.log.Warn(fmt.Sprintf("reservations of swept request [ %s ] not released, %s", r.Address, err))
		}
	}
	return true, nil
}

// RunSweeper runs Sweep every sweep interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}
