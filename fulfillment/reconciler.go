package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bartossh/Ticketeer/ticket"
)

type outcome int

const (
	fulfilled outcome = iota
	underfunded
	failed
)

// Report summarizes a single reconciliation pass.
type Report struct {
	Swept       int
	Corrupted   int
	Matched     int
	Claimed     int
	Fulfilled   int
	Underfunded int
	Failed      int
}

func (r *Report) add(o outcome) {
	switch o {
	case fulfilled:
		r.Fulfilled++
	case underfunded:
		r.Underfunded++
	default:
		r.Failed++
	}
}

// Run reconciles every snapshot received from the channel until ctx is done or the channel is closed.
// Each pass runs in its own goroutine, Run waits for all started passes before returning.
func (e *Engine) Run(ctx context.Context, snapshots <-chan ticket.Snapshot) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			wg.Add(1)
			go func(s ticket.Snapshot) {
				defer wg.Done()
				e.Reconcile(ctx, s)
			}(s)
		}
	}
}

// Reconcile matches funded addresses of the snapshot against pending requests, claims every match exclusively
// and dispatches claimed requests to the executors. Reconcile blocks until all dispatched executors finish.
func (e *Engine) Reconcile(ctx context.Context, s ticket.Snapshot) Report {
	start := time.Now()
	defer func() { e.measurer.RecordHistogramTime(metricReconcilePass, time.Since(start)) }()

	var report Report
	now := e.now()
	index := make(map[string]ticket.PendingRequest)
	for _, kind := range ticket.Kinds() {
		pending, err := e.store.ReadPending(ctx, kind)
		if err != nil {
			e.log.Error(fmt.Sprintf("reconciler cannot read pending [ %s ] requests, %s", kind, err))
			continue
		}
		for _, r := range pending {
			if r.Sweepable(now, e.ttl, e.lease) {
				ok, err := e.remove(ctx, r, now)
				if err != nil {
					e.log.Error(fmt.Sprintf("reconciler cannot remove expired request [ %s ], %s", r.Address, err))
				}
				if ok {
					report.Swept++
				}
				continue
			}
			if err := r.Validate(); err != nil {
				e.log.Warn(fmt.Sprintf("reconciler skips corrupted request [ %s ], %s", r.Address, err))
				report.Corrupted++
				continue
			}
			index[r.Address] = r
		}
	}

	claimed := make([]ticket.PendingRequest, 0)
	for _, funded := range s.Addresses {
		r, ok := index[funded.Address]
		if !ok {
			continue
		}
		report.Matched++
		if !r.Claimable(now, e.lease) {
			continue
		}
		ok, err := e.store.ClaimPending(ctx, r.Kind, r.Address, now, e.lease)
		if err != nil {
			e.log.Error(fmt.Sprintf("reconciler cannot claim request [ %s ], %s", r.Address, err))
			continue
		}
		if !ok {
			continue
		}
		report.Claimed++
		claimed = append(claimed, r)
	}
	if len(claimed) == 0 {
		return report
	}

	// Every claim of the pass is taken after start, so attempts end before any of them turns stale.
	ctxLease, cancel := context.WithDeadline(ctx, start.Add(e.lease))
	defer cancel()

	outcomes := make([]outcome, len(claimed))
	var g errgroup.Group
	for i, r := range claimed {
		i, r := i, r
		g.Go(func() error {
			outcomes[i] = e.attempt(ctxLease, r, now)
			return nil
		})
	}
	g.Wait()

	for _, o := range outcomes {
		report.add(o)
	}
	return report
}

// attempt runs a single fulfillment attempt of the request claimed at claimedAt.
// The claim is released when the request is neither fulfilled nor removed.
// A claim taken over by another pass after the lease stays with that pass.
func (e *Engine) attempt(ctx context.Context, r ticket.PendingRequest, claimedAt time.Time) outcome {
	o := e.dispatch(ctx, r)
	if o == fulfilled {
		return o
	}
	if err := e.store.ReleasePending(context.WithoutCancel(ctx), r.Kind, r.Address, claimedAt); err != nil &&
		!errors.Is(err, ticket.ErrRecordNotFound) {
		e.log.Warn(fmt.Sprintf("claim of request [ %s ] not released, it is reclaimable after the lease, %s", r.Address, err))
	}
	return o
}

func (e *Engine) dispatch(ctx context.Context, r ticket.PendingRequest) outcome {
	started, err := e.started(ctx, r)
	if err != nil {
		e.log.Error(fmt.Sprintf("progress of [ %s ] request [ %s ] unknown, %s", r.Kind, r.Address, err))
		return failed
	}
	if !started {
		received, err := e.received(ctx, r.Address)
		if err != nil {
			e.log.Error(fmt.Sprintf("funds of [ %s ] request [ %s ] unknown, %s", r.Kind, r.Address, err))
			return failed
		}
		if received < r.Required() {
			e.log.Info(fmt.Sprintf(
				"[ %s ] request [ %s ] waits, %s, received [ %d ], required [ %d ]",
				r.Kind, r.Address, ErrUnderfunded, received, r.Required(),
			))
			return underfunded
		}
	}

	switch r.Kind {
	case ticket.KindMint:
		err = e.executeMint(ctx, r)
	case ticket.KindPurchase:
		err = e.executePurchase(ctx, r)
	}
	if err != nil {
		e.log.Error(fmt.Sprintf("[ %s ] request [ %s ] not fulfilled, %s", r.Kind, r.Address, err))
		return failed
	}
	return fulfilled
}

// received sums unspent outputs held by the receiving address.
func (e *Engine) received(ctx context.Context, address string) (uint64, error) {
	outputs, err := e.ledger.UnspentOutputs(ctx, address)
	if err != nil {
		return 0, errors.Join(ticket.ErrTransientLedger, err)
	}
	var sum uint64
	for _, o := range outputs {
		sum += o.Amount
	}
	return sum, nil
}

// started reports whether the ledger already carries progress of the request.
func (e *Engine) started(ctx context.Context, r ticket.PendingRequest) (bool, error) {
	switch r.Kind {
	case ticket.KindMint:
		minted, err := e.minted(ctx, r.Address)
		return len(minted) > 0, err
	case ticket.KindPurchase:
		for _, tag := range []string{ticketsTag(r.Address), fundsTag(r.Address)} {
			ok, err := e.ledger.TransferExists(ctx, tag)
			if err != nil {
				return false, errors.Join(ticket.ErrTransientLedger, err)
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
