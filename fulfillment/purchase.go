package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bartossh/Ticketeer/ticket"
)

func ticketsTag(address string) string {
	return "purchase/tickets/" + address
}

func fundsTag(address string) string {
	return "purchase/funds/" + address
}

// executePurchase reserves tickets for the request, then concurrently transfers them to the buyer
// and forwards the payment to the event issuer. Transfers already present on the ledger are skipped.
func (e *Engine) executePurchase(ctx context.Context, r ticket.PendingRequest) error {
	start := time.Now()
	defer func() { e.measurer.RecordHistogramTime(metricPurchaseDuration, time.Since(start)) }()

	order := r.Purchase
	ticketsSent, err := e.ledger.TransferExists(ctx, ticketsTag(r.Address))
	if err != nil {
		return errors.Join(ticket.ErrTransientLedger, err)
	}
	fundsSent, err := e.ledger.TransferExists(ctx, fundsTag(r.Address))
	if err != nil {
		return errors.Join(ticket.ErrTransientLedger, err)
	}

	event, err := e.events.FreshEvent(ctx, order.EventID)
	if err != nil {
		return err
	}

	var selected []string
	if ticketsSent {
		selected, err = e.ledger.TransferredTickets(ctx, ticketsTag(r.Address))
		if err != nil {
			return errors.Join(ticket.ErrTransientLedger, err)
		}
	} else {
		selected, err = e.reserve(ctx, r.Address, event, order.Quantity)
		if err != nil {
			return err
		}
	}

	var g errgroup.Group
	if !ticketsSent {
		g.Go(func() error {
			transfers := make([]ticket.Transfer, 0, len(selected))
			for _, id := range selected {
				transfers = append(transfers, ticket.Transfer{TicketID: id, To: order.BuyerAddress})
			}
			receipt, err := e.ledger.SendTickets(ctx, transfers, ticketsTag(r.Address))
			if err != nil {
				return errors.Join(ticket.ErrTransientLedger, err)
			}
			if err := e.ledger.AwaitConfirmation(ctx, receipt); err != nil {
				return errors.Join(ticket.ErrTransientLedger, err)
			}
			return nil
		})
	}
	if !fundsSent {
		g.Go(func() error {
			receipt, err := e.ledger.SendFunds(ctx, r.Address, event.IssuerAddress, order.RequiredPrice, fundsTag(r.Address))
			if err != nil {
				return errors.Join(ticket.ErrTransientLedger, err)
			}
			if err := e.ledger.AwaitConfirmation(ctx, receipt); err != nil {
				return errors.Join(ticket.ErrTransientLedger, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.releaseReservations(ctx, r.Address)
		return err
	}

	if err := e.store.RemovePending(ctx, r.Kind, r.Address); err != nil && !errors.Is(err, ticket.ErrRecordNotFound) {
		return err
	}
	if err := e.store.ReleaseReservations(ctx, r.Address); err != nil {
		e.log.Warn(fmt.Sprintf("reservations of fulfilled request [ %s ] not released, %s", r.Address, err))
	}
	e.log.Info(fmt.Sprintf(
		"purchase [ %s ] of [ %d ] tickets of event [ %s ] fulfilled", r.Address, order.Quantity, order.EventID,
	))
	e.notify(ticket.Notice{
		Kind:      ticket.KindPurchase,
		Address:   order.BuyerAddress,
		EventID:   order.EventID,
		TicketIDs: selected,
		At:        e.now(),
	})
	return nil
}

// reserve reserves quantity of available tickets of the event for the holder in creation order.
// On shortage all reservations of the holder are released.
func (e *Engine) reserve(ctx context.Context, holder string, event ticket.Event, quantity int) ([]string, error) {
	reserved, err := e.store.ReadReservations(ctx)
	if err != nil {
		return nil, err
	}
	selected := make([]string, 0, quantity)
	for _, t := range availableTickets(event, reserved, holder) {
		if len(selected) == quantity {
			break
		}
		ok, err := e.store.ReserveTicket(ctx, t.TicketID, holder)
		if err != nil {
			e.releaseReservations(ctx, holder)
			return nil, err
		}
		if ok {
			selected = append(selected, t.TicketID)
		}
	}
	if len(selected) < quantity {
		e.releaseReservations(ctx, holder)
		return nil, errors.Join(
			ticket.ErrInvalidRequest, ErrStockShortage,
			fmt.Errorf("event [ %s ] reserved [ %d ], requested [ %d ]", event.EventID, len(selected), quantity),
		)
	}

	// Reservations are released after the transfer is applied, so a ticket reserved here is either
	// still in stock or already gone from the fresh event.
	fresh, err := e.events.FreshEvent(ctx, event.EventID)
	if err != nil {
		e.releaseReservations(ctx, holder)
		return nil, err
	}
	inStock := make(map[string]struct{}, len(fresh.Tickets))
	for _, t := range fresh.Tickets {
		inStock[t.TicketID] = struct{}{}
	}
	for _, id := range selected {
		if _, ok := inStock[id]; !ok {
			e.releaseReservations(ctx, holder)
			return nil, errors.Join(
				ticket.ErrInvalidRequest, ErrStockShortage, fmt.Errorf("ticket [ %s ] was sold meanwhile", id),
			)
		}
	}
	return selected, nil
}

func (e *Engine) releaseReservations(ctx context.Context, holder string) {
	if err := e.store.ReleaseReservations(context.WithoutCancel(ctx), holder); err != nil {
		e.log.Warn(fmt.Sprintf("reservations of [ %s ] not released, %s", holder, err))
	}
}
