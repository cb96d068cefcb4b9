package emulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartossh/Ticketeer/ticket"
)

// Mint mints items in a single transaction paying storage deposits from the funding address.
// Item of index i gets id TicketID(receipt, i). Tickets are held by the treasury.
func (l *Ledger) Mint(ctx context.Context, funding string, items []ticket.MintItem) (ticket.Receipt, error) {
	if err := l.faults.take(OpMint); err != nil {
		return ticket.Receipt{}, err
	}
	if len(items) == 0 {
		return ticket.Receipt{}, ErrNothingToMint
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	var deposit uint64
	for _, it := range items {
		deposit += l.minimumDeposit(len(it.Metadata))
	}
	for _, it := range items {
		if it.Issuer == "" {
			continue
		}
		if _, ok := l.tickets[it.Issuer]; !ok {
			return ticket.Receipt{}, errors.Join(ErrTicketNotFound, fmt.Errorf("issuer [ %s ]", it.Issuer))
		}
	}

	txID := l.nextTransactionID()
	if err := l.spend(txID, funding, deposit); err != nil {
		return ticket.Receipt{}, err
	}
	now := l.now()
	for i, it := range items {
		id := ticketID(txID, i)
		l.tickets[id] = &ticket.Ticket{
			ID:        id,
			Amount:    l.minimumDeposit(len(it.Metadata)),
			Owner:     l.treasury,
			Issuer:    it.Issuer,
			Metadata:  append([]byte(nil), it.Metadata...),
			CreatedAt: now,
		}
		l.order = append(l.order, id)
	}
	return l.submit(txID), nil
}

// Tickets lists tickets held by the treasury in creation order.
func (l *Ledger) Tickets(ctx context.Context) ([]ticket.Ticket, error) {
	return l.TicketsOf(ctx, l.treasury)
}

// TicketsOf lists tickets owned by the address in creation order.
func (l *Ledger) TicketsOf(ctx context.Context, owner string) ([]ticket.Ticket, error) {
	return l.filterTickets(func(t *ticket.Ticket) bool { return t.Owner == owner })
}

// MintedTickets lists every ticket ever minted in creation order regardless of its current owner.
func (l *Ledger) MintedTickets(ctx context.Context) ([]ticket.Ticket, error) {
	return l.filterTickets(func(*ticket.Ticket) bool { return true })
}

func (l *Ledger) filterTickets(match func(t *ticket.Ticket) bool) ([]ticket.Ticket, error) {
	if err := l.faults.take(OpTickets); err != nil {
		return nil, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	var result []ticket.Ticket
	for _, id := range l.order {
		t := l.tickets[id]
		if match(t) {
			result = append(result, copyTicket(t))
		}
	}
	return result, nil
}

// Ticket resolves ticket by id.
func (l *Ledger) Ticket(ctx context.Context, id string) (ticket.Ticket, error) {
	if err := l.faults.take(OpTicket); err != nil {
		return ticket.Ticket{}, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	t, ok := l.tickets[id]
	if !ok {
		return ticket.Ticket{}, errors.Join(ticket.ErrNotFound, ErrTicketNotFound, fmt.Errorf("ticket [ %s ]", id))
	}
	return copyTicket(t), nil
}

// SendTickets transfers treasury held tickets to the receivers in a single transaction tagged with tag.
func (l *Ledger) SendTickets(ctx context.Context, transfers []ticket.Transfer, tag string) (ticket.Receipt, error) {
	if err := l.faults.take(OpSendTickets); err != nil {
		return ticket.Receipt{}, err
	}
	l.mux.Lock()
	defer l.mux.Unlock()

	seen := make(map[string]struct{}, len(transfers))
	for _, tr := range transfers {
		if _, ok := seen[tr.TicketID]; ok {
			return ticket.Receipt{}, ErrDuplicatedTransfer
		}
		seen[tr.TicketID] = struct{}{}
		t, ok := l.tickets[tr.TicketID]
		if !ok {
			return ticket.Receipt{}, errors.Join(ErrTicketNotFound, fmt.Errorf("ticket [ %s ]", tr.TicketID))
		}
		if t.Owner != l.treasury {
			return ticket.Receipt{}, errors.Join(ErrTicketNotOwned, fmt.Errorf("ticket [ %s ]", tr.TicketID))
		}
		if err := walletHelper.ValidateAddress(tr.To); err != nil {
			return ticket.Receipt{}, errors.Join(ErrAddressInvalid, err)
		}
	}
	ids := make([]string, 0, len(transfers))
	for _, tr := range transfers {
		l.tickets[tr.TicketID].Owner = tr.To
		ids = append(ids, tr.TicketID)
	}
	txID := l.nextTransactionID()
	r := l.submit(txID)
	if tag != "" {
		l.transfers[tag] = transfer{receipt: r, tickets: ids}
	}
	return r, nil
}

// SendFunds sends amount from the address to the receiver in a single transaction tagged with tag.
func (l *Ledger) SendFunds(ctx context.Context, from, to string, amount uint64, tag string) (ticket.Receipt, error) {
	if err := l.faults.take(OpSendFunds); err != nil {
		return ticket.Receipt{}, err
	}
	if amount == 0 {
		return ticket.Receipt{}, ErrAmountNotPositive
	}
	if err := walletHelper.ValidateAddress(to); err != nil {
		return ticket.Receipt{}, errors.Join(ErrAddressInvalid, err)
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	txID := l.nextTransactionID()
	if err := l.spend(txID, from, amount); err != nil {
		return ticket.Receipt{}, err
	}
	l.createOutput(txID, 0, to, amount)
	r := l.submit(txID)
	if tag != "" {
		l.transfers[tag] = transfer{receipt: r}
	}
	return r, nil
}

// TransferExists reports whether a transfer tagged with tag has been submitted.
func (l *Ledger) TransferExists(ctx context.Context, tag string) (bool, error) {
	if err := l.faults.take(OpTransferExists); err != nil {
		return false, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	_, ok := l.transfers[tag]
	return ok, nil
}

// TransferredTickets lists ids of tickets moved by the ticket transfer tagged with tag.
// Returns ErrReceiptNotFound if no transfer carries the tag.
func (l *Ledger) TransferredTickets(ctx context.Context, tag string) ([]string, error) {
	if err := l.faults.take(OpTransferExists); err != nil {
		return nil, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	tr, ok := l.transfers[tag]
	if !ok {
		return nil, errors.Join(ErrReceiptNotFound, fmt.Errorf("transfer tag [ %s ]", tag))
	}
	return append([]string(nil), tr.tickets...), nil
}

func copyTicket(t *ticket.Ticket) ticket.Ticket {
	c := *t
	c.Metadata = append([]byte(nil), t.Metadata...)
	return c
}
