package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bartossh/Ticketeer/ticket"
)

// minted maps serials to ids of tickets already on the ledger minted for the request at the address,
// including tickets sold meanwhile.
func (e *Engine) minted(ctx context.Context, address string) (map[int]string, error) {
	tickets, err := e.ledger.MintedTickets(ctx)
	if err != nil {
		return nil, errors.Join(ticket.ErrTransientLedger, err)
	}
	result := make(map[int]string)
	for _, t := range tickets {
		m, err := ticket.DecodeMetadata(t.Metadata)
		if err != nil || m.RequestRef != address {
			continue
		}
		result[m.Serial] = t.ID
	}
	return result, nil
}

// executeMint mints the collection item and then all saleable items in a single batch,
// each followed by a confirmation wait. Items already on the ledger are not minted again.
func (e *Engine) executeMint(ctx context.Context, r ticket.PendingRequest) error {
	start := time.Now()
	defer func() { e.measurer.RecordHistogramTime(metricMintDuration, time.Since(start)) }()

	order := r.Mint
	existing, err := e.minted(ctx, r.Address)
	if err != nil {
		return err
	}

	collection, ok := order.Collection()
	if !ok {
		return errors.Join(ticket.ErrDataCorruption, ticket.ErrMissingCollection)
	}
	collectionID, ok := existing[collection.Serial]
	if !ok {
		raw, err := ticket.EncodeMetadata(collection.Metadata)
		if err != nil {
			return errors.Join(ticket.ErrDataCorruption, err)
		}
		receipt, err := e.ledger.Mint(ctx, r.Address, []ticket.MintItem{{Metadata: raw}})
		if err != nil {
			return errors.Join(ticket.ErrTransientLedger, err)
		}
		if err := e.ledger.AwaitConfirmation(ctx, receipt); err != nil {
			return errors.Join(ticket.ErrTransientLedger, err)
		}
		collectionID = e.ledger.TicketID(receipt, 0)
		existing[collection.Serial] = collectionID
		e.log.Info(fmt.Sprintf("collection [ %s ] minted for event [ %s ]", collectionID, order.EventID))
	}
	if collectionID == "" {
		return ErrCollectionUnavailable
	}

	missing := make([]ticket.TicketOption, 0)
	for _, opt := range order.Saleable() {
		if _, ok := existing[opt.Serial]; !ok {
			missing = append(missing, opt)
		}
	}
	if len(missing) > 0 {
		items := make([]ticket.MintItem, 0, len(missing))
		for _, opt := range missing {
			raw, err := ticket.EncodeMetadata(opt.Metadata)
			if err != nil {
				return errors.Join(ticket.ErrDataCorruption, err)
			}
			items = append(items, ticket.MintItem{Metadata: raw, Issuer: collectionID})
		}
		receipt, err := e.ledger.Mint(ctx, r.Address, items)
		if err != nil {
			return errors.Join(ticket.ErrTransientLedger, err)
		}
		if err := e.ledger.AwaitConfirmation(ctx, receipt); err != nil {
			return errors.Join(ticket.ErrTransientLedger, err)
		}
		for i, opt := range missing {
			existing[opt.Serial] = e.ledger.TicketID(receipt, i)
		}
		e.log.Info(fmt.Sprintf("[ %d ] tickets minted for event [ %s ]", len(missing), order.EventID))
	}

	if err := e.store.RemovePending(ctx, r.Kind, r.Address); err != nil && !errors.Is(err, ticket.ErrRecordNotFound) {
		return err
	}

	serials := make([]int, 0, len(existing))
	for s := range existing {
		serials = append(serials, s)
	}
	sort.Ints(serials)
	ids := make([]string, 0, len(serials))
	for _, s := range serials {
		ids = append(ids, existing[s])
	}
	e.notify(ticket.Notice{
		Kind:      ticket.KindMint,
		Address:   order.IssuerAddress,
		EventID:   order.EventID,
		TicketIDs: ids,
		At:        e.now(),
	})
	return nil
}
