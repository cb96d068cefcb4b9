package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/bartossh/Ticketeer/ticket"
)

// MintInput is the issuer intent to create an event with its tickets.
type MintInput struct {
	TicketName    string `json:"ticket_name"`
	IssuerAddress string `json:"issuer_address"`
	IssuerName    string `json:"issuer_name"`
	Description   string `json:"description"`
	TicketAmount  int    `json:"ticket_amount"`
	TicketPrice   uint64 `json:"ticket_price"`
	EventDate     string `json:"event_date"`
	File          []byte `json:"-"`
}

// MintReceipt is returned to the issuer when the mint request is staged.
type MintReceipt struct {
	ReceivingAddress string                `json:"creation_request_address"`
	IssuerAddress    string                `json:"issuer_address"`
	EventID          string                `json:"event_id"`
	Options          []ticket.TicketOption `json:"nft_options"`
	RequiredDeposit  uint64                `json:"minimum_storage_deposit"`
	CreatedAt        time.Time             `json:"creation_request_timestamp"`
}

// PurchaseInput is the buyer intent to buy tickets of the event.
type PurchaseInput struct {
	BuyerAddress string `json:"buyer_address"`
	Quantity     int    `json:"ticket_amount"`
}

// PurchaseReceipt is returned to the buyer when the purchase request is staged.
type PurchaseReceipt struct {
	ReceivingAddress string    `json:"buy_request_address"`
	EventID          string    `json:"event_id"`
	Quantity         int       `json:"ticket_amount"`
	TotalPrice       uint64    `json:"total_price"`
	CreatedAt        time.Time `json:"buy_request_timestamp"`
}

// CreateMintRequest validates issuer input, allocates a receiving address and stages the mint request.
// The issuer has to send the required deposit to the receiving address before the request expires.
func (e *Engine) CreateMintRequest(ctx context.Context, in MintInput) (MintReceipt, error) {
	if err := e.validateMint(in); err != nil {
		return MintReceipt{}, err
	}

	var uri string
	if len(in.File) > 0 && e.uploader != nil {
		var err error
		uri, err = e.uploader.AddFile(ctx, in.File)
		if err != nil {
			return MintReceipt{}, errors.Join(ticket.ErrInvalidRequest, ErrUploadFailed, err)
		}
	}

	address, err := e.ledger.GenerateAddress(ctx)
	if err != nil {
		return MintReceipt{}, errors.Join(ticket.ErrTransientLedger, err)
	}

	eventID := uuid.NewString()
	options := make([]ticket.TicketOption, 0, in.TicketAmount+1)
	var deposit uint64
	for serial := 0; serial <= in.TicketAmount; serial++ {
		kind := ticket.SaleableItem
		if serial == 0 {
			kind = ticket.CollectionItem
		}
		m := ticket.Metadata{
			Standard:           ticket.Standard,
			Name:               fmt.Sprintf("%s #%d", in.TicketName, serial),
			IssuerName:         in.IssuerName,
			Description:        in.Description,
			URI:                uri,
			Kind:               kind,
			EventID:            eventID,
			EventIssuerAddress: in.IssuerAddress,
			TicketPrice:        in.TicketPrice,
			EventDate:          in.EventDate,
			RequestRef:         address,
			Serial:             serial,
		}
		raw, err := ticket.EncodeMetadata(m)
		if err != nil {
			return MintReceipt{}, errors.Join(ticket.ErrInvalidRequest, err)
		}
		d, err := e.ledger.MinimumDeposit(ctx, len(raw))
		if err != nil {
			return MintReceipt{}, errors.Join(ticket.ErrTransientLedger, err)
		}
		if serial == 0 {
			deposit += d // margin of one collection item deposit
		}
		deposit += d
		options = append(options, ticket.TicketOption{Kind: kind, Serial: serial, Metadata: m})
	}

	r := ticket.PendingRequest{
		Address:   address,
		Kind:      ticket.KindMint,
		CreatedAt: e.now(),
		Mint: &ticket.MintOrder{
			IssuerAddress:   in.IssuerAddress,
			EventID:         eventID,
			Options:         options,
			RequiredDeposit: deposit,
		},
	}
	if err := e.store.WritePending(ctx, r); err != nil {
		return MintReceipt{}, err
	}
	e.log.Info(fmt.Sprintf("mint request staged at [ %s ] for event [ %s ] with [ %d ] tickets", address, eventID, in.TicketAmount))

	return MintReceipt{
		ReceivingAddress: address,
		IssuerAddress:    in.IssuerAddress,
		EventID:          eventID,
		Options:          options,
		RequiredDeposit:  deposit,
		CreatedAt:        r.CreatedAt,
	}, nil
}

func (e *Engine) validateMint(in MintInput) error {
	if err := e.verifier.ValidateAddress(in.IssuerAddress); err != nil {
		return errors.Join(ticket.ErrInvalidRequest, ErrIssuerAddressInvalid, err)
	}
	if in.TicketName == "" {
		return errors.Join(ticket.ErrInvalidRequest, ErrTicketNameEmpty)
	}
	if in.EventDate == "" {
		return errors.Join(ticket.ErrInvalidRequest, ErrEventDateEmpty)
	}
	if in.TicketAmount < 1 || in.TicketAmount > e.maxTicks {
		return errors.Join(
			ticket.ErrInvalidRequest, ErrTicketAmountRange,
			fmt.Errorf("got [ %d ], allowed range [ 1, %d ]", in.TicketAmount, e.maxTicks),
		)
	}
	if limit := math.MaxUint64 / uint64(in.TicketAmount); in.TicketPrice > limit {
		return errors.Join(
			ticket.ErrInvalidRequest, ErrTicketPriceRange,
			fmt.Errorf("got [ %d ], maximum for [ %d ] tickets is [ %d ]", in.TicketPrice, in.TicketAmount, limit),
		)
	}
	return nil
}

// totalPrice multiplies ticket price by quantity. The product must fit uint64.
func totalPrice(price uint64, quantity int) (uint64, error) {
	hi, lo := bits.Mul64(price, uint64(quantity))
	if hi != 0 {
		return 0, errors.Join(
			ticket.ErrInvalidRequest, ErrPriceOverflow,
			fmt.Errorf("ticket price [ %d ] times quantity [ %d ]", price, quantity),
		)
	}
	return lo, nil
}

// CreatePurchaseRequest validates buyer input against the current event stock, allocates a receiving address
// and stages the purchase request. Tickets are not reserved until the payment arrives.
func (e *Engine) CreatePurchaseRequest(ctx context.Context, eventID string, in PurchaseInput) (PurchaseReceipt, error) {
	if err := e.verifier.ValidateAddress(in.BuyerAddress); err != nil {
		return PurchaseReceipt{}, errors.Join(ticket.ErrInvalidRequest, ErrBuyerAddressInvalid, err)
	}
	if in.Quantity < 1 {
		return PurchaseReceipt{}, errors.Join(ticket.ErrInvalidRequest, ErrQuantityNotPositive)
	}

	event, err := e.events.FreshEvent(ctx, eventID)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	reserved, err := e.store.ReadReservations(ctx)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	if available := len(availableTickets(event, reserved, "")); available < in.Quantity {
		return PurchaseReceipt{}, errors.Join(
			ticket.ErrInvalidRequest, ErrNotEnoughTickets,
			fmt.Errorf("event [ %s ] has [ %d ] tickets available, requested [ %d ]", eventID, available, in.Quantity),
		)
	}

	price, err := totalPrice(event.TicketPrice, in.Quantity)
	if err != nil {
		return PurchaseReceipt{}, err
	}
	minimum, err := e.ledger.MinimumDeposit(ctx, 0)
	if err != nil {
		return PurchaseReceipt{}, errors.Join(ticket.ErrTransientLedger, err)
	}
	address, err := e.ledger.GenerateAddress(ctx)
	if err != nil {
		return PurchaseReceipt{}, errors.Join(ticket.ErrTransientLedger, err)
	}

	if price < minimum {
		price = minimum
	}
	r := ticket.PendingRequest{
		Address:   address,
		Kind:      ticket.KindPurchase,
		CreatedAt: e.now(),
		Purchase: &ticket.PurchaseOrder{
			EventID:       eventID,
			BuyerAddress:  in.BuyerAddress,
			Quantity:      in.Quantity,
			RequiredPrice: price,
		},
	}
	if err := e.store.WritePending(ctx, r); err != nil {
		return PurchaseReceipt{}, err
	}
	e.log.Info(fmt.Sprintf("purchase request staged at [ %s ] for event [ %s ] with [ %d ] tickets", address, eventID, in.Quantity))

	return PurchaseReceipt{
		ReceivingAddress: address,
		EventID:          eventID,
		Quantity:         in.Quantity,
		TotalPrice:       price,
		CreatedAt:        r.CreatedAt,
	}, nil
}

// availableTickets lists saleable tickets of the event in creation order that are not reserved by anyone but holder.
func availableTickets(event ticket.Event, reserved map[string]string, holder string) []ticket.EventTicket {
	result := make([]ticket.EventTicket, 0, len(event.Tickets))
	for _, t := range event.Tickets {
		if t.Kind != ticket.SaleableItem {
			continue
		}
		if h, ok := reserved[t.TicketID]; ok && h != holder {
			continue
		}
		result = append(result, t)
	}
	return result
}
