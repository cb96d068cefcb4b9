package ticket

import (
	"errors"
	"fmt"
	"time"
)

// Kind names the pending request table.
type Kind byte

const (
	KindMint Kind = iota + 1
	KindPurchase
)

// String returns table name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMint:
		return "mint"
	case KindPurchase:
		return "purchase"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Kinds lists all pending request kinds.
func Kinds() []Kind {
	return []Kind{KindMint, KindPurchase}
}

var (
	ErrMissingAddress      = errors.New("pending request has no receiving address")
	ErrUnknownKind         = errors.New("pending request has unknown kind")
	ErrMissingOrder        = errors.New("pending request has no order matching its kind")
	ErrMissingOptions      = errors.New("mint order has no ticket options")
	ErrMissingCollection   = errors.New("mint order has no collection item")
	ErrMissingBuyer        = errors.New("purchase order has no buyer address")
	ErrMissingEvent        = errors.New("purchase order has no event id")
	ErrQuantityNotPositive = errors.New("purchase order quantity must be positive")
)

// TicketOption is a single ticket to be minted as part of a mint order.
type TicketOption struct {
	Kind     ItemKind `msgpack:"kind"     json:"kind"     bson:"kind"`
	Serial   int      `msgpack:"serial"   json:"serial"   bson:"serial"`
	Metadata Metadata `msgpack:"metadata" json:"metadata" bson:"metadata"`
}

// MintOrder is the payload of a pending mint request.
type MintOrder struct {
	IssuerAddress   string         `msgpack:"issuer_address"   json:"issuer_address"   bson:"issuer_address"`
	EventID         string         `msgpack:"event_id"         json:"event_id"         bson:"event_id"`
	Options         []TicketOption `msgpack:"options"          json:"options"          bson:"options"`
	RequiredDeposit uint64         `msgpack:"required_deposit" json:"required_deposit" bson:"required_deposit"`
}

// Collection returns the collection item of the order.
func (o *MintOrder) Collection() (TicketOption, bool) {
	for _, opt := range o.Options {
		if opt.Kind == CollectionItem {
			return opt, true
		}
	}
	return TicketOption{}, false
}

// Saleable returns saleable items of the order in serial order.
func (o *MintOrder) Saleable() []TicketOption {
	items := make([]TicketOption, 0, len(o.Options))
	for _, opt := range o.Options {
		if opt.Kind == SaleableItem {
			items = append(items, opt)
		}
	}
	return items
}

// PurchaseOrder is the payload of a pending purchase request.
type PurchaseOrder struct {
	EventID       string `msgpack:"event_id"       json:"event_id"       bson:"event_id"`
	BuyerAddress  string `msgpack:"buyer_address"  json:"buyer_address"  bson:"buyer_address"`
	Quantity      int    `msgpack:"quantity"       json:"quantity"       bson:"quantity"`
	RequiredPrice uint64 `msgpack:"required_price" json:"required_price" bson:"required_price"`
}

// PendingRequest is a staged intent awaiting funds at a dedicated receiving address.
// Exactly one of Mint or Purchase is set according to Kind.
type PendingRequest struct {
	Address   string         `msgpack:"address"    json:"address"    bson:"_id"`
	Kind      Kind           `msgpack:"kind"       json:"kind"       bson:"kind"`
	CreatedAt time.Time      `msgpack:"created_at" json:"created_at" bson:"created_at"`
	Claimed   bool           `msgpack:"claimed"    json:"claimed"    bson:"claimed"`
	ClaimedAt time.Time      `msgpack:"claimed_at" json:"claimed_at" bson:"claimed_at"`
	Mint      *MintOrder     `msgpack:"mint"       json:"mint"       bson:"mint,omitempty"`
	Purchase  *PurchaseOrder `msgpack:"purchase"   json:"purchase"   bson:"purchase,omitempty"`
}

// Required returns amount of funds that has to be received to fulfill the request.
func (p *PendingRequest) Required() uint64 {
	switch p.Kind {
	case KindMint:
		if p.Mint != nil {
			return p.Mint.RequiredDeposit
		}
	case KindPurchase:
		if p.Purchase != nil {
			return p.Purchase.RequiredPrice
		}
	}
	return 0
}

// Expired reports whether the request outlived its time to live.
func (p *PendingRequest) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.CreatedAt) > ttl
}

// ClaimLive reports whether the request holds a claim that is not older than the lease.
func (p *PendingRequest) ClaimLive(now time.Time, lease time.Duration) bool {
	return p.Claimed && now.Sub(p.ClaimedAt) <= lease
}

// Claimable reports whether the request can be claimed now.
func (p *PendingRequest) Claimable(now time.Time, lease time.Duration) bool {
	return !p.ClaimLive(now, lease)
}

// Sweepable reports whether the request may be removed by the sweeper.
func (p *PendingRequest) Sweepable(now time.Time, ttl, lease time.Duration) bool {
	return p.Expired(now, ttl) && !p.ClaimLive(now, lease)
}

// Validate checks structural invariants of the record.
func (p *PendingRequest) Validate() error {
	if p.Address == "" {
		return errors.Join(ErrDataCorruption, ErrMissingAddress)
	}
	switch p.Kind {
	case KindMint:
		if p.Mint == nil {
			return errors.Join(ErrDataCorruption, ErrMissingOrder)
		}
		if len(p.Mint.Options) == 0 {
			return errors.Join(ErrDataCorruption, ErrMissingOptions)
		}
		if _, ok := p.Mint.Collection(); !ok {
			return errors.Join(ErrDataCorruption, ErrMissingCollection)
		}
		for i := range p.Mint.Options {
			if err := p.Mint.Options[i].Metadata.Validate(); err != nil {
				return err
			}
		}
	case KindPurchase:
		if p.Purchase == nil {
			return errors.Join(ErrDataCorruption, ErrMissingOrder)
		}
		if p.Purchase.BuyerAddress == "" {
			return errors.Join(ErrDataCorruption, ErrMissingBuyer)
		}
		if p.Purchase.EventID == "" {
			return errors.Join(ErrDataCorruption, ErrMissingEvent)
		}
		if p.Purchase.Quantity < 1 {
			return errors.Join(ErrDataCorruption, ErrQuantityNotPositive)
		}
	default:
		return errors.Join(ErrDataCorruption, ErrUnknownKind)
	}
	return nil
}
