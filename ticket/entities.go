package ticket

import (
	"sort"
	"strings"
	"time"
)

// Ticket is the ledger resident token.
// Owner is the address whose public key hash is bound by the unlock condition.
// Issuer is empty for collection items and holds the collection ticket id otherwise.
// Metadata is the immutable encoded blob, see DecodeMetadata.
type Ticket struct {
	ID        string    `msgpack:"id"         json:"ticket_id"`
	Amount    uint64    `msgpack:"amount"     json:"amount"`
	Owner     string    `msgpack:"owner"      json:"owner"`
	Issuer    string    `msgpack:"issuer"     json:"issuer"`
	Metadata  []byte    `msgpack:"metadata"   json:"-"`
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}

// Output is an unspent basic output holding funds.
type Output struct {
	ID      string `json:"output_id"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// FundedAddress is an address holding unspent outputs.
type FundedAddress struct {
	Address   string   `msgpack:"address"    json:"address"`
	OutputIDs []string `msgpack:"output_ids" json:"output_ids"`
}

// Snapshot is a point in time view of the addresses holding unspent funds.
type Snapshot struct {
	Addresses []FundedAddress `msgpack:"addresses" json:"addresses"`
	TakenAt   time.Time       `msgpack:"taken_at"  json:"taken_at"`
}

// Fingerprint returns order insensitive representation of the snapshot content.
func (s Snapshot) Fingerprint() string {
	entries := make([]string, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		ids := append([]string(nil), a.OutputIDs...)
		sort.Strings(ids)
		entries = append(entries, a.Address+"="+strings.Join(ids, ","))
	}
	sort.Strings(entries)
	return strings.Join(entries, ";")
}

// Receipt identifies a ledger transaction submitted by the ledger client.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	BlockID       string `json:"block_id"`
}

// MintItem is a single token to mint. Issuer is empty for the collection item.
type MintItem struct {
	Metadata []byte
	Issuer   string
}

// Transfer moves a ticket to the receiver address.
type Transfer struct {
	TicketID string
	To       string
}

// Challenge is a short lived random token the ticket holder signs to prove key ownership.
type Challenge struct {
	TicketID string    `msgpack:"ticket_id" json:"ticket_id" bson:"_id"`
	EventID  string    `msgpack:"event_id"  json:"event_id"  bson:"event_id"`
	Token    string    `msgpack:"token"     json:"token"     bson:"token"`
	IssuedAt time.Time `msgpack:"issued_at" json:"issued_at" bson:"issued_at"`
}

// Redemption is the permanent fact of a ticket being used.
type Redemption struct {
	TicketID   string    `msgpack:"ticket_id"   json:"ticket_id"   bson:"_id"`
	EventID    string    `msgpack:"event_id"    json:"event_id"    bson:"event_id"`
	RedeemedAt time.Time `msgpack:"redeemed_at" json:"redeemed_at" bson:"redeemed_at"`
}

// EventTicket identifies a ticket belonging to the event.
type EventTicket struct {
	TicketID string   `msgpack:"ticket_id" json:"ticket_id"`
	Name     string   `msgpack:"name"      json:"name"`
	Kind     ItemKind `msgpack:"kind"      json:"kind"`
}

// Event is a read model of tickets grouped by event id.
type Event struct {
	EventID       string        `msgpack:"event_id"       json:"event_id"`
	Name          string        `msgpack:"name"           json:"event_name"`
	Description   string        `msgpack:"description"    json:"description"`
	IssuerName    string        `msgpack:"issuer_name"    json:"issuer_name"`
	IssuerAddress string        `msgpack:"issuer_address" json:"issuer_address"`
	URI           string        `msgpack:"uri"            json:"uri"`
	TicketAmount  int           `msgpack:"ticket_amount"  json:"ticket_amount"`
	TicketPrice   uint64        `msgpack:"ticket_price"   json:"ticket_price_in_smallest_unit"`
	EventDate     string        `msgpack:"event_date"     json:"event_date"`
	Tickets       []EventTicket `msgpack:"tickets"        json:"tickets"`
}

// Notice informs about fulfilled request.
type Notice struct {
	Kind      Kind      `msgpack:"kind"       json:"kind"`
	Address   string    `msgpack:"address"    json:"address"`
	EventID   string    `msgpack:"event_id"   json:"event_id"`
	TicketIDs []string  `msgpack:"ticket_ids" json:"ticket_ids"`
	At        time.Time `msgpack:"at"         json:"at"`
}
