package ticket

import (
	"errors"
	"fmt"

	msgpackv2 "github.com/shamaton/msgpack/v2"
)

// MetadataVersion is the current version of the ticket metadata schema.
const MetadataVersion byte = 1

// Standard is the NFT metadata standard the tickets follow.
const Standard = "IRC27"

// ItemKind tags a ticket as either the collection defining item or a saleable item.
type ItemKind byte

const (
	SaleableItem ItemKind = iota
	CollectionItem
)

// String returns a human readable item kind.
func (k ItemKind) String() string {
	if k == CollectionItem {
		return "collection"
	}
	return "saleable"
}

var (
	ErrMetadataEmpty          = errors.New("metadata blob is empty")
	ErrMetadataVersion        = errors.New("metadata version is not supported")
	ErrMetadataMissingField   = errors.New("metadata is missing a required attribute")
	ErrMetadataMalformed      = errors.New("metadata blob is malformed")
	ErrMetadataUnknownKind    = errors.New("metadata item kind is unknown")
	ErrMetadataEncodingFailed = errors.New("metadata encoding failed")
)

var requiredMetadataFields = []string{"name", "event_id", "event_issuer_address", "event_date", "ticket_price", "kind"}

// Metadata is the immutable, explicitly typed metadata carried by every ticket on the ledger.
type Metadata struct {
	Standard           string   `msgpack:"standard"             json:"standard"             bson:"standard"`
	Name               string   `msgpack:"name"                 json:"name"                 bson:"name"`
	IssuerName         string   `msgpack:"issuer_name"          json:"issuer_name"          bson:"issuer_name"`
	Description        string   `msgpack:"description"          json:"description"          bson:"description"`
	URI                string   `msgpack:"uri"                  json:"uri"                  bson:"uri"`
	Kind               ItemKind `msgpack:"kind"                 json:"kind"                 bson:"kind"`
	EventID            string   `msgpack:"event_id"             json:"event_id"             bson:"event_id"`
	EventIssuerAddress string   `msgpack:"event_issuer_address" json:"event_issuer_address" bson:"event_issuer_address"`
	TicketPrice        uint64   `msgpack:"ticket_price"         json:"ticket_price"         bson:"ticket_price"`
	EventDate          string   `msgpack:"event_date"           json:"event_date"           bson:"event_date"`
	RequestRef         string   `msgpack:"request_ref"          json:"request_ref"          bson:"request_ref"`
	Serial             int      `msgpack:"serial"               json:"serial"               bson:"serial"`
}

// Validate checks that all required attributes carry a value.
func (m *Metadata) Validate() error {
	missing := func(name string) error {
		return errors.Join(ErrDataCorruption, ErrMetadataMissingField, fmt.Errorf("attribute [ %s ]", name))
	}
	switch {
	case m.Name == "":
		return missing("name")
	case m.EventID == "":
		return missing("event_id")
	case m.EventIssuerAddress == "":
		return missing("event_issuer_address")
	case m.EventDate == "":
		return missing("event_date")
	}
	if m.Kind != SaleableItem && m.Kind != CollectionItem {
		return errors.Join(ErrDataCorruption, ErrMetadataUnknownKind)
	}
	return nil
}

// EncodeMetadata encodes metadata as a version byte followed by the msgpack body.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Standard == "" {
		m.Standard = Standard
	}
	body, err := msgpackv2.Marshal(m)
	if err != nil {
		return nil, errors.Join(ErrMetadataEncodingFailed, err)
	}
	return append([]byte{MetadataVersion}, body...), nil
}

// DecodeMetadata decodes versioned metadata blob.
// All required attributes have to be present in the blob, otherwise ErrDataCorruption is returned.
func DecodeMetadata(raw []byte) (Metadata, error) {
	var m Metadata
	if len(raw) == 0 {
		return m, errors.Join(ErrDataCorruption, ErrMetadataEmpty)
	}
	if raw[0] != MetadataVersion {
		return m, errors.Join(ErrDataCorruption, ErrMetadataVersion, fmt.Errorf("version [ %d ]", raw[0]))
	}
	body := raw[1:]

	var fields map[string]any
	if err := msgpackv2.Unmarshal(body, &fields); err != nil {
		return m, errors.Join(ErrDataCorruption, ErrMetadataMalformed, err)
	}
	for _, f := range requiredMetadataFields {
		if _, ok := fields[f]; !ok {
			return m, errors.Join(ErrDataCorruption, ErrMetadataMissingField, fmt.Errorf("attribute [ %s ]", f))
		}
	}

	if err := msgpackv2.Unmarshal(body, &m); err != nil {
		return m, errors.Join(ErrDataCorruption, ErrMetadataMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}
