package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/allegro/bigcache"
	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	eventsKey           = "events"
	shards              = 16
	defaultCacheSeconds = 30
)

var ErrEventNotFound = errors.New("event not found")

// Config contains configuration of the events catalog.
type Config struct {
	CacheSeconds uint64 `yaml:"cache_seconds"`
}

// TicketReader reads tickets from the ledger.
type TicketReader interface {
	Tickets(ctx context.Context) ([]ticket.Ticket, error)
	Ticket(ctx context.Context, id string) (ticket.Ticket, error)
}

type entry struct {
	StoredAt time.Time      `msgpack:"stored_at"`
	Events   []ticket.Event `msgpack:"events"`
}

// Catalog provides read only queries of events grouped from marketplace held tickets.
// Results are cached for the configured time and invalidated after ledger mutations.
type Catalog struct {
	ledger    TicketReader
	mem       *bigcache.BigCache
	longevity time.Duration
	log       logger.Logger
}

// New creates Catalog.
func New(cfg Config, ledger TicketReader, log logger.Logger) (*Catalog, error) {
	if cfg.CacheSeconds == 0 {
		cfg.CacheSeconds = defaultCacheSeconds
	}
	longevity := time.Duration(cfg.CacheSeconds) * time.Second
	bcfg := bigcache.DefaultConfig(longevity)
	bcfg.Shards = shards
	bcfg.CleanWindow = longevity
	bcfg.Verbose = false
	mem, err := bigcache.NewBigCache(bcfg)
	if err != nil {
		return nil, err
	}
	return &Catalog{ledger: ledger, mem: mem, longevity: longevity, log: log}, nil
}

// Close releases the cache.
func (c *Catalog) Close() error {
	return c.mem.Close()
}

// Invalidate drops cached events, so next query reads the ledger.
func (c *Catalog) Invalidate() {
	if err := c.mem.Delete(eventsKey); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		c.log.Warn(fmt.Sprintf("catalog invalidation failed, %s", err))
	}
}

// Events lists all events.
func (c *Catalog) Events(ctx context.Context) ([]ticket.Event, error) {
	if events, ok := c.cached(); ok {
		return events, nil
	}
	return c.Fresh(ctx)
}

// Event returns event by id.
func (c *Catalog) Event(ctx context.Context, eventID string) (ticket.Event, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return ticket.Event{}, err
	}
	return find(events, eventID)
}

// FreshEvent returns event by id bypassing the cache.
func (c *Catalog) FreshEvent(ctx context.Context, eventID string) (ticket.Event, error) {
	events, err := c.Fresh(ctx)
	if err != nil {
		return ticket.Event{}, err
	}
	return find(events, eventID)
}

// EventsByIssuer lists events issued by the address.
func (c *Catalog) EventsByIssuer(ctx context.Context, issuerAddress string) ([]ticket.Event, error) {
	events, err := c.Events(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]ticket.Event, 0)
	for _, e := range events {
		if e.IssuerAddress == issuerAddress {
			result = append(result, e)
		}
	}
	return result, nil
}

// Ticket resolves ticket with its decoded metadata.
func (c *Catalog) Ticket(ctx context.Context, id string) (ticket.Ticket, ticket.Metadata, error) {
	t, err := c.ledger.Ticket(ctx, id)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return t, ticket.Metadata{}, err
		}
		return t, ticket.Metadata{}, errors.Join(ticket.ErrTransientLedger, err)
	}
	m, err := ticket.DecodeMetadata(t.Metadata)
	return t, m, err
}

// Fresh reads events from the ledger and refreshes the cache.
func (c *Catalog) Fresh(ctx context.Context) ([]ticket.Event, error) {
	tickets, err := c.ledger.Tickets(ctx)
	if err != nil {
		return nil, errors.Join(ticket.ErrTransientLedger, err)
	}
	events := c.group(tickets)
	c.store(events)
	return events, nil
}

func (c *Catalog) group(tickets []ticket.Ticket) []ticket.Event {
	events := make([]ticket.Event, 0)
	index := make(map[string]int)
	for _, t := range tickets {
		m, err := ticket.DecodeMetadata(t.Metadata)
		if err != nil {
			c.log.Warn(fmt.Sprintf("catalog skips ticket [ %s ], %s", t.ID, err))
			continue
		}
		i, ok := index[m.EventID]
		if !ok {
			i = len(events)
			index[m.EventID] = i
			events = append(events, ticket.Event{
				EventID:       m.EventID,
				Name:          EventName(m.Name),
				Description:   m.Description,
				IssuerName:    m.IssuerName,
				IssuerAddress: m.EventIssuerAddress,
				URI:           m.URI,
				TicketPrice:   m.TicketPrice,
				EventDate:     m.EventDate,
			})
		}
		e := &events[i]
		if m.Kind == ticket.CollectionItem {
			e.Name = EventName(m.Name)
		}
		if m.Kind == ticket.SaleableItem {
			e.TicketAmount++
		}
		e.Tickets = append(e.Tickets, ticket.EventTicket{TicketID: t.ID, Name: m.Name, Kind: m.Kind})
	}
	return events
}

func (c *Catalog) cached() ([]ticket.Event, bool) {
	raw, err := c.mem.Get(eventsKey)
	if err != nil {
		return nil, false
	}
	var e entry
	if err := msgpackv2.Unmarshal(raw, &e); err != nil {
		c.log.Warn(fmt.Sprintf("catalog cache entry is corrupted, %s", err))
		return nil, false
	}
	if time.Since(e.StoredAt) > c.longevity {
		return nil, false
	}
	return e.Events, true
}

func (c *Catalog) store(events []ticket.Event) {
	raw, err := msgpackv2.Marshal(entry{StoredAt: time.Now(), Events: events})
	if err != nil {
		c.log.Warn(fmt.Sprintf("catalog cache encoding failed, %s", err))
		return
	}
	if err := c.mem.Set(eventsKey, raw); err != nil {
		c.log.Warn(fmt.Sprintf("catalog cache write failed, %s", err))
	}
}

func find(events []ticket.Event, eventID string) (ticket.Event, error) {
	for _, e := range events {
		if e.EventID == eventID {
			return e, nil
		}
	}
	return ticket.Event{}, errors.Join(ticket.ErrNotFound, ErrEventNotFound, fmt.Errorf("event [ %s ]", eventID))
}

// EventName strips the " #<serial>" suffix from the ticket name.
func EventName(ticketName string) string {
	i := strings.LastIndex(ticketName, " #")
	if i < 0 {
		return ticketName
	}
	if _, err := strconv.Atoi(ticketName[i+2:]); err != nil {
		return ticketName
	}
	return ticketName[:i]
}
