package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

const defaultChallengeTTLSeconds = 300

var (
	ErrAlreadyRedeemed   = errors.New("ticket is already redeemed")
	ErrNotRedeemed       = errors.New("ticket is not redeemed")
	ErrEventMismatch     = errors.New("ticket does not belong to the event")
	ErrNotTicketOwner    = errors.New("public key does not own the ticket")
	ErrPublicKeyInvalid  = errors.New("public key is malformed")
	ErrChallengeNotFound = errors.New("redemption challenge not found")
	ErrChallengeExpired  = errors.New("redemption challenge expired")
	ErrSignatureInvalid  = errors.New("challenge signature is not valid")
)

// Config contains configuration of the redemption protocol.
type Config struct {
	ChallengeTTLSeconds uint64 `yaml:"challenge_ttl_seconds"` // Time in which the issued challenge has to be signed.
}

// Store persists redemption challenges and redemption records.
type Store interface {
	WriteChallenge(ctx context.Context, c ticket.Challenge) error
	ReadChallenge(ctx context.Context, ticketID string) (ticket.Challenge, error)
	RemoveChallenge(ctx context.Context, ticketID string) error
	WriteRedemption(ctx context.Context, r ticket.Redemption) error
	ReadRedemption(ctx context.Context, ticketID string) (ticket.Redemption, error)
}

// TicketResolver resolves ledger ticket with its decoded metadata.
type TicketResolver interface {
	Ticket(ctx context.Context, id string) (ticket.Ticket, ticket.Metadata, error)
}

// Verifier verifies ownership and signatures.
type Verifier interface {
	OwnsAddress(publicKeyHex, address string) (bool, error)
	VerifyHex(message []byte, signatureHex, publicKeyHex string) error
}

// Protocol implements ticket redemption.
// A holder requests a challenge, signs its token with the key bound to the ticket and redeems the ticket once.
type Protocol struct {
	ttl      time.Duration
	store    Store
	tickets  TicketResolver
	verifier Verifier
	log      logger.Logger
	now      func() time.Time
}

// New creates redemption Protocol.
func New(cfg Config, store Store, tickets TicketResolver, verifier Verifier, log logger.Logger) *Protocol {
	if cfg.ChallengeTTLSeconds == 0 {
		cfg.ChallengeTTLSeconds = defaultChallengeTTLSeconds
	}
	return &Protocol{
		ttl:      time.Duration(cfg.ChallengeTTLSeconds) * time.Second,
		store:    store,
		tickets:  tickets,
		verifier: verifier,
		log:      log,
		now:      time.Now,
	}
}

// CheckStatus returns time of the ticket redemption.
func (p *Protocol) CheckStatus(ctx context.Context, eventID, ticketID string) (time.Time, error) {
	rec, err := p.store.ReadRedemption(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrRecordNotFound) {
			return time.Time{}, errors.Join(ticket.ErrNotFound, ErrNotRedeemed, fmt.Errorf("ticket [ %s ]", ticketID))
		}
		return time.Time{}, err
	}
	if rec.EventID != eventID {
		return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrEventMismatch)
	}
	_, m, err := p.tickets.Ticket(ctx, ticketID)
	if err != nil {
		return time.Time{}, err
	}
	if m.EventID != eventID {
		return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrEventMismatch)
	}
	return rec.RedeemedAt, nil
}

// RequestChallenge issues a fresh challenge for the ticket owner, replacing any outstanding challenge.
func (p *Protocol) RequestChallenge(ctx context.Context, eventID, ticketID, publicKeyHex string) (ticket.Challenge, error) {
	if err := p.eligible(ctx, eventID, ticketID, publicKeyHex); err != nil {
		return ticket.Challenge{}, err
	}
	c := ticket.Challenge{
		TicketID: ticketID,
		EventID:  eventID,
		Token:    uuid.NewString(),
		IssuedAt: p.now(),
	}
	if err := p.store.WriteChallenge(ctx, c); err != nil {
		return ticket.Challenge{}, err
	}
	return c, nil
}

// Redeem verifies the signature over the outstanding challenge token and records the ticket as redeemed.
func (p *Protocol) Redeem(ctx context.Context, eventID, ticketID, signatureHex, publicKeyHex string) (time.Time, error) {
	if err := p.eligible(ctx, eventID, ticketID, publicKeyHex); err != nil {
		return time.Time{}, err
	}

	c, err := p.store.ReadChallenge(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrRecordNotFound) {
			return time.Time{}, errors.Join(ticket.ErrNotFound, ErrChallengeNotFound, fmt.Errorf("ticket [ %s ]", ticketID))
		}
		return time.Time{}, err
	}
	if c.EventID != eventID {
		return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrEventMismatch)
	}
	now := p.now()
	if now.Sub(c.IssuedAt) > p.ttl {
		if err := p.store.RemoveChallenge(ctx, ticketID); err != nil {
			p.log.Warn(fmt.Sprintf("expired challenge of ticket [ %s ] not removed, %s", ticketID, err))
		}
		return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrChallengeExpired)
	}
	if err := p.verifier.VerifyHex([]byte(c.Token), signatureHex, publicKeyHex); err != nil {
		return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrSignatureInvalid, err)
	}

	rec := ticket.Redemption{TicketID: ticketID, EventID: eventID, RedeemedAt: now}
	if err := p.store.WriteRedemption(ctx, rec); err != nil {
		if errors.Is(err, ticket.ErrRecordExists) {
			return time.Time{}, errors.Join(ticket.ErrInvalidRequest, ErrAlreadyRedeemed)
		}
		return time.Time{}, err
	}
	if err := p.store.RemoveChallenge(ctx, ticketID); err != nil {
		p.log.Warn(fmt.Sprintf("consumed challenge of ticket [ %s ] not removed, %s", ticketID, err))
	}
	p.log.Info(fmt.Sprintf("ticket [ %s ] of event [ %s ] redeemed", ticketID, eventID))
	return rec.RedeemedAt, nil
}

// eligible checks that the ticket is not redeemed, belongs to the event and is owned by the public key.
func (p *Protocol) eligible(ctx context.Context, eventID, ticketID, publicKeyHex string) error {
	_, err := p.store.ReadRedemption(ctx, ticketID)
	switch {
	case err == nil:
		return errors.Join(ticket.ErrInvalidRequest, ErrAlreadyRedeemed)
	case !errors.Is(err, ticket.ErrRecordNotFound):
		return err
	}

	t, m, err := p.tickets.Ticket(ctx, ticketID)
	if err != nil {
		return err
	}
	if m.EventID != eventID {
		return errors.Join(ticket.ErrNotFound, ErrEventMismatch, fmt.Errorf("ticket [ %s ], event [ %s ]", ticketID, eventID))
	}

	owns, err := p.verifier.OwnsAddress(publicKeyHex, t.Owner)
	if err != nil {
		return errors.Join(ticket.ErrInvalidRequest, ErrPublicKeyInvalid, err)
	}
	if !owns {
		return errors.Join(ticket.ErrInvalidRequest, ErrNotTicketOwner)
	}
	return nil
}
