package redemption

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/catalog"
	"github.com/bartossh/Ticketeer/emulator"
	"github.com/bartossh/Ticketeer/logging"
	"github.com/bartossh/Ticketeer/storage"
	"github.com/bartossh/Ticketeer/ticket"
	"github.com/bartossh/Ticketeer/wallet"
)

const eventID = "5a0c1f32-8c7e-4df1-9a55-0d8f2c1e6e77"

type fixture struct {
	protocol *Protocol
	holder   wallet.Wallet
	ticketID string
}

// protocolTestHelper mints a single ticket of the event and sends it to a fresh holder wallet.
func protocolTestHelper(t *testing.T) fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := logging.New(nil, nil, io.Discard)

	db, err := storage.CreateBadgerDB(ctx, "", log)
	require.NoError(t, err)
	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)
	c, err := catalog.New(catalog.Config{}, l, log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	funding, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, funding, 10_000_000)
	require.NoError(t, err)
	meta := func(kind ticket.ItemKind, serial int) []byte {
		raw, err := ticket.EncodeMetadata(ticket.Metadata{
			Name:               "Gig #0",
			Kind:               kind,
			EventID:            eventID,
			EventIssuerAddress: funding,
			EventDate:          "2026-11-01",
			Serial:             serial,
		})
		require.NoError(t, err)
		return raw
	}
	r, err := l.Mint(ctx, funding, []ticket.MintItem{{Metadata: meta(ticket.CollectionItem, 0)}})
	require.NoError(t, err)
	r, err = l.Mint(ctx, funding, []ticket.MintItem{{Metadata: meta(ticket.SaleableItem, 1), Issuer: l.TicketID(r, 0)}})
	require.NoError(t, err)
	ticketID := l.TicketID(r, 0)

	holder, err := wallet.New()
	require.NoError(t, err)
	_, err = l.SendTickets(ctx, []ticket.Transfer{{TicketID: ticketID, To: holder.Address()}}, "")
	require.NoError(t, err)

	p := New(Config{}, storage.New(db), c, wallet.NewVerifier(), log)
	return fixture{protocol: p, holder: holder, ticketID: ticketID}
}

func TestRedeemIsOneShot(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()

	_, err := f.protocol.CheckStatus(ctx, eventID, f.ticketID)
	assert.ErrorIs(t, err, ticket.ErrNotFound)
	assert.ErrorIs(t, err, ErrNotRedeemed)

	c, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token)

	at, err := f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(c.Token)), f.holder.PublicKeyHex())
	require.NoError(t, err)

	status, err := f.protocol.CheckStatus(ctx, eventID, f.ticketID)
	require.NoError(t, err)
	assert.True(t, at.Equal(status))

	_, err = f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)

	_, err = f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(c.Token)), f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
}

func TestRequestChallengeRequiresOwnership(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()
	stranger, err := wallet.New()
	require.NoError(t, err)

	_, err = f.protocol.RequestChallenge(ctx, eventID, f.ticketID, stranger.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrNotTicketOwner)

	_, err = f.protocol.RequestChallenge(ctx, eventID, f.ticketID, "0xnot-a-key")
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrPublicKeyInvalid)
}

func TestRequestChallengeUnknownTicketOrEvent(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()

	_, err := f.protocol.RequestChallenge(ctx, eventID, "0xmissing", f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrNotFound)

	_, err = f.protocol.RequestChallenge(ctx, "other-event", f.ticketID, f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrNotFound)
	assert.ErrorIs(t, err, ErrEventMismatch)
}

func TestRedeemExpiredChallenge(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()

	c, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)

	f.protocol.now = func() time.Time { return c.IssuedAt.Add(f.protocol.ttl + time.Second) }
	_, err = f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(c.Token)), f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrChallengeExpired)

	_, err = f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(c.Token)), f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrNotFound)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedeemRejectsInvalidSignature(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()

	first, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)
	second, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	for name, sig := range map[string]string{
		"stale token": f.holder.SignHex([]byte(first.Token)),
		"garbage":     "0xzz",
		"truncated":   f.holder.SignHex([]byte(second.Token))[:20],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.protocol.Redeem(ctx, eventID, f.ticketID, sig, f.holder.PublicKeyHex())
			assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
			assert.ErrorIs(t, err, ErrSignatureInvalid)
		})
	}

	_, err = f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(second.Token)), f.holder.PublicKeyHex())
	assert.NoError(t, err)
}

func TestRedeemWithoutChallenge(t *testing.T) {
	f := protocolTestHelper(t)
	_, err := f.protocol.Redeem(context.Background(), eventID, f.ticketID, "0x00", f.holder.PublicKeyHex())
	assert.ErrorIs(t, err, ticket.ErrNotFound)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestRedeemConcurrentlyOnce(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()
	c, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)
	sig := f.holder.SignHex([]byte(c.Token))

	var wg sync.WaitGroup
	var redeemed atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.protocol.Redeem(ctx, eventID, f.ticketID, sig, f.holder.PublicKeyHex()); err == nil {
				redeemed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), redeemed.Load())
}

func TestCheckStatusEventMismatch(t *testing.T) {
	f := protocolTestHelper(t)
	ctx := context.Background()
	c, err := f.protocol.RequestChallenge(ctx, eventID, f.ticketID, f.holder.PublicKeyHex())
	require.NoError(t, err)
	_, err = f.protocol.Redeem(ctx, eventID, f.ticketID, f.holder.SignHex([]byte(c.Token)), f.holder.PublicKeyHex())
	require.NoError(t, err)

	_, err = f.protocol.CheckStatus(ctx, "other-event", f.ticketID)
	assert.ErrorIs(t, err, ticket.ErrInvalidRequest)
	assert.ErrorIs(t, err, ErrEventMismatch)
}
