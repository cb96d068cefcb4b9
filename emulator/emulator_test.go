package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/ticket"
)

func ledgerTestHelper(t *testing.T) *Ledger {
	l, err := New(Config{DepositBase: 100, DepositPerByte: 1})
	require.NoError(t, err)
	return l
}

func TestFundAndSnapshot(t *testing.T) {
	ctx := context.Background()
	l := ledgerTestHelper(t)

	a, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	b, err := l.GenerateAddress(ctx)
	require.NoError(t, err)

	_, err = l.Fund(ctx, a, 10)
	require.NoError(t, err)
	_, err = l.Fund(ctx, a, 5)
	require.NoError(t, err)

	funded, err := l.AddressesWithUnspentOutputs(ctx)
	require.NoError(t, err)
	require.Len(t, funded, 1)
	assert.Equal(t, a, funded[0].Address)
	assert.Len(t, funded[0].OutputIDs, 2)

	outs, err := l.UnspentOutputs(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), outs[0].Amount)

	o, err := l.Output(ctx, funded[0].OutputIDs[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(5), o.Amount)

	outs, err = l.UnspentOutputs(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, outs)

	_, err = l.Fund(ctx, "not-an-address", 1)
	assert.ErrorIs(t, err, ErrAddressInvalid)
}

func TestMintDrawsDeposit(t *testing.T) {
	ctx := context.Background()
	l := ledgerTestHelper(t)
	funding, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, funding, 250)
	require.NoError(t, err)

	r, err := l.Mint(ctx, funding, []ticket.MintItem{{Metadata: []byte("collection")}})
	require.NoError(t, err)
	require.NoError(t, l.AwaitConfirmation(ctx, r))
	collection := l.TicketID(r, 0)

	r, err = l.Mint(ctx, funding, []ticket.MintItem{
		{Metadata: []byte("a"), Issuer: collection},
		{Metadata: []byte("b"), Issuer: collection},
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	outs, err := l.UnspentOutputs(ctx, funding)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, uint64(140), outs[0].Amount)

	_, err = l.Fund(ctx, funding, 100)
	require.NoError(t, err)
	r, err = l.Mint(ctx, funding, []ticket.MintItem{
		{Metadata: []byte("a"), Issuer: collection},
		{Metadata: []byte("b"), Issuer: collection},
	})
	require.NoError(t, err)

	tickets, err := l.Tickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 3)
	assert.Equal(t, collection, tickets[0].ID)
	assert.Equal(t, l.TicketID(r, 1), tickets[2].ID)
	assert.Equal(t, collection, tickets[2].Issuer)
	assert.Equal(t, l.Treasury(), tickets[2].Owner)

	_, err = l.Mint(ctx, funding, []ticket.MintItem{{Metadata: []byte("x"), Issuer: "0xmissing"}})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestSendTicketsAndFunds(t *testing.T) {
	ctx := context.Background()
	l := ledgerTestHelper(t)
	funding, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	buyer, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	issuer, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, funding, 1000)
	require.NoError(t, err)

	r, err := l.Mint(ctx, funding, []ticket.MintItem{{Metadata: []byte("t")}})
	require.NoError(t, err)
	id := l.TicketID(r, 0)

	_, err = l.SendTickets(ctx, []ticket.Transfer{{TicketID: id, To: buyer}}, "tag-tickets")
	require.NoError(t, err)
	owned, err := l.TicketsOf(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	_, err = l.SendTickets(ctx, []ticket.Transfer{{TicketID: id, To: buyer}}, "tag-again")
	assert.ErrorIs(t, err, ErrTicketNotOwned)

	_, err = l.SendFunds(ctx, funding, issuer, 500, "tag-funds")
	require.NoError(t, err)
	outs, err := l.UnspentOutputs(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), outs[0].Amount)

	for _, tag := range []string{"tag-tickets", "tag-funds"} {
		ok, err := l.TransferExists(ctx, tag)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.TransferExists(ctx, "tag-again")
	require.NoError(t, err)
	assert.False(t, ok)

	moved, err := l.TransferredTickets(ctx, "tag-tickets")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, moved)
	moved, err = l.TransferredTickets(ctx, "tag-funds")
	require.NoError(t, err)
	assert.Empty(t, moved)
	_, err = l.TransferredTickets(ctx, "tag-again")
	assert.ErrorIs(t, err, ErrReceiptNotFound)

	held, err := l.Tickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, held)
	minted, err := l.MintedTickets(ctx)
	require.NoError(t, err)
	require.Len(t, minted, 1)
	assert.Equal(t, buyer, minted[0].Owner)
}

func TestAwaitConfirmationLatency(t *testing.T) {
	ctx := context.Background()
	l, err := New(Config{ConfirmationMs: 50})
	require.NoError(t, err)
	funding, err := l.GenerateAddress(ctx)
	require.NoError(t, err)
	_, err = l.Fund(ctx, funding, 1_000_000)
	require.NoError(t, err)

	r, err := l.Mint(ctx, funding, []ticket.MintItem{{Metadata: []byte("t")}})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.AwaitConfirmation(short, r), ErrConfirmationTimedOut)
	assert.NoError(t, l.AwaitConfirmation(ctx, r))
	assert.ErrorIs(t, l.AwaitConfirmation(ctx, ticket.Receipt{TransactionID: "unknown"}), ErrReceiptNotFound)
}

func TestInjectFault(t *testing.T) {
	ctx := context.Background()
	l := ledgerTestHelper(t)
	l.InjectFault(OpTickets, 1)
	assert.Equal(t, 1, l.PendingFaults(OpTickets))

	_, err := l.Tickets(ctx)
	assert.ErrorIs(t, err, ErrInjectedFault)
	_, err = l.Tickets(ctx)
	assert.NoError(t, err)
}
