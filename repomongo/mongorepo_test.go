//go:build integration

package repomongo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/ticket"
)

const lease = time.Minute * 10

func connectTestHelper(t *testing.T) *DataBase {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	godotenv.Load("../.env")
	user := os.Getenv("MONGO_DB_USER")
	passwd := os.Getenv("MONGO_DB_PASSWORD")
	dbName := os.Getenv("MONGO_DB_NAME")

	db, err := Connect(ctx, Config{
		ConnStr: fmt.Sprintf(
			"mongodb://%s:%s@localhost:27017/?authSource=admin&readPreference=primary&ssl=false&directConnection=true",
			user, passwd),
		DatabaseName: dbName,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Disconnect(context.Background()) })
	return db
}

func TestPendingLifecycle(t *testing.T) {
	ctx := context.Background()
	db := connectTestHelper(t)
	now := time.Now()
	address := uuid.NewString()

	r := ticket.PendingRequest{
		Address:   address,
		Kind:      ticket.KindPurchase,
		CreatedAt: now.Add(-time.Hour),
		Purchase:  &ticket.PurchaseOrder{EventID: "e", BuyerAddress: "b", Quantity: 1, RequiredPrice: 7},
	}
	require.NoError(t, db.WritePending(ctx, r))
	assert.ErrorIs(t, db.WritePending(ctx, r), ticket.ErrRecordExists)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.ClaimPending(ctx, ticket.KindPurchase, address, now, lease)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	removed, err := db.RemoveExpiredPending(ctx, ticket.KindPurchase, address, now, now, lease)
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, db.ReleasePending(ctx, ticket.KindPurchase, address, now.Add(time.Second)), ticket.ErrRecordNotFound)
	require.NoError(t, db.ReleasePending(ctx, ticket.KindPurchase, address, now))
	removed, err = db.RemoveExpiredPending(ctx, ticket.KindPurchase, address, now, now, lease)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRedemptionInsertOnce(t *testing.T) {
	ctx := context.Background()
	db := connectTestHelper(t)
	ticketID := uuid.NewString()

	ok, err := db.ReserveTicket(ctx, ticketID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.ReserveTicket(ctx, ticketID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, db.ReleaseReservations(ctx, "alice"))

	now := time.Now()
	require.NoError(t, db.WriteRedemption(ctx, ticket.Redemption{TicketID: ticketID, EventID: "e", RedeemedAt: now}))
	assert.ErrorIs(t, db.WriteRedemption(ctx, ticket.Redemption{TicketID: ticketID, EventID: "e", RedeemedAt: now}), ticket.ErrRecordExists)
}
