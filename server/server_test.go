package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartossh/Ticketeer/catalog"
	"github.com/bartossh/Ticketeer/emulator"
	"github.com/bartossh/Ticketeer/fulfillment"
	"github.com/bartossh/Ticketeer/logging"
	"github.com/bartossh/Ticketeer/redemption"
	"github.com/bartossh/Ticketeer/storage"
	"github.com/bartossh/Ticketeer/ticket"
	"github.com/bartossh/Ticketeer/wallet"
)

type serverBed struct {
	app    *fiber.App
	cfg    Config
	deps   Dependencies
	engine *fulfillment.Engine
	ledger *emulator.Ledger
	feed   *NoticeFeed
}

type fakeUploader struct {
	got []byte
}

func (f *fakeUploader) AddFile(_ context.Context, data []byte) (string, error) {
	f.got = data
	return "ipfs://bafyposter", nil
}

func serverTestHelper(t *testing.T, cfg Config, opts ...fulfillment.Option) serverBed {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := logging.New(nil, nil, io.Discard)

	db, err := storage.CreateBadgerDB(ctx, "", log)
	require.NoError(t, err)
	store := storage.New(db)

	l, err := emulator.New(emulator.Config{})
	require.NoError(t, err)

	c, err := catalog.New(catalog.Config{CacheSeconds: 60}, l, log)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	verifier := wallet.NewVerifier()
	feed := NewNoticeFeed()
	opts = append(opts, fulfillment.WithNotifier(feed))
	engine := fulfillment.New(fulfillment.Config{}, store, l, c, verifier, log, opts...)
	protocol := redemption.New(redemption.Config{}, store, c, verifier, log)

	require.NoError(t, validateConfig(&cfg))
	deps := Dependencies{
		Fulfiller: engine,
		Redeemer:  protocol,
		Catalog:   c,
		Faucet:    l,
		Verifier:  verifier,
		Feed:      feed,
		Log:       log,
	}
	s := newServer(ctx, cfg, deps)
	return serverBed{app: s.router(cfg), cfg: cfg, deps: deps, engine: engine, ledger: l, feed: feed}
}

func (sb serverBed) address(t *testing.T) string {
	a, err := sb.ledger.GenerateAddress(context.Background())
	require.NoError(t, err)
	return a
}

func (sb serverBed) call(t *testing.T, method, url string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, url, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return sb.do(t, req)
}

func (sb serverBed) do(t *testing.T, req *http.Request) (int, []byte) {
	res, err := sb.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, raw
}

// pay funds the receiving address and runs a reconciliation pass over the ledger funds.
func (sb serverBed) pay(t *testing.T, address string, amount uint64) {
	ctx := context.Background()
	_, err := sb.ledger.Fund(ctx, address, amount)
	require.NoError(t, err)
	funded, err := sb.ledger.AddressesWithUnspentOutputs(ctx)
	require.NoError(t, err)
	report := sb.engine.Reconcile(ctx, ticket.Snapshot{Addresses: funded, TakenAt: time.Now()})
	require.Equal(t, 1, report.Fulfilled)
}

func multipartRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile(fileFormKey, "poster.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(fiber.MethodPost, CreateTicketsURL, &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func TestAlive(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080})
	status, raw := sb.call(t, fiber.MethodGet, AliveURL, nil)
	require.Equal(t, fiber.StatusOK, status)

	var res AliveResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, AliveResponse{Alive: true, APIVersion: ApiVersion, APIHeader: Header}, res)
}

func TestTicketLifecycle(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080})
	ctx := context.Background()
	issuer := sb.address(t)

	status, raw := sb.call(t, fiber.MethodPost, CreateTicketsURL, CreateTicketsRequest{
		TicketName:    "Jazz Night",
		IssuerAddress: issuer,
		IssuerName:    "Blue Dot",
		Description:   "Evening of jazz",
		TicketAmount:  2,
		TicketPrice:   250,
		EventDate:     "2026-12-24",
	})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	var mint fulfillment.MintReceipt
	require.NoError(t, json.Unmarshal(raw, &mint))
	require.Len(t, mint.Options, 3)
	assert.Equal(t, issuer, mint.IssuerAddress)
	sb.pay(t, mint.ReceivingAddress, mint.RequiredDeposit)

	status, raw = sb.call(t, fiber.MethodGet, EventsURL, nil)
	require.Equal(t, fiber.StatusOK, status)
	var events []ticket.Event
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 1)
	assert.Equal(t, mint.EventID, events[0].EventID)
	assert.Equal(t, 2, events[0].TicketAmount)

	status, raw = sb.call(t, fiber.MethodGet, "/tickets/events-by-issuer/"+issuer, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &events))
	assert.Len(t, events, 1)

	buyer, err := wallet.New()
	require.NoError(t, err)
	status, raw = sb.call(t, fiber.MethodPut, "/tickets/buy/"+mint.EventID, BuyTicketsRequest{
		BuyerAddress: buyer.Address(),
		TicketAmount: 1,
	})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	var purchase fulfillment.PurchaseReceipt
	require.NoError(t, json.Unmarshal(raw, &purchase))
	assert.Equal(t, 1, purchase.Quantity)
	sb.pay(t, purchase.ReceivingAddress, purchase.TotalPrice)

	owned, err := sb.ledger.TicketsOf(ctx, buyer.Address())
	require.NoError(t, err)
	require.Len(t, owned, 1)
	ticketID := owned[0].ID

	status, raw = sb.call(t, fiber.MethodGet, "/tickets/ticket/"+ticketID, nil)
	require.Equal(t, fiber.StatusOK, status)
	var tr TicketResponse
	require.NoError(t, json.Unmarshal(raw, &tr))
	assert.Equal(t, buyer.Address(), tr.Ticket.Owner)
	assert.Equal(t, mint.EventID, tr.Metadata.EventID)

	statusURL := fmt.Sprintf("/tickets/redemption/%s/%s", mint.EventID, ticketID)
	status, _ = sb.call(t, fiber.MethodGet, statusURL, nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, raw = sb.call(t, fiber.MethodPut, fmt.Sprintf("/tickets/redemption-challenge/%s/%s", mint.EventID, ticketID),
		RedemptionChallengeRequest{PublicKey: buyer.PublicKeyHex()})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	var ch RedemptionChallengeResponse
	require.NoError(t, json.Unmarshal(raw, &ch))
	require.NotEmpty(t, ch.Token)

	redeemURL := fmt.Sprintf("/tickets/redeem/%s/%s", mint.EventID, ticketID)
	redeem := RedeemRequest{SignedMessage: buyer.SignHex([]byte(ch.Token)), PublicKey: buyer.PublicKeyHex()}
	status, raw = sb.call(t, fiber.MethodPut, redeemURL, redeem)
	require.Equal(t, fiber.StatusOK, status, string(raw))
	var redeemed RedeemResponse
	require.NoError(t, json.Unmarshal(raw, &redeemed))

	status, raw = sb.call(t, fiber.MethodGet, statusURL, nil)
	require.Equal(t, fiber.StatusOK, status)
	var rs RedemptionStatusResponse
	require.NoError(t, json.Unmarshal(raw, &rs))
	assert.True(t, rs.RedeemedAt.Equal(redeemed.RedeemedAt))

	status, _ = sb.call(t, fiber.MethodPut, redeemURL, redeem)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCreateTicketsUploadsFile(t *testing.T) {
	uploader := &fakeUploader{}
	sb := serverTestHelper(t, Config{Port: 8080}, fulfillment.WithUploader(uploader))
	poster := bytes.Repeat([]byte{0x89}, 2048)

	status, raw := sb.do(t, multipartRequest(t, map[string]string{
		"ticket_name":    "Jazz Night",
		"issuer_address": sb.address(t),
		"issuer_name":    "Blue Dot",
		"ticket_amount":  "1",
		"ticket_price":   "100",
		"event_date":     "2026-12-24",
	}, poster))
	require.Equal(t, fiber.StatusOK, status, string(raw))

	var mint fulfillment.MintReceipt
	require.NoError(t, json.Unmarshal(raw, &mint))
	assert.Equal(t, poster, uploader.got)
	for _, o := range mint.Options {
		assert.Equal(t, "ipfs://bafyposter", o.Metadata.URI)
	}
}

func TestCreateTicketsRejectsOversizedFile(t *testing.T) {
	uploader := &fakeUploader{}
	sb := serverTestHelper(t, Config{Port: 8080, FileSizeBytes: 1024}, fulfillment.WithUploader(uploader))

	status, _ := sb.do(t, multipartRequest(t, map[string]string{
		"ticket_name":    "Jazz Night",
		"issuer_address": sb.address(t),
		"ticket_amount":  "1",
		"event_date":     "2026-12-24",
	}, make([]byte, 2048)))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Nil(t, uploader.got)
}

func TestRejectionsMapToStatus(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080})
	buyer, err := wallet.New()
	require.NoError(t, err)

	status, _ := sb.call(t, fiber.MethodPost, CreateTicketsURL, CreateTicketsRequest{
		TicketName:    "Jazz Night",
		IssuerAddress: "not-an-address",
		TicketAmount:  1,
		EventDate:     "2026-12-24",
	})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = sb.call(t, fiber.MethodPut, "/tickets/buy/unknown-event", BuyTicketsRequest{
		BuyerAddress: buyer.Address(),
		TicketAmount: 1,
	})
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = sb.call(t, fiber.MethodGet, "/tickets/events/unknown-event", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = sb.call(t, fiber.MethodGet, "/tickets/ticket/unknown-ticket", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = sb.call(t, fiber.MethodPut, "/tickets/redemption-challenge/unknown-event/unknown-ticket",
		RedemptionChallengeRequest{PublicKey: buyer.PublicKeyHex()})
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestStatusOf(t *testing.T) {
	cases := map[int]error{
		fiber.StatusBadRequest:          errors.Join(ticket.ErrInvalidRequest, errors.New("bad")),
		fiber.StatusNotFound:            errors.Join(ticket.ErrNotFound, errors.New("missing")),
		fiber.StatusServiceUnavailable:  errors.Join(ticket.ErrTransientLedger, errors.New("timeout")),
		fiber.StatusInternalServerError: errors.New("unexpected"),
	}
	for want, err := range cases {
		t.Run(strconv.Itoa(want), func(t *testing.T) {
			assert.Equal(t, want, statusOf(err))
		})
	}
}

func TestRateLimitOnStagingEndpoints(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080, RateLimitMax: 2, RateLimitSeconds: 60})

	for i := 0; i < 2; i++ {
		status, _ := sb.call(t, fiber.MethodPut, "/tickets/buy/unknown-event", BuyTicketsRequest{})
		assert.Equal(t, fiber.StatusBadRequest, status)
	}
	status, _ := sb.call(t, fiber.MethodPut, "/tickets/buy/unknown-event", BuyTicketsRequest{})
	assert.Equal(t, fiber.StatusTooManyRequests, status)

	status, _ = sb.call(t, fiber.MethodGet, EventsURL, nil)
	assert.Equal(t, fiber.StatusOK, status)
}

func TestFaucetFundsAddress(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080})
	addr := sb.address(t)

	status, raw := sb.call(t, fiber.MethodPost, FaucetURL, FundRequest{Address: addr, Amount: 1000})
	require.Equal(t, fiber.StatusOK, status, string(raw))
	var out ticket.Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, addr, out.Address)
	assert.Equal(t, uint64(1000), out.Amount)

	status, _ = sb.call(t, fiber.MethodPost, FaucetURL, FundRequest{Address: addr})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestNoticeStreamFiltersByAddress(t *testing.T) {
	sb := serverTestHelper(t, Config{Port: 8080})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() {
		served <- serve(ctx, sb.cfg, sb.deps, ln)
	}()

	base := fmt.Sprintf("ws://%s%s", ln.Addr().String(), WsURL)
	_, res, err := websocket.DefaultDialer.Dial(base+"?address=invalid", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)

	follower := sb.address(t)
	conn, _, err := websocket.DefaultDialer.Dial(base+"?address="+follower, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return sb.feed.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, sb.feed.PublishNotice(ticket.Notice{Kind: ticket.KindPurchase, Address: sb.address(t), EventID: "other"}))
	require.NoError(t, sb.feed.PublishNotice(ticket.Notice{Kind: ticket.KindMint, Address: follower, EventID: "followed"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, CommandNotice, msg.Command)
	require.NotNil(t, msg.Notice)
	assert.Equal(t, "followed", msg.Notice.EventID)
	assert.Equal(t, follower, msg.Notice.Address)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
