package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/bartossh/Ticketeer/fulfillment"
	"github.com/bartossh/Ticketeer/ticket"
)

const fileFormKey = "file"

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
		})
}

// CreateTicketsRequest is a request to create an event with its tickets.
// It is sent as multipart form with an optional file or as a JSON body.
type CreateTicketsRequest struct {
	TicketName    string `json:"ticket_name"    form:"ticket_name"`
	IssuerAddress string `json:"issuer_address" form:"issuer_address"`
	IssuerName    string `json:"issuer_name"    form:"issuer_name"`
	Description   string `json:"description"    form:"description"`
	TicketAmount  int    `json:"ticket_amount"  form:"ticket_amount"`
	TicketPrice   uint64 `json:"ticket_price"   form:"ticket_price"`
	EventDate     string `json:"event_date"     form:"event_date"`
}

func (s *server) createTickets(c *fiber.Ctx) error {
	t := time.Now()
	defer func() {
		d := time.Since(t)
		s.tele.RecordHistogramTime(createTicketsTelemetryHistogram, d)
	}()

	var req CreateTicketsRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Warn(fmt.Sprintf("create tickets endpoint, cannot parse request from [ %s ]: %s", c.IP(), err))
		return fiber.ErrBadRequest
	}

	file, err := s.readFile(c)
	if err != nil {
		s.log.Warn(fmt.Sprintf("create tickets endpoint, cannot read file from [ %s ]: %s", c.IP(), err))
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	receipt, err := s.fulfill.CreateMintRequest(c.Context(), fulfillment.MintInput{
		TicketName:    req.TicketName,
		IssuerAddress: req.IssuerAddress,
		IssuerName:    req.IssuerName,
		Description:   req.Description,
		TicketAmount:  req.TicketAmount,
		TicketPrice:   req.TicketPrice,
		EventDate:     req.EventDate,
		File:          file,
	})
	if err != nil {
		return s.fail("create tickets", err)
	}
	return c.JSON(receipt)
}

func (s *server) readFile(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile(fileFormKey)
	if err != nil {
		if errors.Is(err, fasthttp.ErrMissingFile) || errors.Is(err, fasthttp.ErrNoMultipartForm) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Size > int64(s.fileSize) {
		return nil, fmt.Errorf("file size [ %d ] exceeds limit [ %d ]", fh.Size, s.fileSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, int64(s.fileSize)))
}

// BuyTicketsRequest is a request to buy tickets of the event.
type BuyTicketsRequest struct {
	BuyerAddress string `json:"buyer_address"`
	TicketAmount int    `json:"ticket_amount"`
}

func (s *server) buyTickets(c *fiber.Ctx) error {
	t := time.Now()
	defer func() {
		d := time.Since(t)
		s.tele.RecordHistogramTime(buyTicketsTelemetryHistogram, d)
	}()

	var req BuyTicketsRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Warn(fmt.Sprintf("buy tickets endpoint, cannot parse request from [ %s ]: %s", c.IP(), err))
		return fiber.ErrBadRequest
	}

	receipt, err := s.fulfill.CreatePurchaseRequest(c.Context(), c.Params("eventId"), fulfillment.PurchaseInput{
		BuyerAddress: req.BuyerAddress,
		Quantity:     req.TicketAmount,
	})
	if err != nil {
		return s.fail("buy tickets", err)
	}
	return c.JSON(receipt)
}

// RedemptionStatusResponse informs when the ticket was redeemed.
type RedemptionStatusResponse struct {
	RedeemedAt time.Time `json:"redeemed_at"`
}

func (s *server) redemptionStatus(c *fiber.Ctx) error {
	at, err := s.redeem.CheckStatus(c.Context(), c.Params("eventId"), c.Params("ticketId"))
	if err != nil {
		return s.fail("redemption status", err)
	}
	return c.JSON(RedemptionStatusResponse{RedeemedAt: at})
}

// RedemptionChallengeRequest is a request for the challenge token to sign.
type RedemptionChallengeRequest struct {
	PublicKey string `json:"public_key"`
}

// RedemptionChallengeResponse holds the challenge token the ticket holder has to sign.
type RedemptionChallengeResponse struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"redemption_token_request_timestamp"`
}

func (s *server) redemptionChallenge(c *fiber.Ctx) error {
	var req RedemptionChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Warn(fmt.Sprintf("redemption challenge endpoint, cannot parse request from [ %s ]: %s", c.IP(), err))
		return fiber.ErrBadRequest
	}

	ch, err := s.redeem.RequestChallenge(c.Context(), c.Params("eventId"), c.Params("ticketId"), req.PublicKey)
	if err != nil {
		return s.fail("redemption challenge", err)
	}
	return c.JSON(RedemptionChallengeResponse{Token: ch.Token, IssuedAt: ch.IssuedAt})
}

// RedeemRequest carries the challenge token signature.
type RedeemRequest struct {
	SignedMessage string `json:"signed_message"`
	PublicKey     string `json:"public_key"`
}

// RedeemResponse informs when the ticket was redeemed.
type RedeemResponse struct {
	RedeemedAt time.Time `json:"redeemed_at"`
}

func (s *server) redeemTicket(c *fiber.Ctx) error {
	t := time.Now()
	defer func() {
		d := time.Since(t)
		s.tele.RecordHistogramTime(redeemTelemetryHistogram, d)
	}()

	var req RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		s.log.Warn(fmt.Sprintf("redeem endpoint, cannot parse request from [ %s ]: %s", c.IP(), err))
		return fiber.ErrBadRequest
	}

	at, err := s.redeem.Redeem(c.Context(), c.Params("eventId"), c.Params("ticketId"), req.SignedMessage, req.PublicKey)
	if err != nil {
		return s.fail("redeem", err)
	}
	return c.JSON(RedeemResponse{RedeemedAt: at})
}

func (s *server) events(c *fiber.Ctx) error {
	events, err := s.catalog.Events(c.Context())
	if err != nil {
		return s.fail("events", err)
	}
	if events == nil {
		events = []ticket.Event{}
	}
	return c.JSON(events)
}

func (s *server) event(c *fiber.Ctx) error {
	event, err := s.catalog.Event(c.Context(), c.Params("eventId"))
	if err != nil {
		return s.fail("event", err)
	}
	return c.JSON(event)
}

func (s *server) eventsByIssuer(c *fiber.Ctx) error {
	events, err := s.catalog.EventsByIssuer(c.Context(), c.Params("issuerAddress"))
	if err != nil {
		return s.fail("events by issuer", err)
	}
	if events == nil {
		events = []ticket.Event{}
	}
	return c.JSON(events)
}

// TicketResponse is a ledger ticket with its decoded metadata.
type TicketResponse struct {
	Ticket   ticket.Ticket   `json:"ticket"`
	Metadata ticket.Metadata `json:"metadata"`
}

func (s *server) ticket(c *fiber.Ctx) error {
	tc, m, err := s.catalog.Ticket(c.Context(), c.Params("ticketId"))
	if err != nil {
		return s.fail("ticket", err)
	}
	return c.JSON(TicketResponse{Ticket: tc, Metadata: m})
}

// FundRequest is a request to fund the address on the emulated ledger.
type FundRequest struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

func (s *server) fund(c *fiber.Ctx) error {
	var req FundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if err := s.verifier.ValidateAddress(req.Address); err != nil || req.Amount == 0 {
		s.log.Warn(fmt.Sprintf("faucet endpoint, rejected funding of [ %s ] with [ %d ]", req.Address, req.Amount))
		return fiber.ErrBadRequest
	}
	out, err := s.faucet.Fund(c.Context(), req.Address, req.Amount)
	if err != nil {
		return s.fail("faucet", err)
	}
	return c.JSON(out)
}

// fail maps error taxonomy to the HTTP status.
func (s *server) fail(endpoint string, err error) error {
	status := statusOf(err)
	msg := fmt.Sprintf("%s endpoint, %s", endpoint, err)
	if status >= fiber.StatusInternalServerError {
		s.log.Error(msg)
	} else {
		s.log.Warn(msg)
	}
	return fiber.NewError(status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ticket.ErrInvalidRequest):
		return fiber.StatusBadRequest
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, ticket.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ticket.ErrTransientLedger):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
