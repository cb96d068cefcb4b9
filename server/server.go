package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/bartossh/Ticketeer/fulfillment"
	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Ticketeer"
)

const (
	ticketsGroupURL        = "/tickets"
	buyURL                 = "/buy/:eventId"
	redemptionURL          = "/redemption/:eventId/:ticketId"
	redemptionChallengeURL = "/redemption-challenge/:eventId/:ticketId"
	redeemURL              = "/redeem/:eventId/:ticketId"
	eventsURL              = "/events"
	eventURL               = "/events/:eventId"
	eventsByIssuerURL      = "/events-by-issuer/:issuerAddress"
	ticketURL              = "/ticket/:ticketId"
)

const (
	AliveURL               = "/alive"                                 // URL to check if server is alive and version.
	CreateTicketsURL       = ticketsGroupURL                          // URL to stage mint request.
	BuyTicketsURL          = ticketsGroupURL + buyURL                 // URL to stage purchase request.
	RedemptionURL          = ticketsGroupURL + redemptionURL          // URL to check redemption status.
	RedemptionChallengeURL = ticketsGroupURL + redemptionChallengeURL // URL to request redemption challenge.
	RedeemURL              = ticketsGroupURL + redeemURL              // URL to redeem the ticket.
	EventsURL              = ticketsGroupURL + eventsURL              // URL to list events.
	EventURL               = ticketsGroupURL + eventURL               // URL to read the event.
	EventsByIssuerURL      = ticketsGroupURL + eventsByIssuerURL      // URL to list events of the issuer.
	TicketURL              = ticketsGroupURL + ticketURL              // URL to read the ticket with its metadata.
	FaucetURL              = "/faucet"                                // URL to fund an address, emulated ledger only.
	WsURL                  = "/ws"                                    // URL to stream fulfillment notices.
)

const (
	defaultFileSizeBytes    = 5_000_000
	defaultRateLimitMax     = 10
	defaultRateLimitSeconds = 60
)

const (
	createTicketsTelemetryHistogram = "create_tickets_request_duration"
	buyTicketsTelemetryHistogram    = "buy_tickets_request_duration"
	redeemTelemetryHistogram        = "redeem_request_duration"
)

var (
	ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")
	ErrWrongFileSize      = errors.New("file size must be between 1024 and 15000000")
)

// Fulfiller stages mint and purchase requests.
type Fulfiller interface {
	CreateMintRequest(ctx context.Context, in fulfillment.MintInput) (fulfillment.MintReceipt, error)
	CreatePurchaseRequest(ctx context.Context, eventID string, in fulfillment.PurchaseInput) (fulfillment.PurchaseReceipt, error)
}

// Redeemer runs the redemption protocol.
type Redeemer interface {
	CheckStatus(ctx context.Context, eventID, ticketID string) (time.Time, error)
	RequestChallenge(ctx context.Context, eventID, ticketID, publicKeyHex string) (ticket.Challenge, error)
	Redeem(ctx context.Context, eventID, ticketID, signatureHex, publicKeyHex string) (time.Time, error)
}

// Catalog reads events and tickets.
type Catalog interface {
	Events(ctx context.Context) ([]ticket.Event, error)
	Event(ctx context.Context, eventID string) (ticket.Event, error)
	EventsByIssuer(ctx context.Context, issuerAddress string) ([]ticket.Event, error)
	Ticket(ctx context.Context, id string) (ticket.Ticket, ticket.Metadata, error)
}

// Faucet funds addresses on the emulated ledger.
type Faucet interface {
	Fund(ctx context.Context, address string, amount uint64) (ticket.Output, error)
}

// AddressValidator validates ledger addresses.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// HistogramProvider records request durations.
type HistogramProvider interface {
	CreateUpdateObservableHistogtram(name, description string)
	RecordHistogramTime(name string, t time.Duration) bool
}

// Config contains configuration of the server.
type Config struct {
	Port             int    `yaml:"port"`               // Port to listen on.
	FileSizeBytes    int    `yaml:"file_size_bytes"`    // Maximum size of the uploaded event file.
	RateLimitMax     int    `yaml:"rate_limit_max"`     // Maximum number of requests per IP in the rate limit window.
	RateLimitSeconds uint64 `yaml:"rate_limit_seconds"` // Rate limit window.
}

// Dependencies are collaborators the server delegates to. Faucet is optional.
type Dependencies struct {
	Fulfiller Fulfiller
	Redeemer  Redeemer
	Catalog   Catalog
	Faucet    Faucet
	Verifier  AddressValidator
	Feed      *NoticeFeed
	Tele      HistogramProvider
	Log       logger.Logger
}

type server struct {
	ctx      context.Context
	fileSize int
	fulfill  Fulfiller
	redeem   Redeemer
	catalog  Catalog
	faucet   Faucet
	verifier AddressValidator
	feed     *NoticeFeed
	tele     HistogramProvider
	log      logger.Logger
}

// Run initializes routing and runs the server. To stop the server cancel the context.
// It blocks until the context is canceled.
func Run(ctx context.Context, c Config, d Dependencies) error {
	if err := validateConfig(&c); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%v", c.Port))
	if err != nil {
		return err
	}
	return serve(ctx, c, d, ln)
}

func serve(ctx context.Context, c Config, d Dependencies, ln net.Listener) error {
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newServer(ctxx, c, d)
	router := s.router(c)

	listenErr := make(chan error, 1)
	go func() {
		err := router.Listener(ln)
		if err != nil {
			s.log.Error(fmt.Sprintf("server listener stopped, %s", err))
			cancel()
		}
		listenErr <- err
	}()

	<-ctxx.Done()

	err := router.Shutdown()
	if errx := <-listenErr; errx != nil {
		err = errors.Join(err, errx)
	}
	return err
}

func newServer(ctx context.Context, c Config, d Dependencies) *server {
	if d.Feed == nil {
		d.Feed = NewNoticeFeed()
	}
	if d.Tele == nil {
		d.Tele = noopTele{}
	}
	s := &server{
		ctx:      ctx,
		fileSize: c.FileSizeBytes,
		fulfill:  d.Fulfiller,
		redeem:   d.Redeemer,
		catalog:  d.Catalog,
		faucet:   d.Faucet,
		verifier: d.Verifier,
		feed:     d.Feed,
		tele:     d.Tele,
		log:      d.Log,
	}
	s.tele.CreateUpdateObservableHistogtram(createTicketsTelemetryHistogram, "Create tickets endpoint request duration on [ ms ].")
	s.tele.CreateUpdateObservableHistogtram(buyTicketsTelemetryHistogram, "Buy tickets endpoint request duration on [ ms ].")
	s.tele.CreateUpdateObservableHistogtram(redeemTelemetryHistogram, "Redeem endpoint request duration on [ ms ].")
	return s
}

func (s *server) router(c Config) *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
		BodyLimit:     c.FileSizeBytes + 1024*64,
	})
	router.Use(recover.New())
	router.Use(cors.New())

	router.Get(AliveURL, s.alive)
	router.Get(WsURL, s.wsUpgrade, websocket.New(s.wsNotices))
	if s.faucet != nil {
		router.Post(FaucetURL, s.fund)
	}

	tickets := router.Group(ticketsGroupURL)
	tickets.Get(eventsURL, s.events)
	tickets.Get(eventURL, s.event)
	tickets.Get(eventsByIssuerURL, s.eventsByIssuer)
	tickets.Get(ticketURL, s.ticket)
	tickets.Get(redemptionURL, s.redemptionStatus)

	limit := limiter.New(limiter.Config{
		Max:        c.RateLimitMax,
		Expiration: time.Duration(c.RateLimitSeconds) * time.Second,
	})
	tickets.Post("", limit, s.createTickets)
	tickets.Put(buyURL, limit, s.buyTickets)
	tickets.Put(redemptionChallengeURL, limit, s.redemptionChallenge)
	tickets.Put(redeemURL, limit, s.redeemTicket)

	return router
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	if c.FileSizeBytes == 0 {
		c.FileSizeBytes = defaultFileSizeBytes
	}
	if c.FileSizeBytes < 1024 || c.FileSizeBytes > 15000000 {
		return ErrWrongFileSize
	}
	if c.RateLimitMax == 0 {
		c.RateLimitMax = defaultRateLimitMax
	}
	if c.RateLimitSeconds == 0 {
		c.RateLimitSeconds = defaultRateLimitSeconds
	}
	return nil
}

type noopTele struct{}

func (noopTele) CreateUpdateObservableHistogtram(string, string) {}
func (noopTele) RecordHistogramTime(string, time.Duration) bool  { return false }
