package fulfillment

import (
	"context"
	"time"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	defaultRequestTTLSeconds    = 300
	defaultSweepIntervalSeconds = 300
	defaultClaimLeaseSeconds    = 600
	defaultMaxTicketAmount      = 1000
)

const (
	metricReconcilePass    = "ticketeer_reconcile_pass_duration"
	metricMintDuration     = "ticketeer_mint_fulfillment_duration"
	metricPurchaseDuration = "ticketeer_purchase_fulfillment_duration"
	metricSwept            = "ticketeer_swept_requests"
	metricFulfilled        = "ticketeer_fulfilled_requests"
)

// Config contains configuration of the fulfillment engine.
type Config struct {
	RequestTTLSeconds    uint64 `yaml:"request_ttl_seconds"`    // Pending request time to live.
	SweepIntervalSeconds uint64 `yaml:"sweep_interval_seconds"` // Period of the expiry sweeper.
	ClaimLeaseSeconds    uint64 `yaml:"claim_lease_seconds"`    // Time after which a claim is considered abandoned.
	MaxTicketAmount      int    `yaml:"max_ticket_amount"`      // Maximum number of saleable tickets in a single mint request.
}

func (c *Config) setDefaults() {
	if c.RequestTTLSeconds == 0 {
		c.RequestTTLSeconds = defaultRequestTTLSeconds
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	if c.ClaimLeaseSeconds == 0 {
		c.ClaimLeaseSeconds = defaultClaimLeaseSeconds
	}
	if c.MaxTicketAmount == 0 {
		c.MaxTicketAmount = defaultMaxTicketAmount
	}
}

// Store persists pending requests and ticket reservations.
// Claim, conditional removal and reservation have to be atomic with respect to concurrent callers.
type Store interface {
	WritePending(ctx context.Context, r ticket.PendingRequest) error
	ReadPending(ctx context.Context, kind ticket.Kind) ([]ticket.PendingRequest, error)
	ClaimPending(ctx context.Context, kind ticket.Kind, address string, now time.Time, lease time.Duration) (bool, error)
	ReleasePending(ctx context.Context, kind ticket.Kind, address string, claimedAt time.Time) error
	RemovePending(ctx context.Context, kind ticket.Kind, address string) error
	RemoveExpiredPending(
		ctx context.Context, kind ticket.Kind, address string, createdBefore, now time.Time, lease time.Duration,
	) (bool, error)
	ReserveTicket(ctx context.Context, ticketID, holder string) (bool, error)
	ReleaseReservations(ctx context.Context, holder string) error
	ReadReservations(ctx context.Context) (map[string]string, error)
}

// Ledger is the ledger client the engine mutates the ledger with.
type Ledger interface {
	GenerateAddress(ctx context.Context) (string, error)
	MinimumDeposit(ctx context.Context, metadataLen int) (uint64, error)
	UnspentOutputs(ctx context.Context, address string) ([]ticket.Output, error)
	Mint(ctx context.Context, funding string, items []ticket.MintItem) (ticket.Receipt, error)
	AwaitConfirmation(ctx context.Context, r ticket.Receipt) error
	TicketID(r ticket.Receipt, index int) string
	MintedTickets(ctx context.Context) ([]ticket.Ticket, error)
	SendTickets(ctx context.Context, transfers []ticket.Transfer, tag string) (ticket.Receipt, error)
	SendFunds(ctx context.Context, from, to string, amount uint64, tag string) (ticket.Receipt, error)
	TransferExists(ctx context.Context, tag string) (bool, error)
	TransferredTickets(ctx context.Context, tag string) ([]string, error)
}

// EventReader reads events read model.
type EventReader interface {
	Event(ctx context.Context, eventID string) (ticket.Event, error)
	FreshEvent(ctx context.Context, eventID string) (ticket.Event, error)
	Invalidate()
}

// AddressValidator validates ledger addresses.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// Uploader stores file in the content storage and returns its URI.
type Uploader interface {
	AddFile(ctx context.Context, data []byte) (string, error)
}

// Notifier publishes fulfillment notices.
type Notifier interface {
	PublishNotice(n ticket.Notice) error
}

// Measurer records telemetry.
type Measurer interface {
	CreateUpdateObservableHistogtram(name, description string)
	RecordHistogramTime(name string, t time.Duration) bool
	CreateUpdateObservableGauge(name, description string)
	AddToGauge(name string, f float64) bool
}

// Option configures optional collaborators of the Engine.
type Option func(e *Engine)

// WithUploader sets content storage used for mint request attachments.
func WithUploader(u Uploader) Option {
	return func(e *Engine) { e.uploader = u }
}

// WithNotifier adds notifier informed about every fulfilled request.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, n) }
}

// WithMeasurer sets telemetry measurer.
func WithMeasurer(m Measurer) Option {
	return func(e *Engine) { e.measurer = m }
}

// Engine is the payment triggered fulfillment engine.
// It stages pending requests, matches funds snapshots against them and fulfills matched requests on the ledger.
type Engine struct {
	ttl       time.Duration
	interval  time.Duration
	lease     time.Duration
	maxTicks  int
	store     Store
	ledger    Ledger
	events    EventReader
	verifier  AddressValidator
	uploader  Uploader
	notifiers []Notifier
	measurer  Measurer
	log       logger.Logger
	now       func() time.Time
}

// New creates Engine from ready to use collaborators.
func New(
	cfg Config, store Store, ledger Ledger, events EventReader, verifier AddressValidator, log logger.Logger, opts ...Option,
) *Engine {
	cfg.setDefaults()
	e := &Engine{
		ttl:      time.Duration(cfg.RequestTTLSeconds) * time.Second,
		interval: time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		lease:    time.Duration(cfg.ClaimLeaseSeconds) * time.Second,
		maxTicks: cfg.MaxTicketAmount,
		store:    store,
		ledger:   ledger,
		events:   events,
		verifier: verifier,
		measurer: noopMeasurer{},
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.measurer.CreateUpdateObservableHistogtram(metricReconcilePass, "Duration of the funds reconciliation pass in microseconds.")
	e.measurer.CreateUpdateObservableHistogtram(metricMintDuration, "Duration of the mint fulfillment in microseconds.")
	e.measurer.CreateUpdateObservableHistogtram(metricPurchaseDuration, "Duration of the purchase fulfillment in microseconds.")
	e.measurer.CreateUpdateObservableGauge(metricSwept, "Number of pending requests removed by the sweeper.")
	e.measurer.CreateUpdateObservableGauge(metricFulfilled, "Number of fulfilled pending requests.")
	return e
}

func (e *Engine) notify(n ticket.Notice) {
	e.events.Invalidate()
	e.measurer.AddToGauge(metricFulfilled, 1)
	for _, notifier := range e.notifiers {
		if err := notifier.PublishNotice(n); err != nil {
			e.log.Warn("fulfillment notice publishing failed, " + err.Error())
		}
	}
}

type noopMeasurer struct{}

func (noopMeasurer) CreateUpdateObservableHistogtram(string, string) {}
func (noopMeasurer) RecordHistogramTime(string, time.Duration) bool  { return false }
func (noopMeasurer) CreateUpdateObservableGauge(string, string)      {}
func (noopMeasurer) AddToGauge(string, float64) bool                 { return false }
