package emulator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/bartossh/Ticketeer/ticket"
	"github.com/bartossh/Ticketeer/wallet"
)

const (
	defaultDepositBase    uint64 = 42_600
	defaultDepositPerByte uint64 = 100
)

var (
	ErrAddressInvalid       = errors.New("address is not valid")
	ErrAmountNotPositive    = errors.New("amount must be positive")
	ErrInsufficientFunds    = errors.New("insufficient funds at address")
	ErrOutputNotFound       = errors.New("output not found")
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrTicketNotOwned       = errors.New("ticket is not owned by the marketplace")
	ErrReceiptNotFound      = errors.New("receipt not found")
	ErrNothingToMint        = errors.New("nothing to mint")
	ErrDuplicatedTransfer   = errors.New("transfer lists the same ticket twice")
	ErrConfirmationTimedOut = errors.New("confirmation timed out")
)

// Config contains configuration of the in memory ledger.
type Config struct {
	DepositBase     uint64 `yaml:"deposit_base"`     // Minimum deposit of an output without metadata.
	DepositPerByte  uint64 `yaml:"deposit_per_byte"` // Deposit cost of every metadata byte.
	ConfirmationMs  uint64 `yaml:"confirmation_ms"`  // Latency of the transaction confirmation.
	EnableFaucetAPI bool   `yaml:"enable_faucet_api"`
}

type output struct {
	ticket.Output
	createdAt time.Time
}

type receipt struct {
	ticket.Receipt
	confirmAt time.Time
}

type transfer struct {
	receipt ticket.Receipt
	tickets []string
}

// Ledger is a thread safe in memory emulation of the ledger client.
// It keeps private keys of every generated address, minted tickets are held by the treasury address.
type Ledger struct {
	mux       sync.RWMutex
	cfg       Config
	treasury  string
	wallets   map[string]*wallet.Wallet
	outputs   map[string]*output
	tickets   map[string]*ticket.Ticket
	order     []string
	receipts  map[string]receipt
	transfers map[string]transfer
	counter   uint64
	faults    faults
	now       func() time.Time
}

// New creates new Ledger with freshly generated treasury address.
func New(cfg Config) (*Ledger, error) {
	if cfg.DepositBase == 0 {
		cfg.DepositBase = defaultDepositBase
	}
	if cfg.DepositPerByte == 0 {
		cfg.DepositPerByte = defaultDepositPerByte
	}
	l := &Ledger{
		cfg:       cfg,
		wallets:   make(map[string]*wallet.Wallet),
		outputs:   make(map[string]*output),
		tickets:   make(map[string]*ticket.Ticket),
		receipts:  make(map[string]receipt),
		transfers: make(map[string]transfer),
		faults:    faults{pending: make(map[Operation]int)},
		now:       time.Now,
	}
	treasury, err := l.GenerateAddress(context.Background())
	if err != nil {
		return nil, err
	}
	l.treasury = treasury
	return l, nil
}

// Treasury returns the address holding minted tickets.
func (l *Ledger) Treasury() string {
	return l.treasury
}

// GenerateAddress generates new address controlled by the ledger wallet.
func (l *Ledger) GenerateAddress(ctx context.Context) (string, error) {
	if err := l.faults.take(OpGenerateAddress); err != nil {
		return "", err
	}
	w, err := wallet.New()
	if err != nil {
		return "", err
	}
	address := w.Address()
	l.mux.Lock()
	defer l.mux.Unlock()
	l.wallets[address] = &w
	return address, nil
}

// Fund is a faucet creating new output with the amount at the address.
func (l *Ledger) Fund(ctx context.Context, address string, amount uint64) (ticket.Output, error) {
	if err := walletHelper.ValidateAddress(address); err != nil {
		return ticket.Output{}, errors.Join(ErrAddressInvalid, err)
	}
	if amount == 0 {
		return ticket.Output{}, ErrAmountNotPositive
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	txID := l.nextTransactionID()
	o := l.createOutput(txID, 0, address, amount)
	l.receipts[txID] = receipt{Receipt: ticket.Receipt{TransactionID: txID, BlockID: blockID(txID)}, confirmAt: l.now()}
	return o.Output, nil
}

// MinimumDeposit returns minimum deposit required by an output carrying metadata of the given length.
func (l *Ledger) MinimumDeposit(ctx context.Context, metadataLen int) (uint64, error) {
	if err := l.faults.take(OpMinimumDeposit); err != nil {
		return 0, err
	}
	return l.minimumDeposit(metadataLen), nil
}

func (l *Ledger) minimumDeposit(metadataLen int) uint64 {
	return l.cfg.DepositBase + l.cfg.DepositPerByte*uint64(metadataLen)
}

// UnspentOutputs lists unspent outputs of the address in creation order.
func (l *Ledger) UnspentOutputs(ctx context.Context, address string) ([]ticket.Output, error) {
	if err := l.faults.take(OpUnspentOutputs); err != nil {
		return nil, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	outs := l.unspentOf(address)
	result := make([]ticket.Output, 0, len(outs))
	for _, o := range outs {
		result = append(result, o.Output)
	}
	return result, nil
}

// Output resolves output by its id.
func (l *Ledger) Output(ctx context.Context, id string) (ticket.Output, error) {
	if err := l.faults.take(OpOutput); err != nil {
		return ticket.Output{}, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	o, ok := l.outputs[id]
	if !ok {
		return ticket.Output{}, ErrOutputNotFound
	}
	return o.Output, nil
}

// AddressesWithUnspentOutputs lists ledger wallet addresses holding unspent outputs.
func (l *Ledger) AddressesWithUnspentOutputs(ctx context.Context) ([]ticket.FundedAddress, error) {
	if err := l.faults.take(OpAddressesWithUnspentOutputs); err != nil {
		return nil, err
	}
	l.mux.RLock()
	defer l.mux.RUnlock()
	byAddress := make(map[string][]*output)
	for _, o := range l.outputs {
		if _, ok := l.wallets[o.Address]; !ok {
			continue
		}
		byAddress[o.Address] = append(byAddress[o.Address], o)
	}
	funded := make([]ticket.FundedAddress, 0, len(byAddress))
	for address, outs := range byAddress {
		sortOutputs(outs)
		ids := make([]string, 0, len(outs))
		for _, o := range outs {
			ids = append(ids, o.ID)
		}
		funded = append(funded, ticket.FundedAddress{Address: address, OutputIDs: ids})
	}
	sort.Slice(funded, func(i, j int) bool { return funded[i].Address < funded[j].Address })
	return funded, nil
}

// AwaitConfirmation blocks until the transaction of the receipt is confirmed or ctx is done.
func (l *Ledger) AwaitConfirmation(ctx context.Context, r ticket.Receipt) error {
	if err := l.faults.take(OpAwaitConfirmation); err != nil {
		return err
	}
	l.mux.RLock()
	rec, ok := l.receipts[r.TransactionID]
	l.mux.RUnlock()
	if !ok {
		return ErrReceiptNotFound
	}
	wait := rec.confirmAt.Sub(l.now())
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrConfirmationTimedOut, ctx.Err())
	}
}

// TicketID computes id of the ticket minted as the index item of the transaction.
func (l *Ledger) TicketID(r ticket.Receipt, index int) string {
	return ticketID(r.TransactionID, index)
}

func ticketID(txID string, index int) string {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	h := blake2b.Sum256(append([]byte(txID), idx[:]...))
	return "0x" + hex.EncodeToString(h[:])
}

func blockID(txID string) string {
	h := blake2b.Sum256([]byte("block" + txID))
	return hex.EncodeToString(h[:8])
}

func (l *Ledger) nextTransactionID() string {
	l.counter++
	var c [8]byte
	binary.BigEndian.PutUint64(c[:], l.counter)
	h := blake2b.Sum256(append([]byte(l.treasury), c[:]...))
	return hex.EncodeToString(h[:])
}

func (l *Ledger) createOutput(txID string, index int, address string, amount uint64) *output {
	o := &output{
		Output: ticket.Output{
			ID:      fmt.Sprintf("%s%04x", txID, index),
			Address: address,
			Amount:  amount,
		},
		createdAt: l.now(),
	}
	l.outputs[o.ID] = o
	return o
}

func (l *Ledger) unspentOf(address string) []*output {
	var outs []*output
	for _, o := range l.outputs {
		if o.Address == address {
			outs = append(outs, o)
		}
	}
	sortOutputs(outs)
	return outs
}

func sortOutputs(outs []*output) {
	sort.SliceStable(outs, func(i, j int) bool {
		if outs[i].createdAt.Equal(outs[j].createdAt) {
			return outs[i].ID < outs[j].ID
		}
		return outs[i].createdAt.Before(outs[j].createdAt)
	})
}

func (l *Ledger) balance(address string) uint64 {
	var sum uint64
	for _, o := range l.outputs {
		if o.Address == address {
			sum += o.Amount
		}
	}
	return sum
}

// spend consumes all outputs of the address and creates a change output if anything is left.
// Must be called with the lock held.
func (l *Ledger) spend(txID string, from string, amount uint64) error {
	available := l.balance(from)
	if available < amount {
		return errors.Join(ErrInsufficientFunds, fmt.Errorf("address [ %s ] holds [ %d ], required [ %d ]", from, available, amount))
	}
	for _, o := range l.unspentOf(from) {
		delete(l.outputs, o.ID)
	}
	if change := available - amount; change > 0 {
		l.createOutput(txID, 0xffff, from, change)
	}
	return nil
}

func (l *Ledger) submit(txID string) ticket.Receipt {
	r := ticket.Receipt{TransactionID: txID, BlockID: blockID(txID)}
	l.receipts[txID] = receipt{
		Receipt:   r,
		confirmAt: l.now().Add(time.Duration(l.cfg.ConfirmationMs) * time.Millisecond),
	}
	return r
}
