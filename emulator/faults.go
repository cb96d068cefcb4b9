package emulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bartossh/Ticketeer/wallet"
)

var walletHelper = wallet.NewVerifier()

// ErrInjectedFault is returned by operations failing due to injected fault.
var ErrInjectedFault = errors.New("injected ledger fault")

// Operation names ledger operation that can be failed on purpose.
type Operation string

const (
	OpGenerateAddress             Operation = "generate_address"
	OpMinimumDeposit              Operation = "minimum_deposit"
	OpUnspentOutputs              Operation = "unspent_outputs"
	OpOutput                      Operation = "output"
	OpAddressesWithUnspentOutputs Operation = "addresses_with_unspent_outputs"
	OpAwaitConfirmation           Operation = "await_confirmation"
	OpMint                        Operation = "mint"
	OpTickets                     Operation = "tickets"
	OpTicket                      Operation = "ticket"
	OpSendTickets                 Operation = "send_tickets"
	OpSendFunds                   Operation = "send_funds"
	OpTransferExists              Operation = "transfer_exists"
)

type faults struct {
	mux     sync.Mutex
	pending map[Operation]int
}

func (f *faults) take(op Operation) error {
	f.mux.Lock()
	defer f.mux.Unlock()
	if f.pending[op] == 0 {
		return nil
	}
	f.pending[op]--
	return errors.Join(ErrInjectedFault, fmt.Errorf("operation [ %s ]", op))
}

// InjectFault makes the next count calls of the operation fail with ErrInjectedFault.
func (l *Ledger) InjectFault(op Operation, count int) {
	l.faults.mux.Lock()
	defer l.faults.mux.Unlock()
	l.faults.pending[op] += count
}

// PendingFaults returns number of faults not yet consumed for the operation.
func (l *Ledger) PendingFaults(op Operation) int {
	l.faults.mux.Lock()
	defer l.faults.mux.Unlock()
	return l.faults.pending[op]
}
