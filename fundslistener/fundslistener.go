package fundslistener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/reactive"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	defaultIntervalMs    = 1000
	defaultRepeatSeconds = 60
)

var ErrSourceFailed = errors.New("funded addresses cannot be read")

// Config contains configuration of the balance poller.
type Config struct {
	IntervalMs    uint64 `yaml:"interval_ms"`    // Polling period.
	RepeatSeconds uint64 `yaml:"repeat_seconds"` // Period after which an unchanged snapshot is published again.
}

// Source lists addresses holding unspent outputs.
type Source interface {
	AddressesWithUnspentOutputs(ctx context.Context) ([]ticket.FundedAddress, error)
}

// Relay forwards snapshots to other processes.
type Relay interface {
	PublishSnapshot(s ticket.Snapshot) error
}

// Listener polls the ledger for funded addresses and publishes changed snapshots.
type Listener struct {
	interval   time.Duration
	repeat     time.Duration
	source     Source
	observable *reactive.Observable[ticket.Snapshot]
	relay      Relay
	log        logger.Logger

	last        string
	publishedAt time.Time
}

// New creates Listener publishing to observable. Relay is optional.
func New(cfg Config, source Source, observable *reactive.Observable[ticket.Snapshot], relay Relay, log logger.Logger) *Listener {
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = defaultIntervalMs
	}
	if cfg.RepeatSeconds == 0 {
		cfg.RepeatSeconds = defaultRepeatSeconds
	}
	return &Listener{
		interval:   time.Duration(cfg.IntervalMs) * time.Millisecond,
		repeat:     time.Duration(cfg.RepeatSeconds) * time.Second,
		source:     source,
		observable: observable,
		relay:      relay,
		log:        log,
	}
}

// Poll reads funded addresses once and publishes the snapshot if it is not empty and either differs
// from the last published one or the last publication is older than the repeat period.
// Poll is not safe for concurrent use, Run calls it from a single goroutine.
func (l *Listener) Poll(ctx context.Context) (bool, error) {
	funded, err := l.source.AddressesWithUnspentOutputs(ctx)
	if err != nil {
		return false, errors.Join(ErrSourceFailed, err)
	}
	if len(funded) == 0 {
		l.last = ""
		return false, nil
	}
	now := time.Now()
	s := ticket.Snapshot{Addresses: funded, TakenAt: now}
	fp := s.Fingerprint()
	if fp == l.last && now.Sub(l.publishedAt) < l.repeat {
		return false, nil
	}
	l.last = fp
	l.publishedAt = now

	l.observable.Publish(s)
	if l.relay != nil {
		if err := l.relay.PublishSnapshot(s); err != nil {
			l.log.Warn(fmt.Sprintf("snapshot relay failed, %s", err))
		}
	}
	return true, nil
}

// Run polls the source every interval until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Poll(ctx); err != nil {
				l.log.Warn(fmt.Sprintf("funds listener poll failed, %s", err))
			}
		}
	}
}
