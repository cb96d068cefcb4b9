package natsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	*socket
	subs map[string]*nats.Subscription
	mux  sync.Mutex
}

// SubscriberConnect connects subscriber to the pub/sub queue using provided config.
func SubscriberConnect(cfg Config) (*Subscriber, error) {
	var s Subscriber
	var err error
	s.socket, err = connect(cfg)
	s.subs = make(map[string]*nats.Subscription)
	return &s, err
}

// SubscribeSnapshots forwards relayed funds snapshots to the channel until ctx is done.
// Snapshots that cannot be forwarded because ctx is done are dropped.
func (s *Subscriber) SubscribeSnapshots(ctx context.Context, ch chan<- ticket.Snapshot, log logger.Logger) error {
	sub, err := s.conn.Subscribe(PubSubSnapshots, func(m *nats.Msg) {
		var snap ticket.Snapshot
		if err := msgpackv2.Unmarshal(m.Data, &snap); err != nil {
			log.Error(fmt.Sprintf("nats subscriber decoding snapshot failed, %s", err))
			return
		}
		select {
		case ch <- snap:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.subs[PubSubSnapshots] = sub

	return nil
}

// SubscribeNotices calls f with every fulfillment notice.
func (s *Subscriber) SubscribeNotices(f func(ticket.Notice), log logger.Logger) error {
	sub, err := s.conn.Subscribe(PubSubNotices, func(m *nats.Msg) {
		var n ticket.Notice
		if err := msgpackv2.Unmarshal(m.Data, &n); err != nil {
			log.Error(fmt.Sprintf("nats subscriber decoding notice failed, %s", err))
			return
		}
		f(n)
	})
	if err != nil {
		return err
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.subs[PubSubNotices] = sub

	return nil
}

// Unsubscribe removes all subscriptions.
func (s *Subscriber) Unsubscribe() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	var err error
	for subject, sub := range s.subs {
		if e := sub.Unsubscribe(); e != nil {
			err = e
		}
		delete(s.subs, subject)
	}
	return err
}
