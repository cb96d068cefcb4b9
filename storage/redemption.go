package storage

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/bartossh/Ticketeer/ticket"
)

// WriteChallenge writes the challenge replacing any outstanding challenge for the same ticket.
func (s *Store) WriteChallenge(ctx context.Context, c ticket.Challenge) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return set(txn, challengeKey(c.TicketID), c)
	})
}

// ReadChallenge reads outstanding challenge for the ticket.
func (s *Store) ReadChallenge(ctx context.Context, ticketID string) (ticket.Challenge, error) {
	var c ticket.Challenge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = get[ticket.Challenge](txn, challengeKey(ticketID))
		return err
	})
	return c, err
}

// RemoveChallenge removes challenge of the ticket. Removing missing challenge is not an error.
func (s *Store) RemoveChallenge(ctx context.Context, ticketID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(challengeKey(ticketID))
	})
}

// WriteRedemption inserts redemption record. Returns ticket.ErrRecordExists if the ticket is already redeemed.
func (s *Store) WriteRedemption(ctx context.Context, r ticket.Redemption) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := redemptionKey(r.TicketID)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if ok {
			return ticket.ErrRecordExists
		}
		return set(txn, key, r)
	})
}

// ReadRedemption reads redemption record of the ticket.
func (s *Store) ReadRedemption(ctx context.Context, ticketID string) (ticket.Redemption, error) {
	var r ticket.Redemption
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = get[ticket.Redemption](txn, redemptionKey(ticketID))
		return err
	})
	return r, err
}
