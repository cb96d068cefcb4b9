package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/ticket"
)

// WritePending inserts pending request. Returns ticket.ErrRecordExists if the address is already staged.
func (s *Store) WritePending(ctx context.Context, r ticket.PendingRequest) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := pendingKey(r.Kind, r.Address)
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

// ReadPending reads all pending requests of the given kind.
// Records that cannot be decoded are returned with only the address and kind set,
// so the caller can recognise them as corrupted.
func (s *Store) ReadPending(ctx context.Context, kind ticket.Kind) ([]ticket.PendingRequest, error) {
	var requests []ticket.PendingRequest
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := pendingPrefix(kind)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var r ticket.PendingRequest
			err := item.Value(func(val []byte) error {
				return msgpackv2.Unmarshal(val, &r)
			})
			if err != nil {
				r = ticket.PendingRequest{Address: string(item.Key()[len(prefix):]), Kind: kind}
			}
			requests = append(requests, r)
		}
		return nil
	})
	return requests, err
}

// ClaimPending atomically claims pending request if it is not holding a live claim.
// Returns false if request does not exist or is already claimed.
func (s *Store) ClaimPending(
	ctx context.Context, kind ticket.Kind, address string, now time.Time, lease time.Duration,
) (bool, error) {
	var claimed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		claimed = false
		key := pendingKey(kind, address)
		r, err := get[ticket.PendingRequest](txn, key)
		if err != nil {
			if errors.Is(err, ticket.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if !r.Claimable(now, lease) {
			return nil
		}
		r.Claimed = true
		r.ClaimedAt = now
		if err := set(txn, key, r); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// ReleasePending releases the claim of the pending request taken at claimedAt.
// Returns ticket.ErrRecordNotFound if the request is gone or its claim was taken over by another claimant.
func (s *Store) ReleasePending(ctx context.Context, kind ticket.Kind, address string, claimedAt time.Time) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := pendingKey(kind, address)
		r, err := get[ticket.PendingRequest](txn, key)
		if err != nil {
			return err
		}
		if !r.Claimed || !r.ClaimedAt.Equal(claimedAt) {
			return ticket.ErrRecordNotFound
		}
		r.Claimed = false
		r.ClaimedAt = time.Time{}
		return set(txn, key, r)
	})
}

// RemovePending removes the pending request.
func (s *Store) RemovePending(ctx context.Context, kind ticket.Kind, address string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		key := pendingKey(kind, address)
		ok, err := exists(txn, key)
		if err != nil {
			return err
		}
		if !ok {
			return ticket.ErrRecordNotFound
		}
		return txn.Delete(key)
	})
}

// RemoveExpiredPending removes pending request only if it was created before createdBefore
// and is not holding a live claim. Returns true if the request was removed.
// Undecodable records are removed unconditionally.
func (s *Store) RemoveExpiredPending(
	ctx context.Context, kind ticket.Kind, address string, createdBefore, now time.Time, lease time.Duration,
) (bool, error) {
	var removed bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = false
		key := pendingKey(kind, address)
		r, err := get[ticket.PendingRequest](txn, key)
		switch {
		case errors.Is(err, ticket.ErrRecordNotFound):
			return nil
		case errors.Is(err, ErrDecodingFailed):
		case err != nil:
			return err
		default:
			if !r.CreatedAt.Before(createdBefore) || r.ClaimLive(now, lease) {
				return nil
			}
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		removed = true
		return nil
	})
	return removed, err
}
