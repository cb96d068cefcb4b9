package storage

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/bartossh/Ticketeer/ticket"
)

// ReserveTicket reserves the ticket for the holder.
// Returns true if the ticket is reserved by the holder after the call.
func (s *Store) ReserveTicket(ctx context.Context, ticketID, holder string) (bool, error) {
	var reserved bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		reserved = false
		key := reservationKey(ticketID)
		current, err := get[string](txn, key)
		switch {
		case err == nil:
			reserved = current == holder
			return nil
		case !errors.Is(err, ticket.ErrRecordNotFound):
			return err
		}
		if err := set(txn, key, holder); err != nil {
			return err
		}
		reserved = true
		return nil
	})
	return reserved, err
}

// ReleaseReservations removes all reservations of the holder.
func (s *Store) ReleaseReservations(ctx context.Context, holder string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		reservations, err := readReservations(txn)
		if err != nil {
			return err
		}
		for ticketID, h := range reservations {
			if h != holder {
				continue
			}
			if err := txn.Delete(reservationKey(ticketID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadReservations reads all reservations as ticket id to holder map.
func (s *Store) ReadReservations(ctx context.Context) (map[string]string, error) {
	var reservations map[string]string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		reservations, err = readReservations(txn)
		return err
	})
	return reservations, err
}

func readReservations(txn *badger.Txn) (map[string]string, error) {
	reservations := make(map[string]string)
	prefix := []byte(prefixReservation + "/")
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		holder, err := get[string](txn, key)
		if err != nil {
			return nil, err
		}
		reservations[string(key[len(prefix):])] = holder
	}
	return reservations, nil
}
