package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	gcRuntimeTick   = time.Minute * 5
	conflictRetries = 16
)

const (
	prefixPending     = "pending"
	prefixReservation = "reservation"
	prefixChallenge   = "challenge"
	prefixRedemption  = "redemption"
)

var (
	ErrEncodingFailed = errors.New("record encoding failed")
	ErrDecodingFailed = errors.New("record decoding failed")
	ErrTooManyRetries = errors.New("transaction conflicts exceeded retries limit")
)

// Config contains configuration of the embedded storage.
type Config struct {
	Path string `yaml:"path"` // Empty path runs the storage in memory.
}

// CreateBadgerDB returns a BadgerDB storage and runs the Garbage Collection concurrently.
// To stop the storage and disconnect from database cancel the context.
func CreateBadgerDB(ctx context.Context, path string, l logger.Logger) (*badger.DB, error) {
	var opt badger.Options
	switch path {
	case "":
		opt = badger.DefaultOptions("").WithInMemory(true)
	default:
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		opt = badger.DefaultOptions(path)
	}
	opt = opt.WithDetectConflicts(true).WithLogger(nil)

	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}

	go func(ctx context.Context) {
		ticker := time.NewTicker(gcRuntimeTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := db.Close(); err != nil {
					l.Error(fmt.Sprintf("badger DB closing failed, %s", err))
				}
				return
			case <-ticker.C:
				if err := db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					l.Debug(fmt.Sprintf("badger DB garbage collection loop failure: %s", err))
				}
			}
		}
	}(ctx)

	return db, nil
}

// Store keeps pending requests, ticket reservations, redemption challenges and redemption records in BadgerDB.
// Every conditional transition runs in a single serializable transaction.
type Store struct {
	db *badger.DB
}

// New creates Store on top of opened BadgerDB.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func pendingPrefix(kind ticket.Kind) []byte {
	return []byte(fmt.Sprintf("%s/%s/", prefixPending, kind))
}

func pendingKey(kind ticket.Kind, address string) []byte {
	return append(pendingPrefix(kind), address...)
}

func reservationKey(ticketID string) []byte {
	return []byte(prefixReservation + "/" + ticketID)
}

func challengeKey(ticketID string) []byte {
	return []byte(prefixChallenge + "/" + ticketID)
}

func redemptionKey(ticketID string) []byte {
	return []byte(prefixRedemption + "/" + ticketID)
}

// update runs f in read-write transaction retrying on transaction conflicts,
// so the losing side of the race reevaluates its condition against committed state.
func (s *Store) update(ctx context.Context, f func(txn *badger.Txn) error) error {
	for i := 0; i < conflictRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(f)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return ErrTooManyRetries
}

func get[T any](txn *badger.Txn, key []byte) (T, error) {
	var v T
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return v, ticket.ErrRecordNotFound
		}
		return v, err
	}
	err = item.Value(func(val []byte) error {
		return msgpackv2.Unmarshal(val, &v)
	})
	if err != nil {
		return v, errors.Join(ErrDecodingFailed, err)
	}
	return v, nil
}

func set(txn *badger.Txn, key []byte, v any) error {
	raw, err := msgpackv2.Marshal(v)
	if err != nil {
		return errors.Join(ErrEncodingFailed, err)
	}
	return txn.Set(key, raw)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}
