package repository

import (
	"context"
	"errors"
	"time"

	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/ticket"
)

type order struct {
	Mint     *ticket.MintOrder     `msgpack:"mint"`
	Purchase *ticket.PurchaseOrder `msgpack:"purchase"`
}

func fromMicro(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.UnixMicro(ts)
}

func toMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// WritePending inserts pending request. Returns ticket.ErrRecordExists if the address is already staged.
func (db DataBase) WritePending(ctx context.Context, r ticket.PendingRequest) error {
	payload, err := msgpackv2.Marshal(order{Mint: r.Mint, Purchase: r.Purchase})
	if err != nil {
		return errors.Join(ErrMarshalFailed, err)
	}
	res, err := db.inner.ExecContext(ctx,
		`INSERT INTO pending_requests (kind, address, created_at, claimed, claimed_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (kind, address) DO NOTHING`,
		int(r.Kind), r.Address, toMicro(r.CreatedAt), r.Claimed, toMicro(r.ClaimedAt), payload)
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ticket.ErrRecordExists
	}
	return nil
}

// ReadPending reads all pending requests of the given kind.
// Records with undecodable payload are returned without order, so the caller can recognise them as corrupted.
func (db DataBase) ReadPending(ctx context.Context, kind ticket.Kind) ([]ticket.PendingRequest, error) {
	rows, err := db.inner.QueryContext(ctx,
		`SELECT address, created_at, claimed, claimed_at, payload FROM pending_requests
			WHERE kind = $1 ORDER BY created_at ASC`, int(kind))
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var requests []ticket.PendingRequest
	for rows.Next() {
		r := ticket.PendingRequest{Kind: kind}
		var createdAt, claimedAt int64
		var payload []byte
		if err := rows.Scan(&r.Address, &createdAt, &r.Claimed, &claimedAt, &payload); err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		r.CreatedAt = fromMicro(createdAt)
		r.ClaimedAt = fromMicro(claimedAt)
		var o order
		if err := msgpackv2.Unmarshal(payload, &o); err == nil {
			r.Mint, r.Purchase = o.Mint, o.Purchase
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return requests, nil
}

// ClaimPending atomically claims pending request if it is not holding a live claim.
func (db DataBase) ClaimPending(
	ctx context.Context, kind ticket.Kind, address string, now time.Time, lease time.Duration,
) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`UPDATE pending_requests SET claimed = TRUE, claimed_at = $3
			WHERE kind = $1 AND address = $2 AND (claimed = FALSE OR claimed_at < $4)`,
		int(kind), address, toMicro(now), toMicro(now.Add(-lease)))
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	return n == 1, nil
}

// ReleasePending releases the claim of the pending request taken at claimedAt.
// Returns ticket.ErrRecordNotFound if the request is gone or its claim was taken over by another claimant.
func (db DataBase) ReleasePending(ctx context.Context, kind ticket.Kind, address string, claimedAt time.Time) error {
	res, err := db.inner.ExecContext(ctx,
		`UPDATE pending_requests SET claimed = FALSE, claimed_at = 0
			WHERE kind = $1 AND address = $2 AND claimed = TRUE AND claimed_at = $3`,
		int(kind), address, toMicro(claimedAt))
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ticket.ErrRecordNotFound
	}
	return nil
}

// RemovePending removes the pending request.
func (db DataBase) RemovePending(ctx context.Context, kind ticket.Kind, address string) error {
	res, err := db.inner.ExecContext(ctx,
		`DELETE FROM pending_requests WHERE kind = $1 AND address = $2`, int(kind), address)
	if err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ticket.ErrRecordNotFound
	}
	return nil
}

// RemoveExpiredPending removes pending request only if it was created before createdBefore
// and is not holding a live claim. Returns true if the request was removed.
func (db DataBase) RemoveExpiredPending(
	ctx context.Context, kind ticket.Kind, address string, createdBefore, now time.Time, lease time.Duration,
) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`DELETE FROM pending_requests
			WHERE kind = $1 AND address = $2 AND created_at < $3 AND (claimed = FALSE OR claimed_at < $4)`,
		int(kind), address, toMicro(createdBefore), toMicro(now.Add(-lease)))
	if err != nil {
		return false, errors.Join(ErrRemoveFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrRemoveFailed, err)
	}
	return n == 1, nil
}
