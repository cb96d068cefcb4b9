package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bartossh/Ticketeer/ticket"
)

// WriteChallenge writes the challenge replacing any outstanding challenge for the same ticket.
func (db DataBase) WriteChallenge(ctx context.Context, c ticket.Challenge) error {
	_, err := db.inner.ExecContext(ctx,
		`INSERT INTO challenges (ticket_id, event_id, token, issued_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (ticket_id) DO UPDATE
			SET event_id = EXCLUDED.event_id, token = EXCLUDED.token, issued_at = EXCLUDED.issued_at`,
		c.TicketID, c.EventID, c.Token, toMicro(c.IssuedAt))
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadChallenge reads outstanding challenge for the ticket.
func (db DataBase) ReadChallenge(ctx context.Context, ticketID string) (ticket.Challenge, error) {
	c := ticket.Challenge{TicketID: ticketID}
	var issuedAt int64
	err := db.inner.QueryRowContext(ctx,
		`SELECT event_id, token, issued_at FROM challenges WHERE ticket_id = $1`, ticketID).
		Scan(&c.EventID, &c.Token, &issuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, ticket.ErrRecordNotFound
		}
		return c, errors.Join(ErrSelectFailed, err)
	}
	c.IssuedAt = fromMicro(issuedAt)
	return c, nil
}

// RemoveChallenge removes challenge of the ticket. Removing missing challenge is not an error.
func (db DataBase) RemoveChallenge(ctx context.Context, ticketID string) error {
	if _, err := db.inner.ExecContext(ctx, `DELETE FROM challenges WHERE ticket_id = $1`, ticketID); err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	return nil
}

// WriteRedemption inserts redemption record. Returns ticket.ErrRecordExists if the ticket is already redeemed.
func (db DataBase) WriteRedemption(ctx context.Context, r ticket.Redemption) error {
	res, err := db.inner.ExecContext(ctx,
		`INSERT INTO redemptions (ticket_id, event_id, redeemed_at) VALUES ($1, $2, $3)
			ON CONFLICT (ticket_id) DO NOTHING`,
		r.TicketID, r.EventID, toMicro(r.RedeemedAt))
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	if n == 0 {
		return ticket.ErrRecordExists
	}
	return nil
}

// ReadRedemption reads redemption record of the ticket.
func (db DataBase) ReadRedemption(ctx context.Context, ticketID string) (ticket.Redemption, error) {
	r := ticket.Redemption{TicketID: ticketID}
	var redeemedAt int64
	err := db.inner.QueryRowContext(ctx,
		`SELECT event_id, redeemed_at FROM redemptions WHERE ticket_id = $1`, ticketID).
		Scan(&r.EventID, &redeemedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ticket.ErrRecordNotFound
		}
		return r, errors.Join(ErrSelectFailed, err)
	}
	r.RedeemedAt = fromMicro(redeemedAt)
	return r, nil
}
