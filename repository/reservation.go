package repository

import (
	"context"
	"errors"
)

// ReserveTicket reserves the ticket for the holder.
// Returns true if the ticket is reserved by the holder after the call.
func (db DataBase) ReserveTicket(ctx context.Context, ticketID, holder string) (bool, error) {
	var current string
	err := db.inner.QueryRowContext(ctx,
		`INSERT INTO reservations (ticket_id, holder) VALUES ($1, $2)
			ON CONFLICT (ticket_id) DO UPDATE SET holder = reservations.holder
			RETURNING holder`, ticketID, holder).Scan(&current)
	if err != nil {
		return false, errors.Join(ErrInsertFailed, err)
	}
	return current == holder, nil
}

// ReleaseReservations removes all reservations of the holder.
func (db DataBase) ReleaseReservations(ctx context.Context, holder string) error {
	if _, err := db.inner.ExecContext(ctx, `DELETE FROM reservations WHERE holder = $1`, holder); err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	return nil
}

// ReadReservations reads all reservations as ticket id to holder map.
func (db DataBase) ReadReservations(ctx context.Context) (map[string]string, error) {
	rows, err := db.inner.QueryContext(ctx, `SELECT ticket_id, holder FROM reservations`)
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	reservations := make(map[string]string)
	for rows.Next() {
		var ticketID, holder string
		if err := rows.Scan(&ticketID, &holder); err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		reservations[ticketID] = holder
	}
	return reservations, rows.Err()
}
