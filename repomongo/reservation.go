package repomongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type reservation struct {
	TicketID string `bson:"_id"`
	Holder   string `bson:"holder"`
}

// ReserveTicket reserves the ticket for the holder.
// Returns true if the ticket is reserved by the holder after the call.
func (db DataBase) ReserveTicket(ctx context.Context, ticketID, holder string) (bool, error) {
	coll := db.inner.Collection(reservationsCollection)
	_, err := coll.InsertOne(ctx, reservation{TicketID: ticketID, Holder: holder})
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, errors.Join(ErrInsertFailed, err)
	}
	var current reservation
	if err := coll.FindOne(ctx, bson.M{"_id": ticketID}).Decode(&current); err != nil {
		return false, errors.Join(ErrSelectFailed, err)
	}
	return current.Holder == holder, nil
}

// ReleaseReservations removes all reservations of the holder.
func (db DataBase) ReleaseReservations(ctx context.Context, holder string) error {
	if _, err := db.inner.Collection(reservationsCollection).DeleteMany(ctx, bson.M{"holder": holder}); err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	return nil
}

// ReadReservations reads all reservations as ticket id to holder map.
func (db DataBase) ReadReservations(ctx context.Context) (map[string]string, error) {
	cur, err := db.inner.Collection(reservationsCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer cur.Close(ctx)

	var all []reservation
	if err := cur.All(ctx, &all); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	reservations := make(map[string]string, len(all))
	for _, r := range all {
		reservations[r.TicketID] = r.Holder
	}
	return reservations, nil
}
