package repomongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bartossh/Ticketeer/ticket"
)

func claimableFilter(now time.Time, lease time.Duration) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"claimed": false},
		bson.M{"claimed_at": bson.M{"$lt": now.Add(-lease)}},
	}}
}

// WritePending inserts pending request. Returns ticket.ErrRecordExists if the address is already staged.
func (db DataBase) WritePending(ctx context.Context, r ticket.PendingRequest) error {
	coll, err := db.pending(r.Kind)
	if err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ticket.ErrRecordExists
		}
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadPending reads all pending requests of the given kind.
// Undecodable documents are returned with the address only, so the caller can recognise them as corrupted.
func (db DataBase) ReadPending(ctx context.Context, kind ticket.Kind) ([]ticket.PendingRequest, error) {
	coll, err := db.pending(kind)
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer cur.Close(ctx)

	var requests []ticket.PendingRequest
	for cur.Next(ctx) {
		var r ticket.PendingRequest
		if err := cur.Decode(&r); err != nil {
			address, _ := cur.Current.Lookup("_id").StringValueOK()
			r = ticket.PendingRequest{Address: address}
		}
		r.Kind = kind
		requests = append(requests, r)
	}
	if err := cur.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return requests, nil
}

// ClaimPending atomically claims pending request if it is not holding a live claim.
func (db DataBase) ClaimPending(
	ctx context.Context, kind ticket.Kind, address string, now time.Time, lease time.Duration,
) (bool, error) {
	coll, err := db.pending(kind)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": address}
	for k, v := range claimableFilter(now, lease) {
		filter[k] = v
	}
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"claimed": true, "claimed_at": now}})
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	return res.ModifiedCount == 1, nil
}

// ReleasePending releases the claim of the pending request taken at claimedAt.
// Returns ticket.ErrRecordNotFound if the request is gone or its claim was taken over by another claimant.
func (db DataBase) ReleasePending(ctx context.Context, kind ticket.Kind, address string, claimedAt time.Time) error {
	coll, err := db.pending(kind)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": address, "claimed": true, "claimed_at": claimedAt},
		bson.M{"$set": bson.M{"claimed": false, "claimed_at": time.Time{}}})
	if err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	if res.MatchedCount == 0 {
		return ticket.ErrRecordNotFound
	}
	return nil
}

// RemovePending removes the pending request.
func (db DataBase) RemovePending(ctx context.Context, kind ticket.Kind, address string) error {
	coll, err := db.pending(kind)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": address})
	if err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	if res.DeletedCount == 0 {
		return ticket.ErrRecordNotFound
	}
	return nil
}

// RemoveExpiredPending removes pending request only if it was created before createdBefore
// and is not holding a live claim. Returns true if the request was removed.
func (db DataBase) RemoveExpiredPending(
	ctx context.Context, kind ticket.Kind, address string, createdBefore, now time.Time, lease time.Duration,
) (bool, error) {
	coll, err := db.pending(kind)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": address, "created_at": bson.M{"$lt": createdBefore}}
	for k, v := range claimableFilter(now, lease) {
		filter[k] = v
	}
	res, err := coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, errors.Join(ErrRemoveFailed, err)
	}
	return res.DeletedCount == 1, nil
}
