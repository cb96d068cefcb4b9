package repomongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bartossh/Ticketeer/ticket"
)

// WriteChallenge writes the challenge replacing any outstanding challenge for the same ticket.
func (db DataBase) WriteChallenge(ctx context.Context, c ticket.Challenge) error {
	_, err := db.inner.Collection(challengesCollection).
		ReplaceOne(ctx, bson.M{"_id": c.TicketID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadChallenge reads outstanding challenge for the ticket.
func (db DataBase) ReadChallenge(ctx context.Context, ticketID string) (ticket.Challenge, error) {
	var c ticket.Challenge
	err := db.inner.Collection(challengesCollection).FindOne(ctx, bson.M{"_id": ticketID}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return c, ticket.ErrRecordNotFound
		}
		return c, errors.Join(ErrSelectFailed, err)
	}
	return c, nil
}

// RemoveChallenge removes challenge of the ticket. Removing missing challenge is not an error.
func (db DataBase) RemoveChallenge(ctx context.Context, ticketID string) error {
	if _, err := db.inner.Collection(challengesCollection).DeleteOne(ctx, bson.M{"_id": ticketID}); err != nil {
		return errors.Join(ErrRemoveFailed, err)
	}
	return nil
}

// WriteRedemption inserts redemption record. Returns ticket.ErrRecordExists if the ticket is already redeemed.
func (db DataBase) WriteRedemption(ctx context.Context, r ticket.Redemption) error {
	if _, err := db.inner.Collection(redemptionsCollection).InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ticket.ErrRecordExists
		}
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadRedemption reads redemption record of the ticket.
func (db DataBase) ReadRedemption(ctx context.Context, ticketID string) (ticket.Redemption, error) {
	var r ticket.Redemption
	err := db.inner.Collection(redemptionsCollection).FindOne(ctx, bson.M{"_id": ticketID}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return r, ticket.ErrRecordNotFound
		}
		return r, errors.Join(ErrSelectFailed, err)
	}
	return r, nil
}
