package repomongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bartossh/Ticketeer/ticket"
)

const (
	pendingMintCollection     = "pendingMintRequests"
	pendingPurchaseCollection = "pendingPurchaseRequests"
	reservationsCollection    = "reservations"
	challengesCollection      = "challenges"
	redemptionsCollection     = "redemptions"
	logsCollection            = "logs"
)

var (
	ErrInsertFailed = errors.New("insert failed")
	ErrUpdateFailed = errors.New("update failed")
	ErrRemoveFailed = errors.New("remove failed")
	ErrSelectFailed = errors.New("select failed")
	ErrUnknownKind  = errors.New("unknown pending request kind")
)

// Config contains configuration of the mongo database.
type Config struct {
	ConnStr      string `yaml:"conn_str"`
	DatabaseName string `yaml:"database_name"`
}

// DataBase provides MongoDB access for pending requests, reservations, challenges and redemptions.
// Every document is keyed by _id so conditional transitions are single document operations.
type DataBase struct {
	inner mongo.Database
}

// Connect creates new connection to the repository and returns pointer to the DataBase.
func Connect(ctx context.Context, cfg Config) (*DataBase, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.ConnStr))
	if err != nil {
		return nil, err
	}

	ctxx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()
	if err := cli.Ping(ctxx, readpref.Primary()); err != nil {
		return nil, err
	}

	return &DataBase{*cli.Database(cfg.DatabaseName)}, nil
}

// Disconnect disconnects user from database.
func (db DataBase) Disconnect(ctx context.Context) error {
	return db.inner.Client().Disconnect(ctx)
}

// Ping checks if the connection to the database is still alive.
func (db DataBase) Ping(ctx context.Context) error {
	return db.inner.Client().Ping(ctx, readpref.Primary())
}

func (db DataBase) pending(kind ticket.Kind) (*mongo.Collection, error) {
	switch kind {
	case ticket.KindMint:
		return db.inner.Collection(pendingMintCollection), nil
	case ticket.KindPurchase:
		return db.inner.Collection(pendingPurchaseCollection), nil
	default:
		return nil, ErrUnknownKind
	}
}
