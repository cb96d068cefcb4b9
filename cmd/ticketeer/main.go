package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bartossh/Ticketeer/catalog"
	"github.com/bartossh/Ticketeer/configuration"
	"github.com/bartossh/Ticketeer/emulator"
	"github.com/bartossh/Ticketeer/fulfillment"
	"github.com/bartossh/Ticketeer/fundslistener"
	"github.com/bartossh/Ticketeer/ipfs"
	"github.com/bartossh/Ticketeer/logger"
	"github.com/bartossh/Ticketeer/logging"
	"github.com/bartossh/Ticketeer/logo"
	"github.com/bartossh/Ticketeer/natsclient"
	"github.com/bartossh/Ticketeer/reactive"
	"github.com/bartossh/Ticketeer/redemption"
	"github.com/bartossh/Ticketeer/repomongo"
	"github.com/bartossh/Ticketeer/repository"
	"github.com/bartossh/Ticketeer/server"
	"github.com/bartossh/Ticketeer/stdoutwriter"
	"github.com/bartossh/Ticketeer/storage"
	"github.com/bartossh/Ticketeer/telemetry"
	"github.com/bartossh/Ticketeer/ticket"
	"github.com/bartossh/Ticketeer/wallet"
	"github.com/bartossh/Ticketeer/zincadapter"
)

const usage = `runs the Ticketeer service that mints, sells and redeems event tickets on the ledger when payments arrive`

const (
	snapshotBufferSize = 16
	disconnectTimeout  = time.Second * 5
)

// store is the persistence shared by the fulfillment engine and the redemption protocol.
type store interface {
	fulfillment.Store
	redemption.Store
}

func main() {
	logo.Display()

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	app := &cli.App{
		Name:  "ticketeer",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg configuration.Configuration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("Error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("Error with logger: %s", err))
	}

	var mongoDB *repomongo.DataBase
	if cfg.Storage.Backend == configuration.BackendMongo {
		var err error
		mongoDB, err = repomongo.Connect(ctx, cfg.Storage.Mongo)
		if err != nil {
			return err
		}
		defer func() {
			ctxx, done := context.WithTimeout(context.Background(), disconnectTimeout)
			defer done()
			mongoDB.Disconnect(ctxx)
		}()
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.ZincLogger.Address != "" {
		zinc, err := zincadapter.New(cfg.ZincLogger)
		if err != nil {
			return err
		}
		writers = append(writers, zinc)
	} else {
		writers = append(writers, stdoutwriter.Logger{})
	}
	if cfg.FileLog.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FileLog.Path,
			MaxSize:    cfg.FileLog.MaxSizeMB,
			MaxBackups: cfg.FileLog.MaxBackups,
			MaxAge:     cfg.FileLog.MaxAgeDays,
			Compress:   true,
		}
		defer rotating.Close()
		writers = append(writers, rotating)
	}
	if mongoDB != nil {
		writers = append(writers, mongoDB)
	}
	log := logging.New(callbackOnErr, callbackOnFatal, writers...)

	db, err := openStore(ctx, cfg.Storage, mongoDB, log)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	ledger, err := emulator.New(cfg.Emulator)
	if err != nil {
		log.Error(err.Error())
		return err
	}
	log.Info(fmt.Sprintf("emulated ledger started with treasury [ %s ]", ledger.Treasury()))

	events, err := catalog.New(cfg.Catalog, ledger, log)
	if err != nil {
		log.Error(err.Error())
		return err
	}
	defer events.Close()

	tele, err := telemetry.Run(ctx, cancel, cfg.Telemetry)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	verifier := wallet.NewVerifier()
	feed := server.NewNoticeFeed()
	opts := []fulfillment.Option{fulfillment.WithMeasurer(tele), fulfillment.WithNotifier(feed)}

	if cfg.IPFS.Address != "" {
		content, err := ipfs.New(cfg.IPFS)
		if err != nil {
			log.Error(err.Error())
			return err
		}
		opts = append(opts, fulfillment.WithUploader(content))
	}

	snapshots := make(chan ticket.Snapshot, snapshotBufferSize)
	var relay fundslistener.Relay
	if cfg.Nats.Address != "" {
		pub, err := natsclient.PublisherConnect(cfg.Nats)
		if err != nil {
			log.Error(err.Error())
			return err
		}
		defer func() {
			if err := pub.Disconnect(); err != nil {
				log.Error(err.Error())
			}
		}()
		relay = pub
		opts = append(opts, fulfillment.WithNotifier(pub))

		sub, err := natsclient.SubscriberConnect(cfg.Nats)
		if err != nil {
			log.Error(err.Error())
			return err
		}
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				log.Error(err.Error())
			}
		}()
		if err := sub.SubscribeSnapshots(ctx, snapshots, log); err != nil {
			log.Error(err.Error())
			return err
		}
	}

	engine := fulfillment.New(cfg.Engine, db, ledger, events, verifier, log, opts...)
	protocol := redemption.New(cfg.Redemption, db, events, verifier, log)

	observable := reactive.New[ticket.Snapshot](snapshotBufferSize)
	local := observable.Subscribe()
	defer local.Cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-local.Channel():
				if !ok {
					return
				}
				select {
				case snapshots <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	listener := fundslistener.New(cfg.FundsListener, ledger, observable, relay, log)
	go listener.Run(ctx)
	go engine.RunSweeper(ctx)
	go engine.Run(ctx, snapshots)

	deps := server.Dependencies{
		Fulfiller: engine,
		Redeemer:  protocol,
		Catalog:   events,
		Verifier:  verifier,
		Feed:      feed,
		Tele:      tele,
		Log:       log,
	}
	if cfg.Emulator.EnableFaucetAPI {
		deps.Faucet = ledger
	}

	log.Info(fmt.Sprintf("ticketeer server starting on port [ %d ] with [ %s ] storage", cfg.Server.Port, cfg.Storage.Backend))
	err = server.Run(ctx, cfg.Server, deps)
	if err != nil {
		log.Error(err.Error())
	}
	time.Sleep(time.Second)
	return err
}

func openStore(ctx context.Context, cfg configuration.Storage, mongoDB *repomongo.DataBase, log logger.Logger) (store, error) {
	switch cfg.Backend {
	case configuration.BackendPostgres:
		db, err := repository.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			ctxx, done := context.WithTimeout(context.Background(), disconnectTimeout)
			defer done()
			db.Disconnect(ctxx)
		}()
		if err := db.RunMigration(ctx); err != nil {
			return nil, err
		}
		return db, nil
	case configuration.BackendMongo:
		return mongoDB, nil
	default:
		db, err := storage.CreateBadgerDB(ctx, cfg.Badger.Path, log)
		if err != nil {
			return nil, err
		}
		return storage.New(db), nil
	}
}
