package configuration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Ticketeer/catalog"
	"github.com/bartossh/Ticketeer/emulator"
	"github.com/bartossh/Ticketeer/fulfillment"
	"github.com/bartossh/Ticketeer/fundslistener"
	"github.com/bartossh/Ticketeer/ipfs"
	"github.com/bartossh/Ticketeer/natsclient"
	"github.com/bartossh/Ticketeer/redemption"
	"github.com/bartossh/Ticketeer/repomongo"
	"github.com/bartossh/Ticketeer/repository"
	"github.com/bartossh/Ticketeer/server"
	"github.com/bartossh/Ticketeer/storage"
	"github.com/bartossh/Ticketeer/telemetry"
	"github.com/bartossh/Ticketeer/zincadapter"
)

// Environment variables overriding secrets kept out of the configuration file.
// They are read from the process environment or from the .env file placed next to the configuration file.
const (
	EnvDBConnStr = "TICKETEER_DB_CONN"
	EnvNatsToken = "TICKETEER_NATS_TOKEN"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

var ErrUnknownBackend = errors.New("unknown storage backend")

// Storage selects and configures the persistence of pending requests, reservations, challenges and redemptions.
type Storage struct {
	Backend  string              `yaml:"backend"`
	Badger   storage.Config      `yaml:"badger"`
	Postgres repository.DBConfig `yaml:"postgres"`
	Mongo    repomongo.Config    `yaml:"mongo"`
}

// FileLog configures rotating log file. Empty path disables file logging.
type FileLog struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Engine        fulfillment.Config   `yaml:"engine"`
	Redemption    redemption.Config    `yaml:"redemption"`
	Catalog       catalog.Config       `yaml:"catalog"`
	Emulator      emulator.Config      `yaml:"emulator"`
	FundsListener fundslistener.Config `yaml:"funds_listener"`
	IPFS          ipfs.Config          `yaml:"ipfs"`
	Nats          natsclient.Config    `yaml:"nats"`
	Telemetry     telemetry.Config     `yaml:"telemetry"`
	Server        server.Config        `yaml:"server"`
	ZincLogger    zincadapter.Config   `yaml:"zinc_logger"`
	FileLog       FileLog              `yaml:"file_log"`
	Storage       Storage              `yaml:"storage"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
// Secrets set in the environment take precedence over the file.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	// missing .env file is not an error, environment may be set by the process owner
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	main.applyEnv()

	if err := main.validate(); err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}
	return main, nil
}

func (c *Configuration) applyEnv() {
	if v := os.Getenv(EnvDBConnStr); v != "" {
		c.Storage.Postgres.ConnStr = v
		c.Storage.Mongo.ConnStr = v
	}
	if v := os.Getenv(EnvNatsToken); v != "" {
		c.Nats.Token = v
	}
}

func (c *Configuration) validate() error {
	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = BackendBadger
	case BackendBadger, BackendPostgres, BackendMongo:
	default:
		return errors.Join(ErrUnknownBackend, fmt.Errorf("backend [ %s ]", c.Storage.Backend))
	}
	return nil
}
