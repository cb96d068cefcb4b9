package zincadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ticketeer/httpclient"
)

const (
	healthz     = "/healthz"
	documentURL = "/api/%s/_doc"
)

const (
	timeout      = time.Second * 5
	defaultIndex = "ticketeer"
)

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
)

// Config contains configuration for logger back-end.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address
	Index   string `yaml:"index"`   // unique index per service to easy search for logs by the service
}

type document struct {
	Service string          `json:"service"`
	Log     json.RawMessage `json:"log"`
}

// ZincClient sends logs to the zincsearch backend as indexed documents.
type ZincClient struct {
	url     string
	service string
}

// New creates a new ZincClient after confirming the zinc server is healthy.
func New(cfg Config) (*ZincClient, error) {
	if err := httpclient.MakeGet(timeout, cfg.Address+healthz, nil); err != nil {
		return nil, errors.Join(ErrZincServerNotResponding, err)
	}
	if cfg.Index == "" {
		cfg.Index = defaultIndex
	}
	return &ZincClient{url: cfg.Address + fmt.Sprintf(documentURL, cfg.Index), service: cfg.Index}, nil
}

// Write satisfies io.Writer abstraction. p is expected to be JSON encoded log.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	doc := document{Service: z.service, Log: json.RawMessage(p)}
	if !json.Valid(p) {
		raw, _ := json.Marshal(string(p))
		doc.Log = raw
	}
	if err := httpclient.MakePost(timeout, z.url, doc, nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}
