package ipfs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Ticketeer/httpclient"
)

const (
	addURL     = "/api/v0/add?pin=true"
	versionURL = "/api/v0/version"
	scheme     = "ipfs://"
)

const defaultTimeoutSeconds = 30

var (
	ErrNodeNotResponding = errors.New("ipfs node not responding on given address")
	ErrAddFailed         = errors.New("ipfs add failed")
	ErrEmptyHash         = errors.New("ipfs node returned empty content hash")
)

// Config contains configuration of the IPFS HTTP RPC client.
type Config struct {
	Address        string `yaml:"address"`         // IPFS node RPC address, e.g. http://localhost:5001.
	TimeoutSeconds uint64 `yaml:"timeout_seconds"` // Upload timeout.
}

type version struct {
	Version string `json:"Version"`
}

type added struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Client uploads files to the IPFS node.
type Client struct {
	address string
	timeout time.Duration
}

// New creates Client after confirming the IPFS node responds.
func New(cfg Config) (*Client, error) {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	c := &Client{address: cfg.Address, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	var v version
	if err := httpclient.MakePost(c.timeout, c.address+versionURL, nil, &v); err != nil {
		return nil, errors.Join(ErrNodeNotResponding, err)
	}
	return c, nil
}

// AddFile uploads data and returns its ipfs URI.
func (c *Client) AddFile(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var a added
	if err := httpclient.MakeMultipartPost(c.timeout, c.address+addURL, "file", "file", data, &a); err != nil {
		return "", errors.Join(ErrAddFailed, err)
	}
	if a.Hash == "" {
		return "", ErrEmptyHash
	}
	return fmt.Sprintf("%s%s", scheme, a.Hash), nil
}
