package natsclient

import (
	msgpackv2 "github.com/shamaton/msgpack/v2"

	"github.com/bartossh/Ticketeer/ticket"
)

// Publisher provides functionality to push messages to the pub/sub queue.
type Publisher struct {
	*socket
}

// PublisherConnect connects publisher to the pub/sub queue using provided config.
func PublisherConnect(cfg Config) (*Publisher, error) {
	var p Publisher
	var err error
	p.socket, err = connect(cfg)
	return &p, err
}

// PublishNotice publishes notice about fulfilled pending request.
func (p *Publisher) PublishNotice(n ticket.Notice) error {
	return p.publish(PubSubNotices, n)
}

// PublishSnapshot relays funds snapshot to other processes running the reconciler.
func (p *Publisher) PublishSnapshot(s ticket.Snapshot) error {
	return p.publish(PubSubSnapshots, s)
}

func (p *Publisher) publish(subject string, v any) error {
	msg, err := msgpackv2.Marshal(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, msg)
}
