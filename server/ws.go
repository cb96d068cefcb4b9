package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/bartossh/Ticketeer/reactive"
	"github.com/bartossh/Ticketeer/ticket"
)

const (
	socketWriteWait      = 10 * time.Second
	socketPongWait       = 20 * time.Second
	socketPingPeriod     = (socketPongWait * 4) / 5
	socketMaxMessageSize = 512
	feedBufferSize       = 64
)

const (
	CommandNotice = "notice"
	CommandClose  = "close"
)

const addressLocal = "address"

// Message is the message that is used to inform the websocket client.
type Message struct {
	Command string         `json:"command"`          // Command names the kind of the message.
	Error   string         `json:"error,omitempty"`  // Error is the error message that is sent to the client.
	Notice  *ticket.Notice `json:"notice,omitempty"` // Notice is the fulfillment notice for the address the client follows.
}

// NoticeFeed fans out fulfillment notices to connected websocket clients.
type NoticeFeed struct {
	observable *reactive.Observable[ticket.Notice]
}

// NewNoticeFeed creates a new NoticeFeed.
func NewNoticeFeed() *NoticeFeed {
	return &NoticeFeed{observable: reactive.New[ticket.Notice](feedBufferSize)}
}

// PublishNotice publishes notice to all subscribed clients. It never blocks.
func (f *NoticeFeed) PublishNotice(n ticket.Notice) error {
	f.observable.Publish(n)
	return nil
}

// Clients returns number of connected clients.
func (f *NoticeFeed) Clients() int {
	return f.observable.Subscribers()
}

func (s *server) wsUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	addr := c.Query(addressLocal)
	if err := s.verifier.ValidateAddress(addr); err != nil {
		s.log.Error(fmt.Sprintf("websocket server, invalid address [ %s ] requested from [ %s ]", addr, c.IP()))
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	c.Locals(addressLocal, addr)
	return c.Next()
}

func (s *server) wsNotices(conn *websocket.Conn) {
	addr, _ := conn.Locals(addressLocal).(string)
	sub := s.feed.observable.Subscribe()
	defer sub.Cancel()

	s.log.Info(fmt.Sprintf("websocket server, client following address [ %s ] connected", addr))

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(socketPingPeriod)
	defer func() {
		ticker.Stop()
		conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, CommandClose))
		conn.Close()
		s.log.Info(fmt.Sprintf("websocket server, client following address [ %s ] disconnected", addr))
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case n, ok := <-sub.Channel():
			if !ok {
				return
			}
			if n.Address != addr {
				continue
			}
			raw, err := json.Marshal(Message{Command: CommandNotice, Notice: &n})
			if err != nil {
				s.log.Error(fmt.Sprintf("websocket server, failed to marshal notice: %s", err))
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.log.Error(fmt.Sprintf("websocket server, closing connection for address [ %s ] due to %s", addr, err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Error(fmt.Sprintf("websocket server, closing connection for address [ %s ] due to %s", addr, err))
				return
			}
		}
	}
}

// readPump consumes control frames so pongs extend the read deadline. Client messages are discarded.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(socketMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(socketPongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
