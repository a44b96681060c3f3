// Package bus connects the daemon to a websocket hub: session events go out
// as JSON frames and remote commands come back in.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"

	"voxphone/internal/session"
)

const (
	KindStatus     = "status"
	KindEntry      = "entry"
	KindCleared    = "cleared"
	KindTranscript = "transcript"
	KindError      = "error"
	KindCommand    = "command"
	KindPrompt     = "prompt"

	Broadcast = "ALL"
)

const writeTimeout = 5 * time.Second

var ErrNotConnected = errors.New("not connected to hub")

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
	Role    string `json:"role,omitempty"`
}

type Config struct {
	URL       string
	Name      string        // our address on the hub
	Reconnect time.Duration // delay between reconnect attempts
}

type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *ws.Conn
}

// Dial connects to the hub once; Run keeps the connection alive afterwards.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "voxphone"
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 3 * time.Second
	}

	c := &Client{cfg: cfg}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	log.Info("Connected to hub", "url", cfg.URL, "name", cfg.Name)
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := ws.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial hub %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return nil
}

// Publish broadcasts m. It fails while the hub is unreachable.
func (c *Client) Publish(m Message) error {
	m.From = c.cfg.Name
	if m.To == "" {
		m.To = Broadcast
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(ws.TextMessage, data)
}

// Run reads messages addressed to us and hands them to handle until ctx is
// done, reconnecting whenever the hub goes away.
func (c *Client) Run(ctx context.Context, handle func(Message)) {
	go func() {
		<-ctx.Done()
		c.drop()
	}()

	for ctx.Err() == nil {
		conn := c.current()
		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isClosed(err) {
				log.Warn("Hub closed the connection", "url", c.cfg.URL)
			} else {
				log.Error("Failed to read from hub", "err", err)
			}
			c.drop()
			continue
		}

		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			log.Warn("Failed to parse hub message", "msg", string(raw), "err", err)
			continue
		}

		if m.To != c.cfg.Name && m.To != Broadcast {
			continue
		}
		if m.From == c.cfg.Name {
			continue
		}

		handle(m)
	}
}

func (c *Client) reconnect(ctx context.Context) {
	t := time.NewTicker(c.cfg.Reconnect)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if err := c.connect(ctx); err != nil {
			log.Debug("Hub still unreachable", "err", err)
			continue
		}

		log.Info("Reconnected to hub", "url", c.cfg.URL)
		return
	}
}

func (c *Client) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Forward publishes session events until the channel closes.
func (c *Client) Forward(events <-chan session.Event) {
	for ev := range events {
		if err := c.Publish(FromEvent(ev)); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Warn("Failed to publish event", "kind", ev.Kind, "err", err)
		}
	}
}

func FromEvent(ev session.Event) Message {
	m := Message{Status: ev.Status.String()}

	switch ev.Kind {
	case session.StatusChanged:
		m.Kind = KindStatus
		m.Content = ev.Status.String()
	case session.EntryAdded:
		m.Kind = KindEntry
		if ev.Entry != nil {
			m.Content = ev.Entry.Text
			m.Role = string(ev.Entry.Role)
		}
	case session.LogCleared:
		m.Kind = KindCleared
	case session.Transcribed:
		m.Kind = KindTranscript
		m.Content = ev.Text
	case session.Failed:
		m.Kind = KindError
		m.Content = ev.Text
	}

	return m
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
