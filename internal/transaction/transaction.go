// Package transaction frames a duplex message connection into typed
// request/response commands and one-way push events, mirroring the
// transaction protocol the browser side speaks.
package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("transaction: send buffer full")
	ErrClosed       = errors.New("transaction: channel closed")
)

const (
	frameCmd      = "cmd"
	frameResponse = "response"
	frameError    = "error"
	frameEvent    = "event"

	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// MessageConn is the subset of *websocket.Conn the manager needs; tests
// substitute an in-memory implementation.
type MessageConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type frame struct {
	Type    string          `json:"type"`
	TransID uint64          `json:"transId,omitempty"`
	Name    string          `json:"name,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Command is one inbound request. Exactly one of Accept or Reject must be
// called; the first wins and later calls are no-ops.
type Command struct {
	Name string
	Data json.RawMessage

	id      uint64
	m       *Manager
	replied sync.Once
}

func (c *Command) Accept(data any) {
	c.replied.Do(func() {
		c.m.send(frame{Type: frameResponse, TransID: c.id}, data)
	})
}

func (c *Command) Reject(reason string) {
	c.replied.Do(func() {
		c.m.send(frame{Type: frameError, TransID: c.id}, map[string]string{"error": reason})
	})
}

// Options tunes one channel. The zero value disables keepalive pings.
type Options struct {
	PingPeriod time.Duration
}

// Manager runs the read and write pumps over one connection and dispatches
// commands to the registered handler.
type Manager struct {
	conn       MessageConn
	out        chan []byte
	pingPeriod time.Duration

	mu        sync.Mutex
	closed    bool
	onCommand func(*Command)
	onClose   func()
}

func New(conn MessageConn, opts Options) *Manager {
	return &Manager{
		conn:       conn,
		out:        make(chan []byte, sendBuffer),
		pingPeriod: opts.PingPeriod,
	}
}

// OnCommand registers the command handler; commands arriving without a
// handler are rejected.
func (m *Manager) OnCommand(fn func(*Command)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCommand = fn
}

// OnClose registers a handler invoked exactly once when the connection
// goes away, whatever the reason.
func (m *Manager) OnClose(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

// Event pushes a one-way event; no response is expected.
func (m *Manager) Event(name string, data any) error {
	return m.send(frame{Type: frameEvent, Name: name}, data)
}

func (m *Manager) send(f frame, data any) error {
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		f.Data = b
	}
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.out <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

// Run drives both pumps until the connection fails or ctx is done. It
// always leaves the connection closed and the close handler fired.
func (m *Manager) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go m.writePump(ctx)
	m.readPump(ctx)
	m.Close()
}

func (m *Manager) readPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := m.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "transaction").Msg("read pump done")
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) writePump(ctx context.Context) {
	var ping <-chan time.Time
	if m.pingPeriod > 0 {
		ticker := time.NewTicker(m.pingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			if err := m.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-m.out:
			if !ok {
				return
			}
			if err := m.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "transaction").Msg("write pump done")
				return
			}
		}
	}
}

func (m *Manager) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "transaction").Msg("bad frame")
		return
	}
	if f.Type != frameCmd {
		log.Warn().Str("module", "transaction").Str("type", f.Type).Msg("unexpected frame")
		return
	}

	cmd := &Command{Name: f.Name, Data: f.Data, id: f.TransID, m: m}

	m.mu.Lock()
	handler := m.onCommand
	m.mu.Unlock()

	if handler == nil {
		cmd.Reject("no handler")
		return
	}
	handler(cmd)
}

// Close shuts the channel down; safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	onClose := m.onClose
	m.mu.Unlock()

	_ = m.conn.Close()
	if onClose != nil {
		onClose()
	}
}
