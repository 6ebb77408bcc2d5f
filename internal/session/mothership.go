package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/logging"
)

// Message types exchanged with the mothership.
const (
	TypeSessionUpdate = "mothership/server/session/update"
	TypeSessionDelete = "mothership/server/session/delete"
	TypeRegistered    = "server.registered"
	TypeRegisteredAck = "server.registered.successful"
)

const writeWait = 10 * time.Second

// Message is one JSON frame on the mothership connection.
type Message struct {
	Type    string `json:"type"`
	SID     string `json:"sid,omitempty"`
	Data    *Data  `json:"data,omitempty"`
	Server  string `json:"server,omitempty"`
	Address string `json:"address,omitempty"`
}

// Mothership replicates sessions to a central server over a websocket.
type Mothership struct {
	conn    *websocket.Conn
	address string
	logger  logging.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	uuid    string
}

var _ Replicator = (*Mothership)(nil)

// DialMothership connects to url. address is announced to the mothership
// once it registers this server.
func DialMothership(ctx context.Context, url, address string, logger logging.Logger) (*Mothership, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSessionReplication, "connecting to mothership "+url, err)
	}

	m := &Mothership{conn: conn, address: address, logger: logger.WithComponent("mothership")}
	m.logger.Info(ctx, "Connected to mothership", "url", url)
	return m, nil
}

// Update sends the session's current state.
func (m *Mothership) Update(ctx context.Context, d Data) error {
	return m.send(ctx, Message{Type: TypeSessionUpdate, SID: d.ID, Data: &d})
}

// Delete announces a destroyed session.
func (m *Mothership) Delete(ctx context.Context, id string) error {
	return m.send(ctx, Message{Type: TypeSessionDelete, SID: id})
}

// UUID returns the id the mothership assigned, if any.
func (m *Mothership) UUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uuid
}

// Listen reads messages until ctx is done or the connection closes.
func (m *Mothership) Listen(ctx context.Context) error {
	for {
		var msg Message
		if err := wsjson.Read(ctx, m.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
				return nil
			}
			return errors.NewIOError(errors.ErrCodeSessionReplication, "reading from mothership", err)
		}

		switch msg.Type {
		case TypeRegistered:
			m.mu.Lock()
			m.uuid = msg.Server
			m.mu.Unlock()
			m.logger.Info(ctx, "Registered with mothership", "uuid", msg.Server)
			if err := m.send(ctx, Message{Type: TypeRegisteredAck, Server: msg.Server, Address: m.address}); err != nil {
				return err
			}
		default:
			m.logger.Debug(ctx, "Ignoring mothership message", "type", msg.Type)
		}
	}
}

// Close ends the connection.
func (m *Mothership) Close() error {
	return m.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Mothership) send(ctx context.Context, msg Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := wsjson.Write(writeCtx, m.conn, msg); err != nil {
		return errors.NewIOError(errors.ErrCodeSessionReplication, fmt.Sprintf("sending %s", msg.Type), err)
	}
	return nil
}
