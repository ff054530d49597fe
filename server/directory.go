package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/wsrelay/pkg/metrics"
)

// textMessage is the websocket text frame opcode (RFC 6455).
const textMessage = 1

// ErrGone is returned when posting to a connection that is unknown or can no
// longer be written to.
var ErrGone = errors.New("connection gone")

// Conn is the write side of a client connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionInfo describes a registered connection.
type ConnectionInfo struct {
	ID           string    `json:"connectionId"`
	SourceIP     string    `json:"sourceIp"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

type entry struct {
	conn Conn

	// mu serializes writes: sessions sharing a connection never interleave
	// frames. Every use of conn happens under mu and checks dead first.
	mu   sync.Mutex
	dead bool
	info ConnectionInfo
}

// retire marks the entry dead once any in-flight write has finished, closing
// conn when asked. It is a no-op on a dead entry.
func (e *entry) retire(closeConn bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return nil
	}
	e.dead = true
	if closeConn {
		return e.conn.Close()
	}
	return nil
}

// Directory maps connection IDs to live client connections and delivers
// payloads to them.
type Directory struct {
	mu      sync.RWMutex
	conns   map[string]*entry
	metrics *metrics.Collector
}

// NewDirectory creates an empty Directory. collector may be nil.
func NewDirectory(collector *metrics.Collector) *Directory {
	return &Directory{
		conns:   make(map[string]*entry),
		metrics: collector,
	}
}

// Register adds conn and returns its new connection ID.
func (d *Directory) Register(conn Conn, sourceIP string) string {
	id, _ := d.Accept(conn, sourceIP)
	return id
}

// Accept registers conn for a caller that owns its lifetime, such as a
// websocket handler whose connection is recycled once the handler returns.
// release removes the connection and returns only after any write in flight
// has finished; conn is never touched again afterwards.
func (d *Directory) Accept(conn Conn, sourceIP string) (string, func()) {
	now := time.Now().UTC()
	id := uuid.NewString()
	e := &entry{
		conn: conn,
		info: ConnectionInfo{
			ID:           id,
			SourceIP:     sourceIP,
			ConnectedAt:  now,
			LastActiveAt: now,
		},
	}

	d.mu.Lock()
	d.conns[id] = e
	n := len(d.conns)
	d.mu.Unlock()

	d.metrics.SetConnections(n)

	release := func() {
		d.Remove(id)
		_ = e.retire(false)
	}
	return id, release
}

// Lookup returns the info for id.
func (d *Directory) Lookup(id string) (ConnectionInfo, bool) {
	d.mu.RLock()
	e, ok := d.conns[id]
	d.mu.RUnlock()
	if !ok {
		return ConnectionInfo{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info, true
}

// Post writes payload to connection id as a text frame. A deadline on ctx
// becomes the write deadline. Any failure is reported as ErrGone and the
// connection is removed.
func (d *Directory) Post(ctx context.Context, id string, payload []byte) error {
	d.mu.RLock()
	e, ok := d.conns[id]
	d.mu.RUnlock()
	if !ok {
		return ErrGone
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return ErrGone
	}
	err := d.write(ctx, e, payload)
	if err == nil {
		e.info.LastActiveAt = time.Now().UTC()
	}
	e.mu.Unlock()

	if err != nil {
		d.Remove(id)
		return fmt.Errorf("%w: %w", ErrGone, err)
	}
	return nil
}

// write runs under e.mu.
func (d *Directory) write(ctx context.Context, e *entry, payload []byte) error {
	deadline, _ := ctx.Deadline()
	if err := e.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return e.conn.WriteMessage(textMessage, payload)
}

// Remove forgets id without closing it and reports whether it was present.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	_, ok := d.conns[id]
	delete(d.conns, id)
	n := len(d.conns)
	d.mu.Unlock()

	if ok {
		d.metrics.SetConnections(n)
	}
	return ok
}

// Disconnect closes and removes connection id.
func (d *Directory) Disconnect(id string) error {
	d.mu.RLock()
	e, ok := d.conns[id]
	d.mu.RUnlock()
	if !ok {
		return ErrGone
	}

	d.Remove(id)
	return e.retire(true)
}

// Len returns the number of registered connections.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

// CloseAll closes and removes every connection.
func (d *Directory) CloseAll() {
	d.mu.Lock()
	entries := make([]*entry, 0, len(d.conns))
	for id, e := range d.conns {
		entries = append(entries, e)
		delete(d.conns, id)
	}
	d.mu.Unlock()

	for _, e := range entries {
		_ = e.retire(true)
	}
	d.metrics.SetConnections(0)
}
