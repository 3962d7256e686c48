package notify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

// Connection is one actor's live endpoint
type Connection struct {
	ActorID string
	Role    models.Role

	events    chan models.StatusChangedEvent
	done      chan struct{}
	closeOnce sync.Once
}

// Events yields the events routed to this connection
func (c *Connection) Events() <-chan models.StatusChangedEvent {
	return c.events
}

// Done is closed when the connection is replaced or disconnected
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer performs a non-blocking send and reports whether the event was queued
func (c *Connection) offer(evt models.StatusChangedEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- evt:
		return true
	default:
		return false
	}
}

// Registry tracks at most one connection per actor and the channels each one joined
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	channels map[string]map[string]*Connection
	joined   map[string]map[string]struct{}
	buffer   int
	logger   *zap.Logger
}

// NewRegistry creates a registry whose connections buffer up to buffer events
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = 1
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		channels: make(map[string]map[string]*Connection),
		joined:   make(map[string]map[string]struct{}),
		buffer:   buffer,
		logger:   util.GetLogger(),
	}
}

// Connect registers a new endpoint for the actor and joins its role channels.
// A previous connection of the same actor is closed and replaced.
func (r *Registry) Connect(actorID string, role models.Role) *Connection {
	conn := &Connection{
		ActorID: actorID,
		Role:    role,
		events:  make(chan models.StatusChangedEvent, r.buffer),
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[actorID]; ok {
		r.removeLocked(old)
		r.logger.Info("Connection replaced", zap.String("actor_id", actorID))
	}

	r.conns[actorID] = conn
	r.joined[actorID] = make(map[string]struct{})
	for _, ch := range RoleChannels(role, actorID) {
		r.joinLocked(conn, ch)
	}
	util.ConnectionsActive.Inc()

	r.logger.Info("Actor connected",
		zap.String("actor_id", actorID),
		zap.String("role", string(role)))
	return conn
}

// Disconnect removes conn if it is still the actor's active connection
func (r *Registry) Disconnect(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[conn.ActorID]; !ok || current != conn {
		conn.close()
		return
	}
	r.removeLocked(conn)
	r.logger.Info("Actor disconnected", zap.String("actor_id", conn.ActorID))
}

// Join adds the actor's connection to channel
func (r *Registry) Join(actorID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[actorID]
	if !ok {
		return fmt.Errorf("join %s by %s: %w", channel, actorID, models.ErrNotConnected)
	}
	r.joinLocked(conn, channel)
	return nil
}

// Leave removes the actor's connection from channel
func (r *Registry) Leave(actorID, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[actorID]; !ok {
		return fmt.Errorf("leave %s by %s: %w", channel, actorID, models.ErrNotConnected)
	}
	r.leaveLocked(actorID, channel)
	return nil
}

// Lookup returns the actor's active connection
func (r *Registry) Lookup(actorID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[actorID]
	return conn, ok
}

// Members returns the distinct connections present in any of channels
func (r *Registry) Members(channels []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*Connection
	for _, ch := range channels {
		for actorID, conn := range r.channels[ch] {
			if _, dup := seen[actorID]; dup {
				continue
			}
			seen[actorID] = struct{}{}
			out = append(out, conn)
		}
	}
	return out
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) joinLocked(conn *Connection, channel string) {
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]*Connection)
		r.channels[channel] = members
	}
	members[conn.ActorID] = conn
	r.joined[conn.ActorID][channel] = struct{}{}
}

func (r *Registry) leaveLocked(actorID, channel string) {
	if members, ok := r.channels[channel]; ok {
		delete(members, actorID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
	delete(r.joined[actorID], channel)
}

func (r *Registry) removeLocked(conn *Connection) {
	for ch := range r.joined[conn.ActorID] {
		r.leaveLocked(conn.ActorID, ch)
	}
	delete(r.joined, conn.ActorID)
	delete(r.conns, conn.ActorID)
	conn.close()
	util.ConnectionsActive.Dec()
}
