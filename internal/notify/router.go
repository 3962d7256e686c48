package notify

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"venue-orders/internal/models"
	"venue-orders/internal/util"
)

const (
	routerShards      = 32
	defaultVersionTTL = 6 * time.Hour
)

// versionMark is the last version routed for one order
type versionMark struct {
	version int64
	seen    time.Time
}

type versionShard struct {
	mu       sync.Mutex
	versions map[string]versionMark
}

// Router fans status changes out to the connections of a Registry.
// Callers must publish the events of one order in commit order.
// Orders are serialized per shard, so publishes for unrelated orders rarely wait on each other.
type Router struct {
	registry   *Registry
	logger     *zap.Logger
	versionTTL time.Duration
	now        func() time.Time

	shards    [routerShards]*versionShard
	lastSweep atomic.Int64
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithVersionTTL bounds how long an order's last routed version is remembered
// after its most recent event. Orders that never reach a terminal status are
// forgotten after ttl.
func WithVersionTTL(ttl time.Duration) RouterOption {
	return func(r *Router) {
		if ttl > 0 {
			r.versionTTL = ttl
		}
	}
}

func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry:   registry,
		logger:     util.GetLogger(),
		versionTTL: defaultVersionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &versionShard{versions: make(map[string]versionMark)}
	}
	r.lastSweep.Store(r.now().UnixNano())
	return r
}

func (r *Router) Registry() *Registry {
	return r.registry
}

// SubscribeOrder lets a connected actor track one order
func (r *Router) SubscribeOrder(actorID, orderID string) error {
	return r.registry.Join(actorID, OrderChannel(orderID))
}

func (r *Router) UnsubscribeOrder(actorID, orderID string) error {
	return r.registry.Leave(actorID, OrderChannel(orderID))
}

// SubscribeTable lets a connected actor follow every order served at a table
func (r *Router) SubscribeTable(actorID, tableID string) error {
	return r.registry.Join(actorID, TableChannel(tableID))
}

func (r *Router) UnsubscribeTable(actorID, tableID string) error {
	return r.registry.Leave(actorID, TableChannel(tableID))
}

// Publish delivers evt at most once to every connection in its target channels
// and returns how many connections accepted it. An event whose version is not
// newer than the last one routed for the same order is discarded.
func (r *Router) Publish(evt models.StatusChangedEvent) int {
	now := r.now()
	r.maybeSweep(now)

	shard := r.shardFor(evt.OrderID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if last, ok := shard.versions[evt.OrderID]; ok && evt.Version <= last.version && !r.expired(last, now) {
		util.NotificationsDroppedTotal.WithLabelValues("stale").Inc()
		r.logger.Debug("Stale event discarded",
			zap.String("order_id", evt.OrderID),
			zap.Int64("version", evt.Version),
			zap.Int64("last_version", last.version))
		return 0
	}
	if evt.NewStatus.IsTerminal() {
		delete(shard.versions, evt.OrderID)
	} else {
		shard.versions[evt.OrderID] = versionMark{version: evt.Version, seen: now}
	}

	delivered := 0
	for _, conn := range r.registry.Members(Targets(evt)) {
		if conn.offer(evt) {
			delivered++
			continue
		}
		util.NotificationsDroppedTotal.WithLabelValues("buffer_full").Inc()
		r.logger.Debug("Event dropped for slow or closed connection",
			zap.String("order_id", evt.OrderID),
			zap.String("actor_id", conn.ActorID))
	}

	util.NotificationsDeliveredTotal.WithLabelValues(evt.Class).Add(float64(delivered))
	r.logger.Debug("Status change routed",
		zap.String("order_id", evt.OrderID),
		zap.String("class", evt.Class),
		zap.Int("delivered", delivered))
	return delivered
}

func (r *Router) shardFor(orderID string) *versionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return r.shards[h.Sum32()%routerShards]
}

func (r *Router) expired(mark versionMark, now time.Time) bool {
	return now.Sub(mark.seen) > r.versionTTL
}

// maybeSweep forgets idle orders at most once per TTL. Only the caller that
// wins the timestamp swap sweeps, one shard at a time.
func (r *Router) maybeSweep(now time.Time) {
	last := r.lastSweep.Load()
	if now.UnixNano()-last < int64(r.versionTTL) || !r.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	pruned := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for orderID, mark := range shard.versions {
			if r.expired(mark, now) {
				delete(shard.versions, orderID)
				pruned++
			}
		}
		shard.mu.Unlock()
	}
	if pruned > 0 {
		r.logger.Debug("Forgot idle orders", zap.Int("pruned", pruned))
	}
}

// tracked counts the orders whose last version is remembered
func (r *Router) tracked() int {
	n := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		n += len(shard.versions)
		shard.mu.Unlock()
	}
	return n
}
