// Package hub implements the per-connection orchestration layer
// (SPEC_FULL.md §9): owning one WorldChannel/HostWorldWriter/
// PacketNotifier trio per connection, scheduling each connection's
// tick independently, and periodically pruning stale records.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/embervault/netreplica/pkg/component"
	"github.com/embervault/netreplica/pkg/config"
	"github.com/embervault/netreplica/pkg/ecs"
	"github.com/embervault/netreplica/pkg/hostwriter"
	"github.com/embervault/netreplica/pkg/packetnotify"
	"github.com/embervault/netreplica/pkg/wire"
	"github.com/embervault/netreplica/pkg/worldchannel"
)

// Hub manages every live connection against a single shared ECS world,
// generalizing the teacher's "N worker goroutines draining one event
// channel" shape (pkg/diff.Syncer.Run) into "one goroutine per
// connection ticking independently" — there's no shared work queue to
// drain here, just N independent per-connection packet loops.
type Hub struct {
	cfg    config.Config
	reg    *component.Registry
	world  ecs.World
	logger *zap.Logger

	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection

	tickSem *semaphore.Weighted
}

// New creates a Hub driving connections against world using reg's
// component registry and cfg's tunables. maxConcurrentTicks bounds how
// many connections' packets TickAll will pack at once; 0 means
// unbounded.
func New(cfg config.Config, reg *component.Registry, world ecs.World, maxConcurrentTicks int64, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sem *semaphore.Weighted
	if maxConcurrentTicks > 0 {
		sem = semaphore.NewWeighted(maxConcurrentTicks)
	}
	return &Hub{
		cfg:         cfg,
		reg:         reg,
		world:       world,
		logger:      logger,
		connections: make(map[uuid.UUID]*Connection),
		tickSem:     sem,
	}
}

// AddConnection creates a fresh WorldChannel/Writer/Notifier trio for
// userID and registers it under a new connection id.
func (h *Hub) AddConnection(userID string, transport Transport) (*Connection, error) {
	ch, err := worldchannel.New(h.cfg.MaxNetEntity, h.reg)
	if err != nil {
		return nil, fmt.Errorf("hub: add connection: %w", err)
	}
	writer := hostwriter.New(h.cfg.MTUBytes, h.logger)
	conn := &Connection{
		ID:        uuid.New(),
		UserID:    userID,
		Channel:   ch,
		Writer:    writer,
		Notifier:  packetnotify.New(writer, ch),
		Transport: transport,
	}

	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()
	return conn, nil
}

// RemoveConnection drops a connection's state entirely.
func (h *Hub) RemoveConnection(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, id)
}

// Connection returns the connection registered under id, if any.
func (h *Hub) Connection(id uuid.UUID) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.connections[id]
	return c, ok
}

// Connections returns a snapshot of every currently registered
// connection.
func (h *Hub) Connections() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		out = append(out, c)
	}
	return out
}

// tickConnection packs and sends exactly one packet for conn.
func (h *Hub) tickConnection(conn *Connection, now time.Time) error {
	conn.Channel.Sender().Collect(now, h.cfg.RTTEstimate)

	bw := wire.NewBitWriter(h.cfg.MTUBytes)
	if err := conn.Writer.WriteIntoPacket(bw, conn.nextPacketIndex, now, h.world, conn.Channel, h.reg); err != nil {
		return fmt.Errorf("hub: connection %s: write packet: %w", conn.ID, err)
	}

	packetIndex := conn.nextPacketIndex
	conn.nextPacketIndex++
	conn.lastTickAt = now

	if conn.Transport != nil {
		if err := conn.Transport.Send(packetIndex, bw.Bytes()); err != nil {
			return fmt.Errorf("hub: connection %s: send packet %d: %w", conn.ID, packetIndex, err)
		}
	}

	ttl := h.cfg.RecordTTL()
	conn.Writer.PruneUpdateRecordsBefore(now, ttl)
	conn.Writer.PruneActionRecordsBefore(now, ttl)
	if threshold, ok := conn.Channel.Sender().OldestPending(); ok {
		conn.Channel.PruneDelivered(threshold)
	} else {
		conn.Channel.PruneDelivered(conn.Channel.Sender().NextID())
	}
	return nil
}

// TickAll packs and sends one packet for every registered connection,
// bounding concurrency with the semaphore configured in New so a hub
// with many more connections than worker capacity doesn't spawn an
// unbounded burst of goroutines on a single tick.
func (h *Hub) TickAll(ctx context.Context, now time.Time) error {
	conns := h.Connections()
	g, ctx := errgroup.WithContext(ctx)

	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if h.tickSem != nil {
				if err := h.tickSem.Acquire(ctx, 1); err != nil {
					return err
				}
				defer h.tickSem.Release(1)
			}
			return h.tickConnection(conn, now)
		})
	}
	return g.Wait()
}

// Run starts one long-lived goroutine per connection present at call
// time, each ticking on its own cfg.TickInterval timer until ctx is
// canceled. Connections added after Run starts are not picked up;
// callers that add connections dynamically should call tickConnection
// (via TickAll, or their own loop) instead.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, conn := range h.Connections() {
		conn := conn
		g.Go(func() error {
			ticker := time.NewTicker(h.cfg.TickInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case now := <-ticker.C:
					if err := h.tickConnection(conn, now); err != nil {
						h.logger.Error("hub: connection tick failed", zap.Stringer("connection", conn.ID), zap.Error(err))
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}
