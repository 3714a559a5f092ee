package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
)

var (
	// ErrTooManyClients is returned when the hub is at its client limit
	ErrTooManyClients = errors.New("too many websocket clients")

	// ErrHubClosed is returned after Close
	ErrHubClosed = errors.New("hub closed")
)

// Delivery outcomes of a wallet message
const (
	deliveryLive   = "live"
	deliveryQueued = "queued"
	deliveryStale  = "stale"
)

// HubConfig holds hub settings
type HubConfig struct {
	// Shards is the number of wallet shards
	Shards int
	// SendBuffer is the per-client outbound buffer
	SendBuffer int
	// MaxClients limits concurrent subscribers, 0 for no limit
	MaxClients int
	// PruneInterval is how often idle offline queues are pruned
	PruneInterval time.Duration
}

type walletState struct {
	clients map[*Client]struct{}
	guard   orderGuard
}

// shard owns the subscribers of the wallets hashed to it
type shard struct {
	mu      sync.Mutex
	wallets map[string]*walletState
	// lastStamp keeps message timestamps non-decreasing
	lastStamp int64
}

func (s *shard) wallet(walletID string) *walletState {
	ws, ok := s.wallets[walletID]
	if !ok {
		ws = &walletState{clients: make(map[*Client]struct{})}
		s.wallets[walletID] = ws
	}
	return ws
}

// release drops the state of a wallet with no subscriber and a finished job
func (s *shard) release(walletID string, ws *walletState) {
	if len(ws.clients) == 0 && ws.guard.done {
		delete(s.wallets, walletID)
	}
}

func (s *shard) stamp(now time.Time) int64 {
	ms := now.UnixMilli()
	if ms < s.lastStamp {
		ms = s.lastStamp
	}
	s.lastStamp = ms
	return ms
}

// Hub delivers wallet messages to live subscribers and queues them for
// wallets without one
type Hub struct {
	cfg     HubConfig
	shards  []*shard
	queue   MessageQueue
	clients atomic.Int64
	closed  atomic.Bool
	now     func() time.Time
	logger  *zap.Logger
}

// NewHub creates a hub. A nil queue keeps offline messages in memory.
func NewHub(cfg HubConfig, queue MessageQueue, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Shards <= 0 {
		cfg.Shards = constants.DefaultHubShards
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = constants.DefaultSendBufferSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}
	if queue == nil {
		queue = NewMemoryQueue(constants.DefaultQueueRetention)
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{wallets: make(map[string]*walletState)}
	}

	return &Hub{
		cfg:    cfg,
		shards: shards,
		queue:  queue,
		now:    time.Now,
		logger: logger.With(zap.String("component", "broadcaster")),
	}
}

func (h *Hub) shardFor(walletID string) *shard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(walletID))
	return h.shards[f.Sum32()%uint32(len(h.shards))]
}

// Run prunes idle offline queues until ctx is done
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.queue.Prune(ctx)
			if err != nil {
				h.logger.Warn("failed to prune offline queues", zap.Error(err))
				continue
			}
			if n > 0 {
				h.logger.Info("pruned idle offline queues", zap.Int("messages", n))
			}
		}
	}
}

// Full reports whether the hub is at its client limit
func (h *Hub) Full() bool {
	return h.cfg.MaxClients > 0 && h.clients.Load() >= int64(h.cfg.MaxClients)
}

// ClientCount returns the number of live subscribers
func (h *Hub) ClientCount() int {
	return int(h.clients.Load())
}

// Subscribers returns the number of live subscribers of a wallet
func (h *Hub) Subscribers(walletID string) int {
	sh := h.shardFor(walletID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ws, ok := sh.wallets[walletID]; ok {
		return len(ws.clients)
	}
	return 0
}

// QueuedMessages returns the number of messages waiting for a wallet
func (h *Hub) QueuedMessages(ctx context.Context, walletID string) (int, error) {
	return h.queue.Len(ctx, walletID)
}

// Register makes c a live subscriber of its wallet. The wallet's queued
// messages become the client's backlog, written before any live message.
func (h *Hub) Register(ctx context.Context, c *Client) error {
	if h.closed.Load() {
		return ErrHubClosed
	}
	if n := h.clients.Add(1); h.cfg.MaxClients > 0 && n > int64(h.cfg.MaxClients) {
		h.clients.Add(-1)
		return ErrTooManyClients
	}

	sh := h.shardFor(c.walletID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	backlog, err := h.queue.Drain(ctx, c.walletID)
	if err != nil {
		h.clients.Add(-1)
		return fmt.Errorf("failed to flush queue of wallet %s: %w", c.walletID, err)
	}
	c.backlog = backlog
	sh.wallet(c.walletID).clients[c] = struct{}{}
	metrics.Subscribers.Inc()

	if len(backlog) > 0 {
		metrics.QueueFlushes.Inc()
	}
	h.logger.Debug("subscriber connected",
		zap.String("wallet_id", c.walletID),
		zap.String("client_id", c.id),
		zap.Int("queued", len(backlog)),
	)
	return nil
}

// Unregister removes c from its wallet's subscribers
func (h *Hub) Unregister(c *Client) {
	sh := h.shardFor(c.walletID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ws, ok := sh.wallets[c.walletID]
	if !ok {
		return
	}
	if _, ok := ws.clients[c]; !ok {
		return
	}
	h.remove(c, ws)
	sh.release(c.walletID, ws)
	h.logger.Debug("subscriber disconnected",
		zap.String("wallet_id", c.walletID),
		zap.String("client_id", c.id),
	)
}

// remove drops c from ws and closes its send channel. The shard lock must be held.
func (h *Hub) remove(c *Client, ws *walletState) {
	delete(ws.clients, c)
	close(c.send)
	h.clients.Add(-1)
	metrics.Subscribers.Dec()
}

// pong answers a client heartbeat
func (h *Hub) pong(c *Client) {
	sh := h.shardFor(c.walletID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ws, ok := sh.wallets[c.walletID]
	if !ok {
		return
	}
	if _, ok := ws.clients[c]; !ok {
		return
	}
	msg, err := encodeMessage(TypePong, nil, sh.stamp(h.now()))
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// BroadcastProgress sends a progress message to the wallet
func (h *Hub) BroadcastProgress(ctx context.Context, data ProgressData) error {
	return h.broadcast(ctx, data.WalletID, TypeProgress, data.JobID, data.CurrentBlock, data)
}

// BroadcastComplete sends a complete message to the wallet
func (h *Hub) BroadcastComplete(ctx context.Context, data CompleteData) error {
	return h.broadcast(ctx, data.WalletID, TypeComplete, data.JobID, data.LastBlock, data)
}

// BroadcastError sends an error message to the wallet
func (h *Hub) BroadcastError(ctx context.Context, data ErrorData) error {
	return h.broadcast(ctx, data.WalletID, TypeError, data.JobID, data.LastBlock, data)
}

// BroadcastStatus sends a status message to the wallet
func (h *Hub) BroadcastStatus(ctx context.Context, data StatusData) error {
	return h.broadcast(ctx, data.WalletID, TypeStatus, data.JobID, data.CurrentBlock, data)
}

// broadcast fans a message out to the wallet's subscribers. Subscribers
// with a full send buffer are disconnected. When nobody received the
// message it is queued.
func (h *Hub) broadcast(ctx context.Context, walletID string, typ MessageType, jobID string, block uint64, data any) error {
	if h.closed.Load() {
		return ErrHubClosed
	}

	sh := h.shardFor(walletID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ws := sh.wallet(walletID)
	if !ws.guard.admit(typ, jobID, block) {
		metrics.BroadcastMessages.WithLabelValues(string(typ), deliveryStale).Inc()
		h.logger.Debug("dropped out of order message",
			zap.String("wallet_id", walletID),
			zap.String("job_id", jobID),
			zap.String("type", string(typ)),
			zap.Uint64("block", block),
		)
		return nil
	}
	defer sh.release(walletID, ws)

	msg, err := encodeMessage(typ, data, sh.stamp(h.now()))
	if err != nil {
		return err
	}

	delivered := 0
	for c := range ws.clients {
		select {
		case c.send <- msg:
			delivered++
		default:
			h.remove(c, ws)
			metrics.SlowClientDisconnects.Inc()
			h.logger.Warn("disconnected slow subscriber",
				zap.String("wallet_id", walletID),
				zap.String("client_id", c.id),
			)
		}
	}

	if delivered > 0 {
		metrics.BroadcastMessages.WithLabelValues(string(typ), deliveryLive).Inc()
		return nil
	}

	if err := h.queue.Enqueue(ctx, walletID, msg); err != nil {
		return err
	}
	metrics.BroadcastMessages.WithLabelValues(string(typ), deliveryQueued).Inc()
	return nil
}

// Close disconnects every subscriber and closes the queue
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sh := range h.shards {
		sh.mu.Lock()
		for walletID, ws := range sh.wallets {
			for c := range ws.clients {
				h.remove(c, ws)
			}
			delete(sh.wallets, walletID)
		}
		sh.mu.Unlock()
	}
	return h.queue.Close()
}
