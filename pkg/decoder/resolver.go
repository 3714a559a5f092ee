package decoder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/internal/constants"
	"github.com/product-labo/Meta-sub005/pkg/metrics"
)

// ResolverConfig configures the deferred lookup loop
type ResolverConfig struct {
	// QueueSize bounds the number of selectors waiting for lookup
	QueueSize int
	// RetryAfter is how long a selector unknown to every source is not retried
	RetryAfter time.Duration
	// Timeout bounds one Lookuper call
	Timeout time.Duration
}

// Resolver looks up selectors flagged as needing lookup in the background
// and adds what it finds to the signature database.
type Resolver struct {
	db       *SignatureDB
	lookuper Lookuper
	queue    chan string
	cfg      ResolverConfig
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	unknown map[string]time.Time
	now     func() time.Time
}

// NewResolver creates a resolver. Run must be called to process the queue.
func NewResolver(db *SignatureDB, lookuper Lookuper, cfg ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultResolverQueueSize
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = constants.DefaultUnknownRetryAfter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultLookupTimeout
	}

	return &Resolver{
		db:       db,
		lookuper: lookuper,
		queue:    make(chan string, cfg.QueueSize),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "signature-resolver")),
		pending:  make(map[string]struct{}),
		unknown:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Enqueue schedules a selector for lookup without blocking. It returns false
// when the selector is already known, pending, recently unknown, or the
// queue is full.
func (r *Resolver) Enqueue(selector string) bool {
	sel, ok := NormalizeSelector(selector)
	if !ok {
		return false
	}
	if _, known := r.db.Lookup(sel); known {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[sel]; ok {
		return false
	}
	if until, ok := r.unknown[sel]; ok && r.now().Before(until) {
		return false
	}

	select {
	case r.queue <- sel:
		r.pending[sel] = struct{}{}
		return true
	default:
		metrics.SignatureLookups.WithLabelValues("skipped").Inc()
		return false
	}
}

// Run processes queued selectors until ctx is cancelled
func (r *Resolver) Run(ctx context.Context) {
	r.logger.Info("signature resolver started")
	defer r.logger.Info("signature resolver stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case sel := <-r.queue:
			r.Resolve(ctx, sel)

			r.mu.Lock()
			delete(r.pending, sel)
			r.mu.Unlock()
		}
	}
}

// Resolve looks up one selector now. Lookup errors are logged, never returned;
// a miss is remembered for RetryAfter.
func (r *Resolver) Resolve(ctx context.Context, selector string) (SignatureEntry, bool) {
	selector, ok := NormalizeSelector(selector)
	if !ok {
		return SignatureEntry{}, false
	}
	if entry, ok := r.db.Lookup(selector); ok {
		return entry, true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	entry, err := r.lookuper.Lookup(lookupCtx, selector)
	if err != nil {
		metrics.SignatureLookups.WithLabelValues("error").Inc()
		r.logger.Warn("signature lookup failed",
			zap.String("selector", selector),
			zap.Error(err),
		)
		return SignatureEntry{}, false
	}

	if entry == nil {
		metrics.SignatureLookups.WithLabelValues("unknown").Inc()
		r.mu.Lock()
		r.unknown[selector] = r.now().Add(r.cfg.RetryAfter)
		r.mu.Unlock()
		return SignatureEntry{}, false
	}

	stored, _, err := r.db.Add(*entry)
	if err != nil {
		metrics.SignatureLookups.WithLabelValues("error").Inc()
		r.logger.Warn("rejected looked up signature",
			zap.String("selector", selector),
			zap.String("signature", entry.Signature),
			zap.Error(err),
		)
		return SignatureEntry{}, false
	}

	metrics.SignatureLookups.WithLabelValues("found").Inc()
	r.logger.Info("resolved selector",
		zap.String("selector", stored.Selector),
		zap.String("signature", stored.Signature),
		zap.String("source", string(stored.Source)),
	)
	return stored, true
}

// Pending returns the number of selectors waiting for lookup
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
