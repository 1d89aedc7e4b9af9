package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aegisshield/compliance-tracker/internal/config"
	"github.com/aegisshield/compliance-tracker/internal/metrics"
)

// Dispatcher accepts notification requests without blocking the caller and
// hands them to a Sender from a fixed pool of workers
type Dispatcher struct {
	sender   Sender
	renderer *Renderer
	limiter  *rate.Limiter
	timeout  time.Duration
	workers  int
	logger   *zap.Logger
	metrics  *metrics.Collector

	queue  chan Request
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewDispatcher creates a dispatcher sized from cfg. A zero rate limit disables limiting.
func NewDispatcher(cfg config.NotificationsConfig, sender Sender, renderer *Renderer, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitPerMin > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerMin)/60, burst)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Dispatcher{
		sender:   sender,
		renderer: renderer,
		limiter:  limiter,
		timeout:  timeout,
		workers:  workers,
		logger:   logger.Named("notifications"),
		metrics:  collector,
		queue:    make(chan Request, cfg.QueueSize),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the worker pool. Workers drain the queue after Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting notification dispatcher",
		zap.String("sink", d.sender.Name()),
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop closes the queue and waits for queued requests to be handed off
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Notification dispatcher stopped")
}

// Enqueue accepts req for asynchronous delivery. It never blocks; when the
// queue is full the request is dropped and ErrQueueFull returned.
func (d *Dispatcher) Enqueue(req Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = d.now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}

	select {
	case d.queue <- req:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		d.metrics.RecordNotification(d.sender.Name(), string(req.Kind), "dropped", 0)
		d.logger.Warn("Notification queue full, dropping request",
			zap.String("request_id", req.ID),
			zap.String("kind", string(req.Kind)),
			zap.String("entity_id", req.EntityID))
		return ErrQueueFull
	}
}

// Pending reports how many requests are waiting for a worker
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()
	d.logger.Debug("Starting notification worker", zap.Int("worker_id", workerID))

	for req := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.deliver(ctx, req)
	}
}

func (d *Dispatcher) deliver(parent context.Context, req Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	sink := d.sender.Name()
	if err := d.limiter.Wait(ctx); err != nil {
		d.metrics.RecordNotification(sink, string(req.Kind), "rate_limited", 0)
		d.logger.Warn("Notification rate limit wait exceeded",
			zap.String("request_id", req.ID),
			zap.String("entity_id", req.EntityID),
			zap.Error(err))
		return
	}

	if d.renderer != nil {
		if err := d.renderer.Render(&req); err != nil {
			d.metrics.RecordNotification(sink, string(req.Kind), "failed", 0)
			d.logger.Error("Failed to render notification",
				zap.String("request_id", req.ID),
				zap.Error(err))
			return
		}
	}

	start := time.Now()
	err := d.sender.Send(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		d.metrics.RecordNotification(sink, string(req.Kind), "failed", elapsed)
		d.logger.Error("Failed to send notification",
			zap.String("request_id", req.ID),
			zap.String("kind", string(req.Kind)),
			zap.String("entity_id", req.EntityID),
			zap.String("sink", sink),
			zap.Error(err))
		return
	}

	d.metrics.RecordNotification(sink, string(req.Kind), "sent", elapsed)
	d.logger.Debug("Notification sent",
		zap.String("request_id", req.ID),
		zap.String("sink", sink),
		zap.Duration("duration", elapsed))
}
