// Package outbox runs fire-and-forget deliveries on a background goroutine.
package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DeliverFunc delivers one item. Returned errors are logged and dropped.
type DeliverFunc[T any] func(ctx context.Context, item T) error

// Config controls buffering behavior.
type Config struct {
	Name            string
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration

	// OnDrop is called once per item dropped because the buffer was full.
	OnDrop func()
}

// Dispatcher forwards items to a DeliverFunc from a single worker. Close
// drains whatever is buffered before returning.
type Dispatcher[T any] struct {
	cfg       Config
	deliver   DeliverFunc[T]
	logger    *zap.Logger
	ch        chan T
	done      chan struct{}
	stop      chan struct{}
	sending   sync.RWMutex
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func New[T any](cfg Config, deliver DeliverFunc[T], logger *zap.Logger) *Dispatcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "outbox"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher[T]{
		cfg:     cfg,
		deliver: deliver,
		logger:  logger.Named(cfg.Name),
		ch:      make(chan T, cfg.BufferSize),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.handle(item)
		case <-d.stop:
			for {
				select {
				case item := <-d.ch:
					d.handle(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher[T]) handle(item T) {
	if d.deliver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()

	if err := d.deliver(ctx, item); err != nil {
		d.logger.Warn("delivery failed", zap.Error(err))
	}
}

// Enqueue hands item to the worker and reports whether it was accepted.
// With DropIfFull it never blocks; otherwise it waits for buffer space, ctx
// cancellation or Close. Items offered after Close has started are
// discarded.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) bool {
	if d == nil {
		return false
	}
	d.sending.RLock()
	defer d.sending.RUnlock()
	if d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
		default:
			d.drop()
		}
		return false
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
		d.drop()
	case <-d.done:
	}
	return false
}

func (d *Dispatcher[T]) drop() {
	d.dropped.Add(1)
	d.logger.Warn("item dropped", zap.Int("buffer_size", d.cfg.BufferSize))
	if d.cfg.OnDrop != nil {
		d.cfg.OnDrop()
	}
}

// Close stops accepting items, delivers what was accepted and waits for the
// worker to exit.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		// Wait out senders still inside Enqueue so the drain sees every
		// accepted item.
		d.sending.Lock()
		close(d.stop)
		d.sending.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
