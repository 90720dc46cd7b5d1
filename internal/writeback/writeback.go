// Package writeback is the ping-pong (dual-buffer) write-back layer
// between the Polling Scheduler and the Reading Store (spec §4.7): the
// scheduler appends readings to an in-memory slot while the other slot
// flushes to disk, so a slow SQL write never blocks the next poll cycle.
package writeback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pyroscan/pyroscan/internal/reading"
)

// ErrBufferFull is returned by Append when both slots are saturated
// (2x threshold pending), signalling that the store cannot keep up with
// the poll rate and callers should apply back-pressure upstream.
var ErrBufferFull = errors.New("writeback: buffer full, applying back-pressure")

// Sink is the durable destination a Buffer flushes batches into.
type Sink interface {
	AppendBatch(ctx context.Context, batch []reading.Reading) error
}

// Config tunes swap behaviour.
type Config struct {
	// Threshold is the slot size that triggers an immediate swap.
	Threshold int
	// MaxHold forces a swap even below Threshold, bounding staleness.
	MaxHold time.Duration
	// FlushTimeout bounds a single flush attempt.
	FlushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Threshold: 100, MaxHold: 5 * time.Second, FlushTimeout: 10 * time.Second}
}

// Stats is a point-in-time snapshot for the health/metrics endpoints.
type Stats struct {
	Appended    int64
	Flushed     int64
	FlushErrors int64
	Dropped     int64
	Pending     int
}

// Buffer holds two slices ("active" and "flushing"). Append writes into
// active; when active reaches Threshold or MaxHold elapses, the slots
// swap and the former active slice is flushed to Sink in the background.
// Back-pressure kicks in if a flush is still in flight when the next
// swap would otherwise be due and active has already grown to 2x
// Threshold — at that point Append returns ErrBufferFull rather than
// growing without bound.
type Buffer struct {
	cfg  Config
	sink Sink
	log  *zap.Logger

	mu        sync.Mutex
	active    []reading.Reading
	flushing  bool
	lastSwap  time.Time
	appended  int64
	flushed   int64
	flushErrs int64
	dropped   int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Buffer and starts its max-hold ticker goroutine. Call
// Close to force a final flush and stop the ticker.
func New(cfg Config, sink Sink, log *zap.Logger) *Buffer {
	b := &Buffer{
		cfg:      cfg,
		sink:     sink,
		log:      log,
		lastSwap: time.Now(),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.tickLoop()
	return b
}

func (b *Buffer) tickLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.MaxHold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.mu.Lock()
			held := time.Since(b.lastSwap)
			shouldSwap := held >= b.cfg.MaxHold && len(b.active) > 0
			b.mu.Unlock()
			if shouldSwap {
				b.swapAndFlush(context.Background())
			}
		}
	}
}

// Append adds r to the active slot, triggering a swap+flush if Threshold
// is reached. Returns ErrBufferFull if the store is falling behind badly
// enough that both slots are at capacity.
func (b *Buffer) Append(r reading.Reading) error {
	b.mu.Lock()
	if b.flushing && len(b.active) >= 2*b.cfg.Threshold {
		b.dropped++
		b.mu.Unlock()
		return ErrBufferFull
	}
	b.active = append(b.active, r)
	b.appended++
	reachedThreshold := len(b.active) >= b.cfg.Threshold
	b.mu.Unlock()

	if reachedThreshold {
		b.swapAndFlush(context.Background())
	}
	return nil
}

func (b *Buffer) swapAndFlush(ctx context.Context) {
	b.mu.Lock()
	if b.flushing || len(b.active) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.active
	b.active = nil
	b.lastSwap = time.Now()
	b.flushing = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.flush(ctx, batch)
	}()
}

func (b *Buffer) flush(ctx context.Context, batch []reading.Reading) {
	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	fctx, cancel := context.WithTimeout(ctx, b.cfg.FlushTimeout)
	defer cancel()

	err := b.sink.AppendBatch(fctx, batch)
	b.mu.Lock()
	if err != nil {
		b.flushErrs++
		b.log.Error("writeback flush failed, requeuing batch", zap.Int("rows", len(batch)), zap.Error(err))
		// Requeue ahead of whatever accumulated in active since the swap,
		// so ordering within the store is preserved.
		b.active = append(batch, b.active...)
	} else {
		b.flushed += int64(len(batch))
	}
	b.mu.Unlock()
}

// Flush forces an immediate swap+flush and waits for it to complete,
// used at shutdown so no buffered readings are lost.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.active
	b.active = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, b.cfg.FlushTimeout)
	defer cancel()
	if err := b.sink.AppendBatch(fctx, batch); err != nil {
		b.mu.Lock()
		b.flushErrs++
		b.active = append(batch, b.active...)
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	b.flushed += int64(len(batch))
	b.mu.Unlock()
	return nil
}

// Stats returns a snapshot of buffer activity.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Appended:    b.appended,
		Flushed:     b.flushed,
		FlushErrors: b.flushErrs,
		Dropped:     b.dropped,
		Pending:     len(b.active),
	}
}

// Close stops the ticker and performs a final blocking flush.
func (b *Buffer) Close() error {
	close(b.done)
	err := b.Flush(context.Background())
	b.wg.Wait()
	return err
}
