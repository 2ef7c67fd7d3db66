// Package scheduler batches outbound chat text per channel and delivers it
// on a fixed tick without exceeding the platform's message size limit.
//
// Delivery is at-most-once: fragments leave the queue before the send, and
// a failed send is reported but never retried.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/utils"
)

const (
	DefaultInterval    = time.Second
	DefaultSendTimeout = 10 * time.Second
)

var ErrAlreadyRunning = errors.New("dispatcher already running")

// Sink transmits batches. SendText must not retry internally.
type Sink interface {
	IsReady() bool
	SendText(ctx context.Context, channelID uint64, text string) error
}

// Sweeper is run at the start of every tick to purge time-bounded state.
type Sweeper interface {
	SweepExpired() int
}

type Config struct {
	Interval    time.Duration
	SendTimeout time.Duration
}

// TickResult summarizes one drain pass.
type TickResult struct {
	Skipped bool // sink not ready
	Sent    int
	Failed  int
	Held    int // channels with fragments left for the next tick
	Expired int
}

type Dispatcher struct {
	queue    *Queue
	sink     Sink
	sweepers []Sweeper
	cfg      Config

	tickMu  sync.Mutex
	running atomic.Bool
}

func NewDispatcher(queue *Queue, sink Sink, cfg Config, sweepers ...Sweeper) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Dispatcher{
		queue:    queue,
		sink:     sink,
		sweepers: sweepers,
		cfg:      cfg,
	}
}

// Run ticks until ctx is cancelled. Ticks never overlap; a tick that
// outlasts the interval makes the next one start late rather than twice.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	logger.InfoCF("scheduler", "Message dispatcher started", map[string]any{
		"interval":   d.cfg.Interval.String(),
		"max_length": d.queue.MaxLength(),
	})

	for {
		select {
		case <-ctx.Done():
			logger.InfoCF("scheduler", "Message dispatcher stopped", map[string]any{
				"pending": d.queue.Pending(),
			})
			return nil
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one sweep-and-drain pass.
func (d *Dispatcher) Tick(ctx context.Context) TickResult {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	var res TickResult
	for _, s := range d.sweepers {
		res.Expired += d.sweep(s)
	}

	if !d.sink.IsReady() {
		res.Skipped = true
		return res
	}

	for _, channelID := range d.queue.ChannelIDs() {
		batch, held := d.queue.take(channelID)
		if held {
			res.Held++
		}
		if utils.IsBlank(batch.Text) {
			continue
		}

		if err := d.deliver(ctx, batch); err != nil {
			res.Failed++
			logger.ErrorCF("scheduler", "Failed to send message batch, fragments dropped", map[string]any{
				"channel_id": batch.ChannelID,
				"fragments":  batch.Fragments,
				"error":      err.Error(),
			})
			continue
		}
		res.Sent++
	}

	return res
}

func (d *Dispatcher) deliver(ctx context.Context, batch Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	return d.sink.SendText(sendCtx, batch.ChannelID, batch.Text)
}

func (d *Dispatcher) sweep(s Sweeper) (n int) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("scheduler", "Sweeper panicked", map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()
	return s.SweepExpired()
}
