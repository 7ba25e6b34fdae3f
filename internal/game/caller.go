package game

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// DefaultCallInterval is how often a live room calls a number.
const DefaultCallInterval = 5 * time.Second

// Caller is the per-room timed number loop. It draws through the room's
// DrawNumber, so a tick and a client mark or claim on the same room can never
// interleave. The injected quartz.Clock lets tests drive the cadence without
// real time.
type Caller struct {
	room     *Room
	clock    quartz.Clock
	interval time.Duration
	logger   *log.Logger

	onNumber func(*Room, Draw)
	onVoid   func(*Room)

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// StartCaller begins the number loop for room. onNumber fires for every call;
// onVoid fires once if all numbers run out with no winner. The loop stops on
// its own once the room leaves PLAYING, or when Stop or the parent context
// cancels it. Exactly one caller should be live per room; restarting a room
// must Stop the previous caller first.
func StartCaller(ctx context.Context, room *Room, clock quartz.Clock, interval time.Duration, logger *log.Logger, onNumber func(*Room, Draw), onVoid func(*Room)) *Caller {
	if interval <= 0 {
		interval = DefaultCallInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &Caller{
		room:     room,
		clock:    clock,
		interval: interval,
		logger:   logger.WithPrefix("caller").With("room", room.ID()),
		onNumber: onNumber,
		onVoid:   onVoid,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	ticker := clock.NewTicker(interval, "caller", room.ID())
	go c.loop(ctx, ticker)
	return c
}

func (c *Caller) loop(ctx context.Context, ticker *quartz.Ticker) {
	defer close(c.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			// A tick can already be buffered when Stop lands; drop it rather
			// than drawing one more number.
			if ctx.Err() != nil {
				return
			}
			draw, outcome := c.room.DrawNumber()
			switch outcome {
			case DrawOK:
				c.logger.Debug("Called number", "number", draw.Number, "called", len(draw.History))
				if c.onNumber != nil {
					c.onNumber(c.room, draw)
				}

			case DrawExhausted:
				c.logger.Info("All numbers called with no winner, game is void")
				if c.onVoid != nil {
					c.onVoid(c.room)
				}
				return

			case DrawStopped:
				c.logger.Debug("Room no longer playing, stopping caller")
				return
			}
		}
	}
}

// Stop cancels the loop. Safe to call more than once; no number is emitted
// after Stop returns the loop to done.
func (c *Caller) Stop() {
	c.stopOnce.Do(c.cancel)
}

// Done is closed once the loop has fully exited.
func (c *Caller) Done() <-chan struct{} {
	return c.done
}
