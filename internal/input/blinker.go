package input

import (
	"context"
	"time"

	"crowdwatch/internal/logger"
)

type blinkSequence struct {
	count    int
	interval time.Duration
}

// Blinker serializes writes to one LED. It keeps a steady level and can run
// blink sequences; a sequence always runs to completion and then restores
// the steady level.
type Blinker struct {
	led    LED
	steady chan bool
	blink  chan blinkSequence
}

// NewBlinker creates a blinker for led.
func NewBlinker(led LED) *Blinker {
	return &Blinker{
		led:    led,
		steady: make(chan bool, 1),
		blink:  make(chan blinkSequence, 4),
	}
}

// SetSteady sets the level the LED holds when no sequence is running. Only
// the most recent value matters; stale pending values are dropped.
func (b *Blinker) SetSteady(on bool) {
	select {
	case <-b.steady:
	default:
	}
	b.steady <- on
}

// Blink queues a blink sequence. Drops the request if the queue is full.
func (b *Blinker) Blink(count int, interval time.Duration) {
	select {
	case b.blink <- blinkSequence{count: count, interval: interval}:
	default:
	}
}

// Run drives the LED until the context is cancelled, then turns it off.
func (b *Blinker) Run(ctx context.Context) {
	level := false
	for {
		select {
		case <-ctx.Done():
			b.set(false)
			return
		case level = <-b.steady:
			b.set(level)
		case seq := <-b.blink:
			b.runSequence(ctx, seq)
			b.set(level)
		}
	}
}

func (b *Blinker) runSequence(ctx context.Context, seq blinkSequence) {
	for i := 0; i < seq.count; i++ {
		b.set(true)
		if !sleepCtx(ctx, seq.interval) {
			return
		}
		b.set(false)
		if !sleepCtx(ctx, seq.interval) {
			return
		}
	}
}

func (b *Blinker) set(on bool) {
	if err := b.led.Set(on); err != nil {
		logger.Warn("Input", "LED write failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
