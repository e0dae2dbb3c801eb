// Package jitter paces panadapter and waterfall frames arriving in
// bursts off the data channel into a steady delivery cadence. A Buffer
// tags each frame with its arrival time, drops the oldest frames once
// the buffered span exceeds a configured ceiling, and on each display
// tick hands back the newest frame old enough to have absorbed a
// target amount of latency -- discarding, never coalescing, anything
// older that a slow consumer left behind.
package jitter

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Options configures a Buffer and its Pacer. New and NewPacer replace
// every zero field with its default.
type Options struct {
	// TargetMs is how much latency a frame should absorb in the buffer
	// before it becomes eligible for delivery. Default 60.
	TargetMs int
	// MaxQueueMs is the maximum span, oldest to newest arrival, the
	// buffer will hold before dropping frames from the front. Default
	// 120.
	MaxQueueMs int
	// TickInterval is the cadence of the delivery loop, matching the
	// radio's own display tick. Default ~16.67ms (60Hz).
	TickInterval time.Duration
	// TelemetryInterval is how often Pacer.Run reports Telemetry.
	// Default 2s.
	TelemetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TargetMs == 0 {
		o.TargetMs = 60
	}
	if o.MaxQueueMs == 0 {
		o.MaxQueueMs = 120
	}
	if o.TickInterval == 0 {
		o.TickInterval = time.Second / 60
	}
	if o.TelemetryInterval == 0 {
		o.TelemetryInterval = 2 * time.Second
	}
	return o
}

// Frame is one buffered unit of display data, tagged with the
// monotonic time it arrived.
type Frame struct {
	Arrival time.Time
	Payload any
}

// Telemetry is a periodic snapshot of buffer health.
type Telemetry struct {
	// QueueSpanMs is the arrival-time span currently buffered.
	QueueSpanMs int
	// Dropped is a decaying drop count: frames dropped since the last
	// report plus half the value that report carried.
	Dropped int
	// Fps is the recent arrival rate, frames per second.
	Fps float64
	// P95InterArrivalRatio is the 95th-percentile inter-arrival delta
	// divided by the median delta; 1.0 means perfectly even spacing,
	// larger values indicate bursty arrival.
	P95InterArrivalRatio float64
}

// Buffer holds frames awaiting delivery. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu       sync.Mutex
	opt      Options
	frames   []Frame
	arrivals []time.Time
	dropped  int
}

// New constructs a Buffer. Zero fields in opt take their documented
// defaults.
func New(opt Options) *Buffer {
	return &Buffer{opt: opt.withDefaults()}
}

const arrivalWindow = 128

// Push appends a frame arriving at now, then drops frames from the
// front of the buffer until the oldest-to-newest span is within
// MaxQueueMs.
func (b *Buffer) Push(payload any, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames = append(b.frames, Frame{Arrival: now, Payload: payload})
	b.arrivals = append(b.arrivals, now)
	if len(b.arrivals) > arrivalWindow {
		b.arrivals = b.arrivals[len(b.arrivals)-arrivalWindow:]
	}

	limit := time.Duration(b.opt.MaxQueueMs) * time.Millisecond
	for len(b.frames) > 1 && b.frames[len(b.frames)-1].Arrival.Sub(b.frames[0].Arrival) > limit {
		b.frames = b.frames[1:]
		b.dropped++
	}
}

// Deliver returns the newest buffered frame whose arrival is at least
// TargetMs old as of now, discarding it and every frame buffered
// before it. It reports false if no frame is old enough yet.
func (b *Buffer) Deliver(now time.Time) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-time.Duration(b.opt.TargetMs) * time.Millisecond)
	idx := -1
	for i := len(b.frames) - 1; i >= 0; i-- {
		if !b.frames[i].Arrival.After(cutoff) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Frame{}, false
	}

	deliverable := b.frames[idx]
	b.dropped += idx
	b.frames = b.frames[idx+1:]
	return deliverable, true
}

// Len reports how many frames are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// SpanMs reports the current oldest-to-newest arrival span in
// milliseconds.
func (b *Buffer) SpanMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spanMsLocked()
}

func (b *Buffer) spanMsLocked() int {
	if len(b.frames) < 2 {
		return 0
	}
	return int(b.frames[len(b.frames)-1].Arrival.Sub(b.frames[0].Arrival) / time.Millisecond)
}

// Telemetry reports and resets the dropped-frame counter (halved, not
// zeroed, so a burst of drops decays across a couple of reports
// instead of vanishing after one) and computes the recent arrival rate
// and inter-arrival burstiness from the last window of pushes.
func (b *Buffer) Telemetry(now time.Time) Telemetry {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := Telemetry{
		QueueSpanMs: b.spanMsLocked(),
		Dropped:     b.dropped,
		Fps:         recentFps(b.arrivals, now),
	}
	b.dropped /= 2

	if deltas := interArrivalDeltas(b.arrivals); len(deltas) >= 2 {
		t.P95InterArrivalRatio = p95OverMedian(deltas)
	}
	return t
}

func recentFps(arrivals []time.Time, now time.Time) float64 {
	var n int
	for i := len(arrivals) - 1; i >= 0; i-- {
		if now.Sub(arrivals[i]) > time.Second {
			break
		}
		n++
	}
	return float64(n)
}

func interArrivalDeltas(arrivals []time.Time) []time.Duration {
	if len(arrivals) < 2 {
		return nil
	}
	deltas := make([]time.Duration, 0, len(arrivals)-1)
	for i := 1; i < len(arrivals); i++ {
		deltas = append(deltas, arrivals[i].Sub(arrivals[i-1]))
	}
	return deltas
}

func p95OverMedian(deltas []time.Duration) float64 {
	sorted := append([]time.Duration(nil), deltas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	median := sorted[len(sorted)/2]
	if median == 0 {
		return 0
	}
	p95 := sorted[percentileIndex(len(sorted), 0.95)]
	return float64(p95) / float64(median)
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// Pacer drives a Buffer's delivery and telemetry on independent
// tickers, matching the radio's display cadence.
type Pacer struct {
	buf         *Buffer
	opt         Options
	onDeliver   func(Frame)
	onTelemetry func(Telemetry)
}

// NewPacer constructs a Pacer over buf. Either callback may be nil.
func NewPacer(buf *Buffer, opt Options, onDeliver func(Frame), onTelemetry func(Telemetry)) *Pacer {
	return &Pacer{buf: buf, opt: opt.withDefaults(), onDeliver: onDeliver, onTelemetry: onTelemetry}
}

// Run drives the delivery and telemetry tickers until ctx is
// cancelled, returning ctx.Err().
func (p *Pacer) Run(ctx context.Context) error {
	tick := time.NewTicker(p.opt.TickInterval)
	defer tick.Stop()
	telemetry := time.NewTicker(p.opt.TelemetryInterval)
	defer telemetry.Stop()

	for {
		select {
		case now := <-tick.C:
			if frame, ok := p.buf.Deliver(now); ok && p.onDeliver != nil {
				p.onDeliver(frame)
			}
		case now := <-telemetry.C:
			if p.onTelemetry != nil {
				p.onTelemetry(p.buf.Telemetry(now))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
