package jitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEnforcesMaxQueueSpan(t *testing.T) {
	b := New(Options{MaxQueueMs: 30})
	base := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		b.Push(i, base.Add(time.Duration(i)*10*time.Millisecond))
		assert.LessOrEqual(t, b.SpanMs(), 30, "span must never exceed MaxQueueMs")
	}

	require.LessOrEqual(t, b.Len(), 4)
	assert.Equal(t, 30, b.SpanMs())
}

func TestPushDropsAtLeastSixOfTen(t *testing.T) {
	b := New(Options{MaxQueueMs: 30})
	base := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		b.Push(i, base.Add(time.Duration(i)*10*time.Millisecond))
	}

	got := b.Telemetry(base.Add(100 * time.Millisecond))
	assert.GreaterOrEqual(t, got.Dropped, 6)
}

func TestDeliverWithholdsFramesYoungerThanTarget(t *testing.T) {
	b := New(Options{TargetMs: 60, MaxQueueMs: 120})
	base := time.Unix(0, 0)

	b.Push("frame", base)

	_, ok := b.Deliver(base.Add(30 * time.Millisecond))
	assert.False(t, ok, "frame has not absorbed TargetMs of latency yet")

	frame, ok := b.Deliver(base.Add(60 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "frame", frame.Payload)
}

func TestDeliverDiscardsStaleFramesInsteadOfCoalescing(t *testing.T) {
	b := New(Options{TargetMs: 60, MaxQueueMs: 1000})
	base := time.Unix(0, 0)

	b.Push("stale-1", base)
	b.Push("stale-2", base.Add(10*time.Millisecond))
	b.Push("newest", base.Add(20*time.Millisecond))

	frame, ok := b.Deliver(base.Add(100 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, "newest", frame.Payload, "the newest eligible frame is delivered, older ones discarded")
	assert.Equal(t, 0, b.Len(), "every buffered frame -- delivered or stale -- is gone after Deliver")

	got := b.Telemetry(base.Add(100 * time.Millisecond))
	assert.Equal(t, 2, got.Dropped, "the two stale frames count as dropped, not delivered")
}

func TestDeliverReturnsFalseOnEmptyBuffer(t *testing.T) {
	b := New(Options{})
	_, ok := b.Deliver(time.Unix(0, 0))
	assert.False(t, ok)
}

func TestTelemetryDropCounterDecaysByHalf(t *testing.T) {
	b := New(Options{MaxQueueMs: 30})
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		b.Push(i, base.Add(time.Duration(i)*10*time.Millisecond))
	}

	first := b.Telemetry(base)
	require.Greater(t, first.Dropped, 0)

	second := b.Telemetry(base)
	assert.Equal(t, first.Dropped/2, second.Dropped)
}

func TestTelemetryFpsReflectsRecentArrivals(t *testing.T) {
	b := New(Options{MaxQueueMs: 10_000})
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		b.Push(i, base.Add(time.Duration(i)*100*time.Millisecond))
	}

	got := b.Telemetry(base.Add(900 * time.Millisecond))
	assert.InDelta(t, 10, got.Fps, 1)
}

func TestTelemetryP95RatioIsOneForEvenSpacing(t *testing.T) {
	b := New(Options{MaxQueueMs: 10_000})
	base := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		b.Push(i, base.Add(time.Duration(i)*16*time.Millisecond))
	}

	got := b.Telemetry(base.Add(400 * time.Millisecond))
	assert.InDelta(t, 1.0, got.P95InterArrivalRatio, 0.01)
}

func TestPacerDeliversAndReportsOnTickers(t *testing.T) {
	b := New(Options{TargetMs: 1, MaxQueueMs: 1000, TickInterval: 2 * time.Millisecond, TelemetryInterval: 20 * time.Millisecond})

	delivered := make(chan Frame, 16)
	reported := make(chan Telemetry, 4)
	p := NewPacer(b, Options{TargetMs: 1, MaxQueueMs: 1000, TickInterval: 2 * time.Millisecond, TelemetryInterval: 20 * time.Millisecond},
		func(f Frame) { delivered <- f },
		func(t Telemetry) { reported <- t })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	go func() {
		for i := 0; i < 5; i++ {
			b.Push(i, time.Now())
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, runUntilDone(ctx, p))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("expected at least one delivered frame")
	}
	select {
	case <-reported:
	case <-time.After(time.Second):
		t.Fatal("expected at least one telemetry report")
	}
}

func runUntilDone(ctx context.Context, p *Pacer) error {
	err := p.Run(ctx)
	if err == context.DeadlineExceeded || err == context.Canceled {
		return nil
	}
	return err
}
