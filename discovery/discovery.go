// Package discovery listens for UDP discovery beacons and decodes them
// into session.DiscoveryDescriptor values. It is grounded on the
// teacher's discovery.Service: the same dual-stack bind-with-fallback,
// idle-restart health ticker, and exponential-backoff reconnect loop,
// narrowed from "rebroadcast raw bytes to WebSocket subscribers" to
// "decode each datagram and hand the caller a typed descriptor."
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexradio/flexcore/internal/logging"
	"github.com/flexradio/flexcore/session"
)

// Options configures the listener.
type Options struct {
	Port           int
	IdleRestart    time.Duration // default 30s
	HealthInterval time.Duration // default 5s
	MaxBackoff     time.Duration // default 5s
	Log            *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 4992
	}
	if o.IdleRestart == 0 {
		o.IdleRestart = 30 * time.Second
	}
	if o.HealthInterval == 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.Log == nil {
		o.Log = logging.Discard
	}
	return o
}

// Beacon pairs a decoded descriptor with the moment it arrived.
type Beacon struct {
	Descriptor session.DiscoveryDescriptor
	Received   time.Time
}

// Listener binds discovery sockets and decodes beacons arriving on
// them, rebinding after idle periods or read errors.
type Listener struct {
	opt Options

	mu sync.Mutex
	c4 net.PacketConn
	c6 net.PacketConn

	lastPktUnix atomic.Int64

	subMu sync.Mutex
	subs  map[chan Beacon]struct{}
}

// New creates a Listener. Call Run to start it.
func New(opt Options) *Listener {
	opt = opt.withDefaults()
	l := &Listener{opt: opt, subs: make(map[chan Beacon]struct{})}
	l.lastPktUnix.Store(time.Now().UnixNano())
	return l
}

// Beacons returns a channel of decoded beacons. The channel is closed
// when the subscription is removed via Unsubscribe.
func (l *Listener) Beacons() chan Beacon {
	ch := make(chan Beacon, 256)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Beacons.
func (l *Listener) Unsubscribe(ch chan Beacon) {
	l.subMu.Lock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
	l.subMu.Unlock()
}

// LocalAddr returns the address of a bound socket, or nil if none is
// bound yet.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c6 != nil {
		return l.c6.LocalAddr()
	}
	if l.c4 != nil {
		return l.c4.LocalAddr()
	}
	return nil
}

// Run binds and serves until ctx is canceled. A failed bind is retried
// with exponential backoff and jitter; when serving ends for any other
// reason, Run rebinds at once.
func (l *Listener) Run(ctx context.Context) error {
	backoff := 0 * time.Millisecond
	for {
		if err := l.bindAll(ctx); err != nil {
			backoff = nextBackoff(backoff, l.opt.MaxBackoff)
			l.opt.Log.Warnf("discovery: bind error: %v; retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		backoff = 0
		if err := l.serve(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			l.opt.Log.Warnf("discovery: serve ended: %v", err)
		}
	}
}

func (l *Listener) bindAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.c4 != nil {
		_ = l.c4.Close()
		l.c4 = nil
	}
	if l.c6 != nil {
		_ = l.c6.Close()
		l.c6 = nil
	}

	addr := fmt.Sprintf(":%d", l.opt.Port)
	lc := net.ListenConfig{Control: applyUDPSocketOptions}

	if c6, err := lc.ListenPacket(ctx, "udp6", addr); err == nil {
		l.c6 = c6
		l.lastPktUnix.Store(time.Now().UnixNano())
		return nil
	}

	c4, e4 := lc.ListenPacket(ctx, "udp4", addr)
	c6, e6 := lc.ListenPacket(ctx, "udp6", addr)
	if e4 != nil && e6 != nil {
		return errors.Join(e4, e6)
	}
	l.c4, l.c6 = c4, c6
	l.lastPktUnix.Store(time.Now().UnixNano())
	return nil
}

func (l *Listener) serve(ctx context.Context) error {
	l.mu.Lock()
	c4, c6 := l.c4, l.c6
	l.mu.Unlock()

	errCh := make(chan error, 2)
	done := make(chan struct{})
	if c4 != nil {
		go l.readLoop(ctx, c4, errCh, done)
	}
	if c6 != nil {
		go l.readLoop(ctx, c6, errCh, done)
	}

	health := time.NewTicker(l.opt.HealthInterval)
	defer health.Stop()
	for {
		select {
		case err := <-errCh:
			close(done)
			l.closeAll()
			return err
		case <-health.C:
			last := time.Unix(0, l.lastPktUnix.Load())
			if time.Since(last) > l.opt.IdleRestart {
				close(done)
				l.closeAll()
				return errors.New("discovery: idle restart")
			}
		case <-ctx.Done():
			close(done)
			l.closeAll()
			return ctx.Err()
		}
	}
}

func (l *Listener) readLoop(ctx context.Context, pc net.PacketConn, errCh chan<- error, done <-chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		_ = pc.SetReadDeadline(time.Now().Add(10 * time.Second))
		n, _, err := pc.ReadFrom(buf)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if err != nil {
			errCh <- err
			return
		}
		l.lastPktUnix.Store(time.Now().UnixNano())

		desc, perr := session.ParseDiscoveryBeacon(buf[:n])
		if perr != nil {
			l.opt.Log.Debugf("discovery: malformed beacon: %v", perr)
			continue
		}
		l.broadcast(Beacon{Descriptor: desc, Received: time.Now()})

		select {
		case <-done:
			return
		default:
		}
	}
}

func (l *Listener) broadcast(b Beacon) {
	l.subMu.Lock()
	for ch := range l.subs {
		select {
		case ch <- b:
		default:
		}
	}
	l.subMu.Unlock()
}

func (l *Listener) closeAll() {
	l.mu.Lock()
	if l.c4 != nil {
		_ = l.c4.Close()
		l.c4 = nil
	}
	if l.c6 != nil {
		_ = l.c6.Close()
		l.c6 = nil
	}
	l.mu.Unlock()
}

// nextBackoff grows exponentially with bounded jitter.
func nextBackoff(cur, max time.Duration) time.Duration {
	if cur <= 0 {
		cur = 250 * time.Millisecond
	} else {
		cur *= 2
		if cur > max {
			cur = max
		}
	}
	jmax := cur / 4
	if jmax < 50*time.Millisecond {
		jmax = 50 * time.Millisecond
	}
	jitter := time.Duration(rand.Int63n(int64(jmax)))
	return cur + jitter
}
