package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackoffGrowsAndStaysWithinCap(t *testing.T) {
	max := 2 * time.Second
	cur := 0 * time.Millisecond
	for i := 0; i < 10; i++ {
		cur = nextBackoff(cur, max)
		assert.LessOrEqual(t, cur, max+max/4+50*time.Millisecond)
		assert.Greater(t, cur, time.Duration(0))
	}
}

func TestListenerDecodesBeaconFromLoopback(t *testing.T) {
	l := New(Options{Port: 0, HealthInterval: 50 * time.Millisecond})
	ch := l.Beacons()
	defer l.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx) }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = l.LocalAddr()
		return addr != nil
	}, time.Second, time.Millisecond)

	conn, err := net.Dial(addr.Network(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("model=FLEX-6400 serial=9999 port=4992"))
	require.NoError(t, err)

	select {
	case b := <-ch:
		assert.Equal(t, "FLEX-6400", b.Descriptor.Model)
		assert.Equal(t, "9999", b.Descriptor.Serial)
	case <-time.After(2 * time.Second):
		t.Fatal("beacon never decoded")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	l := New(Options{})
	ch := l.Beacons()
	l.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}
