package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if err := ws.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSendLineRoundTripsAsTextFrame(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv.URL), Options{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendLine(ctx, "C1|slice tune 0 14.200000"))

	select {
	case line := <-conn.Lines():
		require.Equal(t, "C1|slice tune 0 14.200000", line)
	case <-time.After(2 * time.Second):
		t.Fatal("line never echoed back")
	}
}

func TestSendRoundTripsAsBinaryFrame(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv.URL), Options{})
	require.NoError(t, err)
	defer conn.Close()

	pkt := []byte{0x10, 0x00, 0x00, 0x00, 0x40, 0x00, 0x00, 0x01}
	require.NoError(t, conn.Send(ctx, pkt))

	select {
	case got := <-conn.Packets():
		require.Equal(t, pkt, got)
	case <-time.After(2 * time.Second):
		t.Fatal("packet never echoed back")
	}
}

func TestCloseSignalsClosedChannel(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(srv.URL), Options{})
	require.NoError(t, err)

	require.NoError(t, conn.Close())

	select {
	case <-conn.Closed():
	case <-time.After(2 * time.Second):
		t.Fatal("closed channel never fired")
	}
}
