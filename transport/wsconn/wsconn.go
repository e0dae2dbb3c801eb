// Package wsconn is a reference session.ControlTransport and
// session.DataTransport built on gorilla/websocket: a single socket
// carries both legs, one text frame per control line and one binary
// frame per VITA datagram. This retargets the teacher's WSHandler,
// which bridged a radio's TCP+UDP pair out to a browser-facing
// WebSocket, into the other direction: the WebSocket server is now
// the radio-facing endpoint and flexcore is the client dialing it.
package wsconn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures dial and write behavior.
type Options struct {
	// HandshakeTimeout bounds the initial WebSocket upgrade.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
	Header       http.Header
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 9 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Conn is both a session.ControlTransport and a session.DataTransport,
// multiplexed over one underlying *websocket.Conn by WebSocket frame
// type: text frames are control lines, binary frames are VITA
// datagrams.
type Conn struct {
	ws   *websocket.Conn
	opt  Options
	wmu  sync.Mutex
	once sync.Once

	lines   chan string
	packets chan []byte
	closed  chan struct{}
}

// Dial opens a WebSocket to url and starts pumping frames.
func Dial(ctx context.Context, url string, opt Options) (*Conn, error) {
	opt = opt.withDefaults()
	dialer := &websocket.Dialer{HandshakeTimeout: opt.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, opt.Header)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", url, err)
	}

	c := &Conn{
		ws:      ws,
		opt:     opt,
		lines:   make(chan string, 256),
		packets: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

func (c *Conn) readPump() {
	defer c.markClosed()
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.TextMessage:
			select {
			case c.lines <- string(data):
			case <-c.closed:
				return
			}
		case websocket.BinaryMessage:
			select {
			case c.packets <- data:
			case <-c.closed:
				return
			}
		}
	}
}

// SendLine writes line as one text frame.
func (c *Conn) SendLine(_ context.Context, line string) error {
	return c.writeFrame(websocket.TextMessage, []byte(line))
}

// Send writes pkt as one binary frame.
func (c *Conn) Send(_ context.Context, pkt []byte) error {
	return c.writeFrame(websocket.BinaryMessage, pkt)
}

func (c *Conn) writeFrame(messageType int, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout))
	return c.ws.WriteMessage(messageType, payload)
}

// Lines returns decoded control lines from text frames.
func (c *Conn) Lines() <-chan string { return c.lines }

// Packets returns raw VITA datagrams from binary frames.
func (c *Conn) Packets() <-chan []byte { return c.packets }

// Closed reports when the socket's read loop has exited.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) markClosed() {
	c.once.Do(func() { close(c.closed) })
}

// Close closes the underlying WebSocket.
func (c *Conn) Close() error {
	c.markClosed()
	return c.ws.Close()
}
