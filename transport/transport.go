// Package transport names the boundary interfaces a Session speaks:
// ControlTransport for the line-oriented command/status channel and
// DataTransport for the raw VITA datagram channel. The interfaces
// themselves are declared by package session, since that is where
// they are consumed ("accept interfaces, return structs"); this
// package re-exports them by alias so reference implementations
// (wsconn, webrtcconn) and their documentation have one obvious home,
// without requiring the protocol core to import this package or any
// of its subpackages.
package transport

import "github.com/flexradio/flexcore/session"

// ControlTransport is session.ControlTransport.
type ControlTransport = session.ControlTransport

// DataTransport is session.DataTransport.
type DataTransport = session.DataTransport
