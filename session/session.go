// Package session wires a discovered radio to a control transport and
// a data transport: it issues sequence-correlated commands, reduces
// incoming status lines into the store, routes decoded VITA packets
// through the demultiplexer, and resolves every outstanding command
// with ErrClientClosed on close. It generalizes the teacher's
// TCP+UDP dual-channel Session over transports the caller has already
// opened. It does not discover radios and does not reconnect: a closed
// transport or a cancelled context ends Run.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexradio/flexcore/control"
	"github.com/flexradio/flexcore/demux"
	"github.com/flexradio/flexcore/internal/logging"
	"github.com/flexradio/flexcore/store"
	"github.com/flexradio/flexcore/vita"
)

// ControlTransport is the duplex line-oriented channel a Session sends
// commands over and receives status/reply/notice lines from. Lines
// handed to Lines() are raw, undecoded, and dispatched through
// control.Parse by the session.
type ControlTransport interface {
	SendLine(ctx context.Context, line string) error
	Lines() <-chan string
	Closed() <-chan struct{}
	Close() error
}

// DataTransport is the channel a Session receives raw VITA-49
// datagrams from. Send exists for the rare legacy UDP command path;
// most callers never use it.
type DataTransport interface {
	Send(ctx context.Context, pkt []byte) error
	Packets() <-chan []byte
	Closed() <-chan struct{}
	Close() error
}

// CommandOutcome is the resolved value of one issued command.
type CommandOutcome struct {
	Sequence uint32
	Record   control.Record
	Err      error
}

// Options configures a Session. The zero value is filled with
// defaults by New.
type Options struct {
	// CommandTimeout bounds how long Command waits for a matching
	// reply. Default 5s.
	CommandTimeout time.Duration
	// Log receives session diagnostics. Default logging.Discard.
	Log *logging.Logger
	// WireLog, if set, records every line crossing the control
	// transport in both directions.
	WireLog *WireLog
	// RawLineSink, if set, receives every control line not prefixed
	// S/R/M/C (e.g. auth handshake text).
	RawLineSink func(line string)
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 5 * time.Second
	}
	if o.Log == nil {
		o.Log = logging.Discard
	}
	return o
}

// Session owns one radio connection: a control transport, a data
// transport, the radio-state store they feed, and the data-plane
// demultiplexer.
type Session struct {
	opt   Options
	ctl   ControlTransport
	data  DataTransport
	store *store.Store
	demux *demux.Demux

	seq atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan CommandOutcome
	closed  bool
	done    chan struct{}
}

// New constructs a Session over an already-connected control and data
// transport. Call Run to start pumping them.
func New(ctl ControlTransport, data DataTransport, opt Options) *Session {
	opt = opt.withDefaults()
	return &Session{
		opt:     opt,
		ctl:     ctl,
		data:    data,
		store:   store.New(opt.Log, nil),
		demux:   demux.New(),
		pending: make(map[uint32]chan CommandOutcome),
		done:    make(chan struct{}),
	}
}

// Store returns the session's radio-state reducer.
func (s *Session) Store() *store.Store { return s.store }

// Demux returns the session's data-plane demultiplexer.
func (s *Session) Demux() *demux.Demux { return s.demux }

// Run pumps the control and data transports until ctx is cancelled or
// either transport closes, then tears the session down. It blocks; run
// it on its own goroutine.
func (s *Session) Run(ctx context.Context) error {
	scratch := &vita.Scratch{}
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return ctx.Err()

		case <-s.done:
			return ErrClientClosed

		case line, ok := <-s.ctl.Lines():
			if !ok {
				s.failTransport(fmt.Errorf("control transport line channel closed"))
				return s.closeErr()
			}
			if s.opt.WireLog != nil {
				s.opt.WireLog.LogInbound("ctl", line)
			}
			s.handleLine(line)

		case <-s.ctl.Closed():
			s.failTransport(fmt.Errorf("control transport closed"))
			return s.closeErr()

		case pkt, ok := <-s.data.Packets():
			if !ok {
				s.failTransport(fmt.Errorf("data transport packet channel closed"))
				return s.closeErr()
			}
			s.handlePacket(pkt, scratch)

		case <-s.data.Closed():
			s.failTransport(fmt.Errorf("data transport closed"))
			return s.closeErr()
		}
	}
}

func (s *Session) closeErr() error {
	return &TransportFailure{Cause: fmt.Errorf("transport closed")}
}

func (s *Session) handleLine(line string) {
	if line == "" {
		return
	}
	switch line[0] {
	case 'S', 'R', 'M':
		rec := control.Parse(line, time.Now())
		s.dispatchRecord(rec)
	case 'C':
		// Command lines are neither dispatched nor passed to the sink.
	default:
		if s.opt.RawLineSink != nil {
			s.opt.RawLineSink(line)
		}
	}
}

func (s *Session) dispatchRecord(rec control.Record) {
	switch rec.Kind {
	case control.KindStatus:
		s.store.Apply(rec)
	case control.KindReply:
		s.resolveReply(rec)
	case control.KindNotice:
		s.opt.Log.Infof("notice: %s: %s", rec.Severity, rec.Text)
	}
}

func (s *Session) resolveReply(rec control.Record) {
	if rec.Sequence == nil {
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[*rec.Sequence]
	if ok {
		delete(s.pending, *rec.Sequence)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	outcome := CommandOutcome{Sequence: *rec.Sequence, Record: rec}
	if rec.Code != nil && *rec.Code != 0 {
		msg := ""
		if rec.Message != nil {
			msg = *rec.Message
		}
		outcome.Err = &CommandRejected{Code: *rec.Code, Message: msg}
	}
	ch <- outcome
}

func (s *Session) handlePacket(pkt []byte, scratch *vita.Scratch) {
	p, err := vita.Parse(pkt, scratch)
	if err != nil {
		s.opt.Log.Debugf("vita parse failed: %v", err)
		return
	}
	s.demux.Dispatch(p)
}

// Command issues text as a sequenced command and blocks until the
// matching reply arrives, ctx is cancelled, CommandTimeout elapses, or
// the session closes. It implements controller.CommandIssuer.
func (s *Session) Command(ctx context.Context, text string) error {
	seq := s.seq.Add(1)
	ch := make(chan CommandOutcome, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClientClosed
	}
	s.pending[seq] = ch
	s.mu.Unlock()

	line := fmt.Sprintf("C%X|%s", seq, text)
	if s.opt.WireLog != nil {
		s.opt.WireLog.LogOutbound("ctl", line)
	}
	if err := s.ctl.SendLine(ctx, line); err != nil {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		return &TransportFailure{Cause: err}
	}

	timeout := time.NewTimer(s.opt.CommandTimeout)
	defer timeout.Stop()

	select {
	case outcome := <-ch:
		return outcome.Err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		return ctx.Err()
	case <-timeout.C:
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		return fmt.Errorf("session: command timed out after %s", s.opt.CommandTimeout)
	case <-s.done:
		return ErrClientClosed
	}
}

func (s *Session) failTransport(cause error) {
	s.opt.Log.Warnf("transport failure: %v", cause)
	_ = s.closeWith(&TransportFailure{Cause: cause})
}

// Close tears the session down, resolving every pending command with
// ErrClientClosed (or the given failure, if one caused the close).
func (s *Session) Close() error {
	return s.closeWith(ErrClientClosed)
}

func (s *Session) closeWith(err error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[uint32]chan CommandOutcome)
	s.mu.Unlock()

	for seq, ch := range pending {
		ch <- CommandOutcome{Sequence: seq, Err: err}
	}
	close(s.done)

	var ctlErr, dataErr error
	if s.ctl != nil {
		ctlErr = s.ctl.Close()
	}
	if s.data != nil {
		dataErr = s.data.Close()
	}
	if ctlErr != nil {
		return ctlErr
	}
	return dataErr
}
