// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"fmt"
	"io"
	"net/netip"

	"github.com/segmentio/stats/v5"
)

// State is the lifecycle state of a [*Stream].
type State int

const (
	// StateUnconnected is the state before [*Stream.Connect].
	StateUnconnected State = iota

	// StateConnecting is the state while resolving and allocating. A
	// stream whose connect sequence failed remains in this state.
	StateConnecting

	// StateConnected is the state once the socket is allocated.
	StateConnected

	// StateEnding is the state after [*Stream.End] and before close.
	StateEnding

	// StateClosed is the state once [EventClose] has been emitted.
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream is a writable stream sending each write as a UDP datagram.
//
// Construct using [*Dialer.Create] or [*Dialer.NewStream].
//
// Unless otherwise noted, methods MUST be called either before running the
// [*Loop] or from loop tasks, which include all callbacks and listeners.
type Stream struct {
	// dialer provides the collaborators.
	dialer *Dialer

	// loop is dialer.Loop.
	loop *Loop

	// events contains the stream listeners.
	events Emitter

	// w implements the write/end protocol.
	w *writable

	// socket is set once allocated and owned until released.
	socket Socket

	// host and port are set along with socket and never change.
	host string
	port int
	dest netip.AddrPort

	state State

	// errorID and closeID identify our listeners on socket.
	errorID  ListenerID
	closeID  ListenerID
	attached bool

	// released tells whether the socket has been closed.
	released bool

	// closed tells whether EventClose has been emitted.
	closed bool

	// unhold releases the loop hold taken while the socket is open.
	unhold func()
}

func newStream(d *Dialer) *Stream {
	s := &Stream{dialer: d, loop: d.Loop}
	s.w = newWritable(d.Loop, s.send)
	s.w.onWriteError = s.emitError
	s.w.onFinish = s.finish
	return s
}

// On registers fn for every ev notification.
func (s *Stream) On(ev Event, fn Listener) ListenerID {
	return s.events.On(ev, fn)
}

// Once registers fn for the next ev notification.
func (s *Stream) Once(ev Event, fn Listener) ListenerID {
	return s.events.Once(ev, fn)
}

// RemoveListener unregisters a listener registered with On or Once.
func (s *Stream) RemoveListener(ev Event, id ListenerID) {
	s.events.RemoveListener(ev, id)
}

// State returns the current [State].
func (s *Stream) State() State {
	return s.state
}

// Host returns the resolved destination address, or "" before connecting.
func (s *Stream) Host() string {
	return s.host
}

// Port returns the destination port, or zero before connecting.
func (s *Stream) Port() int {
	return s.port
}

// Socket returns the underlying [Socket], or nil before connecting.
func (s *Stream) Socket() Socket {
	return s.socket
}

// Connect connects the stream using args. See [ParseArgs] for the
// accepted arguments.
//
// Connect returns immediately and the connect sequence runs as a loop
// task. On success, the callback, if any, is invoked and [EventConnect]
// is emitted. On failure, the error is passed to the callback or, if
// there is no callback, emitted as [EventError].
func (s *Stream) Connect(args ...any) {
	opts := ParseArgs(args...)
	s.loop.Post(func() { s.connect(opts) })
}

func (s *Stream) connect(opts Options) {
	// 1. the destination is immutable once set
	if s.state != StateUnconnected {
		s.report(opts.Callback, ErrAlreadyConnected)
		return
	}
	s.state = StateConnecting

	// 2. fill the default host and make sure we have a port
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	s.dialer.Logger.Info("connectStart", "host", opts.Host, "port", opts.Port)
	if opts.Port == 0 {
		s.connectFailed(opts, ErrMissingPort)
		return
	}

	// 3. literal addresses do not need resolution
	ctx, cancel := s.connectContext()
	if IsIPLiteral(opts.Host) {
		defer cancel()
		s.dispatch(ctx, opts, opts.Host)
		return
	}

	// 4. resolve the hostname in the background
	s.dialer.Logger.Info("resolveStart", "host", opts.Host)
	s.loop.Go(func() func() {
		addr, err := s.dialer.Resolver.LookupAddr(ctx, opts.Host)
		return func() {
			defer cancel()
			s.dialer.Logger.Info("resolveDone", "host", opts.Host, "addr", addr, "err", err)
			if err != nil {
				s.connectFailed(opts, fmt.Errorf("%w: %s: %w", ErrResolution, opts.Host, err))
				return
			}
			s.dispatch(ctx, opts, addr.String())
		}
	})
}

// connectContext returns the context bounding resolution and allocation.
func (s *Stream) connectContext() (context.Context, context.CancelFunc) {
	if timeout := s.dialer.ConnectTimeout; timeout > 0 {
		return context.WithTimeout(context.Background(), timeout)
	}
	return context.WithCancel(context.Background())
}

func (s *Stream) dispatch(ctx context.Context, opts Options, host string) {
	// 1. classify the address
	family := FamilyOf(host)
	if family == FamilyUnknown {
		s.connectFailed(opts, fmt.Errorf("%w: %q", ErrInvalidHost, host))
		return
	}

	// 2. allocate the socket
	sock, err := s.dialer.Transport.Allocate(ctx, family)
	if err != nil {
		s.connectFailed(opts, fmt.Errorf("%w: %w", ErrAllocation, err))
		return
	}

	// 3. take ownership of the socket
	s.socket = sock
	s.host = host
	s.port = opts.Port
	s.dest = netip.AddrPortFrom(netip.MustParseAddr(host), uint16(opts.Port))
	s.unhold = s.loop.Hold()

	// 4. route the socket notifications through the loop
	s.errorID = sock.Once(EventError, func(err error) {
		s.loop.Post(func() { s.socketError(err) })
	})
	s.closeID = sock.Once(EventClose, func(error) {
		s.loop.Post(s.socketClose)
	})
	s.attached = true

	// 5. notify and start sending the queued writes
	s.state = StateConnected
	if s.w.ending {
		s.state = StateEnding
	}
	s.dialer.Logger.Info("connectDone", "host", s.host, "port", s.port, "family", family.String())
	s.dialer.incr("connect.ok", stats.T("family", family.String()))
	if opts.Callback != nil {
		opts.Callback(nil, s)
	}
	s.events.Emit(EventConnect, nil)
	s.w.uncork()
}

func (s *Stream) connectFailed(opts Options, err error) {
	s.dialer.Logger.Info("connectDone", "host", opts.Host, "port", opts.Port, "err", err)
	s.dialer.incr("connect.error")
	s.report(opts.Callback, err)
	s.w.fail(err)
}

// report passes err to cb or emits it when cb is nil.
func (s *Stream) report(cb ConnectCallback, err error) {
	if cb != nil {
		cb(err, nil)
		return
	}
	s.emitError(err)
}

func (s *Stream) emitError(err error) {
	if !s.events.Emit(EventError, err) {
		s.dialer.Logger.Warn("unhandledError", "host", s.host, "port", s.port, "err", err)
	}
}

func (s *Stream) socketError(err error) {
	s.detach()
	s.emitError(err)
	s.End(nil)
}

func (s *Stream) socketClose() {
	s.detach()
	s.released = true
	s.emitClose()
}

// detach removes our socket listeners. Calling it more than once is safe.
func (s *Stream) detach() {
	if !s.attached {
		return
	}
	s.attached = false
	s.socket.RemoveListener(EventError, s.errorID)
	s.socket.RemoveListener(EventClose, s.closeID)
}

// Write queues a copy of buf to be sent as a single datagram.
//
// The cb callback, if not nil, receives the outcome of sending the
// datagram. Callbacks run in the same order as writes. A failed write
// without callback is emitted as [EventError]. Writes issued before the
// stream is connected are sent once connected.
//
// Write returns [ErrWriteAfterEnd] if [*Stream.End] was already called.
func (s *Stream) Write(buf []byte, cb func(err error)) error {
	return s.w.write(buf, cb)
}

func (s *Stream) send(buf []byte, done func(error)) {
	sock, dest := s.socket, s.dest
	s.loop.Go(func() func() {
		err := sock.Send(buf, dest)
		return func() {
			s.dialer.Logger.Debug("write", "dest", dest.String(), "count", len(buf), "err", err)
			if err != nil {
				s.dialer.incr("datagrams.error")
			} else {
				s.dialer.incr("datagrams.sent")
				s.dialer.add("bytes.sent", len(buf))
			}
			done(err)
		}
	})
}

// End stops accepting writes. Once the pending writes have completed, the
// stream emits [EventFinish], invokes cb if not nil, and releases the socket,
// after which it emits [EventClose].
//
// Calling End before the stream is connected waits for the connect
// sequence to complete. If connecting fails, the stream emits [EventFinish]
// and invokes cb, but never emits [EventClose] because no socket was
// allocated. Calling End again only registers cb.
func (s *Stream) End(cb func()) {
	if s.state == StateConnected {
		s.state = StateEnding
	}
	s.w.end(cb)
}

func (s *Stream) finish(callbacks []func()) {
	s.events.Emit(EventFinish, nil)
	for _, cb := range callbacks {
		cb()
	}
	s.release()
}

// release closes the socket exactly once. Without a socket, there is
// nothing to release and the stream stays in [StateConnecting].
func (s *Stream) release() {
	switch {
	case s.socket == nil:
		s.dialer.Logger.Debug("releaseWithoutSocket", "state", s.state.String())
	case !s.released:
		s.released = true
		if err := s.socket.Close(); err != nil {
			s.dialer.Logger.Debug("socketClose", "err", err)
		}
		if !s.attached {
			s.emitClose()
		}
	}
}

func (s *Stream) emitClose() {
	if s.closed {
		return
	}
	s.closed = true
	s.state = StateClosed
	if s.unhold != nil {
		s.unhold()
	}
	s.dialer.Logger.Info("closeDone", "host", s.host, "port", s.port)
	s.events.Emit(EventClose, nil)
}

// Writer returns an [io.WriteCloser] usable from goroutines other than the
// loop goroutine while the loop is running.
//
// Each Write posts a [*Stream.Write] and blocks until the datagram has been
// sent. Close posts [*Stream.End] and blocks until the stream has finished.
func (s *Stream) Writer() io.WriteCloser {
	return &streamWriter{s}
}

// streamWriter implements [*Stream.Writer].
type streamWriter struct {
	s *Stream
}

// Write implements [io.Writer].
func (sw *streamWriter) Write(data []byte) (int, error) {
	errch := make(chan error, 1)
	sw.s.loop.Post(func() {
		if err := sw.s.Write(data, func(err error) { errch <- err }); err != nil {
			errch <- err
		}
	})
	if err := <-errch; err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close implements [io.Closer].
func (sw *streamWriter) Close() error {
	done := make(chan struct{})
	sw.s.loop.Post(func() {
		sw.s.End(func() { close(done) })
	})
	<-done
	return nil
}
