// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import "slices"

// sendFunc delivers buf and eventually calls done with the outcome.
//
// The done callback MUST run as a loop task.
type sendFunc func(buf []byte, done func(error))

// writeRequest is a write queued by a [*writable].
type writeRequest struct {
	buf []byte
	cb  func(error)
}

// writable is a sequential-write abstraction built on top of a [sendFunc].
//
// It buffers writes, issues them one at a time, invokes their callbacks in
// issuance order, and implements the end/finish protocol. It starts corked:
// writes are only issued after uncork. All methods MUST run on the loop.
type writable struct {
	// loop is the loop where callbacks run.
	loop *Loop

	// send issues a single write.
	send sendFunc

	// onWriteError is called when a write without callback fails.
	onWriteError func(err error)

	// onFinish runs as a loop task once ended and drained, with the end callbacks.
	onFinish func(callbacks []func())

	// queue contains the writes not issued yet.
	queue []writeRequest

	// endCallbacks contains callbacks passed to end before finishing.
	endCallbacks []func()

	// failure is the error failing all writes, if any.
	failure error

	corked   bool
	writing  bool
	ending   bool
	finished bool
}

// newWritable creates a corked [*writable].
func newWritable(loop *Loop, send sendFunc) *writable {
	return &writable{
		loop:         loop,
		send:         send,
		onWriteError: func(err error) {},
		onFinish:     func(callbacks []func()) {},
		corked:       true,
	}
}

// write queues a copy of buf. It returns [ErrWriteAfterEnd] if end was already called.
func (w *writable) write(buf []byte, cb func(error)) error {
	if w.ending {
		return ErrWriteAfterEnd
	}
	w.queue = append(w.queue, writeRequest{buf: slices.Clone(buf), cb: cb})
	w.next()
	return nil
}

// end stops accepting writes and arranges for cb to run once finished.
func (w *writable) end(cb func()) {
	if cb != nil {
		if w.finished {
			w.loop.Post(cb)
		} else {
			w.endCallbacks = append(w.endCallbacks, cb)
		}
	}
	w.ending = true
	w.maybeFinish()
}

// uncork starts issuing the queued writes.
func (w *writable) uncork() {
	w.corked = false
	w.next()
}

// fail completes the queued writes and all the future writes with err.
func (w *writable) fail(err error) {
	w.failure = err
	w.uncork()
}

// pending returns the number of writes queued or in flight.
func (w *writable) pending() int {
	count := len(w.queue)
	if w.writing {
		count++
	}
	return count
}

func (w *writable) next() {
	if w.corked || w.writing {
		return
	}
	if len(w.queue) <= 0 {
		w.maybeFinish()
		return
	}
	req := w.queue[0]
	w.queue = w.queue[1:]
	w.writing = true
	done := func(err error) {
		w.writing = false
		w.complete(req, err)
		w.next()
	}
	if err := w.failure; err != nil {
		w.loop.Post(func() { done(err) })
		return
	}
	w.send(req.buf, done)
}

func (w *writable) complete(req writeRequest, err error) {
	switch {
	case req.cb != nil:
		req.cb(err)
	case err != nil:
		w.onWriteError(err)
	}
}

func (w *writable) maybeFinish() {
	if !w.ending || w.finished || w.corked || w.writing || len(w.queue) > 0 {
		return
	}
	w.finished = true
	callbacks := w.endCallbacks
	w.endCallbacks = nil
	w.loop.Post(func() { w.onFinish(callbacks) })
}
