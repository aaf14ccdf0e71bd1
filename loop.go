// SPDX-License-Identifier: GPL-3.0-or-later

package udpstream

import (
	"context"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Loop is a task queue executing tasks one at a time.
//
// Construct using [NewLoop].
//
// Tasks run on the goroutine calling [*Loop.Run]. Everything that a [*Stream]
// notifies, including callbacks, runs as a loop task, hence streams bound to
// the same loop never observe concurrent callbacks.
type Loop struct {
	// mu protects tasks and holds.
	mu sync.Mutex

	// tasks contains the tasks posted and not yet executed.
	tasks []func()

	// holds counts the in-flight operations and open sockets.
	holds int

	// wakeup is signaled when tasks or holds change.
	wakeup chan struct{}
}

// NewLoop creates a new [*Loop].
func NewLoop() *Loop {
	return &Loop{wakeup: make(chan struct{}, 1)}
}

// Post schedules fn to run after the currently running task returns.
//
// Post is safe to call from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
}

// Go runs work on a background goroutine and posts the continuation
// it returns. The loop stays alive until the continuation has run.
func (l *Loop) Go(work func() func()) {
	release := l.Hold()
	go func() {
		cont := work()
		l.Post(func() {
			defer release()
			if cont != nil {
				cont()
			}
		})
	}()
}

// Hold prevents [*Loop.Run] from returning while the loop is idle, until the
// returned release function is called. Calling release more than once is a no-op.
func (l *Loop) Hold() (release func()) {
	l.mu.Lock()
	l.holds++
	l.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.holds--
			runtimex.Assert(l.holds >= 0)
			l.mu.Unlock()
			l.signal()
		})
	}
}

func (l *Loop) signal() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

// Run executes tasks until there are neither queued tasks nor holds, in
// which case it returns nil, or until ctx is done, in which case it returns
// the context error. Run may be called again to continue processing.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		idle := len(tasks) <= 0 && l.holds <= 0
		l.mu.Unlock()

		if idle {
			return nil
		}

		if len(tasks) <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.wakeup:
			}
			continue
		}

		for _, task := range tasks {
			task()
		}
	}
}
