// Package loop provides the single-goroutine event loop that owns all mutable
// state of a storefront session.
//
// Every mutation of a session's controllers happens inside a loop turn, so the
// controllers need no locks. Blocking work is started with Go: it runs on its
// own goroutine and hands a continuation back to the loop, where staleness is
// decided.
package loop

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned when a task is submitted to a closed loop.
var ErrClosed = errors.New("loop closed")

// Executor starts blocking work off the loop. The continuation returned by
// work, if not nil, runs on the loop once work returns.
type Executor interface {
	Go(work func(ctx context.Context) func())
}

// Loop runs posted tasks sequentially on one goroutine.
type Loop struct {
	ctx    context.Context
	cancel context.CancelFunc
	lg     *zap.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}

	workers sync.WaitGroup
	done    chan struct{}
}

var _ Executor = (*Loop)(nil)

// New starts a loop. The loop stops when ctx is cancelled or Close is called;
// ctx is also the context handed to work started with Go.
func New(ctx context.Context, lg *zap.Logger) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{
		ctx:    ctx,
		cancel: cancel,
		lg:     lg,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Post enqueues fn without waiting. It reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for the turn to finish.
// Must not be called from the loop itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may have run right before the loop stopped.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go implements Executor.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.workers.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.workers.Done()
		if cont := work(l.ctx); cont != nil {
			l.Post(cont)
		}
	}()
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Close stops the loop, cancels in-flight work and waits for both.
// Tasks still queued are dropped.
func (l *Loop) Close() {
	l.cancel()
	<-l.done
	l.workers.Wait()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.queue = nil
			l.mu.Unlock()
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				if l.ctx.Err() != nil {
					break
				}
				l.exec(fn)
			}
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.lg.Error("Loop task panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()
	fn()
}
