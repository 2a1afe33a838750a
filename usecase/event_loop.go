package usecase

import (
	"context"
	"sync"
)

// eventLoop runs posted closures one at a time on a single goroutine.
// post never blocks: pending work is kept in an unbounded slice and the
// runner is woken through a one-slot notify channel.
type eventLoop struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// post schedules fn on the loop goroutine
func (l *eventLoop) post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// invoke schedules fn and waits until it ran. It must not be called from
// the loop goroutine itself.
func (l *eventLoop) invoke(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.post(func() {
		defer close(ran)
		fn()
	})

	select {
	case <-ran:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drains posted work until ctx is done
func (l *eventLoop) run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.notify:
		}

		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}
