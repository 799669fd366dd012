package reconcile

import "sync"

// DefaultInboxSize bounds the work queued on a Loop.
const DefaultInboxSize = 64

// Loop is a single owning goroutine draining a bounded inbox of closures in
// order. Closures run one at a time and must not call Post, Do or Close on
// their own loop.
type Loop struct {
	inbox chan func()
	done  chan struct{}

	// mu keeps Post from sending on a closed inbox.
	mu     sync.RWMutex
	closed bool
}

// NewLoop starts a loop with room for size queued closures. A size of zero
// or less means DefaultInboxSize.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = DefaultInboxSize
	}
	l := &Loop{
		inbox: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.inbox {
		fn()
	}
}

// Post queues fn, blocking while the inbox is full. It returns false once
// the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return false
	}
	l.inbox <- fn
	return true
}

// Do runs fn on the loop and waits for it to return. It returns false, without
// running fn, once the loop is closed.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// Close stops accepting work and returns after everything already queued has
// run. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.inbox)
	}
	l.mu.Unlock()
	<-l.done
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
