// Package loop provides the single goroutine on which session state is
// mutated. Workers hand results back with Post; callers outside the loop use
// Do to run a function and wait for it.
package loop

import "sync"

// Loop executes functions one at a time, in submission order, on its own
// goroutine. Functions running on the loop must not call Post or Do.
type Loop struct {
	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a loop.
func New() *Loop {
	l := &Loop{
		ops:  make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case f := <-l.ops:
			f()
		case <-l.quit:
			return
		}
	}
}

// Post hands f to the loop and returns once the loop has accepted it. It
// reports false if the loop is closed, in which case f never runs.
func (l *Loop) Post(f func()) bool {
	select {
	case l.ops <- f:
		return true
	case <-l.quit:
		return false
	}
}

// Do runs f on the loop and waits for it to return.
func (l *Loop) Do(f func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	<-finished
	return true
}

// Close stops the loop after the function currently running, if any.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
	<-l.done
}
