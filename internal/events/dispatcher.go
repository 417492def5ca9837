// Package events runs the process-wide event dispatch loop. Sources register
// a readiness channel; every handler runs on the single dispatch goroutine,
// one at a time, in the order readiness was observed.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Token identifies a registration. Tokens are never reused.
type Token uint64

// Handler is invoked on the dispatch goroutine with the token it was
// registered under.
type Handler func(Token)

type registration struct {
	handler Handler
	stop    chan struct{}
}

// Dispatcher serializes readiness notifications onto one goroutine.
type Dispatcher struct {
	log   *zap.Logger
	queue chan Token

	mu     sync.Mutex
	next   Token
	active map[Token]*registration
}

// NewDispatcher creates a dispatcher. Run must be called for handlers to fire.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		log:    log.Named("events"),
		queue:  make(chan Token, 64),
		active: make(map[Token]*registration),
	}
}

// Register starts watching ready. Every value received on ready queues one
// call of h.
func (d *Dispatcher) Register(ready <-chan struct{}, h Handler) Token {
	d.mu.Lock()
	d.next++
	tok := d.next
	reg := &registration{handler: h, stop: make(chan struct{})}
	d.active[tok] = reg
	d.mu.Unlock()

	go d.forward(tok, ready, reg.stop)
	return tok
}

// Deregister stops watching a registration. Queued notifications for the
// token are dropped. Safe to call from a handler and more than once.
func (d *Dispatcher) Deregister(tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.active[tok]
	if !ok {
		return
	}
	delete(d.active, tok)
	close(reg.stop)
}

// Len returns the number of live registrations.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Run dispatches until ctx is done, then drops every registration.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.deregisterAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tok := <-d.queue:
			d.dispatch(tok)
		}
	}
}

func (d *Dispatcher) forward(tok Token, ready <-chan struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-ready:
			if !ok {
				d.Deregister(tok)
				return
			}
			select {
			case d.queue <- tok:
			case <-stop:
				return
			}
		}
	}
}

func (d *Dispatcher) dispatch(tok Token) {
	d.mu.Lock()
	reg, ok := d.active[tok]
	d.mu.Unlock()
	if !ok {
		d.log.Debug("dropping notification for stale registration", zap.Uint64("token", uint64(tok)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", zap.Uint64("token", uint64(tok)), zap.Any("panic", r))
		}
	}()
	reg.handler(tok)
}

func (d *Dispatcher) deregisterAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for tok, reg := range d.active {
		delete(d.active, tok)
		close(reg.stop)
	}
}
