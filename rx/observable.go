// Package rx is a small push-based observable implementation.
//
// An Observable is cold: nothing happens until Subscribe, and every
// Subscribe runs the producer again. A producer delivers values through a
// Subscriber, which drops everything after a terminal event or after the
// consumer unsubscribed. Teardown functions run exactly once, before the
// observer sees the terminal event.
package rx

import (
	"context"
	"sync"
)

// Observer receives notifications from an Observable.
type Observer[T any] interface {
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Funcs adapts functions to Observer. Nil functions are ignored.
type Funcs[T any] struct {
	Next     func(v T)
	Error    func(err error)
	Complete func()
}

func (f Funcs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// Subscription is the consumer's handle on a running producer.
type Subscription struct {
	mu           sync.Mutex
	unsubscribed bool
	fn           func()
	done         chan struct{}
}

// NewSubscription returns a subscription running fn on the first
// Unsubscribe.
func NewSubscription(fn func()) *Subscription {
	return &Subscription{fn: fn, done: make(chan struct{})}
}

// Unsubscribe stops the producer and runs its teardown. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.unsubscribed {
		s.mu.Unlock()
		return
	}
	s.unsubscribed = true
	s.mu.Unlock()

	if s.fn != nil {
		s.fn()
	}
	close(s.done)
}

// Done is closed once the subscription is finished, whether by
// Unsubscribe or by a terminal event.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether Done is closed.
func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Subscriber is the producer's handle on one subscription.
type Subscriber[T any] struct {
	mu         sync.Mutex
	obs        Observer[T]
	closed     bool
	terminated bool
	teardowns  []func()
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *Subscription
}

// Context is cancelled when the subscription ends.
func (s *Subscriber[T]) Context() context.Context {
	return s.ctx
}

// Closed reports whether the subscription has ended.
func (s *Subscriber[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.terminated
}

// Add registers a teardown. If the subscription already ended, fn runs now.
func (s *Subscriber[T]) Add(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.teardowns = append(s.teardowns, fn)
	s.mu.Unlock()
}

// Next delivers v unless the subscription ended. It reports whether the
// subscription is still active afterwards.
func (s *Subscriber[T]) Next(v T) bool {
	if s.Closed() {
		return false
	}
	s.obs.OnNext(v)
	return !s.Closed()
}

// Error ends the subscription with err.
func (s *Subscriber[T]) Error(err error) {
	if s.finish() {
		s.obs.OnError(err)
	}
}

// Complete ends the subscription normally.
func (s *Subscriber[T]) Complete() {
	if s.finish() {
		s.obs.OnComplete()
	}
}

// finish ends the subscription and reports whether this call did it.
func (s *Subscriber[T]) finish() bool {
	s.mu.Lock()
	if s.closed || s.terminated {
		s.mu.Unlock()
		return false
	}
	s.terminated = true
	s.mu.Unlock()
	s.sub.Unsubscribe()
	return true
}

// dispose runs through Subscription.Unsubscribe exactly once.
func (s *Subscriber[T]) dispose() {
	s.mu.Lock()
	s.closed = true
	teardowns := s.teardowns
	s.teardowns = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}

// Producer runs on every Subscribe. The returned teardown, if any, runs
// when the subscription ends.
type Producer[T any] func(s *Subscriber[T]) (teardown func())

// Observable is a lazy, cold sequence of T.
type Observable[T any] struct {
	produce Producer[T]
}

// Create builds an Observable from a producer.
func Create[T any](p Producer[T]) Observable[T] {
	return Observable[T]{produce: p}
}

// Subscribe starts the producer. The producer itself runs synchronously;
// producers that block should start a goroutine.
func (o Observable[T]) Subscribe(obs Observer[T]) *Subscription {
	return o.subscribe(obs, nil)
}

// subscribe hands the subscription to started before the producer runs, so
// that operators can stop a synchronous source from inside its emissions.
func (o Observable[T]) subscribe(obs Observer[T], started func(*Subscription)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber[T]{obs: obs, ctx: ctx, cancel: cancel}
	s.sub = NewSubscription(s.dispose)
	if started != nil {
		started(s.sub)
	}
	if o.produce == nil {
		s.Complete()
		return s.sub
	}
	s.Add(o.produce(s))
	return s.sub
}

// SubscribeFuncs is shorthand for Subscribe(Funcs[T]{...}).
func (o Observable[T]) SubscribeFuncs(next func(T), onErr func(error), complete func()) *Subscription {
	return o.Subscribe(Funcs[T]{Next: next, Error: onErr, Complete: complete})
}
