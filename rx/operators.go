package rx

import (
	"context"
	"sync"
)

// Of emits vs in order, then completes.
func Of[T any](vs ...T) Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		for _, v := range vs {
			if !s.Next(v) {
				return nil
			}
		}
		s.Complete()
		return nil
	})
}

// Empty completes immediately.
func Empty[T any]() Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		s.Complete()
		return nil
	})
}

// Throw fails immediately with err.
func Throw[T any](err error) Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		s.Error(err)
		return nil
	})
}

// FromChannel emits every value received on ch and completes when ch is
// closed. Values are read by a goroutine owned by the subscription.
func FromChannel[T any](ch <-chan T) Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		go func() {
			ctx := s.Context()
			for {
				select {
				case <-ctx.Done():
					return
				case v, ok := <-ch:
					if !ok {
						s.Complete()
						return
					}
					if !s.Next(v) {
						return
					}
				}
			}
		}()
		return nil
	})
}

// Map applies fn to every value.
func Map[T, U any](o Observable[T], fn func(T) U) Observable[U] {
	return Create(func(s *Subscriber[U]) func() {
		inner := o.Subscribe(Funcs[T]{
			Next:     func(v T) { s.Next(fn(v)) },
			Error:    s.Error,
			Complete: s.Complete,
		})
		return inner.Unsubscribe
	})
}

// Take emits the first n values, then completes and unsubscribes from o.
func Take[T any](o Observable[T], n int) Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		if n <= 0 {
			s.Complete()
			return nil
		}
		var (
			mu    sync.Mutex
			count int
			up    *Subscription
		)
		o.subscribe(Funcs[T]{
			Next: func(v T) {
				mu.Lock()
				count++
				last := count == n
				over := count > n
				mu.Unlock()
				if over {
					up.Unsubscribe()
					return
				}
				s.Next(v)
				if last {
					up.Unsubscribe()
					s.Complete()
				}
			},
			Error:    s.Error,
			Complete: s.Complete,
		}, func(sub *Subscription) { up = sub })
		return up.Unsubscribe
	})
}

// Collect subscribes to o and gathers every value until it terminates or
// ctx ends. On ctx end it unsubscribes and returns ctx.Err().
func Collect[T any](ctx context.Context, o Observable[T]) ([]T, error) {
	var (
		mu     sync.Mutex
		values []T
	)
	done := make(chan error, 1)
	sub := o.Subscribe(Funcs[T]{
		Next: func(v T) {
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		},
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		sub.Unsubscribe()
		err = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return values, err
}
