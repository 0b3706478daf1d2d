package rx

import "sync"

// Subject is a hot observable fed by its owner. Values are delivered to the
// subscribers present at the time of the call, one call at a time.
// Subscribers arriving after a terminal event receive that event at once.
type Subject[T any] struct {
	mu       sync.Mutex
	emit     sync.Mutex
	subs     map[*Subscriber[T]]struct{}
	finished bool
	err      error
}

// NewSubject returns an empty Subject.
func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[*Subscriber[T]]struct{})}
}

// Observable exposes the subject for subscription.
func (sj *Subject[T]) Observable() Observable[T] {
	return Create(func(s *Subscriber[T]) func() {
		sj.mu.Lock()
		if sj.finished {
			err := sj.err
			sj.mu.Unlock()
			if err != nil {
				s.Error(err)
			} else {
				s.Complete()
			}
			return nil
		}
		sj.subs[s] = struct{}{}
		sj.mu.Unlock()
		return func() {
			sj.mu.Lock()
			delete(sj.subs, s)
			sj.mu.Unlock()
		}
	})
}

func (sj *Subject[T]) snapshot() []*Subscriber[T] {
	sj.mu.Lock()
	defer sj.mu.Unlock()
	if sj.finished {
		return nil
	}
	out := make([]*Subscriber[T], 0, len(sj.subs))
	for s := range sj.subs {
		out = append(out, s)
	}
	return out
}

// Next delivers v to every current subscriber. It blocks until each
// observer has handled v.
func (sj *Subject[T]) Next(v T) {
	sj.emit.Lock()
	defer sj.emit.Unlock()
	for _, s := range sj.snapshot() {
		s.Next(v)
	}
}

// Error terminates every subscriber with err.
func (sj *Subject[T]) Error(err error) {
	sj.terminate(err)
}

// Complete terminates every subscriber normally.
func (sj *Subject[T]) Complete() {
	sj.terminate(nil)
}

func (sj *Subject[T]) terminate(err error) {
	sj.emit.Lock()
	defer sj.emit.Unlock()
	subs := sj.snapshot()
	sj.mu.Lock()
	if sj.finished {
		sj.mu.Unlock()
		return
	}
	sj.finished = true
	sj.err = err
	sj.mu.Unlock()
	for _, s := range subs {
		if err != nil {
			s.Error(err)
		} else {
			s.Complete()
		}
	}
}

// Observed reports how many subscribers are attached.
func (sj *Subject[T]) Observed() int {
	sj.mu.Lock()
	defer sj.mu.Unlock()
	return len(sj.subs)
}
