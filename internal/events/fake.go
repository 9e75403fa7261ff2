package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Fake is an in-memory [Provider] for testing. It captures all recorded
// events in the Events slice. Safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	seq    uint64
	Events []Event
}

// NewFake returns a ready-to-use [Fake] provider.
func NewFake() *Fake {
	return &Fake{}
}

// Record appends the event to the Events slice, auto-filling Seq and
// Ts (if zero) the way FileRecorder does.
func (f *Fake) Record(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	e.Seq = f.seq
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	f.Events = append(f.Events, e)
}

// List returns recorded events matching the filter.
func (f *Fake) List(filter Filter) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []Event
	for _, e := range f.Events {
		if filter.AfterSeq > 0 && e.Seq <= filter.AfterSeq {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if !filter.Since.IsZero() && e.Ts.Before(filter.Since) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// LatestSeq returns the highest sequence number recorded so far.
func (f *Fake) LatestSeq() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq, nil
}

// Watch returns a Watcher that polls the in-memory slice.
func (f *Fake) Watch(ctx context.Context, afterSeq uint64) (Watcher, error) {
	return &fakeWatcher{f: f, afterSeq: afterSeq, ctx: ctx}, nil
}

// Close is a no-op.
func (f *Fake) Close() error { return nil }

type fakeWatcher struct {
	f        *Fake
	afterSeq uint64
	ctx      context.Context
}

func (w *fakeWatcher) Next() (Event, error) {
	for {
		select {
		case <-w.ctx.Done():
			return Event{}, w.ctx.Err()
		default:
		}

		w.f.mu.Lock()
		for _, e := range w.f.Events {
			if e.Seq > w.afterSeq {
				w.afterSeq = e.Seq
				w.f.mu.Unlock()
				return e, nil
			}
		}
		w.f.mu.Unlock()

		select {
		case <-w.ctx.Done():
			return Event{}, w.ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (w *fakeWatcher) Close() error { return nil }

// errFailFake is what every FailFake read operation returns.
var errFailFake = errors.New("events: fail fake")

// FailFake is a [Provider] whose read operations always fail and whose
// Record silently drops. For error-path tests.
type FailFake struct{}

// NewFailFake returns a FailFake.
func NewFailFake() *FailFake { return &FailFake{} }

func (*FailFake) Record(Event) {}

func (*FailFake) List(Filter) ([]Event, error) { return nil, errFailFake }

func (*FailFake) LatestSeq() (uint64, error) { return 0, errFailFake }

func (*FailFake) Watch(context.Context, uint64) (Watcher, error) { return nil, errFailFake }

func (*FailFake) Close() error { return nil }
