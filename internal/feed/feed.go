// Package feed fans change signals out to live subscribers.
package feed

import (
	"context"
	"sync"
)

// Feed delivers change signals to subscribers. Signals coalesce: a slow
// subscriber sees one reload for any number of changes it missed, and
// Notify never blocks.
type Feed struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func New() *Feed {
	return &Feed{subs: make(map[chan struct{}]struct{})}
}

func (f *Feed) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers is the number of running subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Run calls reload once, then again after every signal, until ctx is done or
// reload fails. A cancelled ctx is a clean stop.
func (f *Feed) Run(ctx context.Context, reload func(context.Context) error) error {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
	}()

	if err := reload(ctx); err != nil {
		return stopped(ctx, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			if err := reload(ctx); err != nil {
				return stopped(ctx, err)
			}
		}
	}
}

func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
