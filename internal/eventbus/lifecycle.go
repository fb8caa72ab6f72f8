package eventbus

import (
	"context"
	"reflect"
	"sync"
)

// SubscriptionCloser is the minimal contract required to close a subscription.
type SubscriptionCloser interface {
	Close()
}

// ServiceLifecycle bundles the plumbing every bus-driven service repeats:
// a derived run context, subscriptions that must close on shutdown, and
// worker goroutines to wait on.
type ServiceLifecycle struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs []SubscriptionCloser
}

// Start derives the run context from the provided parent context.
func (l *ServiceLifecycle) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
}

// Context returns the active run context.
func (l *ServiceLifecycle) Context() context.Context {
	return l.ctx
}

// AddSubscriptions registers subscriptions to be closed on shutdown.
// Nil values, including typed nil pointers, are ignored.
func (l *ServiceLifecycle) AddSubscriptions(subs ...SubscriptionCloser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range subs {
		if !isNilSubscription(sub) {
			l.subs = append(l.subs, sub)
		}
	}
}

// Go runs a worker goroutine tracked by the lifecycle wait group. The
// worker receives the run context and should return when it is cancelled.
func (l *ServiceLifecycle) Go(worker func(ctx context.Context)) {
	if worker == nil {
		return
	}
	l.wg.Add(1)
	go func(ctx context.Context) {
		defer l.wg.Done()
		worker(ctx)
	}(l.ctx)
}

// Stop cancels the run context and closes every tracked subscription.
func (l *ServiceLifecycle) Stop() {
	if l.cancel != nil {
		l.cancel()
	}

	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Wait blocks until all lifecycle workers complete or ctx expires.
func (l *ServiceLifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown combines Stop and Wait.
func (l *ServiceLifecycle) Shutdown(ctx context.Context) error {
	l.Stop()
	return l.Wait(ctx)
}

// isNilSubscription guards against interfaces wrapping typed nil pointers,
// which compare non-nil but would panic on Close.
func isNilSubscription(sub SubscriptionCloser) bool {
	if sub == nil {
		return true
	}
	v := reflect.ValueOf(sub)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
