package gamenight

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/gamenight-app/gamenight/sdk/golang"

// FetchFunc performs the remote read for one synchronization domain.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Loader serves reads from a Cache and coalesces concurrent misses for the
// same key into one remote fetch. Keys never block each other.
//
// Invalidate and Clear fence off fetches already in flight: their results
// are returned to their callers but never cached, and callers that arrive
// afterwards start a new fetch instead of joining the old one.
type Loader[T any] struct {
	cache  *Cache[T]
	group  singleflight.Group
	logger *slog.Logger
	tracer trace.Tracer

	mu sync.Mutex
	// seq advances on every Invalidate and Clear.
	seq uint64
	// fences holds only keys with callers in flight.
	fences map[string]*fence

	fetches atomic.Int64
}

// fence tracks the in-flight callers of one key and the seq of the last
// invalidation that hit them.
type fence struct {
	callers     int
	invalidated uint64
}

// NewLoader creates a loader writing into cache.
func NewLoader[T any](cache *Cache[T], logger *slog.Logger) *Loader[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader[T]{
		cache:  cache,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		fences: make(map[string]*fence),
	}
}

// Cache returns the underlying cache.
func (l *Loader[T]) Cache() *Cache[T] { return l.cache }

// Fetches returns how many remote fetches have been started.
func (l *Loader[T]) Fetches() int64 { return l.fetches.Load() }

// Load returns the cached value for key when fresh, otherwise fetches it.
func (l *Loader[T]) Load(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	if e, ok := l.cache.Get(key); ok {
		return e.Data, nil
	}
	l.logger.Debug("cache miss", "key", key)
	return l.do(ctx, key, fetch)
}

// Refresh bypasses the freshness check and always reads through, joining a
// fetch for key that started after the last invalidation if one is running.
func (l *Loader[T]) Refresh(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	return l.do(ctx, key, fetch)
}

// Invalidate drops the cached entry for key and fences off in-flight fetches.
func (l *Loader[T]) Invalidate(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if f := l.fences[key]; f != nil {
		f.invalidated = l.seq
		l.group.Forget(key)
	}
	l.cache.Invalidate(key)
}

// Clear empties the cache and fences off every in-flight fetch.
func (l *Loader[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	for key, f := range l.fences {
		f.invalidated = l.seq
		l.group.Forget(key)
	}
	l.cache.Clear()
}

// enter registers a caller for key and returns its fence and start seq.
func (l *Loader[T]) enter(key string) (*fence, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.fences[key]
	if f == nil {
		f = &fence{}
		l.fences[key] = f
	}
	f.callers++
	return f, l.seq
}

// leave releases a caller once its flight has settled.
func (l *Loader[T]) leave(key string, f *fence) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f.callers--
	if f.callers == 0 && l.fences[key] == f {
		delete(l.fences, key)
	}
}

func (l *Loader[T]) do(ctx context.Context, key string, fetch FetchFunc[T]) (T, error) {
	f, start := l.enter(key)

	ch := l.group.DoChan(key, func() (any, error) {
		l.fetches.Add(1)
		// Waiters may give up; the shared fetch must not fail on their behalf.
		fctx, span := l.tracer.Start(context.WithoutCancel(ctx), "gamenight.fetch",
			trace.WithAttributes(attribute.String("cache.key", key)))
		defer span.End()

		data, err := fetch(fctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		l.mu.Lock()
		stale := f.invalidated > start
		if !stale {
			l.cache.put(key, data)
		}
		l.mu.Unlock()
		if stale {
			l.logger.Debug("dropping fetch result invalidated in flight", "key", key)
		}
		return data, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		// Keep the fence until the flight settles.
		go func() {
			<-ch
			l.leave(key, f)
		}()
		return zero, ctx.Err()
	case res := <-ch:
		l.leave(key, f)
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}
