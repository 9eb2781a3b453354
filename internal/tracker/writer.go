package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/session"
	"github.com/codefionn/tempo/internal/store"
)

// Store is the persistence the writer needs. *store.Store implements it.
type Store interface {
	EnsureProject(ctx context.Context, p *session.Project) error
	SetArchived(ctx context.Context, key string, archived bool) error
	SaveSession(ctx context.Context, s *session.Session) error
	RecordHeartbeat(ctx context.Context, sessionID int64, at time.Time) error
}

// RetryPolicy bounds how hard a flush is retried before buffering.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy returns the built-in policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: consts.DefaultStoreRetries,
		Initial:  consts.DefaultStoreRetryInitial,
		Max:      consts.DefaultStoreRetryMax,
	}
}

// RetryPolicyFromConfig builds a policy from the store section.
func RetryPolicyFromConfig(c config.StoreConfig) RetryPolicy {
	return RetryPolicy{Attempts: c.RetryAttempts, Initial: c.RetryInitial(), Max: c.RetryMax()}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.MaxElapsedTime = 0
	attempts := p.Attempts
	if attempts < 0 {
		attempts = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts)), ctx)
}

// Writer persists engine changes. Everything that could not be written stays
// buffered and is retried on the next flush or heartbeat. It is owned by the
// processor goroutine; only Degraded and Buffered may be called concurrently.
type Writer struct {
	store  Store
	policy RetryPolicy
	log    *logger.Logger

	projects []*session.Project
	archived []*session.Project
	sessions []*session.Session

	degraded atomic.Bool
	buffered atomic.Int64
}

// NewWriter creates a writer.
func NewWriter(st Store, policy RetryPolicy) *Writer {
	return &Writer{
		store:  st,
		policy: policy,
		log:    logger.Global().WithPrefix("writer"),
	}
}

// Degraded reports whether buffered changes are waiting for the store.
func (w *Writer) Degraded() bool {
	return w.degraded.Load()
}

// Buffered returns the number of pending writes.
func (w *Writer) Buffered() int {
	return int(w.buffered.Load())
}

// SetPolicy replaces the retry policy.
func (w *Writer) SetPolicy(p RetryPolicy) {
	w.policy = p
}

func (w *Writer) enqueue(ch Changes) {
	for _, p := range ch.Projects {
		w.projects = appendUnique(w.projects, p)
	}
	for _, p := range ch.Archived {
		w.archived = appendUnique(w.archived, p)
	}
	for _, s := range ch.Sessions {
		w.sessions = appendUnique(w.sessions, s)
	}
}

func appendUnique[T comparable](list []T, v T) []T {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Flush writes ch together with anything still buffered. It returns an error
// wrapping ErrStoreUnavailable when changes remain buffered.
func (w *Writer) Flush(ctx context.Context, ch Changes) error {
	w.enqueue(ch)
	return w.drain(ctx)
}

func (w *Writer) drain(ctx context.Context) error {
	defer w.updateCounters()

	var err error
	w.projects, err = writeAll(ctx, w, w.projects, func(ctx context.Context, p *session.Project) error {
		return w.store.EnsureProject(ctx, p)
	})
	if err != nil {
		return w.fail(err)
	}
	w.archived, err = writeAll(ctx, w, w.archived, func(ctx context.Context, p *session.Project) error {
		return w.store.SetArchived(ctx, p.Key, p.Archived)
	})
	if err != nil {
		return w.fail(err)
	}
	w.sessions, err = writeAll(ctx, w, w.sessions, func(ctx context.Context, s *session.Session) error {
		return w.store.SaveSession(ctx, s)
	})
	if err != nil {
		return w.fail(err)
	}

	if w.degraded.Swap(false) {
		w.log.Info("Store reachable again, buffered changes written")
	}
	return nil
}

// writeAll writes items in order and returns the ones still pending.
// Permanent failures are logged and dropped so they cannot block the queue.
func writeAll[T any](ctx context.Context, w *Writer, items []T, write func(context.Context, T) error) ([]T, error) {
	for i, item := range items {
		op := func() error {
			err := write(ctx, item)
			if errors.Is(err, store.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		err := backoff.Retry(op, w.policy.backOff(ctx))
		if err == nil {
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			w.log.Error("Dropping unwritable change: %v", err)
			continue
		}
		return items[i:], err
	}
	return items[:0], nil
}

func (w *Writer) fail(err error) error {
	if !w.degraded.Swap(true) {
		w.log.Error("Store unavailable, buffering changes: %v", err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (w *Writer) updateCounters() {
	w.buffered.Store(int64(len(w.projects) + len(w.archived) + len(w.sessions)))
}

// Heartbeat retries the buffer, then saves the last activity of every open
// session and records a heartbeat for it.
func (w *Writer) Heartbeat(ctx context.Context, open []*session.Session, now time.Time) error {
	for _, s := range open {
		w.sessions = appendUnique(w.sessions, s)
	}
	if err := w.drain(ctx); err != nil {
		return err
	}
	for _, s := range open {
		if s.ID == 0 {
			continue
		}
		if err := w.store.RecordHeartbeat(ctx, s.ID, now); err != nil {
			return w.fail(err)
		}
	}
	return nil
}
