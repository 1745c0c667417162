// internal/pkg/session/sweeper.go
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const sweepScanCount = 100

// SweepResult summarises one pass over the user indexes.
type SweepResult struct {
	Users   int
	Pruned  int
	Expired int
}

// Sweeper periodically walks every user index, drops members whose record
// has expired and revokes sessions idle for longer than the inactivity timeout.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	onExpired func(ctx context.Context, sess *Session)
}

func NewSweeper(store *Store, interval, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// OnExpired registers a callback invoked for every session the sweeper revokes.
func (w *Sweeper) OnExpired(fn func(ctx context.Context, sess *Session)) {
	w.onExpired = fn
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval disables it.
func (w *Sweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("session sweeper disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			w.logger.Info("session sweep finished",
				zap.Int("users", res.Users),
				zap.Int("pruned", res.Pruned),
				zap.Int("expired", res.Expired),
			)
		}
	}
}

// SweepOnce performs a single cursor-paged pass.
func (w *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var (
		res    SweepResult
		cursor uint64
	)
	pattern := userIndexPrefix + ":*"
	prefix := userIndexPrefix + ":"

	for {
		keys, next, err := w.store.client.Scan(ctx, cursor, pattern, sweepScanCount).Result()
		if err != nil {
			return res, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		for _, key := range keys {
			userID := strings.TrimPrefix(key, prefix)
			sessions, pruned, err := w.store.listForUser(ctx, userID)
			if err != nil {
				return res, err
			}
			res.Users++
			res.Pruned += pruned

			now := w.store.now()
			for _, sess := range sessions {
				if sess.IdleFor(now) <= w.timeout {
					continue
				}
				deleted, err := w.store.revoke(ctx, sess.SessionID)
				if err != nil {
					return res, err
				}
				if !deleted {
					continue
				}
				res.Expired++
				if w.onExpired != nil {
					w.onExpired(ctx, sess)
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return res, nil
}
