// Package scheduler runs the periodic background work: the all-users sync
// cycle and the proactive token refresh sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auralis/auralis/internal/db"
)

// Syncer ingests one user's recent plays.
type Syncer interface {
	SyncRecentlyPlayed(ctx context.Context, userID uuid.UUID) (int, error)
}

// UserLister enumerates users with a linked account.
type UserLister interface {
	ListLinked(ctx context.Context) ([]db.User, error)
}

// TokenSweeper refreshes tokens nearing expiry.
type TokenSweeper interface {
	RefreshExpiring(ctx context.Context, within time.Duration) (refreshed, failed int)
}

// Config holds the scheduler periods.
type Config struct {
	SyncInterval     time.Duration
	SyncInitialDelay time.Duration
	SyncUserTimeout  time.Duration
	TokenSweepPeriod time.Duration
	TokenSweepWindow time.Duration
}

// Scheduler owns the background tickers. Start launches them; Stop cancels
// and waits for in-flight work to finish.
type Scheduler struct {
	users  UserLister
	syncer Syncer
	tokens TokenSweeper
	cfg    Config
	log    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(users UserLister, syncer Syncer, tokens TokenSweeper, cfg Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		users:  users,
		syncer: syncer,
		tokens: tokens,
		cfg:    cfg,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the background workers. They stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.runSyncWorker(ctx)
	go s.runTokenWorker(ctx)
}

// Stop cancels the workers and waits for the current iteration to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runSyncWorker(ctx context.Context) {
	defer s.wg.Done()

	// Let the service finish booting before the first full cycle.
	select {
	case <-time.After(s.cfg.SyncInitialDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	s.syncCycle(ctx)
	for {
		select {
		case <-ticker.C:
			s.syncCycle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// syncCycle syncs every linked user sequentially. One user's failure never
// stops the cycle; it is counted and logged.
func (s *Scheduler) syncCycle(ctx context.Context) {
	users, err := s.users.ListLinked(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("listing linked users")
		return
	}
	if len(users) == 0 {
		return
	}

	start := time.Now()
	succeeded, failed := 0, 0
	for _, user := range users {
		if ctx.Err() != nil {
			return
		}

		userCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncUserTimeout)
		count, err := s.syncer.SyncRecentlyPlayed(userCtx, user.ID)
		cancel()
		if err != nil {
			failed++
			s.log.Warn().Err(err).Stringer("user_id", user.ID).Msg("user sync failed")
			continue
		}
		succeeded++
		if count > 0 {
			s.log.Debug().Stringer("user_id", user.ID).Int("new_entries", count).Msg("user synced")
		}
	}

	s.log.Info().
		Int("users", len(users)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("sync cycle complete")
}

func (s *Scheduler) runTokenWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TokenSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tokens.RefreshExpiring(ctx, s.cfg.TokenSweepWindow)
		case <-ctx.Done():
			return
		}
	}
}
