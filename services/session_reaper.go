package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionReaper periodically reclaims what executions and sessions left
// behind: idle sessions, managed containers this process does not own, and
// workspace directories nobody holds.
type SessionReaper struct {
	manager  *SandboxManager
	idleTTL  time.Duration
	interval time.Duration
	// grace keeps a freshly allocated workspace or container from being
	// reaped before its execution registers it.
	grace  time.Duration
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSessionReaper(manager *SandboxManager, idleTTL, interval time.Duration) *SessionReaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionReaper{
		manager:  manager,
		idleTTL:  idleTTL,
		interval: interval,
		grace:    time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one sweep immediately, then one per interval until Stop.
func (r *SessionReaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Sweep(context.Background())

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(context.Background())
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *SessionReaper) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

// ReapStats counts what one sweep reclaimed
type ReapStats struct {
	Sessions   int
	Containers int
	Workspaces int
}

// Sweep runs one reaping pass.
func (r *SessionReaper) Sweep(ctx context.Context) ReapStats {
	var stats ReapStats
	now := time.Now().UTC()

	if r.idleTTL > 0 {
		for _, id := range r.manager.IdleSessions(now.Add(-r.idleTTL)) {
			if res, err := r.manager.CleanupSession(ctx, id); err == nil && res.Found {
				stats.Sessions++
			}
		}
	}

	stats.Containers = r.reapContainers(ctx, now)
	stats.Workspaces = r.reapWorkspaces(now)

	if stats != (ReapStats{}) {
		log.Info().
			Int("sessions", stats.Sessions).
			Int("containers", stats.Containers).
			Int("workspaces", stats.Workspaces).
			Msg("reaper: reclaimed resources")
	}
	return stats
}

// reapContainers removes managed containers no live execution can own. A
// container is kept while its execution runs here, and otherwise until it is
// older than any execution may live, since another process sharing the
// daemon may still be using it.
func (r *SessionReaper) reapContainers(ctx context.Context, now time.Time) int {
	runtime := r.manager.Runtime()
	containers, err := runtime.ListManaged(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reaper: failed to list managed containers")
		return 0
	}

	owned := r.manager.OwnedContainers()
	running := r.manager.RunningExecutions()
	cutoff := now.Add(-r.grace - r.manager.MaxContainerLifetime())

	reaped := 0
	for _, c := range containers {
		if owned[c.ID] || running[c.ExecutionID] || c.CreatedAt.After(cutoff) {
			continue
		}
		if err := runtime.Remove(ctx, c.ID); err != nil {
			log.Warn().Err(err).Str("container_id", c.ID).Msg("reaper: failed to remove orphan container")
			continue
		}
		reaped++
	}
	return reaped
}

func (r *SessionReaper) reapWorkspaces(now time.Time) int {
	store := r.manager.Workspaces()
	stale, err := store.Stale(now.Add(-r.grace), r.manager.OwnedWorkspaces())
	if err != nil {
		log.Warn().Err(err).Msg("reaper: failed to scan workspace root")
		return 0
	}

	reaped := 0
	for _, ws := range stale {
		if err := store.Release(ws); err != nil {
			log.Warn().Err(err).Str("workspace", ws.LocalPath).Msg("reaper: failed to remove stale workspace")
			continue
		}
		reaped++
	}
	return reaped
}
