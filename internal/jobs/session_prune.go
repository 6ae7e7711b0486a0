package jobs

import (
	"context"
	"log"
	"time"

	"github.com/RyanZhang-64/bhakti-steps/internal/config"
	"github.com/RyanZhang-64/bhakti-steps/internal/repository"
)

// StartSessionPruneJob periodically deletes refresh sessions that are
// expired or revoked. Revocation itself is immediate; this only reclaims
// dead rows.
func StartSessionPruneJob(ctx context.Context, cfg config.Config, store *repository.Store) {
	if !cfg.SessionPruneEnabled {
		return
	}
	interval := cfg.SessionPruneEvery
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.SessionPruneTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				pruned, err := store.DeleteStaleRefreshSessions(tickCtx, time.Now().UTC())
				cancel()
				if err != nil {
					log.Printf("session prune job error: %v", err)
					continue
				}
				if pruned > 0 {
					log.Printf("session prune job removed %d sessions", pruned)
				}
			}
		}
	}()
}
