package services

import (
	"context"
	"time"

	"github.com/yungbote/sitegen-backend/internal/data/db"
	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/pkg/dbctx"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

const staleReason = "generation timed out"

type SweepResult struct {
	Operations    int64
	Stale         int64
	Idempotency   int64
	Confirmations int64
}

// Reaper deletes expired pending operations and expired idempotency and
// confirmation records. It also fails operations left in processing longer
// than staleAfter.
type Reaper struct {
	log        *logger.Logger
	repos      repos.Repos
	staleAfter time.Duration
	now        func() time.Time
}

func NewReaper(log *logger.Logger, r repos.Repos, staleAfter time.Duration) *Reaper {
	return &Reaper{
		log:        log.With("service", "Reaper"),
		repos:      r,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	dbc := dbctx.Context{Ctx: ctx}
	now := r.now()
	var (
		res SweepResult
		err error
	)
	if res.Operations, err = r.repos.Operation.DeleteExpiredPending(dbc, now); err != nil {
		return res, db.MapError("reap operations", err)
	}
	if r.staleAfter > 0 {
		if res.Stale, err = r.repos.Operation.FailStaleProcessing(dbc, now.Add(-r.staleAfter), staleReason); err != nil {
			return res, db.MapError("fail stale operations", err)
		}
	}
	if res.Idempotency, err = r.repos.Idempotency.DeleteExpired(dbc, now); err != nil {
		return res, db.MapError("reap idempotency records", err)
	}
	if res.Confirmations, err = r.repos.ConfirmationCode.DeleteExpired(dbc, now); err != nil {
		return res, db.MapError("reap confirmation codes", err)
	}
	return res, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		res, err := r.Sweep(ctx)
		if err != nil {
			r.log.Warn("reaper sweep failed", "error", err)
		} else if res.Operations+res.Stale+res.Idempotency+res.Confirmations > 0 {
			r.log.Info("reaper sweep",
				"operations", res.Operations,
				"stale_operations", res.Stale,
				"idempotency_records", res.Idempotency,
				"confirmation_codes", res.Confirmations,
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
