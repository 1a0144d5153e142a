package sites

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/sitegen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
)

func TestIdempotencyRepo(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewIdempotencyRepo(db, testutil.Logger(t))
	now := time.Now().UTC()
	opID := uuid.New()

	key := sites.IdempotencyKey(sites.ScopePaymentConfirmed, "cs_1")
	if rec, err := repo.Get(dbc, key, now); err != nil || rec != nil {
		t.Fatalf("Get before Put: rec=%v err=%v", rec, err)
	}
	rec := &types.IdempotencyRecord{
		Key:         key,
		Scope:       sites.ScopePaymentConfirmed,
		OperationID: &opID,
		Result:      sites.ResultEnqueued,
		ExpiresAt:   now.Add(24 * time.Hour),
	}
	if err := repo.Put(dbc, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Put is an upsert.
	if err := repo.Put(dbc, rec); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	got, err := repo.Get(dbc, key, now)
	if err != nil || got == nil || got.Result != sites.ResultEnqueued {
		t.Fatalf("Get: rec=%v err=%v", got, err)
	}
	if got, _ := repo.Get(dbc, key, now.Add(48*time.Hour)); got != nil {
		t.Fatalf("expired record should read as absent")
	}
}

func TestIdempotencyRepoReserve(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewIdempotencyRepo(db, testutil.Logger(t))
	now := time.Now().UTC()

	key := sites.IdempotencyKey(sites.ScopeNotifyFirstPublish, uuid.NewString())
	mk := func() *types.IdempotencyRecord {
		return &types.IdempotencyRecord{Key: key, Scope: sites.ScopeNotifyFirstPublish, Result: sites.ResultSent, ExpiresAt: now.Add(time.Hour)}
	}
	ok, err := repo.Reserve(dbc, mk())
	if err != nil || !ok {
		t.Fatalf("first Reserve: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Reserve(dbc, mk())
	if err != nil || ok {
		t.Fatalf("second Reserve should lose: ok=%v err=%v", ok, err)
	}
	if err := repo.Release(dbc, key); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := repo.Reserve(dbc, mk()); err != nil || !ok {
		t.Fatalf("Reserve after Release: ok=%v err=%v", ok, err)
	}

	stale := &types.IdempotencyRecord{Key: "stale", Scope: "x", Result: "y", ExpiresAt: now.Add(-time.Minute)}
	if err := repo.Put(dbc, stale); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	n, err := repo.DeleteExpired(dbc, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
	}
}
