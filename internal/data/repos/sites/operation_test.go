package sites

import (
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/sitegen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
)

func ptrString(s string) *string { return &s }

func ptrTime(t time.Time) *time.Time { return &t }

func newOperation(project, session string) *types.Operation {
	return &types.Operation{
		Email:            "owner@example.com",
		ProjectName:      project,
		TemplateID:       "landing",
		Images:           datatypes.JSON([]byte(`{"hero":"https://cdn.example.com/h.png"}`)),
		Langs:            datatypes.NewJSONType(map[string]string{"headline": "Hello"}),
		PaymentSessionID: ptrString(session),
	}
}

func TestOperationRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewOperationRepo(db, testutil.Logger(t))

	op := newOperation("demo-site", "cs_1")
	if err := repo.Create(dbc, op); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if op.Status != sites.StatusPending || op.Language != "en" {
		t.Fatalf("defaults not applied: status=%s language=%s", op.Status, op.Language)
	}

	got, err := repo.GetByPaymentSessionID(dbc, "cs_1")
	if err != nil || got == nil || got.ID != op.ID {
		t.Fatalf("GetByPaymentSessionID: got=%v err=%v", got, err)
	}
	if got.Langs.Data()["headline"] != "Hello" {
		t.Fatalf("langs not round-tripped: %v", got.Langs.Data())
	}
	if missing, err := repo.GetByPaymentSessionID(dbc, "cs_missing"); err != nil || missing != nil {
		t.Fatalf("missing session: got=%v err=%v", missing, err)
	}

	ok, err := repo.TransitionStatus(dbc, op.ID, []sites.OperationStatus{sites.StatusPending}, sites.StatusPaid, nil)
	if err != nil || !ok {
		t.Fatalf("pending->paid: ok=%v err=%v", ok, err)
	}
	// A replayed confirmation must not apply twice.
	ok, err = repo.TransitionStatus(dbc, op.ID, []sites.OperationStatus{sites.StatusPending}, sites.StatusPaid, nil)
	if err != nil || ok {
		t.Fatalf("second pending->paid should not apply: ok=%v err=%v", ok, err)
	}

	if ok, err := repo.Claim(dbc, op.ID, time.Now().UTC().Add(-10*time.Minute), false); err != nil || !ok {
		t.Fatalf("Claim paid: ok=%v err=%v", ok, err)
	}
	// Fresh processing claims are not stealable.
	if ok, err := repo.Claim(dbc, op.ID, time.Now().UTC().Add(-10*time.Minute), false); err != nil || ok {
		t.Fatalf("Claim fresh processing should fail: ok=%v err=%v", ok, err)
	}
	// Once the claim is older than the cutoff it can be reclaimed.
	if ok, err := repo.Claim(dbc, op.ID, time.Now().UTC().Add(time.Minute), false); err != nil || !ok {
		t.Fatalf("Claim stale processing: ok=%v err=%v", ok, err)
	}

	if err := repo.IncrementAttempts(dbc, op.ID); err != nil {
		t.Fatalf("IncrementAttempts: %v", err)
	}
	ok, err = repo.TransitionStatus(dbc, op.ID, []sites.OperationStatus{sites.StatusProcessing}, sites.StatusCompleted, map[string]interface{}{
		"site_url": "https://sites.example.com/projects/demo-site/",
	})
	if err != nil || !ok {
		t.Fatalf("processing->completed: ok=%v err=%v", ok, err)
	}

	// failed must not overwrite a completed operation.
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, op.ID,
		[]sites.OperationStatus{sites.StatusCompleted, sites.StatusDeployed},
		map[string]interface{}{"status": sites.StatusFailed})
	if err != nil || ok {
		t.Fatalf("failed over completed should not apply: ok=%v err=%v", ok, err)
	}

	got, _ = repo.GetByID(dbc, op.ID)
	if got.Status != sites.StatusCompleted || got.Attempts != 1 || got.SiteURL == "" {
		t.Fatalf("final row: status=%s attempts=%d site=%q", got.Status, got.Attempts, got.SiteURL)
	}

	latest, err := repo.GetLatestByProject(dbc, "demo-site", []sites.OperationStatus{sites.StatusCompleted})
	if err != nil || latest == nil || latest.ID != op.ID {
		t.Fatalf("GetLatestByProject: got=%v err=%v", latest, err)
	}
}

func TestOperationRepoRejectsIllegalTransition(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewOperationRepo(db, testutil.Logger(t))

	op := newOperation("other-site", "cs_2")
	if err := repo.Create(dbc, op); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := repo.TransitionStatus(dbc, op.ID, []sites.OperationStatus{sites.StatusCompleted}, sites.StatusPaid, nil); err == nil {
		t.Fatalf("completed->paid should be rejected")
	}
}

func TestOperationRepoProjectNameAndExpiry(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewOperationRepo(db, testutil.Logger(t))
	now := time.Now().UTC()

	live := newOperation("taken", "cs_live")
	live.ExpiresAt = ptrTime(now.Add(time.Hour))
	expired := newOperation("abandoned", "cs_old")
	expired.ExpiresAt = ptrTime(now.Add(-time.Hour))
	for _, op := range []*types.Operation{live, expired} {
		if err := repo.Create(dbc, op); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if taken, err := repo.ProjectNameTaken(dbc, "taken", now); err != nil || !taken {
		t.Fatalf("taken: got=%v err=%v", taken, err)
	}
	if taken, err := repo.ProjectNameTaken(dbc, "abandoned", now); err != nil || taken {
		t.Fatalf("expired pending should not hold the name: got=%v err=%v", taken, err)
	}

	n, err := repo.DeleteExpiredPending(dbc, now)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpiredPending: n=%d err=%v", n, err)
	}
	if got, _ := repo.GetByID(dbc, expired.ID); got != nil {
		t.Fatalf("expired operation still present")
	}
	if got, _ := repo.GetByID(dbc, live.ID); got == nil {
		t.Fatalf("live operation deleted")
	}
}

func TestOperationRepoClaimFailedNeedsManualTrigger(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewOperationRepo(db, testutil.Logger(t))

	op := newOperation("retry-site", "cs_retry")
	op.Status = sites.StatusFailed
	if err := repo.Create(dbc, op); err != nil {
		t.Fatalf("Create: %v", err)
	}
	staleBefore := time.Now().UTC().Add(-10 * time.Minute)
	if ok, err := repo.Claim(dbc, op.ID, staleBefore, false); err != nil || ok {
		t.Fatalf("queue claim of failed: want=false got ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbc, op.ID)
	if got.Status != sites.StatusFailed {
		t.Fatalf("status: want=%s got=%s", sites.StatusFailed, got.Status)
	}
	if ok, err := repo.Claim(dbc, op.ID, staleBefore, true); err != nil || !ok {
		t.Fatalf("manual claim of failed: want=true got ok=%v err=%v", ok, err)
	}
}

func TestOperationRepoFailStaleProcessing(t *testing.T) {
	db := testutil.DB(t)
	dbc := testutil.Ctx()
	repo := NewOperationRepo(db, testutil.Logger(t))
	now := time.Now().UTC()

	stale := newOperation("stale-site", "cs_stale")
	stale.Status = sites.StatusProcessing
	stale.ClaimedAt = ptrTime(now.Add(-time.Hour))
	live := newOperation("live-site", "cs_live_claim")
	live.Status = sites.StatusProcessing
	live.ClaimedAt = ptrTime(now.Add(-time.Minute))
	paid := newOperation("paid-site", "cs_paid")
	paid.Status = sites.StatusPaid
	for _, op := range []*types.Operation{stale, live, paid} {
		if err := repo.Create(dbc, op); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	n, err := repo.FailStaleProcessing(dbc, now.Add(-10*time.Minute), "generation timed out")
	if err != nil || n != 1 {
		t.Fatalf("FailStaleProcessing: n=%d err=%v", n, err)
	}
	got, _ := repo.GetByID(dbc, stale.ID)
	if got.Status != sites.StatusFailed || got.FailureReason != "generation timed out" {
		t.Fatalf("stale: status=%s reason=%q", got.Status, got.FailureReason)
	}
	for _, op := range []*types.Operation{live, paid} {
		got, _ := repo.GetByID(dbc, op.ID)
		if got.Status != op.Status {
			t.Fatalf("%s: want=%s got=%s", op.ProjectName, op.Status, got.Status)
		}
	}
}
