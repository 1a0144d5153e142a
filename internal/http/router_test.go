package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/sitegen-backend/internal/data/repos"
	"github.com/yungbote/sitegen-backend/internal/data/repos/testutil"
	types "github.com/yungbote/sitegen-backend/internal/domain"
	"github.com/yungbote/sitegen-backend/internal/domain/sites"
	httpH "github.com/yungbote/sitegen-backend/internal/http/handlers"
	httpMW "github.com/yungbote/sitegen-backend/internal/http/middleware"
	"github.com/yungbote/sitegen-backend/internal/http/response"
	"github.com/yungbote/sitegen-backend/internal/ingestion"
	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
	"github.com/yungbote/sitegen-backend/internal/queue"
	"github.com/yungbote/sitegen-backend/internal/services"
)

const webhookSecret = "whsec_router"

type fakeOps struct {
	createErr error
	creates   int
	ops       map[uuid.UUID]*types.Operation
	refs      []string
}

func (f *fakeOps) Create(ctx context.Context, req services.CreateOperationRequest) (*types.Operation, error) {
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &types.Operation{ID: uuid.New(), Status: sites.StatusPending, ProjectName: req.ProjectName, TemplateID: req.TemplateID}, nil
}

func (f *fakeOps) Get(ctx context.Context, id uuid.UUID) (*types.Operation, error) {
	if op, ok := f.ops[id]; ok {
		return op, nil
	}
	return nil, apperrors.NotFoundf("operation %s", id)
}

func (f *fakeOps) RequestGeneration(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return false, err
	}
	f.refs = append(f.refs, ref)
	return true, nil
}

type fakeReconciler struct{ err error }

func (f fakeReconciler) Reconcile(ctx context.Context, project string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/projects/" + project + "/index.html", nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (p *fakeProducer) Enqueue(ctx context.Context, m queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, m)
	return nil
}

type routerFixture struct {
	engine   *gin.Engine
	ops      *fakeOps
	auth     services.AuthService
	producer *fakeProducer
	seed     func(opts ...func(*types.Operation)) *types.Operation
	reload   func(id uuid.UUID) *types.Operation
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(gdb, log)

	auth, err := services.NewAuthService(services.AuthConfig{JWTSecret: "router-test-secret", EditBaseURL: "https://editor.test"})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	f := &routerFixture{
		ops:      &fakeOps{ops: map[uuid.UUID]*types.Operation{}},
		auth:     auth,
		producer: &fakeProducer{},
	}
	payment := ingestion.NewPaymentIngestor(log, r, f.producer, nil, ingestion.PaymentConfig{Secret: webhookSecret})
	deployment := ingestion.NewDeploymentIngestor(log, r, nil, ingestion.DeploymentConfig{Secret: webhookSecret, Branch: "main"})
	f.engine = NewRouter(RouterConfig{
		Log:              log,
		AuthMiddleware:   httpMW.NewAuthMiddleware(log, auth),
		WebhookHandler:   httpH.NewWebhookHandler(payment, deployment),
		OperationHandler: httpH.NewOperationHandler(f.ops),
		AdminHandler:     httpH.NewAdminHandler(f.ops, fakeReconciler{}),
		HealthHandler:    httpH.NewHealthHandler(nil),
	})
	f.seed = func(opts ...func(*types.Operation)) *types.Operation {
		return testutil.SeedOperation(t, context.Background(), gdb, opts...)
	}
	f.reload = func(id uuid.UUID) *types.Operation { return testutil.Reload(t, gdb, id) }
	return f
}

func (f *routerFixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env response.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v body=%s", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestHealthcheck(t *testing.T) {
	f := newRouterFixture(t)
	if rec := f.do(http.MethodGet, "/healthcheck", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
}

func TestPaymentWebhookInvalidSignature(t *testing.T) {
	f := newRouterFixture(t)
	op := f.seed(testutil.WithPaymentSession("cs_router"))
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_router"}}}`)

	rec := f.do(http.MethodPost, "/webhooks/payment", body, map[string]string{
		"Stripe-Signature": ingestion.SignStripePayload(body, "wrong", time.Now()),
	})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "forbidden" {
		t.Fatalf("want=403 forbidden got=%d %s", rec.Code, rec.Body.String())
	}
	if got := f.reload(op.ID); got.Status != sites.StatusPending {
		t.Fatalf("status: want=pending got=%s", got.Status)
	}
	if len(f.producer.messages) != 0 {
		t.Fatalf("messages: want=0 got=%d", len(f.producer.messages))
	}

	rec = f.do(http.MethodPost, "/webhooks/payment", body, map[string]string{
		"Stripe-Signature": ingestion.SignStripePayload(body, webhookSecret, time.Now()),
	})
	if rec.Code != http.StatusOK || len(f.producer.messages) != 1 {
		t.Fatalf("signed delivery: want=200 and one message got=%d messages=%d", rec.Code, len(f.producer.messages))
	}
}

func TestPaymentWebhookMalformedJSON(t *testing.T) {
	f := newRouterFixture(t)
	body := []byte(`not json`)
	rec := f.do(http.MethodPost, "/webhooks/payment", body, map[string]string{
		"Stripe-Signature": ingestion.SignStripePayload(body, webhookSecret, time.Now()),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
}

func TestDeploymentWebhook(t *testing.T) {
	f := newRouterFixture(t)
	op := f.seed(testutil.WithProject("acme"), testutil.WithStatus(sites.StatusCompleted))
	body := []byte(`{"ref":"refs/heads/main","commits":[{"modified":["projects/acme/index.html"]}]}`)
	rec := f.do(http.MethodPost, "/webhooks/deployment", body, map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": ingestion.SignGitHubPayload(body, webhookSecret),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d %s", rec.Code, rec.Body.String())
	}
	if got := f.reload(op.ID); got.Status != sites.StatusDeployed {
		t.Fatalf("status: want=deployed got=%s", got.Status)
	}
}

func TestAdminGenerateRequiresAdmin(t *testing.T) {
	f := newRouterFixture(t)
	op := &types.Operation{ID: uuid.New(), Status: sites.StatusFailed}
	f.ops.ops[op.ID] = op
	path := fmt.Sprintf("/api/admin/operations/%s/generate", op.ID)

	if rec := f.do(http.MethodPost, path, nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: want=401 got=%d", rec.Code)
	}
	edit, err := f.auth.IssueEditToken(&types.Operation{ID: op.ID, ProjectName: "acme"})
	if err != nil {
		t.Fatalf("edit token: %v", err)
	}
	if rec := f.do(http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer " + edit}); rec.Code != http.StatusForbidden {
		t.Fatalf("editor token: want=403 got=%d", rec.Code)
	}

	admin, err := f.auth.IssueAdminToken("ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("admin token: %v", err)
	}
	rec := f.do(http.MethodPost, path, nil, map[string]string{
		"Authorization":   "Bearer " + admin,
		"Idempotency-Key": "retry-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("admin: want=202 got=%d %s", rec.Code, rec.Body.String())
	}
	if len(f.ops.refs) != 1 || f.ops.refs[0] != "retry-1" {
		t.Fatalf("idempotency ref: want=[retry-1] got=%v", f.ops.refs)
	}

	missing := fmt.Sprintf("/api/admin/operations/%s/generate", uuid.New())
	if rec := f.do(http.MethodPost, missing, nil, map[string]string{"Authorization": "Bearer " + admin}); rec.Code != http.StatusNotFound {
		t.Fatalf("missing op: want=404 got=%d", rec.Code)
	}
}

func TestAdminReconcile(t *testing.T) {
	f := newRouterFixture(t)
	admin, _ := f.auth.IssueAdminToken("ops@example.com", time.Hour)
	rec := f.do(http.MethodPost, "/api/admin/projects/acme/reconcile", nil, map[string]string{"Authorization": "Bearer " + admin})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
}

func TestOperationRoutes(t *testing.T) {
	f := newRouterFixture(t)
	if rec := f.do(http.MethodGet, "/api/operations/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=400 got=%d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/operations/"+uuid.NewString(), nil, nil); rec.Code != http.StatusNotFound || errorCode(t, rec) != "not_found" {
		t.Fatalf("missing: want=404 got=%d", rec.Code)
	}

	op := &types.Operation{ID: uuid.New(), Status: sites.StatusFailed, FailureReason: `image "hero" too large`}
	f.ops.ops[op.ID] = op
	rec := f.do(http.MethodGet, "/api/operations/"+op.ID.String(), nil, nil)
	var got struct {
		Operation struct {
			Status        string `json:"status"`
			FailureReason string `json:"failureReason"`
		} `json:"operation"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Operation.Status != "failed" || got.Operation.FailureReason != op.FailureReason {
		t.Fatalf("view: got %+v", got.Operation)
	}

	body := []byte(`{"email":"a@example.com","projectName":"acme","templateId":"starter"}`)
	if rec := f.do(http.MethodPost, "/api/operations", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("create: want=201 got=%d", rec.Code)
	}
	f.ops.createErr = fmt.Errorf("project %q is taken: %w", "acme", apperrors.ErrConflict)
	if rec := f.do(http.MethodPost, "/api/operations", body, nil); rec.Code != http.StatusConflict {
		t.Fatalf("taken: want=409 got=%d", rec.Code)
	}
	f.ops.createErr = errors.New("db down")
	rec = f.do(http.MethodPost, "/api/operations", body, nil)
	if rec.Code != http.StatusInternalServerError || bytes.Contains(rec.Body.Bytes(), []byte("db down")) {
		t.Fatalf("internal: want=500 without detail got=%d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOperationBodyLimit(t *testing.T) {
	f := newRouterFixture(t)
	huge := append([]byte(`{"email":"a@example.com","projectName":"`), bytes.Repeat([]byte("a"), httpH.MaxCreateBody)...)
	huge = append(huge, `"}`...)
	rec := f.do(http.MethodPost, "/api/operations", huge, nil)
	if rec.Code != http.StatusRequestEntityTooLarge || errorCode(t, rec) != "request_too_large" {
		t.Fatalf("oversized: want=413/request_too_large got=%d %s", rec.Code, rec.Body.String())
	}
	if f.ops.creates != 0 {
		t.Fatalf("creates: want=0 got=%d", f.ops.creates)
	}
}
