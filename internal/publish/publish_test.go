package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	apperrors "github.com/yungbote/sitegen-backend/internal/pkg/errors"
)

type fakeRepo struct {
	files   map[string][]byte
	shas    map[string]string
	commits []map[string][]byte
	puts    []string
	putErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{files: map[string][]byte{}, shas: map[string]string{}}
}

func (r *fakeRepo) FileSHA(ctx context.Context, path string) (string, error) { return r.shas[path], nil }

func (r *fakeRepo) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b, ok := r.files[path]
	if !ok {
		return nil, apperrors.NotFoundf("file %s", path)
	}
	return b, nil
}

func (r *fakeRepo) CommitFiles(ctx context.Context, files map[string][]byte, message string) (string, error) {
	r.commits = append(r.commits, files)
	for p, b := range files {
		r.files[p] = b
		r.shas[p] = fmt.Sprintf("sha-%d", len(r.commits))
	}
	return "commit-1", nil
}

func (r *fakeRepo) PutFile(ctx context.Context, path string, content []byte, message, priorSHA string) (string, error) {
	if r.putErr != nil {
		return "", r.putErr
	}
	if r.shas[path] != priorSHA {
		return "", apperrors.Wrap(apperrors.ClassTransient, apperrors.ErrConflict)
	}
	r.puts = append(r.puts, priorSHA)
	r.files[path] = content
	return "commit-2", nil
}

type fakeStore struct {
	objects map[string]string
	cache   map[string]string
	err     error
}

func (s *fakeStore) Upload(ctx context.Context, key string, body io.Reader, cacheControl string) error {
	if s.err != nil {
		return s.err
	}
	b, _ := io.ReadAll(body)
	s.objects[key] = string(b)
	s.cache[key] = cacheControl
	return nil
}

func (s *fakeStore) PublicURL(key string) string { return "https://storage.test/" + key }

type fakeCDN struct {
	calls []string
	err   error
}

func (c *fakeCDN) InvalidateProject(ctx context.Context, project string) error {
	c.calls = append(c.calls, project)
	return c.err
}

func newPublisher(cfg Config) (*Publisher, *fakeRepo, *fakeStore, *fakeCDN) {
	repo := newFakeRepo()
	store := &fakeStore{objects: map[string]string{}, cache: map[string]string{}}
	cdn := &fakeCDN{}
	return New(repo, store, cdn, nil, nil, cfg), repo, store, cdn
}

func TestFirstPublishCommitsPageAndOwnerMarker(t *testing.T) {
	p, repo, store, cdn := newPublisher(Config{SiteURLPattern: "https://{project}.sites.test"})
	opID := uuid.New()

	res, err := p.Publish(context.Background(), Input{Project: "acme", OperationID: opID, OwnerEmail: "Owner@Example.com", HTML: []byte("<html>1</html>")})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !res.FirstPublish || res.CommitSHA != "commit-1" || res.SiteURL != "https://acme.sites.test" {
		t.Fatalf("result: got %+v", res)
	}
	if len(repo.commits) != 1 || len(repo.commits[0]) != 2 {
		t.Fatalf("commits: got %v", repo.commits)
	}
	marker := string(repo.files["projects/acme/.owner-marker"])
	if !strings.Contains(marker, opID.String()) || !strings.Contains(marker, EmailHash("owner@example.com")) {
		t.Fatalf("owner marker: got %q", marker)
	}
	if store.objects["projects/acme/index.html"] != "<html>1</html>" {
		t.Fatalf("mirror: got %q", store.objects["projects/acme/index.html"])
	}
	if store.cache["projects/acme/index.html"] != "public, max-age=60" {
		t.Fatalf("cache control: got %q", store.cache["projects/acme/index.html"])
	}
	if len(cdn.calls) != 1 || cdn.calls[0] != "acme" {
		t.Fatalf("cdn calls: got %v", cdn.calls)
	}
}

func TestRepublishUsesPriorSHA(t *testing.T) {
	p, repo, _, _ := newPublisher(Config{})
	in := Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")}
	if _, err := p.Publish(context.Background(), in); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	in.OperationID = uuid.New()
	in.HTML = []byte("v2")
	res, err := p.Publish(context.Background(), in)
	if err != nil {
		t.Fatalf("Republish: %v", err)
	}
	if res.FirstPublish {
		t.Fatalf("FirstPublish: want=false for a later operation")
	}
	if len(repo.puts) != 1 || repo.puts[0] != "sha-1" {
		t.Fatalf("put prior sha: got %v", repo.puts)
	}
	if res.SiteURL != "https://storage.test/projects/acme/index.html" {
		t.Fatalf("site url: got %q", res.SiteURL)
	}
}

func TestRepublishByOtherOwnerRejected(t *testing.T) {
	p, _, _, _ := newPublisher(Config{})
	if _, err := p.Publish(context.Background(), Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_, err := p.Publish(context.Background(), Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "x@y.z", HTML: []byte("v2")})
	if apperrors.ClassOf(err) != apperrors.ClassValidation {
		t.Fatalf("class: want=%s got=%s", apperrors.ClassValidation, apperrors.ClassOf(err))
	}
}

func TestConflictIsRetryable(t *testing.T) {
	p, repo, _, _ := newPublisher(Config{})
	in := Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")}
	if _, err := p.Publish(context.Background(), in); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	repo.putErr = apperrors.Wrap(apperrors.ClassTransient, apperrors.ErrConflict)
	_, err := p.Publish(context.Background(), in)
	if !apperrors.Retryable(err) || !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("want retryable conflict, got %v", err)
	}
}

func TestMirrorFailureFailsAttempt(t *testing.T) {
	p, _, store, cdn := newPublisher(Config{})
	store.err = errors.New("gcs down")
	_, err := p.Publish(context.Background(), Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")})
	if !apperrors.Retryable(err) {
		t.Fatalf("want retryable error, got %v", err)
	}
	if len(cdn.calls) != 0 {
		t.Fatalf("cdn should not be invalidated after mirror failure")
	}
}

func TestRetryAfterMirrorFailureIsStillFirstPublish(t *testing.T) {
	p, repo, store, _ := newPublisher(Config{})
	in := Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")}
	store.err = errors.New("gcs down")
	if _, err := p.Publish(context.Background(), in); !apperrors.Retryable(err) {
		t.Fatalf("attempt 1: want retryable error, got %v", err)
	}
	if len(repo.commits) != 1 {
		t.Fatalf("attempt 1 commits: want=1 got=%d", len(repo.commits))
	}

	store.err = nil
	res, err := p.Publish(context.Background(), in)
	if err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if !res.FirstPublish {
		t.Fatalf("attempt 2 FirstPublish: want=true got=false")
	}
	if len(repo.commits) != 1 || len(repo.puts) != 1 {
		t.Fatalf("attempt 2 must update the committed page: commits=%d puts=%d", len(repo.commits), len(repo.puts))
	}
	if store.objects["projects/acme/index.html"] != "v1" {
		t.Fatalf("mirror: got %q", store.objects["projects/acme/index.html"])
	}
}

func TestCDNFailureIsBestEffort(t *testing.T) {
	p, _, _, cdn := newPublisher(Config{})
	cdn.err = errors.New("quota")
	if _, err := p.Publish(context.Background(), Input{Project: "acme", OperationID: uuid.New(), OwnerEmail: "a@b.c", HTML: []byte("v1")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestReconcileMirrorsRepositoryCopy(t *testing.T) {
	p, repo, store, _ := newPublisher(Config{})
	repo.files["projects/acme/index.html"] = []byte("from-repo")
	u, err := p.Reconcile(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if store.objects["projects/acme/index.html"] != "from-repo" {
		t.Fatalf("mirror: got %q", store.objects["projects/acme/index.html"])
	}
	if u == "" {
		t.Fatalf("site url empty")
	}
	if _, err := p.Reconcile(context.Background(), "missing"); apperrors.ClassOf(err) != apperrors.ClassNotFound {
		t.Fatalf("missing project: want not_found got %v", err)
	}
}
