package gcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

func TestNewCDNDisabledWithoutURLMap(t *testing.T) {
	cdn, err := NewCDN(context.Background(), logger.Nop(), CDNConfig{ProjectID: "p"})
	if err != nil {
		t.Fatalf("NewCDN: %v", err)
	}
	if cdn != nil {
		t.Fatalf("NewCDN: want nil")
	}
	if err := cdn.InvalidateProject(context.Background(), "acme"); err != nil {
		t.Fatalf("nil InvalidateProject: %v", err)
	}
}

func TestInvalidateProject(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		rule map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&rule)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"operation-1","status":"DONE"}`))
	}))
	defer srv.Close()

	cdn, err := NewCDN(context.Background(), logger.Nop(), CDNConfig{
		ProjectID: "gcp-proj",
		URLMap:    "sites-map",
		Endpoint:  srv.URL + "/compute/v1/",
	})
	if err != nil {
		t.Fatalf("NewCDN: %v", err)
	}
	if err := cdn.InvalidateProject(context.Background(), "acme"); err != nil {
		t.Fatalf("InvalidateProject: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "/projects/gcp-proj/global/urlMaps/sites-map/invalidateCache") {
		t.Fatalf("path: got %q", path)
	}
	if rule["path"] != "/projects/acme/*" {
		t.Fatalf("rule path: want=%q got=%v", "/projects/acme/*", rule["path"])
	}
}
