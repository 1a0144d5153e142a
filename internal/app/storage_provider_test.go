package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/yungbote/sitegen-backend/internal/platform/gcp"
	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

type stubStore struct{}

func (stubStore) Upload(ctx context.Context, key string, body io.Reader, cacheControl string) error {
	return nil
}
func (stubStore) Read(ctx context.Context, key string) ([]byte, error)          { return nil, nil }
func (stubStore) Delete(ctx context.Context, key string) error                  { return nil }
func (stubStore) ListKeys(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (stubStore) PublicURL(key string) string                                   { return "https://cdn.test/" + key }

func stubBucket(t *testing.T) *gcp.BucketConfig {
	t.Helper()
	orig := newBucket
	t.Cleanup(func() { newBucket = orig })
	captured := &gcp.BucketConfig{}
	newBucket = func(_ context.Context, _ *logger.Logger, cfg gcp.BucketConfig) (gcp.ObjectStore, error) {
		*captured = cfg
		return stubStore{}, nil
	}
	return captured
}

func TestClassifyStorageProviderBootstrapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want StorageProviderBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidMode}, StorageProviderBootstrapErrorInvalidMode},
		{"missing host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorMissingEmulatorHost}, StorageProviderBootstrapErrorMissingEmulatorHost},
		{"invalid host", &gcp.ObjectStorageConfigError{Code: gcp.ObjectStorageConfigErrorInvalidEmulatorHost}, StorageProviderBootstrapErrorInvalidEmulatorHost},
		{"connect", errors.New("dial tcp: connection refused"), StorageProviderBootstrapErrorConnectFailed},
	}
	for _, tc := range cases {
		err := classifyStorageProviderBootstrapError(gcp.ObjectStorageConfig{}, "", tc.err)
		var got *StorageProviderBootstrapError
		if !errors.As(err, &got) {
			t.Fatalf("%s: expected StorageProviderBootstrapError, got=%T", tc.name, err)
		}
		if got.Code != tc.want {
			t.Fatalf("%s: code: want=%q got=%q", tc.name, tc.want, got.Code)
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("%s: cause not wrapped", tc.name)
		}
	}
}

func TestResolveObjectStoreInvalidMode(t *testing.T) {
	stubBucket(t)
	_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{ObjectStorageMode: "invalid"})
	if code := storageProviderBootstrapErrorCode(err); code != StorageProviderBootstrapErrorInvalidMode {
		t.Fatalf("code: want=%q got=%q", StorageProviderBootstrapErrorInvalidMode, code)
	}
}

func TestResolveObjectStoreModes(t *testing.T) {
	captured := stubBucket(t)
	if _, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		ObjectStorageMode: string(gcp.ObjectStorageModeGCS),
		SitesBucket:       "sites",
	}); err != nil {
		t.Fatalf("gcs: %v", err)
	}
	if captured.Storage.Mode != gcp.ObjectStorageModeGCS || captured.Name != "sites" {
		t.Fatalf("gcs config: got %+v", captured)
	}

	if _, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
		StorageEmulatorHost: "http://fake-gcs:4443",
		SitesBucket:         "sites",
	}); err != nil {
		t.Fatalf("emulator: %v", err)
	}
	if captured.Storage.Mode != gcp.ObjectStorageModeGCSEmulator || !captured.Storage.Inferred {
		t.Fatalf("emulator mode should be inferred from host: %+v", captured.Storage)
	}
}

func TestResolveObjectStoreBadEmulatorHost(t *testing.T) {
	stubBucket(t)
	cases := map[string]StorageProviderBootstrapErrorCode{
		"":          StorageProviderBootstrapErrorMissingEmulatorHost,
		"not-a-url": StorageProviderBootstrapErrorInvalidEmulatorHost,
	}
	for host, want := range cases {
		_, err := resolveObjectStore(context.Background(), logger.Nop(), Config{
			ObjectStorageMode:   string(gcp.ObjectStorageModeGCSEmulator),
			StorageEmulatorHost: host,
		})
		if code := storageProviderBootstrapErrorCode(err); code != want {
			t.Fatalf("host %q: code: want=%q got=%q", host, want, code)
		}
	}
}
