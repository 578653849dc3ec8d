package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Prefix:          "/collages/",
	}
}

func TestNewS3Storage(t *testing.T) {
	storage, err := NewS3Storage(t.TempDir(), testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if storage.bucket != "test-bucket" {
		t.Errorf("bucket = %v, want test-bucket", storage.bucket)
	}
	if storage.region != "us-east-1" {
		t.Errorf("region = %v, want us-east-1", storage.region)
	}
	if storage.prefix != "collages" {
		t.Errorf("prefix = %v, want collages", storage.prefix)
	}
}

func TestS3Storage_InheritsLocalStorage(t *testing.T) {
	tempDir := t.TempDir()
	storage, err := NewS3Storage(tempDir, testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	path, err := storage.OutputPath("collageVideo.mp4")
	if err != nil {
		t.Fatalf("OutputPath() error = %v", err)
	}
	if path != filepath.Join(tempDir, "collageVideo.mp4") {
		t.Errorf("OutputPath() = %v", path)
	}

	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	exists, err := storage.Exists(path)
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v", exists, err)
	}
	if err := storage.Remove(path); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
}

func TestS3Storage_Persist_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}

		if r.URL.Path != "/test-bucket/collages/export-1/collageVideo.mp4" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		if ct := r.Header.Get("Content-Type"); ct != "video/mp4" {
			t.Errorf("unexpected content type: %s", ct)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if string(body) != "video bytes" {
			t.Errorf("unexpected body: %s", string(body))
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tempDir := t.TempDir()
	storage, err := NewS3Storage(tempDir, testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	src := filepath.Join(tempDir, "collageVideo.mp4")
	if err := os.WriteFile(src, []byte("video bytes"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	url, err := storage.Persist(context.Background(), src, "export-1/collageVideo.mp4")
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	expectedURL := "https://test-bucket.s3.us-east-1.amazonaws.com/collages/export-1/collageVideo.mp4"
	if url != expectedURL {
		t.Errorf("url = %v, want %v", url, expectedURL)
	}
}

func TestS3Storage_Persist_MissingFile(t *testing.T) {
	storage, err := NewS3Storage(t.TempDir(), testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	if _, err := storage.Persist(context.Background(), "/non/existent/file.mp4", "k.mp4"); err == nil {
		t.Error("expected error for missing file")
	}
}
