package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"scriberd/internal/config"
	"scriberd/internal/queue"
)

func testService(endpoint, token string) *webhookService {
	return &webhookService{
		endpoint:    endpoint,
		bearerToken: token,
		client:      &http.Client{Timeout: 5 * time.Second},
		maxAttempts: 3,
		baseBackoff: time.Millisecond,
	}
}

func TestNewServiceReturnsNoopWithoutURL(t *testing.T) {
	cfg := config.Default()
	svc := NewService(&cfg)
	if _, ok := svc.(noopService); !ok {
		t.Fatalf("expected noop service, got %T", svc)
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop should never fail: %v", err)
	}
}

func TestNotifyTranscriptReadyUploadsFileAndMetadata(t *testing.T) {
	txtPath := filepath.Join(t.TempDir(), "my-talk.txt")
	if err := os.WriteFile(txtPath, []byte("transcript body\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	var (
		gotAuth     string
		gotMetadata metadata
		gotFile     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := json.Unmarshal([]byte(req.FormValue("metadata")), &gotMetadata); err != nil {
			t.Errorf("parse metadata: %v", err)
		}
		file, _, err := req.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			gotFile = string(data)
			file.Close()
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := testService(server.URL, "secret-token")
	job := &queue.Job{
		ID:             7,
		Name:           "My Talk",
		Slug:           "my-talk",
		RecipientGroup: "team",
		TxtPath:        txtPath,
		CreatedAt:      time.Now(),
	}
	if err := svc.NotifyTranscriptReady(context.Background(), job); err != nil {
		t.Fatalf("NotifyTranscriptReady failed: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotMetadata.JobID != 7 || gotMetadata.Slug != "my-talk" || gotMetadata.Status != "done" {
		t.Fatalf("unexpected metadata: %#v", gotMetadata)
	}
	if gotMetadata.Filename != "my-talk.txt" {
		t.Fatalf("expected filename in metadata, got %q", gotMetadata.Filename)
	}
	if gotFile != "transcript body\n" {
		t.Fatalf("unexpected file content: %q", gotFile)
	}
}

func TestPostRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if calls.Add(1) < 3 {
			rw.WriteHeader(http.StatusBadGateway)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := testService(server.URL, "")
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestPostGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := testService(server.URL, "")
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNotifyJobFailedOmitsFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := req.FormFile("file"); err == nil {
			t.Error("expected no file part for failure notification")
		}
		var meta metadata
		if err := json.Unmarshal([]byte(req.FormValue("metadata")), &meta); err != nil {
			t.Errorf("parse metadata: %v", err)
		}
		if meta.Status != "error" || meta.Error == "" {
			t.Errorf("unexpected metadata: %#v", meta)
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := testService(server.URL, "")
	job := &queue.Job{ID: 3, Name: "Broken", Slug: "broken"}
	if err := svc.NotifyJobFailed(context.Background(), job, "download failed"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
}
