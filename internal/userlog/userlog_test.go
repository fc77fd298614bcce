package userlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gophercloud/gophercloud"

	"github.com/splax/conveyor/internal/repository/memory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeStageLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.log")
	capture, err := NewCapture(path, "build", "b1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	capture.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	capture.Note("starting build")
	if _, err := io.WriteString(capture, "step 1\nstep 2\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := capture.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestTransformJSONLogSkipsMalformedLines(t *testing.T) {
	input := `{"@timestamp": "2024-01-01T00:00:00Z", "message": "hello", "_user_visible": true}
not json at all
`
	var out bytes.Buffer
	n, err := TransformJSONLog(strings.NewReader(input), &out, newTestLogger())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one line, got %d", n)
	}
	if got := out.String(); got != "2024-01-01T00:00:00Z [user] hello\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestTransformJSONLogSkipsOversizedLines(t *testing.T) {
	huge := `{"@timestamp": "t0", "message": "` + strings.Repeat("x", 2*maxLineSize) + `"}`
	input := huge + "\n" + `{"@timestamp": "t1", "message": "after", "_user_visible": false}` + "\n" +
		`{"@timestamp": "t2", "message": "no newline", "_user_visible": true}`
	var out bytes.Buffer
	n, err := TransformJSONLog(strings.NewReader(input), &out, newTestLogger())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected two lines, got %d", n)
	}
	if got := out.String(); got != "t1 [system] after\nt2 [user] no newline\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCaptureMarksSystemAndUserLines(t *testing.T) {
	path := writeStageLog(t)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var out bytes.Buffer
	if _, err := TransformJSONLog(f, &out, newTestLogger()); err != nil {
		t.Fatalf("transform: %v", err)
	}
	want := "2024-01-02T03:04:05Z [system] starting build\n" +
		"2024-01-02T03:04:05Z [user] step 1\n" +
		"2024-01-02T03:04:05Z [user] step 2\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestObjectKey(t *testing.T) {
	req := Request{ResourceName: "web", ResourceID: "a1", Stage: "unittest", BuildID: "b7"}
	if got := req.ObjectKey(); got != "web-a1/unittest-b7.log" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestLocalUploaderRecordsEntry(t *testing.T) {
	repo := memory.New()
	dir := t.TempDir()
	up, err := NewLocalUploader(dir, repo, newTestLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}
	if err := up.Upload(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	want := filepath.Join(dir, "web-a1", "build-b1.log")
	if entries[0].Location != want || entries[0].Strategy != StrategyLocal {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].StrategyInfo["source"] != req.Path {
		t.Fatalf("source path not recorded: %+v", entries[0].StrategyInfo)
	}
	// The workspace holding the stage log is removed after the build.
	if err := os.Remove(req.Path); err != nil {
		t.Fatalf("remove stage log: %v", err)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("rendered log missing: %v", err)
	}
}

func newSwiftClient(url string) *gophercloud.ServiceClient {
	return &gophercloud.ServiceClient{
		ProviderClient: &gophercloud.ProviderClient{TokenID: "token"},
		Endpoint:       url + "/",
	}
}

func TestSwiftUploaderPutsObject(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	repo := memory.New()
	up := NewSwiftUploader(newSwiftClient(srv.URL), "logs", 0, repo, newTestLogger())
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}
	if err := up.Upload(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if path != "/logs/web-a1/build-b1.log" {
		t.Fatalf("unexpected object path %q", path)
	}
	if !strings.Contains(body, "[user] step 1") {
		t.Fatalf("object not transformed: %q", body)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 1 || entries[0].Location != "web-a1/build-b1.log" || entries[0].StrategyInfo["container"] != "logs" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestSwiftUploaderFailuresRecordNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := memory.New()
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}

	up := NewSwiftUploader(newSwiftClient(srv.URL), "logs", 0, repo, newTestLogger())
	if err := up.Upload(context.Background(), req); err == nil {
		t.Fatalf("expected store error")
	}
	tiny := NewSwiftUploader(newSwiftClient(srv.URL), "logs", 1, repo, newTestLogger())
	if err := tiny.Upload(context.Background(), req); !errors.Is(err, ErrInvalidObjectSize) {
		t.Fatalf("expected invalid object size, got %v", err)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestS3UploaderPutsObject(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			_, _ = io.Copy(io.Discard, r.Body)
			w.Header().Set("ETag", `"abc"`)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewS3Client(strings.TrimPrefix(srv.URL, "http://"), "key", "secret", "us-east-1", false)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	repo := memory.New()
	up := NewS3Uploader(client, "logs", repo, newTestLogger())
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}
	if err := up.Upload(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/logs/web-a1/build-b1.log" {
		t.Fatalf("unexpected object path %q", gotPath)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 1 || entries[0].Strategy != StrategyS3 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

type flakyUploader struct {
	failures int
	calls    int
	inner    Uploader
}

func (f *flakyUploader) Strategy() string { return "flaky" }

func (f *flakyUploader) Upload(ctx context.Context, req Request) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("store unavailable")
	}
	return f.inner.Upload(ctx, req)
}

func TestUploadWithRetrySucceedsOnSecondAttempt(t *testing.T) {
	repo := memory.New()
	local, _ := NewLocalUploader(t.TempDir(), repo, newTestLogger())
	up := &flakyUploader{failures: 1, inner: local}
	var slept time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}
	if err := UploadWithRetry(context.Background(), up, req, 2*time.Second, sleep, newTestLogger()); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if up.calls != 2 || slept != 2*time.Second {
		t.Fatalf("expected two attempts with a delay, got %d calls slept %s", up.calls, slept)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
}

func TestUploadWithRetryGivesUpAfterTwoFailures(t *testing.T) {
	repo := memory.New()
	local, _ := NewLocalUploader(t.TempDir(), repo, newTestLogger())
	up := &flakyUploader{failures: 5, inner: local}
	sleep := func(ctx context.Context, d time.Duration) error { return nil }
	req := Request{ResourceType: "assembly", ResourceName: "web", ResourceID: "a1", Stage: "build", BuildID: "b1", Path: writeStageLog(t)}
	if err := UploadWithRetry(context.Background(), up, req, time.Second, sleep, newTestLogger()); err == nil {
		t.Fatalf("expected error after two failures")
	}
	if up.calls != 2 {
		t.Fatalf("expected exactly two attempts, got %d", up.calls)
	}
	entries, _ := repo.ListUserlogs(context.Background(), "a1")
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
