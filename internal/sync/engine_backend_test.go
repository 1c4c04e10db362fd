package sync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notPlancha/CanvasSync/internal/api"
	"github.com/notPlancha/CanvasSync/internal/canvas"
	"github.com/notPlancha/CanvasSync/internal/sync/executor"
	testhelpers "github.com/notPlancha/CanvasSync/internal/testing"
	"github.com/notPlancha/CanvasSync/internal/utils"
)

// canvasServer serves one course with a single file whose download
// always answers 503
func canvasServer(t *testing.T, downloads *atomic.Int32) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	fileJSON := func() string {
		return fmt.Sprintf(`{"id":5,"display_name":"a.pdf","size":3,"updated_at":"2024-01-01T00:00:00Z","url":"%s/download/5"}`, srv.URL)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"Course"}]`)
	})
	mux.HandleFunc("/api/v1/courses/1/modules", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/v1/courses/1/folders/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":9,"name":"course files"}`)
	})
	mux.HandleFunc("/api/v1/folders/9/folders", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/api/v1/folders/9/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "["+fileJSON()+"]")
	})
	mux.HandleFunc("/api/v1/files/5", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fileJSON())
	})
	mux.HandleFunc("/download/5", func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_DownloadAttemptsBoundedAgainstHTTPBackend(t *testing.T) {
	var downloads atomic.Int32
	srv := canvasServer(t, &downloads)

	apiClient := api.NewClient(utils.BackendCanvas, srv.Client(), utils.DefaultMaxRetries, 1, nil)
	client, err := canvas.NewClient(apiClient, srv.URL+"/", "test")
	testhelpers.AssertNoError(t, err, "canvas.NewClient")

	opts := DefaultOptions(t.TempDir())
	opts.Retry = executor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}

	report, err := NewEngine(client, nil).Run(context.Background(), opts)
	testhelpers.AssertNoError(t, err, "Run")

	if report.Failed != 1 {
		t.Fatalf("failed = %d, failures = %+v", report.Failed, report.Failures)
	}
	failure := report.Failures[0]
	if failure.Code != utils.ErrCodeNetworkError || failure.Attempts != 3 {
		t.Errorf("failure = %+v", failure)
	}
	if got := downloads.Load(); got != int32(opts.Retry.MaxAttempts) {
		t.Errorf("server saw %d download requests, want %d", got, opts.Retry.MaxAttempts)
	}
}
