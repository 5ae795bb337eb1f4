package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/eatcast/eatcast/internal/models"
	"github.com/eatcast/eatcast/internal/storage"
	"github.com/eatcast/eatcast/internal/storage/sqlite"
	"github.com/eatcast/eatcast/internal/worker"
	"github.com/eatcast/eatcast/pkg/logger"
)

type stubPipeline struct {
	current  *worker.Current
	notified int
}

func (s *stubPipeline) Current() *worker.Current { return s.current }
func (s *stubPipeline) Notify()                  { s.notified++ }

type stubChecker struct {
	found    int
	enqueued int
	err      error
	lastID   uint
}

func (s *stubChecker) CheckNow(ctx context.Context, id uint) (int, int, error) {
	s.lastID = id
	return s.found, s.enqueued, s.err
}

type testAPI struct {
	router   http.Handler
	repo     storage.Repository
	pipeline *stubPipeline
	checker  *stubChecker
}

func newTestAPI(t *testing.T, accessKey string) *testAPI {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	pipeline := &stubPipeline{}
	checker := &stubChecker{}
	handler := NewHandler(repo, pipeline, checker, 3, logger.Default())
	return &testAPI{
		router:   NewServer(handler, accessKey, logger.Default()),
		repo:     repo,
		pipeline: pipeline,
		checker:  checker,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) enqueue(t *testing.T, videoID string) *models.QueueItem {
	t.Helper()
	now := time.Now().UTC()
	item := &models.QueueItem{
		VideoID:     videoID,
		VideoTitle:  "title",
		ChannelName: "channel",
		Priority:    3,
		Status:      models.StatusQueued,
		ScheduledAt: now,
		MaxAttempts: 3,
	}
	if err := a.repo.Enqueue(context.Background(), item); err != nil {
		t.Fatal(err)
	}
	return item
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestGetOverview(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	a.enqueue(t, "v1")
	a.enqueue(t, "v2")
	claimed, err := a.repo.ClaimNext(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	a.pipeline.current = &worker.Current{ItemID: claimed.ID, VideoID: claimed.VideoID, Attempt: 1}

	w := a.do(t, http.MethodGet, "/api/overview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[OverviewResponse](t, w)
	if resp.Queued != 1 || resp.Processing != 1 {
		t.Fatalf("unexpected counts: %+v", resp)
	}
	if resp.CurrentlyProcessing == nil || resp.CurrentlyProcessing.VideoID != claimed.VideoID {
		t.Fatalf("expected in-flight item in overview, got %+v", resp.CurrentlyProcessing)
	}
}

func TestSubmitVideoAndDuplicate(t *testing.T) {
	a := newTestAPI(t, "")

	w := a.do(t, http.MethodPost, "/api/queue", SubmitVideoRequest{
		VideoID:  "v1",
		Title:    "Best tacos in town",
		Priority: 9, // out of range, must clamp to default
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	item := decode[models.QueueItem](t, w)
	if item.Priority != 3 {
		t.Fatalf("out-of-range priority must default to 3, got %d", item.Priority)
	}
	if item.MaxAttempts != 3 {
		t.Fatalf("expected configured retry budget, got %d", item.MaxAttempts)
	}
	if a.pipeline.notified != 1 {
		t.Fatalf("submit must wake the worker, got %d notifications", a.pipeline.notified)
	}

	w = a.do(t, http.MethodPost, "/api/queue", SubmitVideoRequest{VideoID: "v1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate submit must return 409, got %d", w.Code)
	}
}

func TestSubmitVideoRequiresID(t *testing.T) {
	a := newTestAPI(t, "")

	w := a.do(t, http.MethodPost, "/api/queue", SubmitVideoRequest{Title: "no id"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSkipItemIdempotent(t *testing.T) {
	a := newTestAPI(t, "")
	item := a.enqueue(t, "v1")

	url := "/api/queue/" + itoa(item.ID) + "/skip"
	w := a.do(t, http.MethodPost, url, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Skipping an already-skipped item succeeds without another transition
	w = a.do(t, http.MethodPost, url, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeated skip must stay 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[models.QueueItem](t, w)
	if got.Status != models.StatusSkipped {
		t.Fatalf("expected skipped, got %s", got.Status)
	}
}

func TestProcessingItemCannotBeSkippedOrRemoved(t *testing.T) {
	a := newTestAPI(t, "")
	ctx := context.Background()

	item := a.enqueue(t, "v1")
	if _, err := a.repo.ClaimNext(ctx, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	w := a.do(t, http.MethodPost, "/api/queue/"+itoa(item.ID)+"/skip", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("skip on processing item must return 409, got %d", w.Code)
	}

	w = a.do(t, http.MethodDelete, "/api/queue/"+itoa(item.ID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("remove on processing item must return 409, got %d", w.Code)
	}
}

func TestGetItemNotFound(t *testing.T) {
	a := newTestAPI(t, "")

	w := a.do(t, http.MethodGet, "/api/queue/9999", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/queue/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", w.Code)
	}
}

func TestPrioritizeWakesWorker(t *testing.T) {
	a := newTestAPI(t, "")
	item := a.enqueue(t, "v1")
	a.enqueue(t, "v2")

	w := a.do(t, http.MethodPost, "/api/queue/"+itoa(item.ID)+"/prioritize", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if a.pipeline.notified != 1 {
		t.Fatalf("prioritize must wake the worker, got %d", a.pipeline.notified)
	}
}

func TestQueuePagination(t *testing.T) {
	a := newTestAPI(t, "")
	for _, id := range []string{"v1", "v2", "v3"} {
		a.enqueue(t, id)
	}

	w := a.do(t, http.MethodGet, "/api/queue?page=2&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[PageResponse](t, w)
	if resp.Total != 3 || resp.Page != 2 || resp.PageSize != 2 {
		t.Fatalf("unexpected page envelope: %+v", resp)
	}
	items, ok := resp.Items.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected 1 item on last page, got %#v", resp.Items)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	a := newTestAPI(t, "")

	w := a.do(t, http.MethodPost, "/api/subscriptions", CreateSubscriptionRequest{
		URL:         "https://www.youtube.com/channel/UCfood",
		ChannelName: "Food Tour",
		Priority:    2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	sub := decode[models.Subscription](t, w)
	if sub.ChannelID != "UCfood" {
		t.Fatalf("expected channel id derived from url, got %q", sub.ChannelID)
	}
	if sub.CheckIntervalHours != 24 {
		t.Fatalf("missing interval must default to 24h, got %d", sub.CheckIntervalHours)
	}

	w = a.do(t, http.MethodPost, "/api/subscriptions/"+itoa(sub.ID)+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	paused := decode[models.Subscription](t, w)
	if paused.IsActive {
		t.Fatal("expected paused subscription")
	}

	w = a.do(t, http.MethodPost, "/api/subscriptions/"+itoa(sub.ID)+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resumed := decode[models.Subscription](t, w)
	if !resumed.IsActive {
		t.Fatal("expected active subscription")
	}

	a.checker.found = 5
	a.checker.enqueued = 2
	w = a.do(t, http.MethodPost, "/api/subscriptions/"+itoa(sub.ID)+"/check", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	check := decode[CheckNowResponse](t, w)
	if check.VideosFound != 5 || check.VideosEnqueued != 2 {
		t.Fatalf("unexpected check response: %+v", check)
	}
	if a.checker.lastID != sub.ID {
		t.Fatalf("checker called with id %d, want %d", a.checker.lastID, sub.ID)
	}

	w = a.do(t, http.MethodDelete, "/api/subscriptions/"+itoa(sub.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = a.do(t, http.MethodPost, "/api/subscriptions/"+itoa(sub.ID)+"/pause", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	a := newTestAPI(t, "secret")

	// Health endpoint stays open
	w := a.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health must not require auth, got %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/overview", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/overview", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with X-API-Key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/overview", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
}

func TestDeriveChannelID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"UCabc123", "UCabc123", false},
		{"https://www.youtube.com/channel/UCabc123", "UCabc123", false},
		{"https://www.youtube.com/channel/UCabc123/videos", "UCabc123", false},
		{"https://www.youtube.com/watch?v=xyz", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := DeriveChannelID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("DeriveChannelID(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("DeriveChannelID(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("DeriveChannelID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
