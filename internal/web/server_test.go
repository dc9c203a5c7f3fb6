package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"crowdwatch/internal/config"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/persist"
	"crowdwatch/internal/pipeline"
	"crowdwatch/internal/stats"
	"crowdwatch/internal/store"
	"crowdwatch/pkg/types"
)

type fakeTuner struct {
	value float64
}

func (f *fakeTuner) Confidence() float64     { return f.value }
func (f *fakeTuner) SetConfidence(v float64) { f.value = v }

func newTestServer(t *testing.T) (*Server, *pipeline.SnapshotStore, *store.Records) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	records := store.NewRecords(db)

	cfg := config.Default()
	classifier, err := stats.NewClassifier([]stats.Bucket{
		{Below: 10, Level: "Low", WaitRange: "2-5 min"},
		{Below: 20, Level: "Medium", WaitRange: "5-10 min"},
		{Below: 0, Level: "VeryHigh", WaitRange: "30+ min"},
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	agg := stats.NewAggregator(cfg.Stats.HistoryMaxLen, classifier)
	snaps := pipeline.NewSnapshotStore()
	m := metrics.New()

	// Window open around the clock so manual saves are never time-gated.
	window, err := persist.NewWindow("00:00", "23:59")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	throttle := persist.NewThrottle(records, snaps, m, window, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go throttle.Run(ctx)

	srv := NewServer(cfg, snaps, agg, records, throttle, &fakeTuner{value: 0.35}, m)
	return srv, snaps, records
}

func getJSON(t *testing.T, handler http.Handler, url string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s = %d: %s", url, rec.Code, rec.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("GET %s: invalid JSON: %v", url, err)
	}
	return payload
}

func TestRealtimeEndpoint(t *testing.T) {
	srv, snaps, _ := newTestServer(t)
	snaps.Write(types.Snapshot{
		PersonCount: 15,
		Density:     0.15,
		Boxes:       []types.BoundingBox{{X: 1, Y: 2, W: 3, H: 4, Confidence: 0.8}},
		Timestamp:   time.Now(),
	})

	payload := getJSON(t, srv.Handler(), "/api/realtime")
	if payload["person_count"].(float64) != 15 {
		t.Errorf("person_count = %v, want 15", payload["person_count"])
	}
	if payload["level"] != "Medium" {
		t.Errorf("level = %v, want Medium", payload["level"])
	}
	if payload["wait_range"] != "5-10 min" {
		t.Errorf("wait_range = %v", payload["wait_range"])
	}
	if payload["available"] != true {
		t.Errorf("available = %v, want true", payload["available"])
	}
}

func TestRealtimeWithoutSnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)

	payload := getJSON(t, srv.Handler(), "/api/realtime")
	if payload["available"] != false {
		t.Errorf("available = %v, want false", payload["available"])
	}
	if payload["person_count"].(float64) != 0 {
		t.Errorf("person_count = %v, want 0", payload["person_count"])
	}
}

func TestConfigGetAndSet(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	payload := getJSON(t, handler, "/api/config")
	if payload["confidence_threshold"].(float64) != 0.35 {
		t.Fatalf("initial confidence = %v", payload["confidence_threshold"])
	}

	body := bytes.NewBufferString(`{"confidence_threshold": 0.6, "drawing_enabled": false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/config", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/config = %d: %s", rec.Code, rec.Body.String())
	}

	payload = getJSON(t, handler, "/api/config")
	if payload["confidence_threshold"].(float64) != 0.6 {
		t.Errorf("confidence after set = %v, want 0.6", payload["confidence_threshold"])
	}
	if payload["drawing_enabled"] != false {
		t.Errorf("drawing_enabled = %v, want false", payload["drawing_enabled"])
	}
}

func TestConfigSetRejectsOutOfRange(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	for _, bad := range []string{
		`{"confidence_threshold": 0.05}`,
		`{"confidence_threshold": 0.95}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(bad))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("POST %s = %d, want 400", bad, rec.Code)
		}
	}

	// Threshold stays untouched after rejected updates.
	payload := getJSON(t, handler, "/api/config")
	if payload["confidence_threshold"].(float64) != 0.35 {
		t.Errorf("confidence after rejections = %v, want 0.35", payload["confidence_threshold"])
	}
}

func TestSaveEndpoint(t *testing.T) {
	srv, snaps, records := newTestServer(t)
	handler := srv.Handler()

	// No snapshot yet: rejected with a stable reason.
	req := httptest.NewRequest(http.MethodPost, "/api/save", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("save without snapshot = %d, want 409", rec.Code)
	}
	var result types.SaveResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid save response: %v", err)
	}
	if result.Reason != types.ReasonNoSnapshot {
		t.Fatalf("reason = %q, want %q", result.Reason, types.ReasonNoSnapshot)
	}

	snaps.Write(types.Snapshot{PersonCount: 7, Timestamp: time.Now()})

	req = httptest.NewRequest(http.MethodPost, "/api/save", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save with snapshot = %d: %s", rec.Code, rec.Body.String())
	}

	n, err := records.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
}

func TestHistoryValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	for _, url := range []string{
		"/api/history",
		"/api/history?weekday=7",
		"/api/history?weekday=abc",
		"/api/history?from=2026-03-02",
		"/api/history?from=bad&to=2026-03-05",
	} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", url, rec.Code)
		}
	}
}

func TestHistoryByWeekdayAndRange(t *testing.T) {
	srv, _, records := newTestServer(t)
	handler := srv.Handler()

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		ts := monday.AddDate(0, 0, i)
		if _, err := records.Insert(types.CrowdRecord{
			Timestamp: ts, PersonCount: 10 + i, Weekday: types.Weekday(ts),
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	payload := getJSON(t, handler, "/api/history?weekday=0")
	if got := len(payload["records"].([]any)); got != 1 {
		t.Errorf("monday records = %d, want 1", got)
	}
	weekdayStats, ok := payload["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats missing from weekday history: %v", payload)
	}
	if weekdayStats["count"].(float64) != 1 || weekdayStats["avg"].(float64) != 10 {
		t.Errorf("weekday stats = %v, want count 1 avg 10", weekdayStats)
	}

	payload = getJSON(t, handler, "/api/history?from=2026-03-02&to=2026-03-03")
	if got := len(payload["records"].([]any)); got != 2 {
		t.Errorf("range records = %d, want 2", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.aggregator.Add(types.HistoryEntry{Timestamp: time.Now(), PersonCount: 4})
	srv.aggregator.Add(types.HistoryEntry{Timestamp: time.Now(), PersonCount: 8})

	payload := getJSON(t, srv.Handler(), "/api/stats")
	rolling := payload["rolling"].(map[string]any)
	if rolling["avg"].(float64) != 6 {
		t.Errorf("rolling avg = %v, want 6", rolling["avg"])
	}
	if got := len(payload["weekly_flow"].([]any)); got != 7 {
		t.Errorf("weekly_flow length = %d, want 7", got)
	}

	payload = getJSON(t, srv.Handler(), "/api/stats?weekday=0")
	if _, ok := payload["hourly"]; !ok {
		t.Error("hourly missing from weekday stats")
	}
}

func TestStreamEmitsMultipart(t *testing.T) {
	srv, snaps, _ := newTestServer(t)
	snaps.Write(types.Snapshot{FrameJPEG: []byte{0xff, 0xd8, 0xff, 0xd9}, Timestamp: time.Now()})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/stream")
	if err != nil {
		t.Fatalf("GET /stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read first boundary: %v", err)
	}
	if !strings.HasPrefix(line, "--frame") {
		t.Fatalf("first line = %q, want boundary", line)
	}
}

// stubDetector returns fixed boxes for upload tests.
type stubDetector struct {
	boxes []types.BoundingBox
}

func (s *stubDetector) Detect(jpeg []byte, threshold float64) ([]types.BoundingBox, error) {
	return s.boxes, nil
}

func (s *stubDetector) Close() error { return nil }

func multipartImage(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadAndFetchResult(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.Upload.Dir = t.TempDir()
	srv.SetUploadDetector(&stubDetector{boxes: []types.BoundingBox{{W: 4, H: 4, Confidence: 0.9}}})
	handler := srv.Handler()

	body, contentType := multipartImage(t, "crowd.jpg", []byte{0xff, 0xd8, 0xff, 0xd9})
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /upload = %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid upload response: %v", err)
	}
	if resp["person_count"].(float64) != 1 {
		t.Errorf("person_count = %v, want 1", resp["person_count"])
	}
	name, ok := resp["file"].(string)
	if !ok || name == "" {
		t.Fatalf("file missing from upload response: %v", resp)
	}

	// The stored result is reachable under /get_image.
	req = httptest.NewRequest(http.MethodGet, "/get_image/"+name, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /get_image/%s = %d", name, rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("fetched image is empty")
	}
}

func TestUploadRejectsNonImageFilename(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.Upload.Dir = t.TempDir()
	srv.SetUploadDetector(&stubDetector{})
	handler := srv.Handler()

	body, contentType := multipartImage(t, "notes.txt", []byte("plain text"))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("POST /upload notes.txt = %d, want 400", rec.Code)
	}
}

func TestUploadedImageRejectsTraversal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.Upload.Dir = t.TempDir()

	for _, name := range []string{"..", "../secret", "a/b.jpg", ""} {
		req := httptest.NewRequest(http.MethodGet, "/get_image/x", nil)
		req = mux.SetURLVars(req, map[string]string{"name": name})
		rec := httptest.NewRecorder()
		srv.handleUploadedImage(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("get_image %q = %d, want 400", name, rec.Code)
		}
	}
}

func TestIndexAndHistoryPages(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	for _, url := range []string{"/", "/history"} {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", url, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "CrowdWatch") {
			t.Errorf("GET %s: page title missing", url)
		}
	}
}
