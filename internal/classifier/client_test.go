package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/pbaille/journal/internal/domain"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnalyzeSuccess(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Write([]byte(`{"mood":{"label":"positive"},"category":{"category":"daily_life"}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Analyze(context.Background(), "Great day", "I feel happy and grateful today")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Title != "Great day" || got.Content != "I feel happy and grateful today" {
		t.Errorf("request = %+v", got)
	}
	if res.MoodLabel != "positive" || res.Category != "daily_life" {
		t.Errorf("result = %+v", res)
	}
	if res.MoodScores["positive"] != 1.0 || len(res.MoodScores) != 1 {
		t.Errorf("mood scores = %v", res.MoodScores)
	}
	if res.CategoryScores["daily_life"] != 1.0 {
		t.Errorf("category scores = %v", res.CategoryScores)
	}
	if res.ModelName != "emotion_classifier" {
		t.Errorf("model name = %q", res.ModelName)
	}
}

func TestAnalyzeServiceSpelling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"mood": {"mood_label": "joyful", "mood_score": 0.8, "confidence": 0.9,
			         "emotions": {"joy": 0.7, "calm": 0.2}},
			"category": {"category": "travel_adventure", "confidence": 0.6,
			             "subcategories": ["hiking", " "]},
			"processing_time_ms": 41.5
		}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Analyze(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.MoodLabel != "joyful" || res.MoodScore != 0.8 || res.MoodConfidence != 0.9 {
		t.Errorf("mood = %+v", res)
	}
	if len(res.MoodScores) != 2 || res.MoodScores["joy"] != 0.7 {
		t.Errorf("mood scores = %v", res.MoodScores)
	}
	if res.CategoryScores["travel_adventure"] != 0.6 {
		t.Errorf("category scores = %v", res.CategoryScores)
	}
	if len(res.Subcategories) != 1 || res.Subcategories[0] != "hiking" {
		t.Errorf("subcategories = %v", res.Subcategories)
	}
	if res.ProcessingTimeMs != 41.5 {
		t.Errorf("processing time = %v", res.ProcessingTimeMs)
	}
}

func TestAnalyzeDropsBlankScoreLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"mood": {"label": "positive", "emotions": {"": 0.9, "joy": 0.1}},
			"category": {"category": "daily_life", "scores": {" ": 0.8, "daily_life": 0.2}}
		}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).Analyze(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.MoodScores) != 1 || res.MoodScores["joy"] != 0.1 {
		t.Errorf("mood scores = %v", res.MoodScores)
	}
	if domain.TopLabel(res.MoodScores) != "joy" {
		t.Errorf("top label = %q", domain.TopLabel(res.MoodScores))
	}
	if len(res.CategoryScores) != 1 || res.CategoryScores["daily_life"] != 0.2 {
		t.Errorf("category scores = %v", res.CategoryScores)
	}
}

func TestAnalyzeErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		expect string
	}{
		{"server error", 500, `{}`, IsConnection, "connection"},
		{"gateway timeout", 504, `{}`, IsConnection, "connection"},
		{"bad request", 400, `{"detail":"too short"}`, IsAnalysis, "analysis"},
		{"rate limited", 429, ``, IsAnalysis, "analysis"},
		{"malformed json", 200, `{"mood":`, IsAnalysis, "analysis"},
		{"missing category", 200, `{"mood":{"label":"ok"}}`, IsAnalysis, "analysis"},
		{"missing label", 200, `{"mood":{"score":0.1},"category":{"category":"x"}}`, IsAnalysis, "analysis"},
		{"blank label", 200, `{"mood":{"label":"  "},"category":{"category":"x"}}`, IsAnalysis, "analysis"},
		{"confidence out of range", 200, `{"mood":{"label":"ok","confidence":3},"category":{"category":"x"}}`, IsAnalysis, "analysis"},
		{"redirect status", 304, ``, IsAnalysis, "analysis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Analyze(context.Background(), "t", "c")
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("expected %s error, got %T: %v", tt.expect, err, err)
			}
			if IsTimeout(err) {
				t.Errorf("status errors must not classify as timeout: %v", err)
			}
		})
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, ConnectTimeout: time.Second, RequestTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Analyze(context.Background(), "t", "c")
	if !IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if IsConnection(err) || IsAnalysis(err) {
		t.Errorf("timeout must be distinguishable: %v", err)
	}
}

func TestAnalyzeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Analyze(context.Background(), "t", "c")
	if !IsConnection(err) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
}

func TestAnalyzeCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, srv.URL).Analyze(ctx, "t", "c")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if IsConnection(err) || IsTimeout(err) {
		t.Errorf("cancellation is not a service fault: %v", err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		healthy bool
	}{
		{"healthy", 200, `{"status":"healthy"}`, true},
		{"degraded", 200, `{"status":"degraded"}`, false},
		{"garbage", 200, `not json`, false},
		{"not found", 404, ``, false},
		{"down", 503, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).Health(context.Background())
			if tt.healthy && err != nil {
				t.Fatalf("expected healthy, got %v", err)
			}
			if !tt.healthy && !IsConnection(err) {
				t.Fatalf("expected ConnectionError, got %T: %v", err, err)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"categories":["a","b"]}`))
	}))
	defer srv.Close()

	got := newTestClient(t, srv.URL).Categories(context.Background())
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("categories = %v", got)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	got = newTestClient(t, down.URL).Categories(context.Background())
	if len(got) != len(DefaultCategories) || got[0] != "personal_growth" {
		t.Errorf("fallback categories = %v", got)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "localhost:8001", "://x"} {
		if _, err := New(Config{BaseURL: u}); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}
