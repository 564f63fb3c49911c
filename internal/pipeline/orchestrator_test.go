package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pbaille/journal/internal/classifier"
	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/metrics"
	"github.com/pbaille/journal/internal/store"
	"github.com/pbaille/journal/internal/tagger"
)

type fakeAnalyzer struct {
	results   []*domain.AnalysisResult
	err       error
	healthErr error
	calls     atomic.Int32
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, title, content string) (*domain.AnalysisResult, error) {
	n := int(f.calls.Add(1)) - 1
	if f.err != nil {
		return nil, f.err
	}
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	return f.results[n], nil
}

func (f *fakeAnalyzer) Health(ctx context.Context) error { return f.healthErr }

func remote(label, category string) *domain.AnalysisResult {
	return &domain.AnalysisResult{
		MoodLabel:      label,
		MoodScores:     map[string]float64{label: 1},
		Category:       category,
		CategoryScores: map[string]float64{category: 1},
	}
}

func setup(t *testing.T, client classifier.Analyzer, opts Options) (*Orchestrator, *store.Store, *domain.Content) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	c, err := s.AddContent(context.Background(), "Great day", "I feel happy and grateful today")
	if err != nil {
		t.Fatal(err)
	}
	return New(s, client, tagger.New(s), opts), s, c
}

func TestAnalyzeRemoteResult(t *testing.T) {
	ctx := context.Background()
	o, s, c := setup(t, &fakeAnalyzer{results: []*domain.AnalysisResult{remote("positive", "daily_life")}}, DefaultOptions())

	out, err := o.Analyze(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Source != SourceRemote || out.TopLabel != "positive" || out.Category != "daily_life" {
		t.Errorf("outcome = %+v", out)
	}

	emotions, _ := s.EmotionHistory(ctx, c.ID)
	categories, _ := s.CategoryHistory(ctx, c.ID)
	if len(emotions) != 1 || emotions[0].TopLabel != "positive" {
		t.Errorf("emotions = %+v", emotions)
	}
	if len(categories) != 1 || categories[0].PrimaryCategory != "daily_life" {
		t.Errorf("categories = %+v", categories)
	}

	got, _ := s.GetContent(ctx, c.ID)
	if !got.Analyzed() || *got.LatestEmotionAnalysisID != out.EmotionID {
		t.Errorf("pointers = %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "daily_life" || got.Tags[0].Kind != domain.TagKindSystem {
		t.Errorf("tags = %+v", got.Tags)
	}
}

func TestAnalyzeFallsBackOnConnectionError(t *testing.T) {
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.FallbackUsed.WithLabelValues("connection"))
	o, s, c := setup(t, &fakeAnalyzer{err: &classifier.ConnectionError{Endpoint: "/analyze", Err: errors.New("refused")}}, DefaultOptions())

	out, err := o.Analyze(ctx, c.ID)
	if err != nil {
		t.Fatalf("connection errors must be absorbed: %v", err)
	}
	if out.Source != SourceFallback {
		t.Errorf("source = %s", out.Source)
	}

	e, _ := s.GetEmotionAnalysis(ctx, out.EmotionID)
	if e.TopLabel != "very positive" || e.ScoreMap["very positive"] != 0.3 || e.ModelName != "keyword_heuristic" {
		t.Errorf("emotion = %+v", e)
	}
	cat, _ := s.GetCategoryAnalysis(ctx, out.CategoryID)
	if cat.CategoryScores[cat.PrimaryCategory] != 0.2 {
		t.Errorf("category = %+v", cat)
	}
	if after := testutil.ToFloat64(metrics.FallbackUsed.WithLabelValues("connection")); after-before != 1 {
		t.Errorf("fallback counter moved by %v", after-before)
	}
}

func TestAnalyzeFallsBackWhenUnhealthy(t *testing.T) {
	fake := &fakeAnalyzer{
		results:   []*domain.AnalysisResult{remote("positive", "daily_life")},
		healthErr: &classifier.ConnectionError{Endpoint: "/health", Err: classifier.ErrUnavailable},
	}
	o, _, c := setup(t, fake, DefaultOptions())

	out, err := o.Analyze(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Source != SourceFallback || fake.calls.Load() != 0 {
		t.Errorf("unhealthy service should not be called: source=%s calls=%d", out.Source, fake.calls.Load())
	}
}

func TestAnalyzeFallbackDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.FallbackEnabled = false
	o, s, c := setup(t, &fakeAnalyzer{err: &classifier.ConnectionError{Endpoint: "/analyze", StatusCode: 502}}, opts)

	if _, err := o.Analyze(context.Background(), c.ID); !classifier.IsConnection(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if h, _ := s.EmotionHistory(context.Background(), c.ID); len(h) != 0 {
		t.Error("no rows should be written")
	}
}

func TestAnalyzePropagatesTimeoutAndRejection(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"timeout", &classifier.TimeoutError{Endpoint: "/analyze", Err: context.DeadlineExceeded}, classifier.IsTimeout},
		{"rejection", &classifier.AnalysisError{Endpoint: "/analyze", StatusCode: 422}, classifier.IsAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			o, s, c := setup(t, &fakeAnalyzer{err: tt.err}, DefaultOptions())

			if _, err := o.Analyze(ctx, c.ID); !tt.check(err) {
				t.Fatalf("got %v", err)
			}
			got, _ := s.GetContent(ctx, c.ID)
			if got.Analyzed() {
				t.Error("pointers must stay unset")
			}
			if h, _ := s.EmotionHistory(ctx, c.ID); len(h) != 0 {
				t.Error("no fabricated rows should be written")
			}
		})
	}
}

func TestAnalyzeMissingContent(t *testing.T) {
	fake := &fakeAnalyzer{results: []*domain.AnalysisResult{remote("positive", "daily_life")}}
	o, _, _ := setup(t, fake, DefaultOptions())

	_, err := o.Analyze(context.Background(), "does-not-exist")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if fake.calls.Load() != 0 {
		t.Error("service should not be called for missing content")
	}
}

func TestReanalysisKeepsHistory(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAnalyzer{results: []*domain.AnalysisResult{
		remote("positive", "daily_life"),
		remote("negative", "work_career"),
	}}
	o, s, c := setup(t, fake, DefaultOptions())

	first, err := o.Analyze(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := o.Analyze(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}

	emotions, _ := s.EmotionHistory(ctx, c.ID)
	if len(emotions) != 2 {
		t.Fatalf("history rows = %d, want 2", len(emotions))
	}
	got, _ := s.GetContent(ctx, c.ID)
	if *got.LatestEmotionAnalysisID != second.EmotionID || *got.LatestCategoryAnalysisID != second.CategoryID {
		t.Errorf("pointer should follow the second run, first=%s second=%s got=%s", first.EmotionID, second.EmotionID, *got.LatestEmotionAnalysisID)
	}
	if len(got.Tags) != 2 {
		t.Errorf("both category tags should be attached, got %+v", got.Tags)
	}
}

func TestServerErrorsUseHeuristic(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := classifier.New(classifier.Config{BaseURL: srv.URL, ConnectTimeout: time.Second, RequestTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.HealthCheck = false
	o, _, c := setup(t, client, opts)

	for i := 0; i < 3; i++ {
		out, err := o.Analyze(context.Background(), c.ID)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if out.Source != SourceFallback {
			t.Errorf("run %d source = %s", i, out.Source)
		}
	}
	if hits.Load() != 3 {
		t.Errorf("service hits = %d", hits.Load())
	}
}

type failingStore struct {
	Store
}

func (failingStore) RecordAnalysis(context.Context, *domain.EmotionAnalysis, *domain.CategoryAnalysis) error {
	return errors.New("database is locked")
}

func TestPersistenceFailure(t *testing.T) {
	o, s, c := setup(t, &fakeAnalyzer{results: []*domain.AnalysisResult{remote("positive", "daily_life")}}, DefaultOptions())
	o.store = failingStore{Store: s}

	_, err := o.Analyze(context.Background(), c.ID)
	if !IsPersistence(err) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	got, _ := s.GetContent(context.Background(), c.ID)
	if got.Analyzed() || len(got.Tags) != 0 {
		t.Error("no pointer or tag should be written after a failed persist")
	}
}

type brokenTagger struct{}

func (brokenTagger) Materialize(context.Context, string, string, []string) ([]domain.Tag, error) {
	return nil, errors.New("tags table locked")
}

func TestTagFailureDoesNotFailAnalysis(t *testing.T) {
	before := testutil.ToFloat64(metrics.TagFailures)
	o, s, c := setup(t, &fakeAnalyzer{results: []*domain.AnalysisResult{remote("positive", "daily_life")}}, DefaultOptions())
	o.tagger = brokenTagger{}

	out, err := o.Analyze(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("tag errors must not propagate: %v", err)
	}
	got, _ := s.GetContent(context.Background(), c.ID)
	if *got.LatestEmotionAnalysisID != out.EmotionID {
		t.Error("analysis should be visible despite tagging failure")
	}
	if testutil.ToFloat64(metrics.TagFailures)-before != 1 {
		t.Error("tag failure should be counted")
	}
}
