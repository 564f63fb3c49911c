// Package pipeline runs one analysis of one content: remote service or
// local heuristic, then the atomic history write, then tagging.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/pbaille/journal/internal/classifier"
	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/heuristic"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/metrics"
	"github.com/pbaille/journal/internal/store"
)

// Source tells where an analysis came from
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Store is the persistence the orchestrator depends on
type Store interface {
	GetContent(ctx context.Context, id string) (*domain.Content, error)
	RecordAnalysis(ctx context.Context, emotion *domain.EmotionAnalysis, category *domain.CategoryAnalysis) error
}

// Tagger attaches system tags for a category result
type Tagger interface {
	Materialize(ctx context.Context, contentID, category string, subcategories []string) ([]domain.Tag, error)
}

// Options toggles the degraded paths
type Options struct {
	// HealthCheck probes the service before each analysis; unhealthy means fallback
	HealthCheck bool
	// FallbackEnabled allows the keyword heuristic to stand in for an unreachable service
	FallbackEnabled bool
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{HealthCheck: true, FallbackEnabled: true}
}

// Outcome describes a committed analysis
type Outcome struct {
	ContentID  string `json:"content_id"`
	EmotionID  string `json:"emotion_analysis_id"`
	CategoryID string `json:"category_analysis_id"`
	TopLabel   string `json:"top_label"`
	Category   string `json:"primary_category"`
	Source     Source `json:"source"`
}

// Orchestrator is safe for concurrent use
type Orchestrator struct {
	store  Store
	client classifier.Analyzer
	tagger Tagger
	opts   Options
}

func New(s Store, client classifier.Analyzer, tagger Tagger, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{store: s, client: client, tagger: tagger, opts: opts}
}

// Analyze creates a new emotion and category analysis for contentID and
// points the content at them. Connection failures are absorbed by the
// heuristic; timeouts and rejections are returned to the caller.
func (o *Orchestrator) Analyze(ctx context.Context, contentID string) (*Outcome, error) {
	start := time.Now()

	content, err := o.store.GetContent(ctx, contentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{ContentID: contentID}
	}
	if err != nil {
		return nil, &PersistenceError{ContentID: contentID, Op: "load content", Err: err}
	}

	res, source, err := o.classify(ctx, content)
	if err != nil {
		return nil, err
	}

	emotion, category := o.buildRows(content.ID, res, time.Since(start))

	if err := o.store.RecordAnalysis(ctx, emotion, category); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{ContentID: contentID}
		}
		return nil, &PersistenceError{ContentID: contentID, Op: "record analysis", Err: err}
	}

	if o.tagger != nil {
		if _, err := o.tagger.Materialize(ctx, content.ID, category.PrimaryCategory, res.Subcategories); err != nil {
			metrics.TagFailures.Inc()
			logging.Warn().Err(err).Str("content_id", content.ID).Msg("tag materialization failed")
		}
	}

	metrics.AnalysisDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	logging.Info().
		Str("content_id", content.ID).
		Str("source", string(source)).
		Str("top_label", emotion.TopLabel).
		Str("category", category.PrimaryCategory).
		Msg("analysis recorded")

	return &Outcome{
		ContentID:  content.ID,
		EmotionID:  emotion.ID,
		CategoryID: category.ID,
		TopLabel:   emotion.TopLabel,
		Category:   category.PrimaryCategory,
		Source:     source,
	}, nil
}

func (o *Orchestrator) classify(ctx context.Context, c *domain.Content) (*domain.AnalysisResult, Source, error) {
	if o.opts.HealthCheck {
		if err := o.client.Health(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return o.fallback(c, "unhealthy", &classifier.ConnectionError{Endpoint: "/health", Err: err})
		}
	}

	res, err := o.client.Analyze(ctx, c.Title, c.Body)
	switch {
	case err == nil:
		return res, SourceRemote, nil
	case classifier.IsTimeout(err):
		// a slow service is not masked as a healthy one
		return nil, "", err
	case classifier.IsConnection(err):
		return o.fallback(c, "connection", err)
	default:
		return nil, "", err
	}
}

func (o *Orchestrator) fallback(c *domain.Content, reason string, cause error) (*domain.AnalysisResult, Source, error) {
	if !o.opts.FallbackEnabled {
		return nil, "", cause
	}
	metrics.FallbackUsed.WithLabelValues(reason).Inc()
	logging.Warn().Err(cause).Str("content_id", c.ID).Str("reason", reason).Msg("analysis service unavailable, using keyword heuristic")
	return heuristic.Fallback(c.Title, c.Body), SourceFallback, nil
}

// buildRows derives top label, primary category and confidence before the single write
func (o *Orchestrator) buildRows(contentID string, res *domain.AnalysisResult, elapsed time.Duration) (*domain.EmotionAnalysis, *domain.CategoryAnalysis) {
	now := o.opts.Now().UTC()

	model := res.ModelName
	if model == "" {
		model = "emotion_classifier"
	}

	runMs := res.ProcessingTimeMs
	if runMs <= 0 {
		runMs = float64(elapsed.Microseconds()) / 1000
	}

	moodScores := res.MoodScores
	if len(moodScores) == 0 {
		moodScores = map[string]float64{res.MoodLabel: orOne(res.MoodConfidence)}
	}
	categoryScores := res.CategoryScores
	if len(categoryScores) == 0 {
		categoryScores = map[string]float64{res.Category: orOne(res.CategoryConfidence)}
	}

	emotion := domain.NewEmotionAnalysis(contentID, model, res.ModelVersion, moodScores, &runMs, now)
	category := domain.NewCategoryAnalysis(contentID, model, res.ModelVersion, categoryScores, res.Subcategories, &runMs, now)
	return emotion, category
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1.0
	}
	return v
}
