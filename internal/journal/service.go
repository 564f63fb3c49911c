// Package journal is the write path for entries. Every change that affects
// analysis input schedules an analysis job explicitly.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/fetcher"
	"github.com/pbaille/journal/internal/logging"
)

// ErrEmptyBody rejects entries with nothing to analyze
var ErrEmptyBody = errors.New("entry body is required")

// Store is the content persistence the service writes through
type Store interface {
	AddContent(ctx context.Context, title, body string) (*domain.Content, error)
	GetContent(ctx context.Context, id string) (*domain.Content, error)
	UpdateContent(ctx context.Context, id, title, body string) (*domain.Content, bool, error)
	DeleteContent(ctx context.Context, id string) error
}

// Enqueuer schedules background analyses
type Enqueuer interface {
	Enqueue(ctx context.Context, contentID string) (*domain.Job, error)
}

// Fetcher downloads a page for Import
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetcher.Page, error)
}

// Result is a written entry and the job scheduled for it, if any
type Result struct {
	Content *domain.Content `json:"entry"`
	Job     *domain.Job     `json:"job,omitempty"`
}

type Service struct {
	store   Store
	jobs    Enqueuer
	fetcher Fetcher
}

// New builds the service; f may be nil when imports are not needed
func New(s Store, jobs Enqueuer, f Fetcher) *Service {
	return &Service{store: s, jobs: jobs, fetcher: f}
}

// Create stores a new entry and schedules its first analysis
func (s *Service) Create(ctx context.Context, title, body string) (*Result, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	c, err := s.store.AddContent(ctx, title, body)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.Enqueue(ctx, c.ID)
	if err != nil {
		// the entry exists; a later Reanalyze can recover
		return &Result{Content: c}, err
	}
	logging.Info().Str("content_id", c.ID).Str("job_id", job.ID).Msg("entry created")
	return &Result{Content: c, Job: job}, nil
}

// Update rewrites an entry. A new analysis is scheduled only when the
// title or body actually changed.
func (s *Service) Update(ctx context.Context, id, title, body string) (*Result, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}

	c, changed, err := s.store.UpdateContent(ctx, id, title, body)
	if err != nil {
		return nil, err
	}
	if !changed {
		logging.Debug().Str("content_id", id).Msg("entry unchanged, analysis not scheduled")
		return &Result{Content: c}, nil
	}

	job, err := s.jobs.Enqueue(ctx, c.ID)
	if err != nil {
		return &Result{Content: c}, err
	}
	return &Result{Content: c, Job: job}, nil
}

// Delete removes an entry. Jobs still queued for it finish as no-ops.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteContent(ctx, id); err != nil {
		return err
	}
	logging.Info().Str("content_id", id).Msg("entry deleted")
	return nil
}

// Reanalyze schedules a fresh analysis of an existing entry
func (s *Service) Reanalyze(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := s.store.GetContent(ctx, id); err != nil {
		return nil, err
	}
	return s.jobs.Enqueue(ctx, id)
}

// Import fetches a page and creates an entry from its title and text
func (s *Service) Import(ctx context.Context, rawURL string) (*Result, error) {
	if s.fetcher == nil {
		return nil, errors.New("import is not configured")
	}
	page, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return s.Create(ctx, page.Title, page.Text)
}
