// Package tagger turns category analysis output into system tags attached
// to a content. Every step is look-up-or-create, so reruns are harmless.
package tagger

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/logging"
	"github.com/pbaille/journal/internal/store"
)

// DefaultColor is used for categories outside the palette
const DefaultColor = "#6b7280"

var palette = map[string]string{
	"personal_growth":      "#10b981",
	"relationships":        "#f59e0b",
	"work_career":          "#3b82f6",
	"health_wellness":      "#ef4444",
	"travel_adventure":     "#8b5cf6",
	"daily_life":           "#6b7280",
	"emotions_feelings":    "#ec4899",
	"hobbies_interests":    "#f97316",
	"spirituality":         "#06b6d4",
	"challenges_struggles": "#7c3aed",
}

// Color returns the fixed color for a tag name
func Color(name string) string {
	if c, ok := palette[domain.NormalizeTagName(name)]; ok {
		return c
	}
	return DefaultColor
}

// Store is the subset of storage the materializer needs
type Store interface {
	FindTag(ctx context.Context, name string, kind domain.TagKind) (*domain.Tag, error)
	CreateTag(ctx context.Context, name string, kind domain.TagKind, color string) (*domain.Tag, error)
	AttachTag(ctx context.Context, contentID, tagID string) error
}

// Materializer creates and attaches system tags
type Materializer struct {
	store Store
}

func New(s Store) *Materializer {
	return &Materializer{store: s}
}

// Materialize attaches one system tag per distinct category and
// subcategory name. Blank names are skipped.
func (m *Materializer) Materialize(ctx context.Context, contentID, category string, subcategories []string) ([]domain.Tag, error) {
	names := make([]string, 0, 1+len(subcategories))
	seen := map[string]bool{}
	for _, raw := range append([]string{category}, subcategories...) {
		name := domain.NormalizeTagName(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	var (
		tags []domain.Tag
		errs []error
	)
	for _, name := range names {
		tag, err := m.ensureTag(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.attach(ctx, contentID, tag); err != nil {
			errs = append(errs, err)
			continue
		}
		tags = append(tags, *tag)
	}

	return tags, errors.Join(errs...)
}

// ensureTag finds or creates the system tag. A unique violation means
// another worker created it first; the tag is then looked up again.
func (m *Materializer) ensureTag(ctx context.Context, name string) (*domain.Tag, error) {
	tag, err := m.store.FindTag(ctx, name, domain.TagKindSystem)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find tag %q: %w", name, err)
	}

	tag, err = m.store.CreateTag(ctx, name, domain.TagKindSystem, Color(name))
	if err == nil {
		return tag, nil
	}
	if !store.IsUniqueViolation(err) {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}

	logging.Debug().Str("tag", name).Msg("tag created concurrently, re-reading")
	tag, err = m.store.FindTag(ctx, name, domain.TagKindSystem)
	if err != nil {
		return nil, fmt.Errorf("re-read tag %q: %w", name, err)
	}
	return tag, nil
}

func (m *Materializer) attach(ctx context.Context, contentID string, tag *domain.Tag) error {
	err := m.store.AttachTag(ctx, contentID, tag.ID)
	if err == nil || store.IsUniqueViolation(err) {
		return nil
	}
	return fmt.Errorf("attach tag %q: %w", tag.Name, err)
}
