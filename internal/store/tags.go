package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pbaille/journal/internal/domain"
)

func scanTag(row rowScanner) (*domain.Tag, error) {
	var (
		t         domain.Tag
		createdAt int64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Kind, &t.Color, &createdAt); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(createdAt)
	return &t, nil
}

// FindTag looks up a tag by its unique (name, kind) key
func (s *Store) FindTag(ctx context.Context, name string, kind domain.TagKind) (*domain.Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, color, created_at FROM tags WHERE name = ? AND kind = ?",
		name, kind,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tag: %w", err)
	}
	return t, nil
}

// CreateTag inserts a tag. A concurrent insert of the same (name, kind)
// surfaces as an error for which IsUniqueViolation is true.
func (s *Store) CreateTag(ctx context.Context, name string, kind domain.TagKind, color string) (*domain.Tag, error) {
	id := uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO tags (id, name, kind, color, created_at) VALUES (?, ?, ?, ?, ?)",
		id, name, kind, color, millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}

	return &domain.Tag{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Color:     color,
		CreatedAt: now,
	}, nil
}

// AttachTag associates a tag with a content. Attaching twice fails with a
// unique violation; the caller decides whether that matters.
func (s *Store) AttachTag(ctx context.Context, contentID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO content_tags (content_id, tag_id, created_at) VALUES (?, ?, ?)",
		contentID, tagID, millis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("link content tag: %w", err)
	}
	return nil
}

// ContentTags returns all tags for a content
func (s *Store) ContentTags(ctx context.Context, contentID string) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.kind, t.color, t.created_at
		FROM tags t
		JOIN content_tags ct ON t.id = ct.tag_id
		WHERE ct.content_id = ?
		ORDER BY t.name
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("get content tags: %w", err)
	}
	defer rows.Close()

	return collectTags(rows)
}

// ListTags returns all tags, optionally restricted to one kind
func (s *Store) ListTags(ctx context.Context, kind domain.TagKind) ([]domain.Tag, error) {
	query := "SELECT id, name, kind, color, created_at FROM tags"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY name, kind", args...)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	return collectTags(rows)
}

func collectTags(rows *sql.Rows) ([]domain.Tag, error) {
	var tags []domain.Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	return tags, rows.Err()
}
