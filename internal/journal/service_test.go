package journal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbaille/journal/internal/domain"
	"github.com/pbaille/journal/internal/fetcher"
	"github.com/pbaille/journal/internal/jobs"
	"github.com/pbaille/journal/internal/store"
)

func newService(t *testing.T, f Fetcher) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	runner := jobs.NewRunner(s, nil, nil, jobs.DefaultConfig())
	return New(s, runner, f), s
}

func queued(t *testing.T, s *store.Store) []domain.Job {
	t.Helper()
	js, err := s.ListJobs(context.Background(), domain.JobQueued, 100)
	if err != nil {
		t.Fatal(err)
	}
	return js
}

func TestCreateEnqueues(t *testing.T) {
	svc, s := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Create(ctx, " Morning ", "I feel great today")
	if err != nil {
		t.Fatal(err)
	}
	if res.Content.Title != "Morning" || res.Job == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Job.ContentID != res.Content.ID || res.Job.Status != domain.JobQueued {
		t.Errorf("job = %+v", res.Job)
	}
	if n := len(queued(t, s)); n != 1 {
		t.Errorf("queued jobs = %d", n)
	}

	if _, err := svc.Create(ctx, "t", "   "); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("blank body: %v", err)
	}
}

func TestUpdateOnlyEnqueuesOnChange(t *testing.T) {
	svc, s := newService(t, nil)
	ctx := context.Background()

	res, _ := svc.Create(ctx, "t", "body")

	same, err := svc.Update(ctx, res.Content.ID, "t", "body")
	if err != nil {
		t.Fatal(err)
	}
	if same.Job != nil {
		t.Error("unchanged entry should not be reanalyzed")
	}
	if n := len(queued(t, s)); n != 1 {
		t.Errorf("queued jobs = %d, want 1", n)
	}

	changed, err := svc.Update(ctx, res.Content.ID, "t", "new body")
	if err != nil {
		t.Fatal(err)
	}
	if changed.Job == nil || changed.Content.Body != "new body" {
		t.Errorf("changed = %+v", changed)
	}
	if n := len(queued(t, s)); n != 2 {
		t.Errorf("queued jobs = %d, want 2", n)
	}

	if _, err := svc.Update(ctx, "missing", "t", "b"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing entry: %v", err)
	}
}

func TestDeleteAndReanalyze(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	res, _ := svc.Create(ctx, "t", "body")

	job, err := svc.Reanalyze(ctx, res.Content.ID)
	if err != nil || job.ContentID != res.Content.ID {
		t.Fatalf("Reanalyze = %+v, %v", job, err)
	}

	if err := svc.Delete(ctx, res.Content.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, res.Content.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	if _, err := svc.Reanalyze(ctx, res.Content.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("reanalyze deleted: %v", err)
	}
}

func TestImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Trip notes</title></head><body><p>We hiked all day.</p></body></html>`))
	}))
	defer srv.Close()

	svc, s := newService(t, fetcher.New(time.Second))
	res, err := svc.Import(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content.Title != "Trip notes" || res.Content.Body != "We hiked all day." {
		t.Errorf("content = %+v", res.Content)
	}
	if n := len(queued(t, s)); n != 1 {
		t.Errorf("queued jobs = %d", n)
	}

	noImport, _ := newService(t, nil)
	if _, err := noImport.Import(context.Background(), srv.URL); err == nil {
		t.Error("import without a fetcher should fail")
	}
}
