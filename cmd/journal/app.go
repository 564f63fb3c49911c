package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/pbaille/journal/internal/classifier"
	"github.com/pbaille/journal/internal/config"
	"github.com/pbaille/journal/internal/events"
	"github.com/pbaille/journal/internal/fetcher"
	"github.com/pbaille/journal/internal/jobs"
	"github.com/pbaille/journal/internal/journal"
	"github.com/pbaille/journal/internal/pipeline"
	"github.com/pbaille/journal/internal/store"
	"github.com/pbaille/journal/internal/tagger"
)

// app is everything one command needs, wired from config
type app struct {
	cfg      *config.Config
	store    *store.Store
	client   *classifier.Client
	breaker  *classifier.BreakerClient
	runner   *jobs.Runner
	journal  *journal.Service
	pubsub   *gochannel.GoChannel
	notifier *events.FailureNotifier
	events   *events.Publisher
}

func openApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	s, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, err
	}

	client, err := classifier.New(cfg.ClassifierConfig())
	if err != nil {
		s.Close()
		return nil, err
	}
	breaker := classifier.NewBreakerClient(client, cfg.BreakerConfig())

	orch := pipeline.New(s, breaker, tagger.New(s), cfg.PipelineOptions())

	ps := events.NewInProcess()
	pub := events.NewPublisher(ps)

	runner := jobs.NewRunner(s, orch, pub, cfg.JobsConfig())

	return &app{
		cfg:      cfg,
		store:    s,
		client:   client,
		breaker:  breaker,
		runner:   runner,
		journal:  journal.New(s, runner, fetcher.New(cfg.Analysis.RequestTimeout)),
		pubsub:   ps,
		notifier: events.NewFailureNotifier(ps),
		events:   pub,
	}, nil
}

func (a *app) Close() error {
	a.events.Close()
	a.pubsub.Close()
	return a.store.Close()
}

// shortID is the display form of an id
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	r := []rune(s)
	for i, c := range r {
		if c == '\n' {
			r[i] = ' '
		}
	}
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max-3]) + "..."
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
