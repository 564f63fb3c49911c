package events

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pbaille/journal/internal/logging"
)

func TestPublishRoutesByStatus(t *testing.T) {
	ps := NewInProcess()
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	completed, err := ps.Subscribe(ctx, TopicCompleted)
	if err != nil {
		t.Fatal(err)
	}
	failed, err := ps.Subscribe(ctx, TopicFailed)
	if err != nil {
		t.Fatal(err)
	}

	p := NewPublisher(ps)
	if err := p.Publish(ctx, JobEvent{JobID: "j1", ContentID: "c1", Status: "succeeded", Source: "remote"}); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(ctx, JobEvent{JobID: "j2", ContentID: "c2", Status: "failed", Attempts: 3, Error: "db locked"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-completed:
		msg.Ack()
		e, err := Decode(msg)
		if err != nil || e.JobID != "j1" || e.Source != "remote" {
			t.Errorf("completed event = %+v, %v", e, err)
		}
		if msg.Metadata.Get("content_id") != "c1" {
			t.Errorf("metadata = %v", msg.Metadata)
		}
	case <-ctx.Done():
		t.Fatal("no completed event")
	}

	select {
	case msg := <-failed:
		msg.Ack()
		e, _ := Decode(msg)
		if e.JobID != "j2" || e.Attempts != 3 {
			t.Errorf("failed event = %+v", e)
		}
	case <-ctx.Done():
		t.Fatal("no failed event")
	}

	_ = p.Close()
	if err := p.Publish(ctx, JobEvent{JobID: "j3"}); err == nil {
		t.Error("publish after close should fail")
	}
}

func TestFailureNotifierLogs(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "debug", Output: &buf})
	defer logging.Init(logging.Config{})

	ps := NewInProcess()
	defer ps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan JobEvent, 1)
	n := NewFailureNotifier(ps)
	n.OnFailure = func(e JobEvent) {
		select {
		case got <- e:
		default:
		}
	}

	done := make(chan error, 1)
	go func() { done <- n.Serve(ctx) }()

	// Serve subscribes asynchronously; publish until the notifier has seen one
	p := NewPublisher(ps)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case e := <-got:
			if e.ContentID != "c9" {
				t.Errorf("event = %+v", e)
			}
			break wait
		case <-tick.C:
			_ = p.Publish(ctx, JobEvent{JobID: "j9", ContentID: "c9", Status: "failed", Attempts: 3})
		case <-deadline:
			t.Fatal("notifier never received the failure")
		}
	}

	cancel()
	<-done

	if !strings.Contains(buf.String(), "analysis job failed permanently") {
		t.Errorf("missing error log in %q", buf.String())
	}
}
