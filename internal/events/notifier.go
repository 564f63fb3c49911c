package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/pbaille/journal/internal/logging"
)

// FailureNotifier logs every terminal job failure so it is visible to
// operators, timeouts at warn level and the rest at error level. It runs
// as a supervised service.
type FailureNotifier struct {
	sub message.Subscriber
	// OnFailure is called after logging, if set
	OnFailure func(JobEvent)
}

func NewFailureNotifier(sub message.Subscriber) *FailureNotifier {
	return &FailureNotifier{sub: sub}
}

// Serve consumes TopicFailed until ctx is done
func (n *FailureNotifier) Serve(ctx context.Context) error {
	messages, err := n.sub.Subscribe(ctx, TopicFailed)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicFailed, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			n.handle(msg)
		}
	}
}

func (n *FailureNotifier) handle(msg *message.Message) {
	defer msg.Ack()

	e, err := Decode(msg)
	if err != nil {
		logging.Warn().Err(err).Msg("dropping undecodable failure event")
		return
	}

	// timeouts point at a slow service rather than lost work
	ev := logging.Error()
	if e.Reason == ReasonTimeout {
		ev = logging.Warn()
	}
	ev.Str("job_id", e.JobID).
		Str("content_id", e.ContentID).
		Int("attempts", e.Attempts).
		Str("error", e.Error).
		Str("reason", e.Reason).
		Msg("analysis job failed permanently")

	if n.OnFailure != nil {
		n.OnFailure(e)
	}
}

func (n *FailureNotifier) String() string { return "failure-notifier" }
