package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/inquirylab/fathom/internal/streaming"
)

// EmitEventInput carries one research event from a workflow to the stream.
type EmitEventInput struct {
	ThreadID  string                      `json:"thread_id"`
	JobID     string                      `json:"job_id,omitempty"`
	Type      string                      `json:"type"`
	Role      string                      `json:"role,omitempty"`
	Content   string                      `json:"content,omitempty"`
	Payload   map[string]interface{}      `json:"payload,omitempty"`
	Options   []streaming.InterruptOption `json:"options,omitempty"`
	Timestamp time.Time                   `json:"timestamp"`
}

// EmitResearchEvent publishes one event to the stream multiplexer. Within one
// workflow these activities are awaited in order, so external event order
// matches role execution order.
func (a *Activities) EmitResearchEvent(ctx context.Context, in EmitEventInput) error {
	activity.GetLogger(ctx).Debug("research event",
		"thread_id", in.ThreadID,
		"type", in.Type,
		"role", in.Role,
	)

	// Interrupts carry a signed resume token so the feedback endpoint can
	// verify the caller is resuming the run that paused.
	if in.Type == streaming.EventInterrupt && a.tokens != nil {
		token, err := a.tokens.Mint(in.JobID, in.ThreadID)
		if err != nil {
			return err
		}
		if in.Payload == nil {
			in.Payload = map[string]interface{}{}
		}
		in.Payload["resume_token"] = token
	}

	a.stream.Publish(in.ThreadID, streaming.Event{
		Type:      in.Type,
		Role:      in.Role,
		Content:   in.Content,
		Payload:   in.Payload,
		Options:   in.Options,
		Timestamp: in.Timestamp,
	})
	return nil
}
