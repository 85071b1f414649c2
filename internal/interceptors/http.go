// Package interceptors decorates outbound transports with request metadata.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// workflowRoundTripper tags collaborator requests with the originating
// workflow execution so service logs can be correlated with a research run.
type workflowRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowRoundTripper wraps base, defaulting to http.DefaultTransport.
func NewWorkflowRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &workflowRoundTripper{base: base}
}

func (w *workflowRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// activity.GetInfo panics outside an activity context; requests made
	// during tests or startup go through untagged.
	func() {
		defer func() { recover() }()
		info := activity.GetInfo(req.Context())
		if info.WorkflowExecution.ID != "" {
			req.Header.Set("X-Workflow-ID", info.WorkflowExecution.ID)
			req.Header.Set("X-Run-ID", info.WorkflowExecution.RunID)
		}
	}()
	return w.base.RoundTrip(req)
}
