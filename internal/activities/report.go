package activities

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/formatting"
	"github.com/inquirylab/fathom/internal/streaming"
	"github.com/inquirylab/fathom/internal/tracing"
)

// ReportInput composes the final narrative from compressed findings.
type ReportInput struct {
	ThreadID    string   `json:"thread_id"`
	Topic       string   `json:"topic"`
	Locale      string   `json:"locale"`
	ReportStyle string   `json:"report_style"`
	Findings    string   `json:"findings"`
	Resources   []string `json:"resources,omitempty"`
}

// ReportResult is the full report text.
type ReportResult struct {
	Report string `json:"report"`
}

// ComposeReport streams the report from the LLM service, republishing each
// token chunk as a reporter message_chunk event, and returns the accumulated
// text.
func (a *Activities) ComposeReport(ctx context.Context, in ReportInput) (ReportResult, error) {
	activity.GetLogger(ctx).Info("Composing report", "thread_id", in.ThreadID, "style", in.ReportStyle)

	base := a.cfg.Get().Research.LLMServiceURL
	body, err := json.Marshal(map[string]interface{}{
		"topic":        in.Topic,
		"locale":       in.Locale,
		"report_style": in.ReportStyle,
		"findings":     in.Findings,
		"stream":       true,
	})
	if err != nil {
		return ReportResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/report", bytes.NewReader(body))
	if err != nil {
		return ReportResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	resp, err := a.http.Do(req)
	if err != nil {
		return ReportResult{}, fmt.Errorf("report composition: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ReportResult{}, fmt.Errorf("report composition: status_%d", resp.StatusCode)
	}

	// The service emits newline-delimited JSON chunks: {"delta": "..."}
	var report strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil || chunk.Delta == "" {
			continue
		}
		report.WriteString(chunk.Delta)
		a.stream.Publish(in.ThreadID, streaming.Event{
			Type:      streaming.EventMessageChunk,
			Role:      streaming.RoleReporter,
			Content:   chunk.Delta,
			Timestamp: time.Now(),
		})
		activity.RecordHeartbeat(ctx, report.Len())
	}
	if err := scanner.Err(); err != nil {
		return ReportResult{}, fmt.Errorf("report stream read: %w", err)
	}
	if report.Len() == 0 {
		return ReportResult{}, fmt.Errorf("report composition: empty response")
	}
	return ReportResult{Report: formatting.WithSources(report.String(), in.Resources)}, nil
}

// ExtractInput requests schema-constrained extraction from the report.
type ExtractInput struct {
	Report string                 `json:"report"`
	Schema map[string]interface{} `json:"schema"`
}

// ExtractResult carries the structured object, or an Error when extraction
// failed. Extraction failure never fails the run; the report stands alone.
type ExtractResult struct {
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// ExtractStructured extracts a JSON object conforming to the caller-supplied
// schema and verifies the schema's declared required fields are present.
func (a *Activities) ExtractStructured(ctx context.Context, in ExtractInput) (ExtractResult, error) {
	if len(in.Schema) == 0 {
		return ExtractResult{}, nil
	}
	base := a.cfg.Get().Research.LLMServiceURL
	var out struct {
		Output map[string]interface{} `json:"output"`
	}
	if err := a.postJSON(ctx, base+"/v1/extract", map[string]interface{}{
		"report": in.Report,
		"schema": in.Schema,
	}, &out); err != nil {
		a.logger.Warn("Structured extraction failed", zap.Error(err))
		return ExtractResult{Error: err.Error()}, nil
	}
	if err := checkRequiredFields(out.Output, in.Schema); err != nil {
		a.logger.Warn("Structured extraction missing required fields", zap.Error(err))
		return ExtractResult{Error: err.Error()}, nil
	}
	return ExtractResult{Output: out.Output}, nil
}

func checkRequiredFields(obj map[string]interface{}, schema map[string]interface{}) error {
	required, ok := schema["required"].([]interface{})
	if !ok {
		return nil
	}
	if obj == nil {
		return fmt.Errorf("extraction returned no object")
	}
	for _, f := range required {
		name, ok := f.(string)
		if !ok {
			continue
		}
		if _, present := obj[name]; !present {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	return nil
}
