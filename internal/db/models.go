package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// JSONList represents a jsonb column holding an array.
type JSONList []interface{}

func (l JSONList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *JSONList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONList", value)
	}
	return json.Unmarshal(bytes, l)
}

// ResearchJob is the durable metadata record for one research run. Result
// fields live in the related ResearchResult row, which cascades on delete.
type ResearchJob struct {
	JobID  string `db:"job_id"`
	Query  string `db:"query"`
	Status string `db:"status"`
	Error  *string `db:"error"`

	// Request options
	ReportStyle          string  `db:"report_style"`
	MaxStepNum           int     `db:"max_step_num"`
	MaxSearchResults     int     `db:"max_search_results"`
	SearchProvider       string  `db:"search_provider"`
	EnableBackgroundInv  bool    `db:"enable_background_investigation"`
	AutoAcceptedPlan     bool    `db:"auto_accepted_plan"`
	SkipReporting        bool    `db:"skip_reporting"`
	OutputSchema         JSONB   `db:"output_schema"`
	Resources            JSONList `db:"resources"`
	UserID               *string `db:"user_id"`
	APIKeyName           *string `db:"api_key_name"`

	SearchesExecuted int `db:"searches_executed"`

	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	StartedAt   *time.Time `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// ResearchResult holds the terminal output fields for a job.
type ResearchResult struct {
	JobID              string   `db:"job_id"`
	ThreadID           *string  `db:"thread_id"`
	FinalReport        *string  `db:"final_report"`
	ResearcherFindings *string  `db:"researcher_findings"`
	StructuredOutput   JSONB    `db:"structured_output"`
	Plan               JSONB    `db:"plan"`
	Observations       JSONList `db:"observations"`
	DurationSeconds    *float64 `db:"duration_seconds"`
	SearchCount        int      `db:"search_count"`
	CrawlCount         int      `db:"crawl_count"`
	ReportLength       int      `db:"report_length"`
	SourcesCount       int      `db:"sources_count"`
	CreatedAt          time.Time `db:"created_at"`
}
