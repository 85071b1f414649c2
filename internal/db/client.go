package db

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/inquirylab/fathom/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and async persistence. Writes for the
// same job id always land on the same worker, so status-then-result ordering
// is preserved per job.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
	config *Config

	queues   []chan WriteRequest
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	JobID    string
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeJobStatus WriteType = iota
	WriteTypeJobResult
	WriteTypeJobCounters
)

func (wt WriteType) String() string {
	switch wt {
	case WriteTypeJobStatus:
		return "JobStatus"
	case WriteTypeJobResult:
		return "JobResult"
	case WriteTypeJobCounters:
		return "JobCounters"
	default:
		return "Unknown"
	}
}

// StatusUpdate is the payload for WriteTypeJobStatus.
type StatusUpdate struct {
	Status      string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

const defaultWriteWorkers = 8

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.IdleConnections)
	db.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &Client{
		db:     db,
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
	}
	client.startWorkers(defaultWriteWorkers)
	go client.healthCheck()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", defaultWriteWorkers),
	)
	return client, nil
}

// NewClientWithDB wraps an existing connection; used by tests with sqlmock.
func NewClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:     db,
		logger: logger,
		config: &Config{},
		stopCh: make(chan struct{}),
	}
	client.startWorkers(1)
	return client
}

func (c *Client) startWorkers(n int) {
	c.queues = make([]chan WriteRequest, n)
	for i := 0; i < n; i++ {
		c.queues[i] = make(chan WriteRequest, 256)
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))
	for {
		select {
		case <-c.stopCh:
			c.drainQueue(id)
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.queues[id]:
			c.processWrite(req)
			metrics.DBWriteQueueDepth.Dec()
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	var err error
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch req.Type {
	case WriteTypeJobStatus:
		if upd, ok := req.Data.(*StatusUpdate); ok {
			err = c.UpdateJobStatus(ctx, req.JobID, upd)
		}
	case WriteTypeJobResult:
		if res, ok := req.Data.(*ResearchResult); ok {
			err = c.SaveResult(ctx, res)
		}
	case WriteTypeJobCounters:
		if n, ok := req.Data.(int); ok {
			err = c.IncrementSearches(ctx, req.JobID, n)
		}
	}

	if req.Callback != nil {
		req.Callback(err)
	}
	if err != nil {
		metrics.DBWriteFailures.WithLabelValues(req.Type.String()).Inc()
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.String("job_id", req.JobID),
			zap.Error(err),
		)
	}
}

// QueueWrite adds a write request to the queue owned by the job's worker.
// When the queue is full it falls back to a synchronous write rather than
// dropping, which also preserves per-job ordering.
func (c *Client) QueueWrite(writeType WriteType, jobID string, data interface{}, callback func(error)) {
	req := WriteRequest{Type: writeType, JobID: jobID, Data: data, Callback: callback}
	q := c.queues[c.shard(jobID)]
	select {
	case q <- req:
		metrics.DBWriteQueueDepth.Inc()
	default:
		c.logger.Warn("Write queue full, falling back to synchronous write",
			zap.String("type", writeType.String()),
			zap.String("job_id", jobID))
		c.processWrite(req)
	}
}

func (c *Client) shard(jobID string) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return int(h.Sum32() % uint32(len(c.queues)))
}

func (c *Client) drainQueue(id int) {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.queues[id]:
			c.processWrite(req)
			metrics.DBWriteQueueDepth.Dec()
		case <-timeout:
			c.logger.Warn("Timeout draining write queue", zap.Int("worker_id", id))
			return
		default:
			return
		}
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping verifies connectivity; used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")
	close(c.stopCh)
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction with rollback on error.
func (c *Client) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}
