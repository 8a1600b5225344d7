package repositories

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/restream/reindexer/v4"
	_ "github.com/restream/reindexer/v4/bindings/cproto"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

const (
	resultsNamespace = "analysis_results"

	defaultMaxRetries     = 3
	defaultRetryDelay     = 1 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultQueryTimeout   = 5 * time.Second
)

// HealthStatus holds the latest known state of the database connection
type HealthStatus struct {
	IsHealthy   bool
	LastCheck   time.Time
	LastError   error
	Connections int
}

// resultRecord is the stored shape of one analysis result. The result body
// is kept as serialized JSON so the namespace schema stays stable while
// the result structure evolves.
type resultRecord struct {
	ID        string `reindex:"id,,pk" json:"id"`
	Document  string `reindex:"document" json:"document"`
	Status    string `reindex:"status" json:"status"`
	Payload   string `json:"payload"`
	CreatedAt int64  `reindex:"created_at" json:"created_at"`
}

// ReindexerRepository stores analysis results in a Reindexer namespace.
// It manages a small connection pool, retries the initial connect, and
// exposes health information for the health endpoint. The location it
// returns from Save is the task id itself.
type ReindexerRepository struct {
	dsn            string
	maxConnections int
	logger         *zap.Logger

	mu          sync.RWMutex
	db          *reindexer.Reindexer
	connections []*reindexer.Reindexer
	poolSize    int

	// Health status is stored atomically so checks read without locking.
	healthStatus atomic.Value

	collectionsInitialized bool
	collectionsMu          sync.Mutex
}

// NewReindexerRepository connects with retry and returns a ready repository
func NewReindexerRepository(dsn string, maxConnections int, logger *zap.Logger) (*ReindexerRepository, error) {
	if maxConnections < 1 {
		maxConnections = 1
	}

	repo := &ReindexerRepository{
		dsn:            dsn,
		maxConnections: maxConnections,
		logger:         logger,
		poolSize:       maxConnections,
		connections:    make([]*reindexer.Reindexer, 0, maxConnections),
	}

	repo.healthStatus.Store(&HealthStatus{
		IsHealthy: false,
		LastCheck: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	if err := repo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to reindexer: %w", err)
	}

	return repo, nil
}

// Connect establishes the connection pool, retrying transient failures
func (r *ReindexerRepository) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connectWithRetry(ctx, defaultMaxRetries)
}

func (r *ReindexerRepository) connectWithRetry(ctx context.Context, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			delay := defaultRetryDelay * time.Duration(attempt)
			r.logger.Info("retrying reindexer connection",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
			)
			time.Sleep(delay)
		}

		db := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())

		if err := r.testConnection(ctx, db); err != nil {
			lastErr = err
			db.Close()
			r.logger.Warn("connection test failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		// Drop any previous connections before installing the new pool.
		if r.db != nil {
			r.db.Close()
		}
		for _, conn := range r.connections {
			if conn != nil {
				conn.Close()
			}
		}

		r.db = db

		r.connections = make([]*reindexer.Reindexer, 0, r.poolSize)
		for i := 0; i < r.poolSize; i++ {
			conn := reindexer.NewReindex(r.dsn, reindexer.WithCreateDBIfMissing())
			if err := r.testConnection(ctx, conn); err != nil {
				conn.Close()
				r.logger.Warn("failed to create pooled connection",
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
			r.connections = append(r.connections, conn)
		}

		r.updateHealthStatus(true, nil, len(r.connections)+1)

		r.logger.Info("connected to reindexer",
			zap.Int("pool_size", len(r.connections)),
		)

		return nil
	}

	r.updateHealthStatus(false, lastErr, 0)

	return fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

func (r *ReindexerRepository) testConnection(ctx context.Context, db *reindexer.Reindexer) error {
	if db == nil {
		return fmt.Errorf("connection object is nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return nil
}

// getConnection returns an available connection from the pool
func (r *ReindexerRepository) getConnection() *reindexer.Reindexer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.connections) == 0 {
		return r.db
	}
	return r.connections[0]
}

func (r *ReindexerRepository) updateHealthStatus(isHealthy bool, err error, connections int) {
	r.healthStatus.Store(&HealthStatus{
		IsHealthy:   isHealthy,
		LastCheck:   time.Now(),
		LastError:   err,
		Connections: connections,
	})
}

func (r *ReindexerRepository) getHealthStatus() *HealthStatus {
	status := r.healthStatus.Load()
	if status == nil {
		return &HealthStatus{IsHealthy: false}
	}
	return status.(*HealthStatus)
}

// EnsureCollections opens the results namespace, creating it if missing.
// Safe to call from multiple goroutines; the work happens once.
func (r *ReindexerRepository) EnsureCollections(ctx context.Context) error {
	if r.collectionsInitialized {
		return nil
	}

	r.collectionsMu.Lock()
	defer r.collectionsMu.Unlock()

	if r.collectionsInitialized {
		return nil
	}

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("database connection is not established")
	}

	opts := reindexer.DefaultNamespaceOptions()

	if err := db.OpenNamespace(resultsNamespace, opts, resultRecord{}); err != nil {
		return fmt.Errorf("failed to open namespace: %w", err)
	}

	for i, conn := range r.connections {
		if conn != nil {
			if err := conn.OpenNamespace(resultsNamespace, opts, resultRecord{}); err != nil {
				r.logger.Warn("failed to open namespace for pooled connection",
					zap.Int("index", i),
					zap.Error(err),
				)
				continue
			}
		}
	}

	r.collectionsInitialized = true
	r.logger.Info("collections initialized", zap.String("namespace", resultsNamespace))

	return nil
}

// Save upserts the result and returns the task id as its location.
func (r *ReindexerRepository) Save(ctx context.Context, taskID uuid.UUID, result *domain.AnalysisResult) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return "", fmt.Errorf("failed to ensure collections: %w", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	record := &resultRecord{
		ID:        taskID.String(),
		Document:  result.DocumentName,
		Status:    result.Status,
		Payload:   string(payload),
		CreatedAt: result.CreatedAt.Unix(),
	}

	db := r.getConnection()
	if db == nil {
		return "", fmt.Errorf("no database connection available")
	}

	if err := db.Upsert(resultsNamespace, record); err != nil {
		r.logger.Error("failed to save result",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
		r.updateHealthStatus(false, err, r.getHealthStatus().Connections)
		return "", fmt.Errorf("failed to save result: %w", err)
	}

	return taskID.String(), nil
}

// Load fetches the result stored under the given task id.
func (r *ReindexerRepository) Load(ctx context.Context, location string) (*domain.AnalysisResult, error) {
	record, err := r.fetch(ctx, location)
	if err != nil {
		return nil, err
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(record.Payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// Open returns the stored result payload as a stream for downloads.
func (r *ReindexerRepository) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	record, err := r.fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader([]byte(record.Payload))), nil
}

func (r *ReindexerRepository) fetch(ctx context.Context, taskID string) (*resultRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if err := r.EnsureCollections(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure collections: %w", err)
	}

	db := r.getConnection()
	if db == nil {
		return nil, fmt.Errorf("no database connection available")
	}

	query := db.Query(resultsNamespace).Where("id", reindexer.EQ, taskID)
	iter := query.Exec()
	defer iter.Close()

	if iter.Error() != nil {
		r.logger.Error("failed to execute query",
			zap.String("task_id", taskID),
			zap.Error(iter.Error()),
		)
		r.updateHealthStatus(false, iter.Error(), r.getHealthStatus().Connections)
		return nil, fmt.Errorf("query failed: %w", iter.Error())
	}

	for iter.Next() {
		elem := iter.Object()
		if record, ok := elem.(*resultRecord); ok {
			return record, nil
		}
	}

	return nil, domain.ErrResultMissing
}

// CheckConnection verifies the connection is alive (health checks).
func (r *ReindexerRepository) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("connection is not established")
	}

	if err := r.testConnection(ctx, db); err != nil {
		r.updateHealthStatus(false, err, r.getHealthStatus().Connections)
		return fmt.Errorf("connection check failed: %w", err)
	}

	r.updateHealthStatus(true, nil, r.getHealthStatus().Connections)
	return nil
}

// Close closes every connection in the pool.
func (r *ReindexerRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		r.db.Close()
		r.db = nil
	}

	for i, conn := range r.connections {
		if conn != nil {
			conn.Close()
			r.connections[i] = nil
		}
	}

	r.connections = r.connections[:0]
	r.updateHealthStatus(false, fmt.Errorf("connection closed"), 0)

	return nil
}

// Compile-time interface checks.
var (
	_ domain.ResultRepository = (*ReindexerRepository)(nil)
	_ domain.HealthChecker    = (*ReindexerRepository)(nil)
)
