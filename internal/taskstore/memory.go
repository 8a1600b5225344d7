package taskstore

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

const (
	defaultShardCount       = 16
	defaultRetention        = 24 * time.Hour
	defaultJanitorInterval  = 5 * time.Minute
	finalJanitorPassTimeout = 5 * time.Second
)

// taskShard holds one slice of the task map behind its own lock
type taskShard struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
}

// MemoryStore is a sharded in-memory task store. Mutations go through
// Update so every read-modify-write on a task happens under its shard's
// write lock. A background janitor evicts terminal tasks after the
// retention window.
type MemoryStore struct {
	shards     []*taskShard
	shardCount int
	retention  time.Duration

	janitorRunning bool
	janitorMu      sync.Mutex
	janitorStop    chan struct{}
	janitorWg      sync.WaitGroup
}

// NewMemoryStore creates a sharded in-memory store. Terminal tasks are
// kept for retention before eviction; zero or negative retention uses the
// default.
func NewMemoryStore(shardCount int, retention time.Duration) *MemoryStore {
	if shardCount < 1 {
		shardCount = defaultShardCount
	}
	if retention <= 0 {
		retention = defaultRetention
	}

	shards := make([]*taskShard, shardCount)
	for i := range shards {
		shards[i] = &taskShard{
			tasks: make(map[uuid.UUID]*domain.Task),
		}
	}

	return &MemoryStore{
		shards:      shards,
		shardCount:  shardCount,
		retention:   retention,
		janitorStop: make(chan struct{}),
	}
}

// getShard returns the shard for a given task id using FNV hash
func (s *MemoryStore) getShard(id uuid.UUID) *taskShard {
	hash := fnv.New32a()
	hash.Write(id[:])
	return s.shards[hash.Sum32()%uint32(s.shardCount)]
}

// Create stores a new task (implements domain.TaskStore)
func (s *MemoryStore) Create(ctx context.Context, task *domain.Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	shard := s.getShard(task.ID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	stored := *task
	shard.tasks[task.ID] = &stored
	return nil
}

// Get returns a copy of the task (implements domain.TaskStore)
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	shard := s.getShard(id)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	task, exists := shard.tasks[id]
	if !exists {
		return nil, domain.ErrTaskNotFound
	}

	copied := *task
	return &copied, nil
}

// Update applies mutate to the stored task under the shard's write lock and
// returns the updated copy. If mutate fails the stored task is unchanged.
func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, mutate func(*domain.Task) error) (*domain.Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	shard := s.getShard(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	task, exists := shard.tasks[id]
	if !exists {
		return nil, domain.ErrTaskNotFound
	}

	candidate := *task
	if err := mutate(&candidate); err != nil {
		return nil, err
	}
	candidate.UpdatedAt = time.Now().UTC()
	shard.tasks[id] = &candidate

	copied := candidate
	return &copied, nil
}

// evictExpired removes terminal tasks past the retention window
func (s *MemoryStore) evictExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.retention)
	for _, shard := range s.shards {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		shard.mu.Lock()
		for id, task := range shard.tasks {
			if task.Status.IsTerminal() && task.UpdatedAt.Before(cutoff) {
				delete(shard.tasks, id)
			}
		}
		shard.mu.Unlock()
	}
	return nil
}

// StartJanitor starts the background eviction worker
func (s *MemoryStore) StartJanitor() {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()

	if s.janitorRunning {
		return
	}
	s.janitorRunning = true
	s.janitorStop = make(chan struct{})

	s.janitorWg.Add(1)
	go s.janitor()
}

func (s *MemoryStore) janitor() {
	defer s.janitorWg.Done()

	ticker := time.NewTicker(defaultJanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			ctx, cancel := context.WithTimeout(context.Background(), finalJanitorPassTimeout)
			_ = s.evictExpired(ctx)
			cancel()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = s.evictExpired(ctx)
			cancel()
		}
	}
}

// Close stops the janitor (implements domain.TaskStore)
func (s *MemoryStore) Close() error {
	s.janitorMu.Lock()
	defer s.janitorMu.Unlock()

	if !s.janitorRunning {
		return nil
	}
	close(s.janitorStop)
	s.janitorWg.Wait()
	s.janitorRunning = false
	return nil
}

// Verify that MemoryStore implements domain.TaskStore interface
var _ domain.TaskStore = (*MemoryStore)(nil)
