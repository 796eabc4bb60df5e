package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const jobKeyPrefix = "analysis:job:"

// RedisKV is the subset of the Redis client the job store needs
type RedisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisJobStore keeps job snapshots in Redis so status survives a restart
// and is visible to every API replica. Writers are the pipeline goroutines
// of this process; the local lock serialises their read-modify-write cycles.
type RedisJobStore struct {
	kv  RedisKV
	ttl time.Duration
	mu  sync.Mutex
}

// NewRedisJobStore creates a store whose keys expire after ttl
func NewRedisJobStore(kv RedisKV, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{kv: kv, ttl: ttl}
}

func jobKey(id string) string { return jobKeyPrefix + id }

// Create writes job, replacing any previous snapshot
func (s *RedisJobStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, job)
}

// Get loads a job snapshot
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*Job, error) {
	raw, err := s.kv.Get(ctx, jobKey(jobID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// Update loads, mutates and rewrites the job
func (s *RedisJobStore) Update(ctx context.Context, jobID string, fn func(*Job)) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	fn(job)
	if err := s.put(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *RedisJobStore) put(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.JobID, err)
	}
	if err := s.kv.Set(ctx, jobKey(job.JobID), string(data), s.ttl); err != nil {
		return fmt.Errorf("save job %s: %w", job.JobID, err)
	}
	return nil
}
