// Package jobs tracks asynchronous background work triggered over the API,
// so callers can poll ingestion and embedding runs they started.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound indicates an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// State is the lifecycle phase of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is a point-in-time snapshot of a tracked unit of work.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the job has reached a terminal state.
func (j Job) Done() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// Registry runs submitted functions in the background and keeps their
// status in memory. State is process-local and lost on restart.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// Submit starts fn in a goroutine and returns the job ID immediately.
// The job transitions pending, running, then succeeded or failed based on
// fn's return. ctx is passed through to fn; a canceled ctx fails the job.
func (r *Registry) Submit(ctx context.Context, name string, fn func(context.Context) error) string {
	id := uuid.New().String()

	job := &Job{
		ID:        id,
		Name:      name,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, id, fn)
	}()

	return id
}

func (r *Registry) run(ctx context.Context, id string, fn func(context.Context) error) {
	r.transition(id, func(j *Job) {
		now := time.Now().UTC()
		j.State = StateRunning
		j.StartedAt = &now
	})

	err := r.invoke(ctx, fn)

	r.transition(id, func(j *Job) {
		now := time.Now().UTC()
		j.FinishedAt = &now
		if err != nil {
			j.State = StateFailed
			j.Error = err.Error()
			r.logger.Error("background job failed", "job_id", id, "name", j.Name, "error", err)
			return
		}
		j.State = StateSucceeded
		r.logger.Info("background job finished", "job_id", id, "name", j.Name)
	})
}

// invoke shields the registry from panicking job functions.
func (r *Registry) invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return fn(ctx)
}

func (r *Registry) transition(id string, apply func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		apply(j)
	}
}

// Get returns a snapshot of the job with the given ID.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *j, nil
}

// List returns snapshots of all known jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out
}

// Wait blocks until every submitted job has finished. Used during shutdown.
func (r *Registry) Wait() {
	r.wg.Wait()
}
