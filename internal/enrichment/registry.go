package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyRunning marks a start attempt for a scope key that already has
// a live job. Match with errors.Is; the concrete *AlreadyRunningError
// carries the existing job's cancel token so a second start attempt can be
// turned into a cancel affordance.
var ErrAlreadyRunning = errors.New("enrichment already running")

// AlreadyRunningError is returned by Registry.Start on a key conflict.
type AlreadyRunningError struct {
	ScopeKey string
	Token    CancelToken
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("enrichment already running for scope %q", e.ScopeKey)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// State is the lifecycle state of a job.
type State string

const (
	StateIdle       State = "idle"
	StateCacheCheck State = "cache_check"
	StateAcquiring  State = "acquiring"
	StateSaving     State = "saving"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// Job is the mutable run-time record of one acquisition run. Created by
// Registry.Start, destroyed by Registry.Finish.
type Job struct {
	ID       uuid.UUID
	ScopeKey string

	mu      sync.Mutex
	state   State
	records int
	errors  int
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) addRecords(n int) {
	j.mu.Lock()
	j.records += n
	j.mu.Unlock()
}

// Records returns the running count of ingested records.
func (j *Job) Records() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

func (j *Job) addError() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors++
	return j.errors
}

// Errors returns the running per-category failure count.
func (j *Job) Errors() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.errors
}

// CancelToken is the weak reference callers hold to a live job. It can
// request cancellation but holds no handle to the job itself — the
// registry exclusively owns the job until it finishes.
type CancelToken struct {
	JobID  uuid.UUID
	cancel context.CancelFunc
}

// Cancel requests cooperative cancellation. Cancelling a finished job is
// a no-op.
func (t CancelToken) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

type registryEntry struct {
	job   *Job
	token CancelToken
}

// Registry enforces at most one live job per scope key. It is the only
// shared mutable state in the orchestration core.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]registryEntry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]registryEntry)}
}

// Start registers a new job for scopeKey and returns it together with the
// job-scoped context the run must honor. If a job for the key is still
// live, Start returns an *AlreadyRunningError carrying the existing job's
// cancel token instead of creating a duplicate.
func (r *Registry) Start(ctx context.Context, scopeKey string) (*Job, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[scopeKey]; ok {
		return nil, nil, &AlreadyRunningError{ScopeKey: scopeKey, Token: existing.token}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:       uuid.New(),
		ScopeKey: scopeKey,
		state:    StateIdle,
	}
	r.jobs[scopeKey] = registryEntry{
		job:   job,
		token: CancelToken{JobID: job.ID, cancel: cancel},
	}
	return job, jobCtx, nil
}

// Finish removes the job's entry and releases its context. It compares by
// job identity, not key: a finish for a job that was already replaced by a
// newer run for the same key must not remove the newer entry.
func (r *Registry) Finish(job *Job) {
	if job == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[job.ScopeKey]
	if !ok || entry.job != job {
		return
	}
	entry.token.Cancel() // release the context's resources
	delete(r.jobs, job.ScopeKey)
}

// Token returns the cancel token of the live job for scopeKey, if any.
func (r *Registry) Token(scopeKey string) (CancelToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[scopeKey]
	return entry.token, ok
}

// Active returns the number of live jobs.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
