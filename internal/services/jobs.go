package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mediaforge/studio/internal/models"
	"github.com/mediaforge/studio/internal/replicate"
	"github.com/qmuntal/stateless"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended
	ErrJobFinished = errors.New("job already finished")
	// ErrShuttingDown is returned by Submit after Shutdown started
	ErrShuttingDown = errors.New("job manager is shutting down")
)

type jobTrigger string

const (
	triggerSubmitted jobTrigger = "submitted"
	triggerRunning   jobTrigger = "running"
	triggerDownload  jobTrigger = "download"
	triggerSucceed   jobTrigger = "succeed"
	triggerFail      jobTrigger = "fail"
	triggerCancel    jobTrigger = "cancel"
	triggerTimeout   jobTrigger = "timeout"
)

// Generator is what the job manager runs in the background
type Generator interface {
	Validate(req GenerateRequest) error
	Run(ctx context.Context, req GenerateRequest, obs Observer) (*models.HistoryRecord, error)
}

// newJobMachine builds the lifecycle:
// queued → submitted → running → downloading → succeeded, with failed,
// canceled and timed_out reachable from every non-terminal state.
func newJobMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(models.JobQueued)

	sm.Configure(models.JobQueued).
		Permit(triggerSubmitted, models.JobSubmitted).
		Permit(triggerFail, models.JobFailed).
		Permit(triggerCancel, models.JobCanceled)

	sm.Configure(models.JobSubmitted).
		Permit(triggerRunning, models.JobRunning).
		Permit(triggerDownload, models.JobDownloading).
		Permit(triggerFail, models.JobFailed).
		Permit(triggerCancel, models.JobCanceled).
		Permit(triggerTimeout, models.JobTimedOut)

	sm.Configure(models.JobRunning).
		Permit(triggerDownload, models.JobDownloading).
		Permit(triggerFail, models.JobFailed).
		Permit(triggerCancel, models.JobCanceled).
		Permit(triggerTimeout, models.JobTimedOut)

	sm.Configure(models.JobDownloading).
		Permit(triggerSucceed, models.JobSucceeded).
		Permit(triggerFail, models.JobFailed).
		Permit(triggerCancel, models.JobCanceled)

	return sm
}

// Job is one background generation
type Job struct {
	mu     sync.Mutex
	view   models.JobView
	req    GenerateRequest
	fsm    *stateless.StateMachine
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// Snapshot returns a copy of the job's current state
func (j *Job) Snapshot() models.JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.view
}

// Done is closed when the job reaches a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) status() models.JobStatus {
	return j.fsm.MustState().(models.JobStatus)
}

// fire moves the job along the lifecycle. Triggers not permitted from the
// current state are ignored, which keeps terminal states final.
func (j *Job) fire(t jobTrigger, mutate func(v *models.JobView)) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if ok, _ := j.fsm.CanFire(t); !ok {
		return
	}
	if err := j.fsm.Fire(t); err != nil {
		j.log.Warn("job transition rejected", zap.String("trigger", string(t)), zap.Error(err))
		return
	}
	if mutate != nil {
		mutate(&j.view)
	}
	j.view.Status = j.status()
	j.view.UpdatedAt = time.Now().UTC()
}

func (j *Job) update(mutate func(v *models.JobView)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	mutate(&j.view)
	j.view.UpdatedAt = time.Now().UTC()
}

// Submitted implements Observer
func (j *Job) Submitted(p *replicate.Prediction) {
	j.fire(triggerSubmitted, func(v *models.JobView) {
		v.PredictionID = p.ID
		v.RemoteStatus = string(p.Status)
	})
}

// Progress implements Observer
func (j *Job) Progress(p *replicate.Prediction) {
	if p.Status == replicate.StatusProcessing {
		j.fire(triggerRunning, nil)
	}
	j.update(func(v *models.JobView) { v.RemoteStatus = string(p.Status) })
}

// Downloading implements Observer
func (j *Job) Downloading() {
	j.fire(triggerDownload, nil)
}

// JobManager runs generations in the background with bounded concurrency
type JobManager struct {
	gen       Generator
	sem       *semaphore.Weighted
	retention int
	log       *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string
	closing  bool
	wg       sync.WaitGroup
	baseCtx  context.Context
	stopBase context.CancelFunc
}

// NewJobManager creates a job manager running at most maxConcurrent generations at once
// and remembering at most retention finished jobs
func NewJobManager(gen Generator, maxConcurrent, retention int, log *zap.Logger) *JobManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if retention <= 0 {
		retention = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		gen:       gen,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		retention: retention,
		log:       log,
		jobs:      make(map[string]*Job),
		baseCtx:   ctx,
		stopBase:  cancel,
	}
}

// Submit validates req and starts it in the background
func (m *JobManager) Submit(req GenerateRequest) (*Job, error) {
	if err := m.gen.Validate(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrShuttingDown
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(m.baseCtx)
	id := uuid.NewString()
	job := &Job{
		view: models.JobView{
			ID:        id,
			Model:     req.Model,
			Prompt:    req.Prompt,
			Status:    models.JobQueued,
			CreatedAt: now,
			UpdatedAt: now,
		},
		req:    req,
		fsm:    newJobMachine(),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    m.log.With(zap.String("job_id", id)),
	}
	m.jobs[id] = job
	m.order = append(m.order, id)

	m.wg.Add(1)
	go m.run(ctx, job)

	m.log.Info("job queued", zap.String("job_id", id), zap.String("model", req.Model))
	return job, nil
}

func (m *JobManager) run(ctx context.Context, job *Job) {
	defer m.wg.Done()
	defer close(job.done)
	defer job.cancel()
	defer m.prune()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		job.fire(triggerCancel, func(v *models.JobView) { v.Error = "canceled before start" })
		return
	}
	defer m.sem.Release(1)

	rec, err := m.gen.Run(ctx, job.req, job)
	switch {
	case err == nil:
		job.fire(triggerSucceed, func(v *models.JobView) {
			v.Record = rec
			v.Kind = rec.Kind
			v.Prompt = rec.Prompt
		})
	case errors.Is(err, replicate.ErrPollTimeout):
		job.fire(triggerTimeout, func(v *models.JobView) { v.Error = err.Error() })
	case errors.Is(err, context.Canceled), errors.Is(err, replicate.ErrPredictionCanceled):
		job.fire(triggerCancel, func(v *models.JobView) { v.Error = err.Error() })
	default:
		job.fire(triggerFail, func(v *models.JobView) { v.Error = err.Error() })
	}

	// Run returned without driving the machine far enough for its outcome
	if !job.Snapshot().Status.Terminal() {
		job.fire(triggerFail, func(v *models.JobView) { v.Error = "job ended without a result" })
	}
	final := job.Snapshot()
	m.log.Info("job finished", zap.String("job_id", final.ID), zap.String("status", string(final.Status)))
}

// Get returns the job with id
func (m *JobManager) Get(id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns snapshots of all known jobs, newest first
func (m *JobManager) List() []models.JobView {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		jobs = append(jobs, m.jobs[m.order[i]])
	}
	m.mu.Unlock()

	out := make([]models.JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Cancel stops a queued or running job. The remote prediction is cancelled
// by the poller once it notices.
func (m *JobManager) Cancel(id string) (*Job, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if job.Snapshot().Status.Terminal() {
		return job, ErrJobFinished
	}
	job.cancel()
	return job, nil
}

// Shutdown cancels every running job and waits for them to finish or ctx to expire
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
	m.stopBase()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prune forgets the oldest finished jobs beyond the retention limit
func (m *JobManager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	finished := 0
	for _, id := range m.order {
		if m.jobs[id].Snapshot().Status.Terminal() {
			finished++
		}
	}
	if finished <= m.retention {
		return
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if finished > m.retention && m.jobs[id].Snapshot().Status.Terminal() {
			delete(m.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
