// Package jobs serializes work against the single-writer database.
//
// A Manager runs submitted jobs from a FIFO queue on a fixed number of
// workers (one by default). Every job settles exactly once: with its
// result, its error, a Timeout when it did not settle within the
// manager's timeout, or Aborted when its caller went away or Abort was
// called. A timed-out job that already started keeps running; its result
// is discarded.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/trail/internal/apperr"
)

// Func is the body of a job.
type Func func(ctx context.Context) (any, error)

// Job describes one unit of work.
type Job struct {
	ID   string
	Name string
	// Lock, when set, names a lock the WithLock middleware holds while the
	// job runs.
	Lock string
	Fn   Func
}

// Handler runs a job.
type Handler func(ctx context.Context, job *Job) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Options configures a Manager.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Manager queues and runs jobs.
type Manager struct {
	concurrency int
	timeout     time.Duration
	log         *slog.Logger
	metrics     *Metrics

	mu         sync.Mutex
	middleware []Middleware
	handler    Handler
	queue      []*Promise
	pending    map[string]*Promise
	closed     bool

	signal chan struct{}
	stop   chan struct{}
	group  errgroup.Group
}

// New starts a Manager with opts.Concurrency workers.
func New(opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	m := &Manager{
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		pending:     map[string]*Promise{},
		signal:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
	m.handler = run
	for i := 0; i < m.concurrency; i++ {
		m.group.Go(m.work)
	}
	return m
}

func run(ctx context.Context, job *Job) (any, error) {
	return job.Fn(ctx)
}

// Use adds middleware. The first registered middleware is the outermost.
func (m *Manager) Use(mw ...Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middleware = append(m.middleware, mw...)
	h := Handler(run)
	for i := len(m.middleware) - 1; i >= 0; i-- {
		h = m.middleware[i](h)
	}
	m.handler = h
}

// Submit queues job and returns its promise. The job is aborted when ctx
// is cancelled. A job whose ID is already pending settles at once with a
// validation error and leaves the pending job alone.
func (m *Manager) Submit(ctx context.Context, job Job) *Promise {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Name == "" {
		job.Name = "job"
	}
	jobCtx, cancel := context.WithCancelCause(ctx)
	p := &Promise{
		job:     &job,
		ctx:     jobCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		manager: m,
		queued:  time.Now(),
	}

	p.mu.Lock()
	if m.timeout > 0 {
		p.timer = time.AfterFunc(m.timeout, func() {
			p.settle(nil, apperr.Timeout(job.Name))
		})
	}
	p.stopWatch = context.AfterFunc(ctx, func() {
		p.settle(nil, apperr.CheckAbort(ctx))
	})
	p.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.settle(nil, apperr.ErrAborted)
		return p
	}
	if _, dup := m.pending[job.ID]; dup {
		m.mu.Unlock()
		p.settle(nil, apperr.Validation("job %s is already running", job.ID))
		return p
	}
	if !p.isSettled() {
		m.pending[job.ID] = p
		m.queue = append(m.queue, p)
		m.metrics.queued.Inc()
	}
	m.mu.Unlock()
	m.metrics.submitted.WithLabelValues(job.Name).Inc()

	m.wake()
	return p
}

// Do submits a job and waits for it.
func (m *Manager) Do(ctx context.Context, name string, fn Func) (any, error) {
	return m.Submit(ctx, Job{Name: name, Fn: fn}).Wait(ctx)
}

// Abort cancels the job with the given id. It reports false when no such
// job is pending.
func (m *Manager) Abort(id string) bool {
	m.mu.Lock()
	p := m.pending[id]
	m.mu.Unlock()
	if p == nil {
		return false
	}
	p.cancel(apperr.ErrAborted)
	p.settle(nil, apperr.ErrAborted)
	return true
}

// Wait waits for the pending job with the given id.
func (m *Manager) Wait(ctx context.Context, id string) (any, error) {
	m.mu.Lock()
	p := m.pending[id]
	m.mu.Unlock()
	if p == nil {
		return nil, apperr.NotFound("job %s", id)
	}
	return p.Wait(ctx)
}

// Has reports whether a job with the given id is pending.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// Len returns the number of jobs waiting to start.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops the workers after their current jobs and aborts everything
// still queued.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()

	close(m.stop)
	for _, p := range queued {
		m.metrics.queued.Dec()
		p.cancel(apperr.ErrAborted)
		p.settle(nil, apperr.ErrAborted)
	}
	return m.group.Wait()
}

func (m *Manager) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Manager) next() (*Promise, Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) > 0 {
		p := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.metrics.queued.Dec()
		if p.isSettled() {
			p.cancel(nil)
			continue
		}
		if len(m.queue) > 0 {
			m.wake()
		}
		return p, m.handler
	}
	return nil, nil
}

func (m *Manager) work() error {
	for {
		p, h := m.next()
		if p == nil {
			select {
			case <-m.signal:
				continue
			case <-m.stop:
				return nil
			}
		}
		m.metrics.wait.WithLabelValues(p.job.Name).Observe(time.Since(p.queued).Seconds())
		result, err := m.execute(p, h)
		if abort := apperr.CheckAbort(p.ctx); abort != nil {
			result, err = nil, abort
		}
		p.settle(result, err)
		p.cancel(nil)
	}
}

func (m *Manager) execute(p *Promise, h Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("job panicked", "job_id", p.job.ID, "job", p.job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", p.job.Name, r)
		}
	}()
	start := time.Now()
	defer func() {
		m.metrics.duration.WithLabelValues(p.job.Name).Observe(time.Since(start).Seconds())
	}()
	return h(p.ctx, p.job)
}

func (m *Manager) forget(p *Promise, err error) {
	m.mu.Lock()
	if m.pending[p.job.ID] == p {
		delete(m.pending, p.job.ID)
	}
	m.mu.Unlock()
	code := "Ok"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	m.metrics.settled.WithLabelValues(p.job.Name, code).Inc()
}

// Promise is the eventual outcome of a submitted job.
type Promise struct {
	job     *Job
	ctx     context.Context
	cancel  context.CancelCauseFunc
	manager *Manager
	queued  time.Time

	mu        sync.Mutex
	timer     *time.Timer
	stopWatch func() bool

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// ID returns the job id.
func (p *Promise) ID() string { return p.job.ID }

// Done is closed once the job has settled.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Wait blocks until the job settles or ctx is done.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, apperr.CheckAbort(ctx)
	}
}

func (p *Promise) isSettled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Promise) settle(result any, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		timer, stopWatch := p.timer, p.stopWatch
		p.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if stopWatch != nil {
			stopWatch()
		}
		p.result, p.err = result, err
		close(p.done)
		p.manager.forget(p, err)
	})
}
