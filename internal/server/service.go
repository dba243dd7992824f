package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/runnerr0/trail/internal/apperr"
	"github.com/runnerr0/trail/internal/jobs"
	"github.com/runnerr0/trail/internal/search"
	"github.com/runnerr0/trail/internal/storage"
	"github.com/runnerr0/trail/internal/tracker"
)

// WriterLock is the named lock held by requests that modify the database.
const WriterLock = "writer"

// Connector provides the lazily opened session store.
type Connector interface {
	Store(ctx context.Context) (*storage.SQLiteStore, error)
}

type handlerFunc func(ctx context.Context, fields json.RawMessage) (any, error)

type route struct {
	handle handlerFunc
	writes bool
}

// Service dispatches envelopes to the session log.
type Service struct {
	conn       Connector
	jobs       *jobs.Manager
	tracker    *tracker.Tracker
	searchOpts []search.Option
	log        *slog.Logger
	validate   *validator.Validate
	routes     map[Kind]route
}

// Option configures a Service.
type Option func(*Service)

// WithTracker enables NavigationEvent requests.
func WithTracker(t *tracker.Tracker) Option { return func(s *Service) { s.tracker = t } }

// WithSearchOptions configures the search service built per request.
func WithSearchOptions(opts ...search.Option) Option {
	return func(s *Service) { s.searchOpts = append(s.searchOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// NewService returns a Service running requests on m.
func NewService(conn Connector, m *jobs.Manager, opts ...Option) *Service {
	s := &Service{
		conn:     conn,
		jobs:     m,
		log:      slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes = s.buildRoutes()
	return s
}

// Kinds lists the request types the Service accepts.
func (s *Service) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s.routes))
	for k := range s.routes {
		kinds = append(kinds, k)
	}
	return kinds
}

// Handle runs env as a job and returns its response. Cancelling ctx aborts
// the request.
func (s *Service) Handle(ctx context.Context, env Envelope) Response {
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	if err := s.check(&env); err != nil {
		return Fail(env.RequestID, err)
	}
	r, ok := s.routes[env.Type]
	if !ok {
		return Fail(env.RequestID, apperr.Validation("unknown request type %q", env.Type))
	}
	job := jobs.Job{
		ID:   env.RequestID,
		Name: string(env.Type),
		Fn: func(ctx context.Context) (any, error) {
			return r.handle(ctx, env.Fields)
		},
	}
	if r.writes {
		job.Lock = WriterLock
	}
	body, err := s.jobs.Submit(ctx, job).Wait(ctx)
	if err != nil {
		if !apperr.IsAborted(err) {
			s.log.Debug("request failed", "type", env.Type, "request_id", env.RequestID, "error", err)
		}
		return Fail(env.RequestID, err)
	}
	return Ok(env.RequestID, body)
}

// Abort cancels a running request. It reports false when the request is
// unknown or already finished.
func (s *Service) Abort(requestID string) bool {
	return s.jobs.Abort(requestID)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		}
	}
	return apperr.Validation("invalid request: %s", strings.Join(msgs, "; "))
}

// handler decodes and validates a Req from the envelope fields, opens the
// store and calls fn.
func handler[Req any](s *Service, fn func(ctx context.Context, store *storage.SQLiteStore, req *Req) (any, error)) handlerFunc {
	return func(ctx context.Context, fields json.RawMessage) (any, error) {
		req := new(Req)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, req); err != nil {
				return nil, apperr.Validation("decode request: %v", err)
			}
		}
		if err := s.check(req); err != nil {
			return nil, err
		}
		if err := apperr.CheckAbort(ctx); err != nil {
			return nil, err
		}
		store, err := s.conn.Store(ctx)
		if err != nil {
			return nil, apperr.Storage("open store", err)
		}
		return fn(ctx, store, req)
	}
}

func (s *Service) search(store *storage.SQLiteStore) *search.Service {
	return search.New(store.DB(), append([]search.Option{search.WithLogger(s.log)}, s.searchOpts...)...)
}
