// Package manager implements the save request lifecycle: admission, task
// creation, moderation and reconciliation against the scheduler and archive.
package manager

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/events"
	"github.com/JakeFAU/savecodenow/internal/savecode"
)

const (
	defaultBatchSize   = 200
	defaultSearchLimit = 1000
	originLockStripes  = 64
)

// RefreshQueue accepts request ids for asynchronous refresh.
type RefreshQueue interface {
	TryEnqueue(id int64) bool
}

// Options wires the manager's collaborators. Store, Scheduler and Clock are
// required; the rest are optional.
type Options struct {
	Store     savecode.Store
	Scheduler savecode.Scheduler
	Archive   savecode.Archive
	// Search, when set, backs free-text listing queries and is fed with
	// origins whose save succeeded.
	Search savecode.SearchIndex
	Events events.Emitter
	Queue  RefreshQueue
	Clock  savecode.Clock
	Logger *zap.Logger

	VisitTypes     []string
	AllowedSchemes []string
	GraceWindow    time.Duration
	BatchSize      int
}

// Manager coordinates save requests across the store, the scheduler and the
// archive. It is safe for concurrent use.
type Manager struct {
	store     savecode.Store
	scheduler savecode.Scheduler
	archive   savecode.Archive
	search    savecode.SearchIndex
	events    events.Emitter
	queue     RefreshQueue
	clock     savecode.Clock
	logger    *zap.Logger
	tracer    trace.Tracer

	visitTypes     []string
	allowedSchemes []string
	graceWindow    time.Duration
	batchSize      int

	// originLocks serialize create decisions for the same origin.
	originLocks [originLockStripes]sync.Mutex
}

// New validates opts and builds a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("manager: store is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("manager: scheduler is required")
	}
	if opts.Clock == nil {
		return nil, errors.New("manager: clock is required")
	}
	if len(opts.VisitTypes) == 0 {
		return nil, errors.New("manager: at least one visit type is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := opts.Events
	if emitter == nil {
		emitter = events.Discard
	}
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = savecode.DefaultGraceWindow
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Manager{
		store:          opts.Store,
		scheduler:      opts.Scheduler,
		archive:        opts.Archive,
		search:         opts.Search,
		events:         emitter,
		queue:          opts.Queue,
		clock:          opts.Clock,
		logger:         logger,
		tracer:         otel.Tracer("github.com/JakeFAU/savecodenow/internal/manager"),
		visitTypes:     slices.Clone(opts.VisitTypes),
		allowedSchemes: slices.Clone(opts.AllowedSchemes),
		graceWindow:    grace,
		batchSize:      batch,
	}, nil
}

// SavableVisitTypes returns the configured visit types the scheduler has a
// loading task type for, in configuration order.
func (m *Manager) SavableVisitTypes(ctx context.Context) ([]string, error) {
	types, err := m.scheduler.GetTaskTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("get task types: %w", err)
	}
	known := make(map[string]struct{}, len(types))
	for _, tt := range types {
		known[tt.Type] = struct{}{}
	}
	out := make([]string, 0, len(m.visitTypes))
	for _, vt := range m.visitTypes {
		if _, ok := known[savecode.TaskTypeForVisit(vt)]; ok {
			out = append(out, vt)
		}
	}
	return out, nil
}

func (m *Manager) lockOrigin(key savecode.OriginKey) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	mu := &m.originLocks[h.Sum32()%originLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) emit(kind events.Kind, req savecode.SaveRequest, source string, mutate func(*events.Event)) {
	evt := events.FromRequest(kind, req, m.clock.Now())
	evt.Source = source
	if mutate != nil {
		mutate(&evt)
	}
	m.events.Emit(evt)
}

func (m *Manager) enqueue(req savecode.SaveRequest) {
	if m.queue == nil || req.Status != savecode.RequestAccepted || req.LoadingTaskStatus.Terminal() {
		return
	}
	if !m.queue.TryEnqueue(req.ID) {
		m.logger.Debug("refresh queue full, leaving request to the sweeper", zap.Int64("request_id", req.ID))
	}
}

func requestFields(req savecode.SaveRequest) []zap.Field {
	fields := []zap.Field{
		zap.Int64("request_id", req.ID),
		zap.String("visit_type", req.VisitType),
		zap.String("origin_url", req.OriginURL),
	}
	if req.LoadingTaskID != nil {
		fields = append(fields, zap.Int64("task_id", *req.LoadingTaskID))
	}
	return fields
}
