// Package audit buffers rate-limit decision events and persists them to the
// decision audit repository without blocking the request path.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/models"
)

// Store persists decision events. Satisfied by *repository.DecisionAuditRepository.
type Store interface {
	Record(ctx context.Context, event *models.DecisionEvent) error
}

// Recorder buffers decision events in memory and flushes them to Store on a
// background goroutine, the same way the teacher's audit logger decouples
// event emission from persistence.
type Recorder struct {
	logger *zap.Logger
	store  Store

	buffer     chan *models.DecisionEvent
	bufferSize int

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewRecorder creates a Recorder and starts its background flush loop.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	r := &Recorder{
		logger:     logger,
		store:      store,
		bufferSize: 1000,
		closed:     make(chan struct{}),
	}
	r.buffer = make(chan *models.DecisionEvent, r.bufferSize)

	r.wg.Add(1)
	go r.processEvents()

	logger.Info("decision audit recorder started", zap.Int("buffer_size", r.bufferSize))
	return r
}

// Record enqueues a decision event for persistence. It never blocks: a full
// buffer drops the event and logs a warning, favoring request latency over
// exhaustive audit coverage.
func (r *Recorder) Record(event *models.DecisionEvent) {
	select {
	case r.buffer <- event:
	default:
		r.logger.Warn("decision audit buffer full, dropping event",
			zap.String("identity_id", event.IdentityID),
			zap.String("outcome", string(event.Outcome)))
	}
}

// RecordAdmitted records a request that passed through without being limited.
func (r *Recorder) RecordAdmitted(method, path, identityID, group string, rank int) {
	r.Record(&models.DecisionEvent{
		Outcome:    models.OutcomeAdmitted,
		Method:     method,
		Path:       path,
		IdentityID: identityID,
		Group:      group,
		Rank:       rank,
		OccurredAt: time.Now(),
	})
}

// RecordLimited records a blocked or delayed request.
func (r *Recorder) RecordLimited(outcome models.DecisionOutcome, method, path, identityID, group string, rank int, reason string, limitedFor time.Duration) {
	r.Record(&models.DecisionEvent{
		Outcome:    outcome,
		Method:     method,
		Path:       path,
		IdentityID: identityID,
		Group:      group,
		Rank:       rank,
		RuleReason: reason,
		LimitedFor: limitedFor,
		OccurredAt: time.Now(),
	})
}

func (r *Recorder) processEvents() {
	defer r.wg.Done()
	for event := range r.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Record(ctx, event); err != nil {
			r.logger.Error("failed to persist decision event",
				zap.Error(err),
				zap.String("identity_id", event.IdentityID))
		}
		cancel()
	}
}

// Close drains the buffer and stops the background flush loop.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		close(r.buffer)
	})
	r.wg.Wait()
	return nil
}
