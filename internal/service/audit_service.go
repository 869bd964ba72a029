package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edukite/campus-core-api/internal/models"
	"github.com/edukite/campus-core-api/pkg/jobs"
)

type auditWriter interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// AuditEvent is the payload recorded for one audited mutation.
type AuditEvent struct {
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Detail     interface{}
	IPAddress  string
	UserAgent  string
}

// AuditService writes audit trail entries through a background queue so
// the primary request path never blocks or fails on audit persistence.
type AuditService struct {
	queue  *jobs.Queue
	writer auditWriter
	logger *zap.Logger
}

// NewAuditService builds the service and its worker queue. Call Start
// before enqueuing events and Stop on shutdown.
func NewAuditService(writer auditWriter, workers, bufferSize int, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{writer: writer, logger: logger}
	s.queue = jobs.NewQueue("audit", s.handle, jobs.QueueConfig{
		Workers:    workers,
		BufferSize: bufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the queue workers.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit event. Failures are logged and swallowed.
func (s *AuditService) Record(event AuditEvent) {
	if s == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    event.Action,
		Payload: event,
	})
	if err != nil {
		s.logger.Warn("audit event dropped",
			zap.String("action", event.Action),
			zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(AuditEvent)
	if !ok {
		return fmt.Errorf("unexpected audit payload type %T", job.Payload)
	}

	var detail []byte
	if event.Detail != nil {
		raw, err := json.Marshal(event.Detail)
		if err != nil {
			s.logger.Warn("audit detail not serialisable", zap.Error(err))
		} else {
			detail = raw
		}
	}

	entry := &models.AuditLog{
		Action:    event.Action,
		Resource:  event.Resource,
		NewValues: detail,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		CreatedAt: job.Enqueued,
	}
	if event.ActorID != "" {
		entry.UserID = &event.ActorID
	}
	if event.ResourceID != "" {
		entry.ResourceID = &event.ResourceID
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.writer.CreateAuditLog(writeCtx, entry)
}
