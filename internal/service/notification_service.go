package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/e-lglioui/giao-long-api/pkg/jobs"
)

// Domain event types dispatched to the notification queue.
const (
	EventEnrollmentActivated = "enrollment.activated"
	EventEnrollmentCancelled = "enrollment.cancelled"
	EventEnrollmentApproved  = "enrollment.approved"
	EventEnrollmentCompleted = "enrollment.completed"
	EventPaymentRefunded     = "payment.refunded"
)

// EnrollmentEvent is the payload carried by enrollment notifications.
type EnrollmentEvent struct {
	EnrollmentID string    `json:"enrollment_id"`
	StudentID    string    `json:"student_id"`
	SchoolID     string    `json:"school_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Notifier delivers a single notification. Implementations may send email,
// push, or log-only in development.
type Notifier interface {
	Notify(ctx context.Context, eventType string, event EnrollmentEvent) error
}

// LogNotifier writes notifications to the application log. It stands in
// wherever no external channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the event.
func (n *LogNotifier) Notify(_ context.Context, eventType string, event EnrollmentEvent) error {
	n.logger.Sugar().Infow("notification",
		"event", eventType,
		"enrollment_id", event.EnrollmentID,
		"student_id", event.StudentID,
		"school_id", event.SchoolID,
	)
	return nil
}

// NotificationService dispatches enrollment lifecycle events through the
// background job queue. Delivery is best effort: a full queue or a failing
// notifier never blocks or fails the triggering operation.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the dispatcher and its queue.
func NewNotificationService(notifier Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(EnrollmentEvent)
		if !ok {
			logger.Sugar().Warnw("notification job with unexpected payload", "job_id", job.ID, "type", job.Type)
			return nil
		}
		return notifier.Notify(ctx, job.Type, event)
	}
	cfg.Logger = logger
	return &NotificationService{
		queue:  jobs.NewQueue("notifications", handler, cfg),
		logger: logger,
	}
}

// Start begins background dispatch.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Dispatch enqueues an event. Failures are logged and swallowed.
func (s *NotificationService) Dispatch(eventType string, event EnrollmentEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Sugar().Warnw("notification dropped", "event", eventType, "enrollment_id", event.EnrollmentID, "error", err)
	}
}
