package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/config"
	"github.com/noah-isme/course-select-api/pkg/jobs"
)

// NotificationService fans enrollment lifecycle events out to the external
// notification channel. Delivery is fire-and-forget: events are enqueued after
// the owning transaction commits and never block or fail the caller.
type NotificationService struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	queue   *jobs.Queue
	logger  *zap.Logger
	enabled bool
}

// NewNotificationService wires the dispatcher queue. Start must be called
// before events are emitted.
func NewNotificationService(client *redis.Client, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.PublishTimeout,
		logger:  logger,
		enabled: cfg.Enabled && client != nil,
	}
	s.queue = jobs.NewQueue("notifications", s.publish, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.QueueSize,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatcher workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s.enabled {
		s.queue.Start(ctx)
	}
}

// Stop drains the dispatcher.
func (s *NotificationService) Stop() {
	if s.enabled {
		s.queue.Stop()
	}
}

// Emit enqueues a notification. Callers invoke it only after their own
// transaction has committed.
func (s *NotificationService) Emit(notification models.Notification) {
	if !s.enabled {
		return
	}
	if notification.EmittedAt.IsZero() {
		notification.EmittedAt = time.Now().UTC()
	}
	task := jobs.Task{ID: uuid.NewString(), Kind: string(notification.Event), Payload: notification}
	if err := s.queue.Enqueue(task); err != nil {
		s.logger.Warn("notification dropped", zap.String("event", string(notification.Event)), zap.Error(err))
	}
}

func (s *NotificationService) publish(ctx context.Context, task jobs.Task) error {
	notification, ok := task.Payload.(models.Notification)
	if !ok {
		s.logger.Warn("notification payload has unexpected type", zap.String("task_id", task.ID))
		return nil
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		s.logger.Warn("notification marshal failed", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Publish(publishCtx, s.channel, payload).Err()
}
