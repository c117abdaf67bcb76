package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/haulmark/backoffice/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyEmail delivers the email channel of a notification.
	TaskNotifyEmail = "notify:email"
)

// ErrInvalidPayload marks tasks that can never succeed.
var ErrInvalidPayload = errors.New("jobs: invalid payload")

// EmailPayload describes one outbound notification email.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate checks the payload before it is queued or sent.
func (p EmailPayload) Validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(p.To)); err != nil {
		return fmt.Errorf("%w: recipient %q", ErrInvalidPayload, p.To)
	}
	if strings.TrimSpace(p.Subject) == "" && strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidPayload)
	}
	return nil
}

// NewEmailTask constructs an Asynq task.
func NewEmailTask(payload EmailPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyEmail, data), nil
}

// Sender transmits a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailJob handles TaskNotifyEmail tasks.
type EmailJob struct {
	sender  Sender
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewEmailJob builds the email task handler.
func NewEmailJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *EmailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailJob{sender: sender, logger: logger, metrics: metrics}
}

// Handle processes one email task. Malformed payloads are not retried.
func (j *EmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := j.metrics.Track(TaskNotifyEmail)
	var payload EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Warn("email task payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err := payload.Validate(); err != nil {
		j.logger.Warn("email task rejected", slog.String("to", payload.To), slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %v", asynq.SkipRetry, err))
	}
	if err := j.sender.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
		j.logger.Warn("email send failed", slog.String("to", payload.To), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return tracker.End(nil)
}
