package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/scan-orchestrator/internal/scan"
	"github.com/cuongbtq/scan-orchestrator/shared/rabbitmq"
)

// Event is the JSON body published on job lifecycle transitions.
type Event struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	RepoURL   string    `json:"repo_url"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher announces job lifecycle transitions to external subscribers.
// It is best-effort: a failed publish never affects the job itself.
type Publisher interface {
	JobTransition(ctx context.Context, job *scan.Job)
}

// NopPublisher is used when no message broker is configured.
type NopPublisher struct{}

func (NopPublisher) JobTransition(context.Context, *scan.Job) {}

// RabbitPublisher publishes events through the shared RabbitMQ client.
type RabbitPublisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

func NewRabbitPublisher(client *rabbitmq.Client, logger *slog.Logger) *RabbitPublisher {
	return &RabbitPublisher{
		client: client,
		logger: logger,
	}
}

func (p *RabbitPublisher) JobTransition(ctx context.Context, job *scan.Job) {
	event := Event{
		JobID:     job.JobID,
		Status:    job.Status,
		RepoURL:   job.RepoURL,
		Error:     job.Error,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		p.logger.Warn(fmt.Sprintf("Dropping job event for %s", job.JobID),
			slog.String("status", job.Status),
			slog.Any("error", err),
		)
	}
}
