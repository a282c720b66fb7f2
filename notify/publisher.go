// Package notify publishes job outcomes to a RabbitMQ exchange
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chararch/linebatch"
	"github.com/chararch/linebatch/internal/logs"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventStarted  = "job.started"
	EventFinished = "job.finished"
)

// Channel the part of *amqp.Channel a Publisher uses
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PartitionOutcome outcome of one partition in a JobOutcome
type PartitionOutcome struct {
	ID      string `json:"id"`
	From    int64  `json:"from"`
	To      int64  `json:"to"`
	Status  string `json:"status"`
	Read    int64  `json:"read"`
	Write   int64  `json:"write"`
	Skipped int64  `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// JobOutcome message body published for every job event
type JobOutcome struct {
	Event          string             `json:"event"`
	JobName        string             `json:"jobName"`
	JobExecutionId int64              `json:"jobExecutionId"`
	Status         string             `json:"status"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        *time.Time         `json:"endTime,omitempty"`
	ElapsedMillis  int64              `json:"elapsedMillis,omitempty"`
	Error          string             `json:"error,omitempty"`
	Partitions     []PartitionOutcome `json:"partitions,omitempty"`
}

// NewJobOutcome builds the message of event for execution
func NewJobOutcome(event string, execution *linebatch.JobExecution) JobOutcome {
	outcome := JobOutcome{
		Event:          event,
		JobName:        execution.JobName,
		JobExecutionId: execution.JobExecutionId,
		Status:         string(execution.JobStatus),
		StartTime:      execution.StartTime,
	}
	if event != EventFinished {
		return outcome
	}
	end := execution.EndTime
	outcome.EndTime = &end
	outcome.ElapsedMillis = end.Sub(execution.StartTime).Milliseconds()
	if execution.FailError != nil {
		outcome.Error = execution.FailError.Error()
	}
	for _, r := range execution.PartitionResults() {
		p := PartitionOutcome{
			ID:      r.ID,
			From:    r.Range.From,
			To:      r.Range.To,
			Status:  string(r.Status),
			Read:    r.ReadCount,
			Write:   r.WriteCount,
			Skipped: r.SkippedCount,
		}
		if r.Error != nil {
			p.Error = r.Error.Error()
		}
		outcome.Partitions = append(outcome.Partitions, p)
	}
	return outcome
}

// Publisher JobListener publishing a JobOutcome when a job starts and when it ends.
// Publishing failures are logged, they never change the job status.
type Publisher struct {
	channel    Channel
	exchange   string
	routingKey string
	timeout    time.Duration
	logger     logs.Logger
}

// NewPublisher declares a durable topic exchange and returns a publisher sending to it
func NewPublisher(channel Channel, exchange, routingKey string, logger logs.Logger) (*Publisher, error) {
	if exchange != "" {
		if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return nil, errors.Wrapf(err, "declare exchange:%v", exchange)
		}
	}
	return &Publisher{
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    5 * time.Second,
		logger:     logger,
	}, nil
}

// Publish sends outcome as a persistent JSON message
func (p *Publisher) Publish(ctx context.Context, outcome JobOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return errors.Wrap(err, "encode job outcome")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         outcome.Event,
		Timestamp:    time.Now(),
		Body:         body,
	})
	return errors.Wrapf(err, "publish %v of job execution:%v", outcome.Event, outcome.JobExecutionId)
}

func (p *Publisher) BeforeJob(execution *linebatch.JobExecution) linebatch.BatchError {
	p.notify(execution, EventStarted)
	return nil
}

func (p *Publisher) AfterJob(execution *linebatch.JobExecution) linebatch.BatchError {
	p.notify(execution, EventFinished)
	return nil
}

func (p *Publisher) notify(execution *linebatch.JobExecution, event string) {
	ctx := context.Background()
	if err := p.Publish(ctx, NewJobOutcome(event, execution)); err != nil {
		p.logger.Warn(ctx, "notify job event failed, jobName:%v, jobExecutionId:%v, event:%v, err:%v", execution.JobName, execution.JobExecutionId, event, err)
		return
	}
	p.logger.Debug(ctx, "job event published, jobName:%v, jobExecutionId:%v, event:%v", execution.JobName, execution.JobExecutionId, event)
}
