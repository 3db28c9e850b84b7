package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gradebox/internal/check/model"
	"gradebox/internal/common/mq"
	appErr "gradebox/pkg/errors"
)

// ReportEventPublisher publishes report events for downstream consumers.
type ReportEventPublisher interface {
	PublishFinalReport(ctx context.Context, report model.Report) error
}

// MQReportEventPublisher publishes report events to a message queue.
type MQReportEventPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQReportEventPublisher creates a new MQ report event publisher.
func NewMQReportEventPublisher(producer mq.Producer, topic string) *MQReportEventPublisher {
	return &MQReportEventPublisher{producer: producer, topic: topic}
}

// PublishFinalReport publishes a final report event keyed by submission id.
func (p *MQReportEventPublisher) PublishFinalReport(ctx context.Context, report model.Report) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("report publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("report topic is required")
	}
	if report.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := model.ReportEvent{
		Type:      model.ReportEventFinal,
		Report:    report,
		CreatedAt: time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = report.SubmissionID
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish report event failed")
	}
	return nil
}
