package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/model"
	"gradebox/internal/common/cache"
	"gradebox/internal/common/mq"
	appErr "gradebox/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestReportRepositoryRoundTrip(t *testing.T) {
	mr, c := newTestCache(t)
	repo := NewReportRepository(c, time.Minute)
	report := model.Report{
		SubmissionID: "sub-1",
		Status:       model.ReportFinished,
		AllPassed:    true,
		Results:      []checker.Result{{CheckerID: "cc", Status: checker.StatusPassed, Passed: true}},
	}
	if err := repo.Save(context.Background(), report); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.ReportFinished || len(got.Results) != 1 || !got.Results[0].Passed {
		t.Fatalf("unexpected report %+v", got)
	}
	if ttl := mr.TTL(reportKeyPrefix + "sub-1"); ttl != time.Minute {
		t.Fatalf("expected ttl of one minute, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := repo.Get(context.Background(), "sub-1"); !appErr.Is(err, appErr.ReportNotFound) {
		t.Fatalf("expected expired report, got %v", err)
	}
}

func TestReportRepositoryValidation(t *testing.T) {
	_, c := newTestCache(t)
	repo := NewReportRepository(c, time.Minute)
	if err := repo.Save(context.Background(), model.Report{}); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := repo.Get(context.Background(), ""); appErr.GetCode(err) != appErr.ValidationFailed {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := NewReportRepository(nil, 0).Save(context.Background(), model.Report{SubmissionID: "x"}); appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("expected cache error, got %v", err)
	}
}

func TestReportRepositoryClaim(t *testing.T) {
	_, c := newTestCache(t)
	repo := NewReportRepository(c, time.Minute)
	ctx := context.Background()

	ok, err := repo.Claim(ctx, "sub-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	ok, err = repo.Claim(ctx, "sub-1", time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim must fail: %v %v", ok, err)
	}
	if err := repo.Release(ctx, "sub-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = repo.Claim(ctx, "sub-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("claim after release: %v %v", ok, err)
	}
}

type fakeProducer struct {
	topic   string
	message *mq.Message
	err     error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.topic = topic
	f.message = message
	return f.err
}

func TestPublishFinalReport(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewMQReportEventPublisher(producer, "check.report.final")
	report := model.Report{SubmissionID: "sub-9", Status: model.ReportFinished}
	if err := pub.PublishFinalReport(context.Background(), report); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.topic != "check.report.final" || producer.message.ID != "sub-9" {
		t.Fatalf("unexpected publish %q %+v", producer.topic, producer.message)
	}
	var event model.ReportEvent
	if err := json.Unmarshal(producer.message.Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != model.ReportEventFinal || event.Report.SubmissionID != "sub-9" || event.CreatedAt == 0 {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPublishFinalReportRequiresTopic(t *testing.T) {
	pub := NewMQReportEventPublisher(&fakeProducer{}, "")
	if err := pub.PublishFinalReport(context.Background(), model.Report{SubmissionID: "x"}); err == nil {
		t.Fatalf("expected error without topic")
	}
	var nilPub *MQReportEventPublisher
	if err := nilPub.PublishFinalReport(context.Background(), model.Report{SubmissionID: "x"}); err == nil {
		t.Fatalf("expected error from nil publisher")
	}
}
