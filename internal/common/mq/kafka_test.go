package mq

import (
	"context"
	"testing"
	"time"
)

func TestKafkaMessageHeadersSurviveConversion(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "sub-1",
		Body:       []byte(`{"submission_id":"sub-1"}`),
		Headers:    map[string]string{"x-pool-retry": "2"},
		Timestamp:  ts,
		RetryCount: 1,
		MaxRetries: 4,
		Expiration: 90 * time.Second,
	}
	out := fromKafkaMessage(toKafkaMessage("checks", in))

	if out.ID != "sub-1" {
		t.Fatalf("unexpected id: %q", out.ID)
	}
	if string(out.Body) != string(in.Body) {
		t.Fatalf("unexpected body: %s", out.Body)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp: %v", out.Timestamp)
	}
	if out.RetryCount != 1 || out.MaxRetries != 4 {
		t.Fatalf("unexpected retry fields: %d/%d", out.RetryCount, out.MaxRetries)
	}
	if out.Expiration != 90*time.Second {
		t.Fatalf("unexpected expiration: %v", out.Expiration)
	}
	if v, ok := out.GetHeader("x-pool-retry"); !ok || v != "2" {
		t.Fatalf("custom header lost: %q %v", v, ok)
	}
	if _, ok := out.GetHeader(headerID); ok {
		t.Fatalf("reserved header leaked into custom headers")
	}
}

func TestMessageExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		msg  Message
		want bool
	}{
		{name: "no expiration", msg: Message{Timestamp: now.Add(-time.Hour)}, want: false},
		{name: "fresh", msg: Message{Timestamp: now.Add(-time.Second), Expiration: time.Minute}, want: false},
		{name: "stale", msg: Message{Timestamp: now.Add(-2 * time.Minute), Expiration: time.Minute}, want: true},
		{name: "zero timestamp", msg: Message{Expiration: time.Minute}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.Expired(now); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestTokenLimiter(t *testing.T) {
	l := NewTokenLimiter(2)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if l.Available() != 0 {
		t.Fatalf("expected no tokens, got %d", l.Available())
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(timeoutCtx); err == nil {
		t.Fatalf("expected acquire to fail on exhausted limiter")
	}

	l.Release()
	l.Release()
	l.Release()
	if l.Available() != 2 {
		t.Fatalf("expected capacity to stay 2, got %d", l.Available())
	}
}

func TestParseCompression(t *testing.T) {
	if ParseCompression("ZSTD") == 0 {
		t.Fatalf("expected zstd codec")
	}
	if ParseCompression("bogus") != 0 {
		t.Fatalf("expected no compression for unknown codec")
	}
}
