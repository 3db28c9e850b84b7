package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"gradebox/internal/check/checker"
	"gradebox/internal/check/model"
	"gradebox/internal/common/mq"
	"gradebox/internal/common/storage"
)

type fakeStorage struct {
	objects map[string][]byte
	gets    int
}

func (f *fakeStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	f.gets++
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, errors.New("no such key")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

type fakeReports struct {
	mu       sync.Mutex
	saved    []model.Report
	claimed  map[string]bool
	released []string
	claimErr error
}

func (f *fakeReports) Save(ctx context.Context, report model.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, report)
	return nil
}

func (f *fakeReports) Claim(ctx context.Context, submissionID string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claimed == nil {
		f.claimed = make(map[string]bool)
	}
	if f.claimed[submissionID] {
		return false, nil
	}
	f.claimed[submissionID] = true
	return true, nil
}

func (f *fakeReports) Release(ctx context.Context, submissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claimed, submissionID)
	f.released = append(f.released, submissionID)
	return nil
}

func (f *fakeReports) last() model.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) == 0 {
		return model.Report{}
	}
	return f.saved[len(f.saved)-1]
}

type fakeEvaluator struct {
	results  []checker.Result
	workDir  string
	sources  []string
	defs     []checker.Definition
	deadline bool
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, env checker.Environment, defs []checker.Definition) []checker.Result {
	f.workDir = env.WorkDir()
	f.defs = defs
	_, f.deadline = ctx.Deadline()
	for _, src := range env.Sources() {
		f.sources = append(f.sources, src.Name)
		if _, err := os.Stat(env.WorkDir() + "/" + src.Name); err != nil {
			f.sources = append(f.sources, "missing:"+src.Name)
		}
	}
	return f.results
}

type fakePublisher struct {
	reports []model.Report
}

func (f *fakePublisher) PublishFinalReport(ctx context.Context, report model.Report) error {
	f.reports = append(f.reports, report)
	return nil
}

type fakeProducer struct {
	topics   []string
	messages []*mq.Message
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, message)
	return nil
}

type fakeReclaimer struct {
	dirs  []string
	check func(dir string)
}

func (f *fakeReclaimer) Reclaim(ctx context.Context, dir string) error {
	f.dirs = append(f.dirs, dir)
	if f.check != nil {
		f.check(dir)
	}
	return nil
}
