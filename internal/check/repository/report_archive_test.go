package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gradebox/internal/check/model"
	"gradebox/internal/common/db"
	appErr "gradebox/pkg/errors"
)

type fakeDB struct {
	mu      sync.Mutex
	rows    map[string][]byte
	execs   int
	execErr error
}

type fakeRow struct {
	payload []byte
	err     error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.payload
	return nil
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{payload: payload}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	if !strings.HasPrefix(query, "INSERT INTO check_reports") {
		return nil, errors.New("unexpected query")
	}
	if f.rows == nil {
		f.rows = make(map[string][]byte)
	}
	f.execs++
	f.rows[args[0].(string)] = args[6].([]byte)
	return fakeResult{}, nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

func TestReportRepositoryArchivesTerminalReports(t *testing.T) {
	mr, c := newTestCache(t)
	database := &fakeDB{}
	repo := NewReportRepository(c, time.Minute).WithArchive(NewReportArchive(database))
	ctx := context.Background()

	if err := repo.Save(ctx, model.Report{SubmissionID: "sub-1", Status: model.ReportRunning}); err != nil {
		t.Fatalf("save running: %v", err)
	}
	if database.execs != 0 {
		t.Fatalf("running report must not be archived")
	}
	if err := repo.Save(ctx, model.Report{SubmissionID: "sub-1", Status: model.ReportFinished, AllPassed: true}); err != nil {
		t.Fatalf("save finished: %v", err)
	}
	if database.execs != 1 {
		t.Fatalf("expected one archive write, got %d", database.execs)
	}

	mr.FastForward(2 * time.Minute)
	got, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if got.Status != model.ReportFinished || !got.AllPassed {
		t.Fatalf("unexpected archived report: %+v", got)
	}
	if !mr.Exists(reportKeyPrefix + "sub-1") {
		t.Fatalf("expected archived report to be cached again")
	}

	if _, err := repo.Get(ctx, "missing"); !appErr.Is(err, appErr.ReportNotFound) {
		t.Fatalf("expected ReportNotFound, got %v", err)
	}
}

func TestReportArchiveErrors(t *testing.T) {
	database := &fakeDB{execErr: errors.New("deadlock")}
	archive := NewReportArchive(database)
	err := archive.Put(context.Background(), model.Report{SubmissionID: "x", Status: model.ReportFailed})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}

	database = &fakeDB{rows: map[string][]byte{"bad": []byte("{")}}
	if _, err := NewReportArchive(database).Get(context.Background(), "bad"); !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}
