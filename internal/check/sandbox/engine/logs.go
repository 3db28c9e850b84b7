package engine

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"gradebox/internal/check/sandbox/output"
	appErr "gradebox/pkg/errors"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// minLogFileBytes keeps the daemon's log file large enough for small caps plus framing.
	minLogFileBytes = 1 << 20
	logDrainWait    = 2 * time.Second
)

var errOutputCapped = errors.New("output cap reached")

// logConfig bounds the daemon-side json-file log of one run. The follower reads from the start of
// the file, so only output past the cap can be rotated away.
func logConfig(maxOutputBytes int64) container.LogConfig {
	size := 4 * maxOutputBytes
	if size < minLogFileBytes {
		size = minLogFileBytes
	}
	return container.LogConfig{
		Type: "json-file",
		Config: map[string]string{
			"max-size": strconv.FormatInt(size, 10),
			"max-file": "2",
		},
	}
}

// cappedWriter stops the copy once the buffer discarded anything.
type cappedWriter struct {
	buf *output.CappedBuffer
}

func (w cappedWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if err != nil {
		return n, err
	}
	if w.buf.Truncated() {
		return n, errOutputCapped
	}
	return n, nil
}

// logFollower streams a running container's stdout and stderr into one capped buffer.
type logFollower struct {
	capture *output.CappedBuffer
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// followLogs attaches to the container's log stream. Reading stops at end of stream or as soon
// as the cap is exceeded, whichever comes first.
func (e *containerEngine) followLogs(ctx context.Context, id string, maxBytes int64) (*logFollower, error) {
	logCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rc, err := e.cli.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		cancel()
		return nil, appErr.Wrapf(err, appErr.CheckExecutionFailed, "read container logs")
	}
	f := &logFollower{capture: output.NewCappedBuffer(maxBytes), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer rc.Close()
		w := cappedWriter{buf: f.capture}
		_, err := stdcopy.StdCopy(w, w, rc)
		if err != nil && !errors.Is(err, errOutputCapped) && !errors.Is(err, io.EOF) && logCtx.Err() == nil {
			f.mu.Lock()
			f.err = err
			f.mu.Unlock()
		}
	}()
	return f, nil
}

// finish waits briefly for the stream to end after the container stopped, then closes it.
func (f *logFollower) finish() error {
	select {
	case <-f.done:
	case <-time.After(logDrainWait):
		f.cancel()
		<-f.done
	}
	f.cancel()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return appErr.Wrapf(f.err, appErr.CheckExecutionFailed, "demultiplex container logs")
	}
	return nil
}

// stop abandons the stream.
func (f *logFollower) stop() {
	f.cancel()
	<-f.done
}
