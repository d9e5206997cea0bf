package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/earmark/internal/content"
)

var ErrWorkerStopped = errors.New("transcription worker stopped")

// RecordingUpdater applies transcription results.
type RecordingUpdater interface {
	UpdateRecording(id string, p content.RecordingPatch) content.UpdateResult
}

type WorkerOption func(*Worker)

// WithDelay sets how long a scheduled job waits before calling the service.
func WithDelay(d time.Duration) WorkerOption {
	return func(w *Worker) { w.delay = d }
}

// WithOnDone registers fn to run after a job's result has been applied. err is
// nil when a transcript was stored.
func WithOnDone(fn func(recordingID string, err error)) WorkerOption {
	return func(w *Worker) { w.onDone = fn }
}

type job struct {
	cancel context.CancelFunc
}

// Worker runs one background transcription per recording. Scheduling never
// blocks the caller.
type Worker struct {
	mu      sync.Mutex
	t       Transcriber
	store   RecordingUpdater
	delay   time.Duration
	onDone  func(recordingID string, err error)
	jobs    map[string]*job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	logger  *slog.Logger
}

func NewWorker(t Transcriber, store RecordingUpdater, logger *slog.Logger, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		t:      t,
		store:  store,
		delay:  100 * time.Millisecond,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "transcribe"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Schedule starts transcribing the recording after the configured delay.
// Scheduling an id that already has a job replaces it.
func (w *Worker) Schedule(recordingID, audioURI string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return ErrWorkerStopped
	}
	if prev, ok := w.jobs[recordingID]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(w.ctx)
	j := &job{cancel: cancel}
	w.jobs[recordingID] = j

	w.wg.Add(1)
	go w.run(ctx, j, recordingID, audioURI)
	return nil
}

// Cancel abandons the recording's job, if any. No update is applied for a
// cancelled job.
func (w *Worker) Cancel(recordingID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if j, ok := w.jobs[recordingID]; ok {
		j.cancel()
		delete(w.jobs, recordingID)
	}
}

// Pending returns the number of jobs not yet finished.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}

// Wait blocks until every scheduled job has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Stop cancels outstanding jobs and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
}

func (w *Worker) finish(j *job, recordingID string) {
	w.mu.Lock()
	if w.jobs[recordingID] == j {
		delete(w.jobs, recordingID)
	}
	w.mu.Unlock()
	j.cancel()
}

func (w *Worker) run(ctx context.Context, j *job, recordingID, audioURI string) {
	defer w.wg.Done()
	defer w.finish(j, recordingID)

	timer := time.NewTimer(w.delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	start := time.Now()
	text, err := w.t.Transcribe(ctx, audioURI)
	if ctx.Err() != nil {
		w.logger.Debug("transcription abandoned", "recording_id", recordingID)
		return
	}
	if err == nil && text == "" {
		err = ErrEmptyTranscript
	}

	done := false
	patch := content.RecordingPatch{IsTranscribing: &done}
	if err != nil {
		w.logger.Warn("transcription failed",
			"recording_id", recordingID,
			"kind", KindOf(err),
			"error", err,
			"duration", time.Since(start),
		)
	} else {
		patch.Transcript = &text
		w.logger.Info("transcription complete",
			"recording_id", recordingID,
			"chars", len(text),
			"duration", time.Since(start),
		)
	}

	if w.store.UpdateRecording(recordingID, patch) == content.NotFound {
		w.logger.Debug("recording deleted before transcription finished", "recording_id", recordingID)
		return
	}
	if w.onDone != nil {
		w.onDone(recordingID, err)
	}
}
