package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/extract"
	"github.com/dukerupert/earmark/internal/model"
)

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
	err       error
}

func (f *fakeScheduler) Schedule(id, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, id)
	return nil
}

func (f *fakeScheduler) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

type fakeExtractor struct {
	result extract.Result
	got    extract.Source
}

func (f *fakeExtractor) Extract(ctx context.Context, src extract.Source) extract.Result {
	f.got = src
	return f.result
}

type fixture struct {
	engine    *entitlement.Engine
	store     *content.Store
	worker    *fakeScheduler
	extractor *fakeExtractor
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	n := 0
	ids := func() string { n++; return fmt.Sprintf("id-%d", n) }

	f := &fixture{
		engine:    entitlement.New(nil, logger, entitlement.WithClock(clock)),
		store:     content.New(nil, logger),
		worker:    &fakeScheduler{},
		extractor: &fakeExtractor{result: extract.Result{Text: strings.Repeat("useful text ", 10), Success: true}},
	}
	f.svc = NewService(f.engine, f.store, f.worker, f.extractor, logger, WithClock(clock), WithIDGenerator(ids))
	return f
}

func TestFinishRecordingSchedulesTranscription(t *testing.T) {
	f := newFixture(t)

	rec, d, err := f.svc.FinishRecording(FinishedRecording{URI: "file:///a.m4a", Duration: 90})
	if err != nil {
		t.Fatalf("finish recording: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("denied: %s", d.Reason)
	}
	if !rec.IsTranscribing {
		t.Error("expected new recording to be transcribing")
	}
	if rec.Title != "Recording Mar 14, 9:00 AM" {
		t.Errorf("title = %q", rec.Title)
	}
	if len(f.worker.scheduled) != 1 || f.worker.scheduled[0] != rec.ID {
		t.Errorf("scheduled = %v, want [%s]", f.worker.scheduled, rec.ID)
	}
	if u := f.engine.TodayUsage(); u.RecordingsCount != 1 || u.RecordingDuration != 90 {
		t.Errorf("usage = %+v", u)
	}
}

func TestFinishRecordingDailyLimit(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		if _, d, _ := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: 10}); !d.Allowed {
			t.Fatalf("recording %d denied", i+1)
		}
	}
	_, d, err := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: 10})
	if err != nil {
		t.Fatalf("finish recording: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected fourth recording to be denied")
	}
	if n := len(f.store.Recordings()); n != 3 {
		t.Errorf("recordings = %d, want 3", n)
	}
	if s := f.svc.StartRecording(); s.Allowed {
		t.Error("expected start recording to be denied")
	}
}

func TestFinishRecordingTooLong(t *testing.T) {
	f := newFixture(t)

	_, d, _ := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: 601})
	if d.Allowed {
		t.Fatal("expected long recording to be denied")
	}
	if !strings.Contains(d.Reason, "10 minutes") {
		t.Errorf("reason = %q, want mention of 10 minutes", d.Reason)
	}
}

func TestFinishRecordingNegativeDuration(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: -5})
	if !errors.Is(err, ErrBadDuration) {
		t.Fatalf("err = %v, want ErrBadDuration", err)
	}
	if got := f.engine.TodayUsage().RecordingsCount; got != 0 {
		t.Errorf("recordings count = %d, want 0", got)
	}
	if n := len(f.store.Recordings()); n != 0 {
		t.Errorf("stored recordings = %d, want 0", n)
	}
}

func TestFinishRecordingScheduleFailure(t *testing.T) {
	f := newFixture(t)
	f.worker.err = errors.New("stopped")

	rec, _, err := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: 5})
	if err != nil {
		t.Fatalf("finish recording: %v", err)
	}
	stored, _ := f.store.Recording(rec.ID)
	if stored.IsTranscribing {
		t.Error("expected transcribing flag cleared when scheduling fails")
	}
}

func TestDeleteRecordingCancelsTranscription(t *testing.T) {
	f := newFixture(t)
	rec, _, _ := f.svc.FinishRecording(FinishedRecording{URI: "a.m4a", Duration: 5})

	if res := f.svc.DeleteRecording(rec.ID); res != content.Updated {
		t.Errorf("result = %v, want %v", res, content.Updated)
	}
	if len(f.worker.cancelled) != 1 || f.worker.cancelled[0] != rec.ID {
		t.Errorf("cancelled = %v", f.worker.cancelled)
	}
}

func TestRetranscribe(t *testing.T) {
	f := newFixture(t)
	f.store.AddRecording(model.Recording{ID: "r1", URI: "a.m4a"})

	rec, err := f.svc.Retranscribe("r1")
	if err != nil {
		t.Fatalf("retranscribe: %v", err)
	}
	if !rec.IsTranscribing {
		t.Error("expected transcribing flag set")
	}
	if _, err := f.svc.Retranscribe("r1"); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if _, err := f.svc.Retranscribe("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestImportDocument(t *testing.T) {
	f := newFixture(t)

	doc, d, err := f.svc.ImportDocument(context.Background(), DocumentImport{Name: "plan.pdf", MimeType: "application/pdf", Data: []byte("%PDF")})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("denied: %s", d.Reason)
	}
	if doc.Type != model.DocumentTypePDF {
		t.Errorf("type = %q, want %q", doc.Type, model.DocumentTypePDF)
	}
	if doc.IsProcessing {
		t.Error("expected processing flag cleared")
	}
	if doc.Transcript == nil || *doc.Transcript != f.extractor.result.Text {
		t.Errorf("transcript = %v", doc.Transcript)
	}
	if f.extractor.got.Name != "plan.pdf" {
		t.Errorf("extract name = %q", f.extractor.got.Name)
	}
	if n := f.engine.State().TotalDocuments; n != 1 {
		t.Errorf("total documents = %d, want 1", n)
	}
}

func TestImportDocumentFreeLimitSurvivesDelete(t *testing.T) {
	f := newFixture(t)

	doc, _, _ := f.svc.ImportDocument(context.Background(), DocumentImport{Name: "a.txt", MimeType: "text/plain", Data: []byte("a")})
	if res := f.svc.DeleteDocument(doc.ID); res != content.Updated {
		t.Fatalf("delete = %v", res)
	}

	_, d, err := f.svc.ImportDocument(context.Background(), DocumentImport{Name: "b.txt", MimeType: "text/plain", Data: []byte("b")})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if d.Allowed {
		t.Error("expected second document denied on free plan after delete")
	}
	if n := len(f.store.Documents()); n != 0 {
		t.Errorf("documents = %d, want 0", n)
	}
}

func TestImportDocumentPaidDeleteFreesSlot(t *testing.T) {
	f := newFixture(t)
	f.engine.UpgradePlan(model.PlanPro)

	doc, _, _ := f.svc.ImportDocument(context.Background(), DocumentImport{Name: "a.txt", Data: []byte("a")})
	f.svc.DeleteDocument(doc.ID)

	if n := f.engine.State().TotalDocuments; n != 0 {
		t.Errorf("total documents = %d, want 0", n)
	}
}

func TestImportURLKeepsPlaceholderOnFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.result = extract.Result{Text: "[Video transcript unavailable for x.]", Error: "unsupported"}

	doc, d, err := f.svc.ImportDocument(context.Background(), DocumentImport{URL: "https://youtu.be/abc"})
	if err != nil || !d.Allowed {
		t.Fatalf("import: %v %s", err, d.Reason)
	}
	if doc.Type != model.DocumentTypeYouTube {
		t.Errorf("type = %q", doc.Type)
	}
	if doc.URI != "https://youtu.be/abc" {
		t.Errorf("uri = %q", doc.URI)
	}
	if doc.Transcript == nil || !extract.IsPlaceholder(*doc.Transcript) {
		t.Errorf("transcript = %v, want placeholder", doc.Transcript)
	}
}

func TestImportDocumentEmpty(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.svc.ImportDocument(context.Background(), DocumentImport{Name: "x"}); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	transcript := "hello world"
	f.store.AddRecording(model.Recording{ID: "r1", Title: "Memo", Transcript: &transcript})

	out, d, err := f.svc.Export(model.ItemTypeRecording, "r1", "txt")
	if err != nil || !d.Allowed {
		t.Fatalf("export: %v %s", err, d.Reason)
	}
	if out.Filename != "Memo.txt" {
		t.Errorf("filename = %q", out.Filename)
	}
	if !strings.Contains(string(out.Data), "hello world") {
		t.Errorf("data = %q", out.Data)
	}

	_, d, _ = f.svc.Export(model.ItemTypeRecording, "r1", "pdf")
	if d.Allowed {
		t.Error("expected pdf export denied on free plan")
	}

	if _, _, err := f.svc.Export(model.ItemTypeDocument, "nope", "txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
