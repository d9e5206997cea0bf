// Package library carries out user actions that span the entitlement engine,
// the content store and background work.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/export"
	"github.com/dukerupert/earmark/internal/extract"
	"github.com/dukerupert/earmark/internal/model"
)

var (
	ErrNotFound      = errors.New("item not found")
	ErrMissingAudio  = errors.New("recording has no audio uri")
	ErrBadDuration   = errors.New("recording duration must not be negative")
	ErrEmptyDocument = errors.New("document has no content or url")
	ErrBusy          = errors.New("transcription already running")
)

// Scheduler runs background transcription.
type Scheduler interface {
	Schedule(recordingID, audioURI string) error
	Cancel(recordingID string)
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

type Service struct {
	engine    *entitlement.Engine
	store     *content.Store
	worker    Scheduler
	extractor extract.Extractor
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

func NewService(engine *entitlement.Engine, store *content.Store, worker Scheduler, extractor extract.Extractor, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		engine:    engine,
		store:     store,
		worker:    worker,
		extractor: extractor,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger.With("component", "library"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRecording reports whether a new recording may begin.
func (s *Service) StartRecording() entitlement.Decision {
	return s.engine.CanRecord()
}

// MaxRecordingDuration is the longest recording the plan accepts, in
// seconds, or model.Unlimited.
func (s *Service) MaxRecordingDuration() int {
	return s.engine.MaxRecordingDuration()
}

type FinishedRecording struct {
	Title    string `json:"title"`
	URI      string `json:"uri"`
	Duration int    `json:"duration"`
}

// FinishRecording accounts for the recording, stores it, and schedules its
// transcription without waiting for it.
func (s *Service) FinishRecording(fr FinishedRecording) (model.Recording, entitlement.Decision, error) {
	if fr.URI == "" {
		return model.Recording{}, entitlement.Decision{}, ErrMissingAudio
	}
	if fr.Duration < 0 {
		return model.Recording{}, entitlement.Decision{}, ErrBadDuration
	}

	if !s.engine.RecordUsage(fr.Duration) {
		d := s.engine.CanRecord()
		if d.Allowed {
			max := s.engine.MaxRecordingDuration()
			d = entitlement.Decision{Reason: fmt.Sprintf("Recordings on your plan are limited to %d minutes. Upgrade for longer recordings.", max/60)}
		}
		return model.Recording{}, d, nil
	}

	now := s.now()
	title := strings.TrimSpace(fr.Title)
	if title == "" {
		title = "Recording " + now.Format("Jan 2, 3:04 PM")
	}
	rec := model.Recording{
		ID:             s.newID(),
		Title:          title,
		URI:            fr.URI,
		Duration:       fr.Duration,
		CreatedAt:      now,
		IsTranscribing: true,
	}
	if err := s.store.AddRecording(rec); err != nil {
		return model.Recording{}, entitlement.Decision{}, fmt.Errorf("finish recording: %w", err)
	}

	if err := s.worker.Schedule(rec.ID, rec.URI); err != nil {
		s.logger.Error("schedule transcription", "recording_id", rec.ID, "error", err)
		done := false
		s.store.UpdateRecording(rec.ID, content.RecordingPatch{IsTranscribing: &done})
		rec.IsTranscribing = false
	}

	s.logger.Info("recording created", "recording_id", rec.ID, "duration", rec.Duration)
	return rec, entitlement.Decision{Allowed: true}, nil
}

// Retranscribe schedules a new transcription for a recording whose previous
// attempt failed.
func (s *Service) Retranscribe(id string) (model.Recording, error) {
	rec, ok := s.store.Recording(id)
	if !ok {
		return model.Recording{}, ErrNotFound
	}
	if rec.IsTranscribing {
		return rec, ErrBusy
	}

	busy := true
	s.store.UpdateRecording(id, content.RecordingPatch{IsTranscribing: &busy})
	if err := s.worker.Schedule(id, rec.URI); err != nil {
		busy = false
		s.store.UpdateRecording(id, content.RecordingPatch{IsTranscribing: &busy})
		return rec, fmt.Errorf("retranscribe: %w", err)
	}
	rec, _ = s.store.Recording(id)
	return rec, nil
}

// DeleteRecording abandons any running transcription, then removes the
// recording and its chat sessions.
func (s *Service) DeleteRecording(id string) content.UpdateResult {
	s.worker.Cancel(id)
	return s.store.DeleteRecording(id)
}

type DocumentImport struct {
	Name     string
	MimeType string
	Data     []byte
	URL      string
}

func documentType(in DocumentImport) model.DocumentType {
	if in.URL != "" {
		if extract.IsYouTube(in.URL) {
			return model.DocumentTypeYouTube
		}
		return model.DocumentTypeWeb
	}
	switch in.MimeType {
	case "application/pdf":
		return model.DocumentTypePDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/msword":
		return model.DocumentTypeDOCX
	}
	return model.DocumentTypeText
}

// ImportDocument stores a document and extracts its text. Extraction failure
// still keeps the document, with placeholder content.
func (s *Service) ImportDocument(ctx context.Context, in DocumentImport) (model.Document, entitlement.Decision, error) {
	if in.URL == "" && len(in.Data) == 0 {
		return model.Document{}, entitlement.Decision{}, ErrEmptyDocument
	}
	if d := s.engine.CanAddDocument(); !d.Allowed {
		return model.Document{}, d, nil
	}

	name := strings.TrimSpace(in.Name)
	uri := in.URL
	if uri == "" {
		uri = "upload://" + path.Base(name)
	}
	if name == "" {
		name = uri
	}

	doc := model.Document{
		ID:           s.newID(),
		Name:         name,
		URI:          uri,
		Type:         documentType(in),
		CreatedAt:    s.now(),
		IsProcessing: true,
	}
	if err := s.store.AddDocument(doc); err != nil {
		return model.Document{}, entitlement.Decision{}, fmt.Errorf("import document: %w", err)
	}
	if !s.engine.AddDocumentUsage() {
		s.store.DeleteDocument(doc.ID)
		return model.Document{}, s.engine.CanAddDocument(), nil
	}

	res := s.extractor.Extract(ctx, extract.Source{Name: name, MimeType: in.MimeType, Data: in.Data, URL: in.URL})
	if !res.Success {
		s.logger.Warn("document extraction failed", "document_id", doc.ID, "type", doc.Type, "error", res.Error)
	}
	done := false
	s.store.UpdateDocument(doc.ID, content.DocumentPatch{Transcript: &res.Text, IsProcessing: &done})

	updated, ok := s.store.Document(doc.ID)
	if !ok {
		return model.Document{}, entitlement.Decision{}, ErrNotFound
	}
	s.logger.Info("document imported", "document_id", doc.ID, "type", doc.Type, "extracted", res.Success)
	return updated, entitlement.Decision{Allowed: true}, nil
}

// DeleteDocument removes the document and its sessions. Paid plans get the
// slot back; the free plan does not.
func (s *Service) DeleteDocument(id string) content.UpdateResult {
	res := s.store.DeleteDocument(id)
	if res == content.Updated {
		s.engine.RemoveDocumentUsage()
	}
	return res
}

// Exported is a rendered download.
type Exported struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (s *Service) Export(itemType model.ItemType, id, format string) (*Exported, entitlement.Decision, error) {
	if d := s.engine.CanExport(format); !d.Allowed {
		return nil, d, nil
	}

	var it export.Item
	switch itemType {
	case model.ItemTypeRecording:
		r, ok := s.store.Recording(id)
		if !ok {
			return nil, entitlement.Decision{}, ErrNotFound
		}
		it = export.FromRecording(r)
	case model.ItemTypeDocument:
		d, ok := s.store.Document(id)
		if !ok {
			return nil, entitlement.Decision{}, ErrNotFound
		}
		it = export.FromDocument(d)
	default:
		return nil, entitlement.Decision{}, ErrNotFound
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, format, it); err != nil {
		return nil, entitlement.Decision{}, fmt.Errorf("export %s: %w", id, err)
	}
	return &Exported{
		Filename:    export.Filename(it, format),
		ContentType: export.ContentType(format),
		Data:        buf.Bytes(),
	}, entitlement.Decision{Allowed: true}, nil
}
