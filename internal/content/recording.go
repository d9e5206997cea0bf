package content

import (
	"fmt"
	"time"

	"github.com/dukerupert/earmark/internal/model"
)

// RecordingPatch holds the fields to change. Nil fields are left untouched.
type RecordingPatch struct {
	Title          *string
	Transcript     *string
	Summary        *string
	IsTranscribing *bool
}

func (s *Store) recordingIndex(id string) int {
	for i := range s.recordings {
		if s.recordings[i].ID == id {
			return i
		}
	}
	return -1
}

// AddRecording appends r. The caller generates the id.
func (s *Store) AddRecording(r model.Recording) error {
	if r.ID == "" {
		return fmt.Errorf("add recording: %w", ErrMissingID)
	}

	s.mu.Lock()
	if s.recordingIndex(r.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("add recording %s: %w", r.ID, ErrDuplicateID)
	}
	s.recordings = append(s.recordings, r.Clone())
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntityRecording, Action: ActionCreated, ID: r.ID})
	return nil
}

func (s *Store) Recording(id string) (model.Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.recordingIndex(id)
	if i < 0 {
		return model.Recording{}, false
	}
	return s.recordings[i].Clone(), true
}

// Recordings returns all recordings, newest first.
func (s *Store) Recordings() []model.Recording {
	s.mu.Lock()
	out := make([]model.Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		out = append(out, r.Clone())
	}
	s.mu.Unlock()

	sortNewestFirst(out,
		func(r model.Recording) time.Time { return r.CreatedAt },
		func(r model.Recording) string { return r.ID },
	)
	return out
}

// UpdateRecording merges p into the recording. A missing id is not an error:
// background work may finish after the recording was deleted.
func (s *Store) UpdateRecording(id string, p RecordingPatch) UpdateResult {
	s.mu.Lock()
	i := s.recordingIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("update on missing recording", "id", id)
		return NotFound
	}

	r := &s.recordings[i]
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Transcript != nil {
		v := *p.Transcript
		r.Transcript = &v
	}
	if p.Summary != nil {
		v := *p.Summary
		r.Summary = &v
	}
	if p.IsTranscribing != nil {
		r.IsTranscribing = *p.IsTranscribing
	}
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntityRecording, Action: ActionUpdated, ID: id})
	return Updated
}

// DeleteRecording removes the recording and every chat session related to it.
func (s *Store) DeleteRecording(id string) UpdateResult {
	s.mu.Lock()
	i := s.recordingIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return NotFound
	}
	s.recordings = append(s.recordings[:i], s.recordings[i+1:]...)
	removed := s.removeSessionsFor(id)
	s.persist()
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Info("cascade deleted sessions", "recording_id", id, "sessions", len(removed))
	}
	s.notify(s.cascade(EntityRecording, id, removed)...)
	return Updated
}
