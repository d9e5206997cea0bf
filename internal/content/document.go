package content

import (
	"fmt"
	"time"

	"github.com/dukerupert/earmark/internal/model"
)

type DocumentPatch struct {
	Name         *string
	Transcript   *string
	Summary      *string
	IsProcessing *bool
}

func (s *Store) documentIndex(id string) int {
	for i := range s.documents {
		if s.documents[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) AddDocument(d model.Document) error {
	if d.ID == "" {
		return fmt.Errorf("add document: %w", ErrMissingID)
	}

	s.mu.Lock()
	if s.documentIndex(d.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("add document %s: %w", d.ID, ErrDuplicateID)
	}
	s.documents = append(s.documents, d.Clone())
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntityDocument, Action: ActionCreated, ID: d.ID})
	return nil
}

func (s *Store) Document(id string) (model.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.documentIndex(id)
	if i < 0 {
		return model.Document{}, false
	}
	return s.documents[i].Clone(), true
}

// Documents returns all documents, newest first.
func (s *Store) Documents() []model.Document {
	s.mu.Lock()
	out := make([]model.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d.Clone())
	}
	s.mu.Unlock()

	sortNewestFirst(out,
		func(d model.Document) time.Time { return d.CreatedAt },
		func(d model.Document) string { return d.ID },
	)
	return out
}

func (s *Store) UpdateDocument(id string, p DocumentPatch) UpdateResult {
	s.mu.Lock()
	i := s.documentIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("update on missing document", "id", id)
		return NotFound
	}

	d := &s.documents[i]
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Transcript != nil {
		v := *p.Transcript
		d.Transcript = &v
	}
	if p.Summary != nil {
		v := *p.Summary
		d.Summary = &v
	}
	if p.IsProcessing != nil {
		d.IsProcessing = *p.IsProcessing
	}
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntityDocument, Action: ActionUpdated, ID: id})
	return Updated
}

// DeleteDocument removes the document and every chat session related to it.
func (s *Store) DeleteDocument(id string) UpdateResult {
	s.mu.Lock()
	i := s.documentIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return NotFound
	}
	s.documents = append(s.documents[:i], s.documents[i+1:]...)
	removed := s.removeSessionsFor(id)
	s.persist()
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Info("cascade deleted sessions", "document_id", id, "sessions", len(removed))
	}
	s.notify(s.cascade(EntityDocument, id, removed)...)
	return Updated
}
