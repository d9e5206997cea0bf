package content

import (
	"fmt"
	"sort"

	"github.com/dukerupert/earmark/internal/model"
)

type SessionPatch struct {
	Title *string
}

func (s *Store) sessionIndex(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateSession appends cs. Uniqueness per related item is the caller's
// concern; check FindSessionByRelatedItem first.
func (s *Store) CreateSession(cs model.ChatSession) error {
	if cs.ID == "" {
		return fmt.Errorf("create session: %w", ErrMissingID)
	}

	s.mu.Lock()
	if s.sessionIndex(cs.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("create session %s: %w", cs.ID, ErrDuplicateID)
	}
	c := cs.Clone()
	if c.Messages == nil {
		c.Messages = []model.ChatMessage{}
	}
	s.sessions = append(s.sessions, c)
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntitySession, Action: ActionCreated, ID: cs.ID})
	return nil
}

func (s *Store) Session(id string) (model.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.sessionIndex(id)
	if i < 0 {
		return model.ChatSession{}, false
	}
	return s.sessions[i].Clone(), true
}

// Sessions returns all sessions, most recently updated first.
func (s *Store) Sessions() []model.ChatSession {
	s.mu.Lock()
	out := make([]model.ChatSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		out = append(out, cs.Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// AppendMessage adds msg to the end of the session and refreshes UpdatedAt.
// A missing session is never fabricated.
func (s *Store) AppendMessage(sessionID string, msg model.ChatMessage) UpdateResult {
	s.mu.Lock()
	i := s.sessionIndex(sessionID)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Warn("append to missing session", "session_id", sessionID, "message_id", msg.ID)
		return NotFound
	}
	cs := &s.sessions[i]
	cs.Messages = append(cs.Messages, msg)
	cs.UpdatedAt = s.now()
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntitySession, Action: ActionUpdated, ID: sessionID})
	return Updated
}

func (s *Store) UpdateSession(id string, p SessionPatch) UpdateResult {
	s.mu.Lock()
	i := s.sessionIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("update on missing session", "id", id)
		return NotFound
	}
	cs := &s.sessions[i]
	if p.Title != nil {
		cs.Title = *p.Title
	}
	cs.UpdatedAt = s.now()
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntitySession, Action: ActionUpdated, ID: id})
	return Updated
}

func (s *Store) DeleteSession(id string) UpdateResult {
	s.mu.Lock()
	i := s.sessionIndex(id)
	if i < 0 {
		s.mu.Unlock()
		return NotFound
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	s.persist()
	s.mu.Unlock()

	s.notify(Change{Entity: EntitySession, Action: ActionDeleted, ID: id})
	return Updated
}

// FindSessionByRelatedItem returns the first session, in creation order,
// whose related item is itemID.
func (s *Store) FindSessionByRelatedItem(itemID string) (model.ChatSession, bool) {
	if itemID == "" {
		return model.ChatSession{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cs := range s.sessions {
		if cs.RelatedItemID == itemID {
			return cs.Clone(), true
		}
	}
	return model.ChatSession{}, false
}
