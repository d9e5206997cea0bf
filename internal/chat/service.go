// Package chat keeps per-item chat sessions in sync with the content store
// and the LLM backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/model"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSendInProgress  = errors.New("a message is already being sent in this session")
	ErrCompletion      = errors.New("chat completion failed")
	ErrNoContent       = errors.New("item has no content to summarize")
	ErrAlreadyComplete = errors.New("send already completed")
	ErrChatDenied      = errors.New("chat not allowed on current plan")
)

// DeniedError carries the plan decision that blocked a send.
type DeniedError struct {
	Decision entitlement.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrChatDenied, e.Decision.Reason)
}

func (e *DeniedError) Unwrap() error {
	return ErrChatDenied
}

// Completer is a stateless single-turn completion backend.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Gate decides which items may be discussed.
type Gate interface {
	CanUseAIChat(itemID string) entitlement.Decision
	SetChatProject(itemID string, itemType model.ItemType) bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

type Service struct {
	store  *content.Store
	gate   Gate
	llm    Completer
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]bool
}

func NewService(store *content.Store, gate Gate, llm Completer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		gate:     gate,
		llm:      llm,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.With("component", "chat"),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenResult carries the active session, or a denial when the plan does not
// allow chatting about the item.
type OpenResult struct {
	Session  model.ChatSession
	Decision entitlement.Decision
}

// resolve loads the item a session is anchored to.
func (s *Service) resolve(itemType model.ItemType, itemID string) (Item, bool) {
	switch itemType {
	case model.ItemTypeRecording:
		r, ok := s.store.Recording(itemID)
		if !ok {
			return Item{}, false
		}
		return Item{ID: r.ID, Type: itemType, Title: r.Title, Content: deref(r.Transcript)}, true
	case model.ItemTypeDocument:
		d, ok := s.store.Document(itemID)
		if !ok {
			return Item{}, false
		}
		return Item{ID: d.ID, Type: itemType, Title: d.Name, Content: deref(d.Transcript)}, true
	}
	return Item{}, false
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Open returns the session for the item, creating it on first use. A new
// session for an item without usable content starts with a guidance message.
func (s *Service) Open(itemType model.ItemType, itemID string) (OpenResult, error) {
	item, ok := s.resolve(itemType, itemID)
	if !ok {
		return OpenResult{}, fmt.Errorf("open chat for %s %s: %w", itemType, itemID, ErrItemNotFound)
	}

	if d := s.gate.CanUseAIChat(itemID); !d.Allowed {
		return OpenResult{Decision: d}, nil
	}
	if !s.gate.SetChatProject(itemID, itemType) {
		return OpenResult{Decision: s.gate.CanUseAIChat(itemID)}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.store.FindSessionByRelatedItem(itemID); ok {
		return OpenResult{Session: existing, Decision: entitlement.Decision{Allowed: true}}, nil
	}

	now := s.now()
	session := model.ChatSession{
		ID:              s.newID(),
		Title:           item.Title,
		Messages:        []model.ChatMessage{},
		CreatedAt:       now,
		UpdatedAt:       now,
		RelatedItemID:   itemID,
		RelatedItemType: itemType,
	}
	if item.Placeholder() {
		session.Messages = append(session.Messages, model.ChatMessage{
			ID:            s.newID(),
			Role:          model.RoleAssistant,
			Content:       guidanceMessage(item),
			Timestamp:     now,
			RelatedItemID: itemID,
		})
	}
	if err := s.store.CreateSession(session); err != nil {
		return OpenResult{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created", "session_id", session.ID, "item_type", itemType, "item_id", itemID, "seeded", item.Placeholder())
	return OpenResult{Session: session, Decision: entitlement.Decision{Allowed: true}}, nil
}

// OpenGeneral returns the conversation that is not bound to any item.
func (s *Service) OpenGeneral() (model.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.store.Session(model.GeneralSessionID); ok {
		return cs, nil
	}

	now := s.now()
	session := model.ChatSession{
		ID:        model.GeneralSessionID,
		Title:     "General chat",
		Messages:  []model.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(session); err != nil {
		return model.ChatSession{}, fmt.Errorf("create general session: %w", err)
	}
	return session, nil
}

func (s *Service) release(sessionID string) {
	s.mu.Lock()
	delete(s.inflight, sessionID)
	s.mu.Unlock()
}

// Begin appends the user's message and returns a pending send. Only one send
// per session may be outstanding; different sessions send independently.
func (s *Service) Begin(sessionID, text string) (*Pending, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.inflight[sessionID] {
		s.mu.Unlock()
		return nil, ErrSendInProgress
	}
	session, ok := s.store.Session(sessionID)
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	// Sessions opened under an earlier plan are re-checked on every send.
	if session.RelatedItemID != "" && s.gate != nil &&
		!s.gate.SetChatProject(session.RelatedItemID, session.RelatedItemType) {
		s.mu.Unlock()
		return nil, &DeniedError{Decision: s.gate.CanUseAIChat(session.RelatedItemID)}
	}
	s.inflight[sessionID] = true
	s.mu.Unlock()

	msg := model.ChatMessage{
		ID:            s.newID(),
		Role:          model.RoleUser,
		Content:       text,
		Timestamp:     s.now(),
		RelatedItemID: session.RelatedItemID,
	}
	if s.store.AppendMessage(sessionID, msg) == content.NotFound {
		s.release(sessionID)
		return nil, ErrSessionNotFound
	}

	view := session.Clone()
	view.Messages = append(view.Messages, msg)
	view.UpdatedAt = msg.Timestamp

	return &Pending{svc: s, sessionID: sessionID, view: view, question: msg}, nil
}

// Send runs both phases of a send and returns the reconciled session.
func (s *Service) Send(ctx context.Context, sessionID, text string) (model.ChatSession, error) {
	p, err := s.Begin(sessionID, text)
	if err != nil {
		return model.ChatSession{}, err
	}
	return p.Complete(ctx)
}

// Pending is a user message that has been appended but not yet answered.
type Pending struct {
	svc       *Service
	sessionID string
	view      model.ChatSession
	question  model.ChatMessage

	mu   sync.Mutex
	done bool
}

// View returns the optimistic session: what the store held when the send
// began plus the user's new message.
func (p *Pending) View() model.ChatSession {
	return p.view.Clone()
}

// Message returns the appended user message.
func (p *Pending) Message() model.ChatMessage {
	return p.question
}

// Complete asks the backend for a reply, appends it, and returns the session
// re-read from the store. On failure the user's message stays in place and
// the returned session reflects the store without a reply.
func (p *Pending) Complete(ctx context.Context) (model.ChatSession, error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return model.ChatSession{}, ErrAlreadyComplete
	}
	p.done = true
	p.mu.Unlock()

	s := p.svc
	defer s.release(p.sessionID)

	in := PromptInput{
		History:  p.view.Messages[:len(p.view.Messages)-1],
		Question: p.question.Content,
	}
	if p.view.RelatedItemID != "" {
		if item, ok := s.resolve(p.view.RelatedItemType, p.view.RelatedItemID); ok {
			in.Item = &item
		}
	}

	start := time.Now()
	reply, err := s.llm.Complete(ctx, BuildPrompt(in))
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		s.logger.Warn("completion failed", "session_id", p.sessionID, "error", err, "duration", time.Since(start))
		current, _ := s.store.Session(p.sessionID)
		return current, fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	answer := model.ChatMessage{
		ID:            s.newID(),
		Role:          model.RoleAssistant,
		Content:       strings.TrimSpace(reply),
		Timestamp:     s.now(),
		RelatedItemID: p.view.RelatedItemID,
	}
	if s.store.AppendMessage(p.sessionID, answer) == content.NotFound {
		return model.ChatSession{}, ErrSessionNotFound
	}

	current, ok := s.store.Session(p.sessionID)
	if !ok {
		return model.ChatSession{}, ErrSessionNotFound
	}
	s.logger.Debug("completion appended", "session_id", p.sessionID, "duration", time.Since(start))
	return current, nil
}

// Summarize generates a summary for the item and stores it on the item.
func (s *Service) Summarize(ctx context.Context, itemType model.ItemType, itemID string) (string, error) {
	item, ok := s.resolve(itemType, itemID)
	if !ok {
		return "", fmt.Errorf("summarize %s %s: %w", itemType, itemID, ErrItemNotFound)
	}
	if item.Placeholder() {
		return "", ErrNoContent
	}

	summary, err := s.llm.Complete(ctx, SummaryPrompt(item))
	if err != nil {
		s.logger.Warn("summary failed", "item_type", itemType, "item_id", itemID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		s.logger.Warn("summary failed", "item_type", itemType, "item_id", itemID, "error", "empty reply")
		return "", fmt.Errorf("%w: empty reply", ErrCompletion)
	}

	var res content.UpdateResult
	if itemType == model.ItemTypeRecording {
		res = s.store.UpdateRecording(itemID, content.RecordingPatch{Summary: &summary})
	} else {
		res = s.store.UpdateDocument(itemID, content.DocumentPatch{Summary: &summary})
	}
	if res == content.NotFound {
		return "", fmt.Errorf("summarize %s %s: %w", itemType, itemID, ErrItemNotFound)
	}
	return summary, nil
}
