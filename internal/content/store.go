// Package content owns the recording, document and chat-session collections.
// Every mutation is mirrored to durable storage under a single key.
package content

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

var (
	ErrDuplicateID = errors.New("duplicate id")
	ErrMissingID   = errors.New("missing id")
)

// UpdateResult reports whether a mutation found its target.
type UpdateResult int

const (
	NotFound UpdateResult = iota
	Updated
)

func (r UpdateResult) String() string {
	if r == Updated {
		return "updated"
	}
	return "not_found"
}

// Entity names used in change notifications.
const (
	EntityRecording = "recording"
	EntityDocument  = "document"
	EntitySession   = "chat_session"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Change describes one committed mutation.
type Change struct {
	Entity string
	Action string
	ID     string
}

// Persister is the durable storage the store mirrors to.
type Persister interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
}

// snapshot is the persisted form of the store.
type snapshot struct {
	Recordings []model.Recording   `json:"recordings"`
	Documents  []model.Document    `json:"documents"`
	Sessions   []model.ChatSession `json:"chat_sessions"`
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOnChange registers fn to be called after each committed mutation.
// fn runs outside the store lock.
func WithOnChange(fn func(Change)) Option {
	return func(s *Store) { s.onChange = fn }
}

type Store struct {
	mu         sync.Mutex
	recordings []model.Recording
	documents  []model.Document
	sessions   []model.ChatSession

	kv       Persister
	now      func() time.Time
	onChange func(Change)
	logger   *slog.Logger
}

// New creates an empty store. kv may be nil for an in-memory store.
func New(kv Persister, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores persisted collections. In-flight flags left by an interrupted
// process are cleared, since no transcription or extraction survives a restart.
func (s *Store) Load() error {
	if s.kv == nil {
		return nil
	}
	var snap snapshot
	found, err := s.kv.Load(store.KeyContent, &snap)
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}
	if !found {
		return nil
	}

	stale := 0
	for i := range snap.Recordings {
		if snap.Recordings[i].IsTranscribing {
			snap.Recordings[i].IsTranscribing = false
			stale++
		}
	}
	for i := range snap.Documents {
		if snap.Documents[i].IsProcessing {
			snap.Documents[i].IsProcessing = false
			stale++
		}
	}

	s.mu.Lock()
	s.recordings = snap.Recordings
	s.documents = snap.Documents
	s.sessions = snap.Sessions
	s.mu.Unlock()

	s.logger.Info("content loaded",
		"recordings", len(snap.Recordings),
		"documents", len(snap.Documents),
		"sessions", len(snap.Sessions),
		"cleared_flags", stale,
	)
	return nil
}

// persist mirrors the collections to durable storage. Caller holds s.mu.
func (s *Store) persist() {
	if s.kv == nil {
		return
	}
	snap := snapshot{
		Recordings: make([]model.Recording, 0, len(s.recordings)),
		Documents:  make([]model.Document, 0, len(s.documents)),
		Sessions:   make([]model.ChatSession, 0, len(s.sessions)),
	}
	for _, r := range s.recordings {
		snap.Recordings = append(snap.Recordings, r.Clone())
	}
	for _, d := range s.documents {
		snap.Documents = append(snap.Documents, d.Clone())
	}
	for _, cs := range s.sessions {
		snap.Sessions = append(snap.Sessions, cs.Clone())
	}
	if err := s.kv.Save(store.KeyContent, snap); err != nil {
		s.logger.Error("persist content", "error", err)
	}
}

func (s *Store) notify(changes ...Change) {
	if s.onChange == nil {
		return
	}
	for _, c := range changes {
		s.onChange(c)
	}
}

// removeSessionsFor drops every session related to itemID and returns their
// ids. Caller holds s.mu.
func (s *Store) removeSessionsFor(itemID string) []string {
	var removed []string
	kept := s.sessions[:0]
	for _, cs := range s.sessions {
		if cs.RelatedItemID == itemID {
			removed = append(removed, cs.ID)
			continue
		}
		kept = append(kept, cs)
	}
	s.sessions = kept
	return removed
}

func (s *Store) cascade(entity, id string, sessionIDs []string) []Change {
	changes := []Change{{Entity: entity, Action: ActionDeleted, ID: id}}
	for _, sid := range sessionIDs {
		changes = append(changes, Change{Entity: EntitySession, Action: ActionDeleted, ID: sid})
	}
	return changes
}

// sortNewestFirst orders by creation time, most recent first, with id as a
// tiebreaker so listings are deterministic.
func sortNewestFirst[T any](items []T, created func(T) time.Time, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return id(items[i]) < id(items[j])
	})
}
