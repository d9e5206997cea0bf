package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/earmark/internal/model"
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload Payload) error
}

// RecordingLookup resolves a recording for notification text.
type RecordingLookup interface {
	Recording(id string) (model.Recording, bool)
}

type event struct {
	recordingID string
	err         error
}

const (
	queueSize   = 64
	sendTimeout = 15 * time.Second
)

// Notifier tells every registered device when a background transcription
// finishes. Events are queued and delivered from a single goroutine so the
// transcription worker never waits on a push service.
type Notifier struct {
	mu         sync.RWMutex
	sender     Sender
	registry   *Registry
	recordings RecordingLookup
	queue      chan event
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

func NewNotifier(sender Sender, registry *Registry, recordings RecordingLookup, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		registry:   registry,
		recordings: recordings,
		queue:      make(chan event, queueSize),
		logger:     logger.With("component", "push"),
	}
}

func (n *Notifier) Registry() *Registry {
	return n.registry
}

// TranscriptionDone queues a notification. It never blocks; events are dropped
// when the queue is full.
func (n *Notifier) TranscriptionDone(recordingID string, err error) {
	select {
	case n.queue <- event{recordingID: recordingID, err: err}:
	default:
		n.logger.Warn("push queue full, dropping notification", "recording_id", recordingID)
	}
}

// Start begins delivering queued notifications.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-n.queue:
				n.deliver(ctx, ev)
			}
		}
	}()
}

// Stop gracefully stops delivery. Undelivered events are discarded.
func (n *Notifier) Stop() {
	n.mu.RLock()
	cancel := n.cancel
	done := n.done
	n.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (n *Notifier) deliver(ctx context.Context, ev event) {
	rec, ok := n.recordings.Recording(ev.recordingID)
	if !ok {
		return
	}
	payload := Payload{
		Title: "Transcript ready",
		Body:  rec.Title,
		URL:   "/recordings/" + rec.ID,
		Tag:   "transcription-" + rec.ID,
	}
	if ev.err != nil {
		payload.Title = "Transcription failed"
		payload.Body = "Couldn't transcribe " + rec.Title + ". Try again from the recording."
	}
	for _, sub := range n.registry.All() {
		n.sendOne(ctx, sub, payload)
	}
}

// SendToUser delivers payload to every device of userID and reports how many
// accepted it.
func (n *Notifier) SendToUser(ctx context.Context, userID string, payload Payload) int {
	sent := 0
	for _, sub := range n.registry.ListByUser(userID) {
		if n.sendOne(ctx, sub, payload) {
			sent++
		}
	}
	return sent
}

func (n *Notifier) sendOne(ctx context.Context, sub model.PushSubscription, payload Payload) bool {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err := n.sender.Send(ctx, sub, payload)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrExpired):
		n.logger.Info("removing expired push subscription", "subscription_id", sub.ID)
		n.registry.RemoveEndpoint(sub.Endpoint)
	default:
		n.logger.Warn("send push notification", "subscription_id", sub.ID, "error", err)
	}
	return false
}
