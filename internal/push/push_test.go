package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/earmark/internal/database"
	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGenerateVAPIDKeys(t *testing.T) {
	pub, priv, err := GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate VAPID keys: %v", err)
	}

	// Public key should be base64url-encoded, 65 bytes uncompressed P-256 point
	pubBytes, err := base64.RawURLEncoding.DecodeString(pub)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	if len(pubBytes) != 65 {
		t.Errorf("public key length = %d, want 65", len(pubBytes))
	}

	privBytes, err := base64.RawURLEncoding.DecodeString(priv)
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if len(privBytes) != 32 {
		t.Errorf("private key length = %d, want 32", len(privBytes))
	}

	pub2, _, _ := GenerateVAPIDKeys()
	if pub == pub2 {
		t.Error("expected different keys on second generation")
	}
}

// browserSubscription returns a subscription with valid client keys pointing
// at endpoint.
func browserSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	secret := make([]byte, 16)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	return model.PushSubscription{
		Endpoint:  endpoint,
		P256dhKey: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		AuthKey:   base64.RawURLEncoding.EncodeToString(secret),
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	pub, priv, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewService(Config{VAPIDPublicKey: pub, VAPIDPrivateKey: priv})
}

func TestServiceSend(t *testing.T) {
	var gotAuth, gotEncoding, gotTTL string
	var bodyLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotTTL = r.Header.Get("TTL")
		body, _ := io.ReadAll(r.Body)
		bodyLen = len(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	svc := newTestService(t)
	err := svc.Send(context.Background(), browserSubscription(t, srv.URL), Payload{Title: "Transcript ready", Body: "Standup"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotAuth, "vapid "), "authorization = %q", gotAuth)
	assert.Equal(t, "aes128gcm", gotEncoding)
	assert.Equal(t, "86400", gotTTL)
	assert.Greater(t, bodyLen, 0)
}

func TestServiceSendGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	svc := newTestService(t)
	err := svc.Send(context.Background(), browserSubscription(t, srv.URL), Payload{Title: "x"})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestServiceSendServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestService(t)
	err := svc.Send(context.Background(), browserSubscription(t, srv.URL), Payload{Title: "x"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Contains(t, err.Error(), "500")
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{VAPIDPublicKey: "pub"}.Enabled())
	assert.True(t, Config{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv"}.Enabled())
}

func setupPushTestDB(t *testing.T) *store.KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewKVStore(db)
}

func TestRegistrySubscribePersists(t *testing.T) {
	kv := setupPushTestDB(t)
	r := NewRegistry(kv, testLogger())

	first := r.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/a", P256dhKey: "p", AuthKey: "a", DeviceName: "phone"})
	require.NotEmpty(t, first.ID)
	assert.Equal(t, "u1", first.UserID)
	r.Subscribe("u2", model.PushSubscription{Endpoint: "https://push.example/b"})

	// Same endpoint replaces rather than duplicates.
	again := r.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/a", P256dhKey: "p2", AuthKey: "a2"})
	assert.Equal(t, first.ID, again.ID)

	reloaded := NewRegistry(kv, testLogger())
	require.NoError(t, reloaded.Load())
	subs := reloaded.ListByUser("u1")
	require.Len(t, subs, 1)
	assert.Equal(t, "p2", subs[0].P256dhKey)
	assert.Len(t, reloaded.All(), 2)
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	sub := r.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/a"})

	assert.ErrorIs(t, r.Unsubscribe("u2", sub.ID), ErrSubscriptionNotFound)
	require.NoError(t, r.Unsubscribe("u1", sub.ID))
	assert.Empty(t, r.ListByUser("u1"))
	assert.ErrorIs(t, r.Unsubscribe("u1", sub.ID), ErrSubscriptionNotFound)
}

type sent struct {
	endpoint string
	payload  Payload
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	fail  map[string]error
	calls chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, sub model.PushSubscription, payload Payload) error {
	defer func() { f.calls <- struct{}{} }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sub.Endpoint]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{endpoint: sub.Endpoint, payload: payload})
	return nil
}

type recordings map[string]model.Recording

func (r recordings) Recording(id string) (model.Recording, bool) {
	rec, ok := r[id]
	return rec, ok
}

func waitCalls(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send %d of %d", i+1, n)
		}
	}
}

func TestNotifierTranscriptionDone(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	reg.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/ok"})
	reg.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/gone"})

	sender := &fakeSender{
		fail:  map[string]error{"https://push.example/gone": ErrExpired},
		calls: make(chan struct{}, 8),
	}
	recs := recordings{"r1": {ID: "r1", Title: "Standup"}}
	n := NewNotifier(sender, reg, recs, testLogger())
	n.Start(context.Background())
	defer n.Stop()

	n.TranscriptionDone("r1", nil)
	waitCalls(t, sender.calls, 2)

	n.TranscriptionDone("r1", errors.New("rate limited"))
	waitCalls(t, sender.calls, 1)

	// Unknown recordings are skipped.
	n.TranscriptionDone("missing", nil)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Transcript ready", sender.sent[0].payload.Title)
	assert.Equal(t, "Standup", sender.sent[0].payload.Body)
	assert.Equal(t, "/recordings/r1", sender.sent[0].payload.URL)
	assert.Equal(t, "Transcription failed", sender.sent[1].payload.Title)

	// The expired endpoint was pruned after the first delivery.
	subs := reg.All()
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/ok", subs[0].Endpoint)
}

func TestNotifierSendToUser(t *testing.T) {
	reg := NewRegistry(nil, testLogger())
	reg.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/a"})
	reg.Subscribe("u1", model.PushSubscription{Endpoint: "https://push.example/b"})
	reg.Subscribe("u2", model.PushSubscription{Endpoint: "https://push.example/c"})

	sender := &fakeSender{
		fail:  map[string]error{"https://push.example/b": errors.New("boom")},
		calls: make(chan struct{}, 8),
	}
	n := NewNotifier(sender, reg, recordings{}, testLogger())

	got := n.SendToUser(context.Background(), "u1", Payload{Title: "Test"})
	assert.Equal(t, 1, got)
	assert.Len(t, reg.All(), 3)
}

func TestNotifierStopWithoutStart(t *testing.T) {
	n := NewNotifier(&fakeSender{calls: make(chan struct{}, 1)}, NewRegistry(nil, testLogger()), recordings{}, testLogger())
	n.Stop()
}
