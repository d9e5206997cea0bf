package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/earmark/internal/database"
	"github.com/dukerupert/earmark/internal/store"
)

type mockObject struct {
	data     []byte
	modified time.Time
}

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string]mockObject
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string]mockObject)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = mockObject{data: data, modified: time.Now()}
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(input.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		obj := m.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modified),
		})
	}
	return out, nil
}

func (m *mockS3Client) age(key string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := m.objects[key]
	obj.modified = obj.modified.Add(-d)
	m.objects[key] = obj
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupBackupTestDB(t *testing.T) *store.KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewKVStore(db)
}

func newTestManager(t *testing.T, kv Snapshotter, reload func() error) (*Manager, *mockS3Client) {
	t.Helper()
	m := NewManager(Config{}, kv, reload, nil, testLogger())
	mock := newMockS3()
	m.client = mock
	m.cfg.S3.Bucket = "test"
	m.status.State = StateIdle
	return m, mock
}

func TestManagerStateLifecycle(t *testing.T) {
	m := NewManager(Config{}, nil, nil, nil, testLogger())
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if _, err := m.RunNow(context.Background(), "pass"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}

	m2 := NewManager(Config{
		S3: S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
	}, nil, nil, nil, testLogger())
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
}

func TestRunNowAndRestore(t *testing.T) {
	kv := setupBackupTestDB(t)
	kv.Save(store.KeySubscription, map[string]any{"plan": "pro"})
	kv.Save(store.KeyContent, map[string]any{"recordings": []string{}})

	reloaded := 0
	var statuses []State
	m, mock := newTestManager(t, kv, func() error { reloaded++; return nil })
	m.callback = func(s Status) { statuses = append(statuses, s.State) }

	key, err := m.RunNow(context.Background(), "correct horse")
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !strings.HasPrefix(key, "backup-") || !strings.HasSuffix(key, ".json.enc") {
		t.Errorf("key = %q", key)
	}
	if bytes.Contains(mock.objects[key].data, []byte(`"pro"`)) {
		t.Error("uploaded object is not encrypted")
	}
	st := m.Status()
	if st.State != StateIdle || st.LastBackup == nil || st.LastKey != key {
		t.Errorf("status = %+v", st)
	}
	if len(statuses) != 2 || statuses[0] != StateRunning || statuses[1] != StateIdle {
		t.Errorf("statuses = %v", statuses)
	}

	kv.Save(store.KeySubscription, map[string]any{"plan": "free"})

	if err := m.Restore(context.Background(), key, "correct horse"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	var sub map[string]any
	kv.Load(store.KeySubscription, &sub)
	if sub["plan"] != "pro" {
		t.Errorf("plan = %v, want pro", sub["plan"])
	}
	if reloaded != 1 {
		t.Errorf("reloaded = %d, want 1", reloaded)
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	kv := setupBackupTestDB(t)
	kv.Save(store.KeyAuth, map[string]any{"signed_in": true})
	m, _ := newTestManager(t, kv, nil)

	key, _ := m.RunNow(context.Background(), "right")
	if err := m.Restore(context.Background(), key, "wrong"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("err = %v, want ErrWrongPassphrase", err)
	}
}

func TestRestoreRejectsForeignKey(t *testing.T) {
	m, _ := newTestManager(t, setupBackupTestDB(t), nil)

	err := m.Restore(context.Background(), "../etc/passwd", "x")
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestRestoreRejectsBadArchive(t *testing.T) {
	m, mock := newTestManager(t, setupBackupTestDB(t), nil)

	plain, _ := json.Marshal(archive{Version: 99})
	sealed, _ := Seal(plain, "pass")
	mock.objects["backup-bad.json.enc"] = mockObject{data: sealed, modified: time.Now()}

	err := m.Restore(context.Background(), "backup-bad.json.enc", "pass")
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("err = %v, want ErrInvalidArchive", err)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	kv := setupBackupTestDB(t)
	m, mock := newTestManager(t, kv, nil)
	mock.putErr = errors.New("bucket gone")

	if _, err := m.RunNow(context.Background(), "pass"); err == nil {
		t.Fatal("expected upload error")
	}
	st := m.Status()
	if st.State != StateError || !strings.Contains(st.Error, "bucket gone") {
		t.Errorf("status = %+v", st)
	}
}

func TestListAndCleanup(t *testing.T) {
	kv := setupBackupTestDB(t)
	kv.Save(store.KeyContent, map[string]any{})
	m, mock := newTestManager(t, kv, nil)

	first, _ := m.RunNow(context.Background(), "pass")
	time.Sleep(2 * time.Millisecond)
	second, _ := m.RunNow(context.Background(), "pass")

	objs, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 || objs[0].Key != second {
		t.Fatalf("objects = %+v, want newest first", objs)
	}

	mock.age(first, 48*time.Hour)
	removed, err := m.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := mock.objects[first]; ok {
		t.Error("expected old backup deleted")
	}
}

func TestScheduledRequiresPassphrase(t *testing.T) {
	kv := setupBackupTestDB(t)
	m, mock := newTestManager(t, kv, nil)

	m.scheduled(context.Background())
	if len(mock.objects) != 0 {
		t.Error("scheduled backup ran without a cached passphrase")
	}

	m.CachePassphrase("pass")
	m.scheduled(context.Background())
	if len(mock.objects) != 1 {
		t.Errorf("objects = %d, want 1", len(mock.objects))
	}
}
