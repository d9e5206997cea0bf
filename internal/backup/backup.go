// Package backup writes encrypted snapshots of every persisted namespace to
// S3-compatible storage and restores them.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	ErrNotConfigured  = errors.New("backup not configured: S3 credentials missing")
	ErrNoPassphrase   = errors.New("no backup passphrase cached")
	ErrInvalidArchive = errors.New("invalid backup archive")
)

const archiveVersion = 1

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Snapshotter exposes the durable namespaces as raw JSON.
type Snapshotter interface {
	Snapshot() (map[string]json.RawMessage, error)
	Replace(entries map[string]json.RawMessage) error
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3 S3Config
	// Interval between scheduled backups. Zero disables scheduling.
	Interval  time.Duration
	Retention time.Duration
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	LastKey    string     `json:"last_key,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// StatusCallback is called whenever the backup state changes.
type StatusCallback func(Status)

// Object describes one stored backup.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

type archive struct {
	Version    int                        `json:"version"`
	CreatedAt  time.Time                  `json:"created_at"`
	Namespaces map[string]json.RawMessage `json:"namespaces"`
}

type Manager struct {
	mu         sync.RWMutex
	cfg        Config
	status     Status
	callback   StatusCallback
	client     s3Client
	kv         Snapshotter
	reload     func() error
	passphrase string
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a backup manager. reload is called after a restore so
// in-memory owners pick up the restored state.
func NewManager(cfg Config, kv Snapshotter, reload func() error, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		kv:       kv,
		reload:   reload,
		callback: callback,
		status:   Status{State: StateDisabled},
		logger:   logger.With("component", "backup"),
	}
	if cfg.S3.complete() {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Start begins scheduled backups. Scheduled runs use the cached passphrase.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled || m.cfg.Interval <= 0 {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	interval := m.cfg.Interval
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.scheduled(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastBackup == nil {
		s.LastBackup = m.status.LastBackup
		if s.LastKey == "" {
			s.LastKey = m.status.LastKey
		}
	}
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// CachePassphrase keeps the passphrase in memory for scheduled backups.
func (m *Manager) CachePassphrase(passphrase string) {
	m.mu.Lock()
	m.passphrase = passphrase
	m.mu.Unlock()
}

func (m *Manager) scheduled(ctx context.Context) {
	m.mu.RLock()
	passphrase := m.passphrase
	retention := m.cfg.Retention
	m.mu.RUnlock()

	if passphrase == "" {
		m.logger.Warn("skipping scheduled backup", "error", ErrNoPassphrase)
		return
	}
	if _, err := m.RunNow(ctx, passphrase); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
		return
	}
	if retention > 0 {
		if _, err := m.Cleanup(ctx, retention); err != nil {
			m.logger.Error("backup cleanup failed", "error", err)
		}
	}
}

func (m *Manager) objectKey(ts time.Time) string {
	return m.cfg.S3.Prefix + "backup-" + ts.UTC().Format("2006-01-02T150405.000Z") + ".json.enc"
}

// RunNow snapshots every namespace, encrypts it, and uploads it. It returns
// the object key.
func (m *Manager) RunNow(ctx context.Context, passphrase string) (string, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	if client == nil {
		return "", ErrNotConfigured
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})
	fail := func(err error) (string, error) {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return "", err
	}

	entries, err := m.kv.Snapshot()
	if err != nil {
		return fail(fmt.Errorf("snapshot: %w", err))
	}
	now := time.Now().UTC()
	plain, err := json.Marshal(archive{Version: archiveVersion, CreatedAt: now, Namespaces: entries})
	if err != nil {
		return fail(fmt.Errorf("encode archive: %w", err))
	}
	sealed, err := Seal(plain, passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	key := m.objectKey(now)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	m.setStatus(Status{State: StateIdle, LastBackup: &now, LastKey: key})
	m.logger.Info("backup complete", "key", key, "bytes", len(sealed), "namespaces", len(entries))
	return key, nil
}

// List returns stored backups, newest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	prefix := m.cfg.S3.Prefix
	m.mu.RUnlock()

	if client == nil {
		return nil, ErrNotConfigured
	}

	var out []Object
	var token *string
	for {
		page, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix + "backup-"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			out = append(out, o)
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}

	// Keys embed the UTC timestamp, so lexical order is chronological.
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

// Restore downloads, decrypts and validates a backup, writes every namespace
// back, then reloads in-memory state.
func (m *Manager) Restore(ctx context.Context, key, passphrase string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	prefix := m.cfg.S3.Prefix
	m.mu.RUnlock()

	if client == nil {
		return ErrNotConfigured
	}
	if !strings.HasPrefix(key, prefix+"backup-") {
		return fmt.Errorf("%w: unexpected key %q", ErrInvalidArchive, key)
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	plain, err := Open(sealed, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	var a archive
	if err := json.Unmarshal(plain, &a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if a.Version != archiveVersion || len(a.Namespaces) == 0 {
		return fmt.Errorf("%w: version %d with %d namespaces", ErrInvalidArchive, a.Version, len(a.Namespaces))
	}
	for name, raw := range a.Namespaces {
		if !json.Valid(raw) {
			return fmt.Errorf("%w: namespace %q is not valid JSON", ErrInvalidArchive, name)
		}
	}

	if err := m.kv.Replace(a.Namespaces); err != nil {
		return fmt.Errorf("write restored state: %w", err)
	}
	if m.reload != nil {
		if err := m.reload(); err != nil {
			return fmt.Errorf("reload restored state: %w", err)
		}
	}
	m.logger.Info("restore complete", "key", key, "created_at", a.CreatedAt)
	return nil
}

// Cleanup deletes backups older than retention and returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	objs, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	client := m.client
	bucket := m.cfg.S3.Bucket
	m.mu.RUnlock()

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, o := range objs {
		if o.LastModified.IsZero() || o.LastModified.After(cutoff) {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(o.Key),
		}); err != nil {
			m.logger.Warn("delete old backup", "key", o.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
