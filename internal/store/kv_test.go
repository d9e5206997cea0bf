package store

import (
	"encoding/json"
	"testing"

	"github.com/dukerupert/earmark/internal/database"
)

func setupKVTestDB(t *testing.T) *KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db)
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestKVLoadMissing(t *testing.T) {
	s := setupKVTestDB(t)

	var v sample
	found, err := s.Load(KeyContent, &v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("expected missing key to report not found")
	}
}

func TestKVSaveAndLoad(t *testing.T) {
	s := setupKVTestDB(t)

	if err := s.Save(KeySubscription, sample{Name: "free", Count: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var v sample
	found, err := s.Load(KeySubscription, &v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if v.Name != "free" || v.Count != 2 {
		t.Errorf("loaded = %+v, want {free 2}", v)
	}
}

func TestKVSaveOverwrites(t *testing.T) {
	s := setupKVTestDB(t)

	s.Save(KeyAuth, sample{Name: "a", Count: 1})
	if err := s.Save(KeyAuth, sample{Name: "b", Count: 5}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var v sample
	s.Load(KeyAuth, &v)
	if v.Name != "b" || v.Count != 5 {
		t.Errorf("loaded = %+v, want {b 5}", v)
	}
}

func TestKVNamespacesIndependent(t *testing.T) {
	s := setupKVTestDB(t)

	s.Save(KeyAuth, sample{Name: "auth"})
	s.Save(KeyContent, sample{Name: "content"})

	if err := s.Delete(KeyAuth); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var v sample
	found, _ := s.Load(KeyAuth, &v)
	if found {
		t.Error("expected auth namespace to be deleted")
	}
	found, _ = s.Load(KeyContent, &v)
	if !found || v.Name != "content" {
		t.Errorf("content namespace = %+v (found=%v), want intact", v, found)
	}
}

func TestKVSnapshotReplace(t *testing.T) {
	s := setupKVTestDB(t)

	s.Save(KeyAuth, sample{Name: "auth"})
	s.Save(KeyContent, sample{Name: "content"})

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d keys, want 2", len(snap))
	}

	s.Save(KeyContent, sample{Name: "changed"})

	if err := s.Replace(map[string]json.RawMessage{KeyContent: snap[KeyContent]}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	var v sample
	s.Load(KeyContent, &v)
	if v.Name != "content" {
		t.Errorf("name = %q, want %q", v.Name, "content")
	}
}

func TestKVLoadCorrupt(t *testing.T) {
	s := setupKVTestDB(t)

	if err := s.SaveRaw(KeyContent, json.RawMessage(`{not json`)); err != nil {
		t.Fatalf("save raw: %v", err)
	}
	var v sample
	if _, err := s.Load(KeyContent, &v); err == nil {
		t.Error("expected decode error for corrupt value")
	}
}
