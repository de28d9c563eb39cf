package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	var got string
	ok, err := s.Get("missing", &got)
	if err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}

	if err := s.Set("device.name", "laptop"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err = s.Get("device.name", &got)
	if err != nil || !ok || got != "laptop" {
		t.Fatalf("Get: ok=%v got=%q err=%v", ok, got, err)
	}

	// A fresh store over the same file sees the value.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ok, err = s2.Get("device.name", &got)
	if err != nil || !ok || got != "laptop" {
		t.Fatalf("reopened Get: ok=%v got=%q err=%v", ok, got, err)
	}

	if err := s.Remove("device.name"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ = s.Get("device.name", &got); ok {
		t.Fatalf("key survived Remove")
	}
	if err := s.Remove("device.name"); err != nil {
		t.Fatalf("Remove of missing key: %v", err)
	}
}

func TestFileStore_StructValues(t *testing.T) {
	t.Parallel()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	type box struct {
		N int      `json:"n"`
		S []string `json:"s"`
	}
	in := box{N: 7, S: []string{"a", "b"}}
	if err := s.Set("box", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var out box
	ok, err := s.Get("box", &out)
	if err != nil || !ok || out.N != 7 || len(out.S) != 2 {
		t.Fatalf("Get: ok=%v out=%+v err=%v", ok, out, err)
	}
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Set("k", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileStore_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := NewFileStore(""); err == nil {
		t.Fatalf("want error on empty path")
	}
}

func TestMemory_RoundTrip(t *testing.T) {
	t.Parallel()
	s := NewMemory()

	var got int
	if ok, err := s.Get("k", &got); ok || err != nil {
		t.Fatalf("missing key: ok=%v err=%v", ok, err)
	}
	if err := s.Set("k", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, err := s.Get("k", &got); !ok || err != nil || got != 42 {
		t.Fatalf("Get: ok=%v got=%d err=%v", ok, got, err)
	}
	if err := s.Remove("k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := s.Get("k", &got); ok {
		t.Fatalf("key survived Remove")
	}
}
