package oplog

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBuildLogFromDSNSelectsMemory(t *testing.T) {
	for _, dsn := range []string{"memory://", "mem://", "inmem://queue"} {
		log, err := BuildLogFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q failed: %v", dsn, err)
		}
		if _, ok := log.(*memoryLog); !ok {
			t.Fatalf("dsn %q: expected memory log, got %T", dsn, log)
		}
	}
}

func TestBuildLogFromDSNSelectsFile(t *testing.T) {
	dir := t.TempDir()
	for _, dsn := range []string{
		"file://" + filepath.Join(dir, "a.json"),
		filepath.Join(dir, "b.json"),
	} {
		log, err := BuildLogFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q failed: %v", dsn, err)
		}
		if _, ok := log.(*fileLog); !ok {
			t.Fatalf("dsn %q: expected file log, got %T", dsn, log)
		}
	}
}

func TestBuildLogFromDSNRejectsUnknownScheme(t *testing.T) {
	if _, err := BuildLogFromDSN("redis://localhost:6379"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildLogFromDSN("   "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank dsn, got %v", err)
	}
}
