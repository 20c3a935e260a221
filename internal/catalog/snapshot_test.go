package catalog

import (
	"path/filepath"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")

	snap := Snapshot{Servers: map[string][]Tool{
		"echo": {{Name: "echo", Description: "echoes input"}},
	}}
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if len(got.Servers["echo"]) != 1 || got.Servers["echo"][0].Name != "echo" {
		t.Fatalf("unexpected snapshot contents: %+v", got)
	}
}

func TestReadSnapshotMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if snap.Servers == nil || len(snap.Servers) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}
