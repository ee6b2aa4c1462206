package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migration.json")
	store := NewFileStore(path)
	ctx := context.Background()

	cp, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cp != nil {
		t.Fatal("expected nil checkpoint before first save")
	}

	cp = &Checkpoint{RunID: "run-1", Mode: "tags", Totals: Totals{Scanned: 40, Updated: 7}}
	cp.MarkDone("2024")
	cp.MarkDone("2023")
	cp.MarkDone("2024")

	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected checkpoint after save")
	}
	if loaded.RunID != "run-1" || loaded.Mode != "tags" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Totals.Scanned != 40 || loaded.Totals.Updated != 7 {
		t.Errorf("totals = %+v", loaded.Totals)
	}
	if len(loaded.Completed) != 2 {
		t.Errorf("completed = %v, want 2 unique partitions", loaded.Completed)
	}
	if !loaded.Done("2024") || !loaded.Done("2023") {
		t.Error("Done should report saved partitions")
	}
	if loaded.Done("2022") {
		t.Error("Done reported an unsaved partition")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	cp, err = store.Load(ctx)
	if err != nil || cp != nil {
		t.Fatalf("after Clear: cp=%v err=%v", cp, err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear should tolerate a missing file: %v", err)
	}
}

func TestFileStoreCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migration.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(path)
	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("corrupted file should not error: %v", err)
	}
	if cp != nil {
		t.Fatal("corrupted file should load as nil")
	}
}

func TestCheckpointNilDone(t *testing.T) {
	var cp *Checkpoint
	if cp.Done("2024") {
		t.Error("nil checkpoint should report nothing done")
	}
}

type fakeCache struct {
	values map[string][]byte
}

func (f *fakeCache) SaveCheckpoint(_ context.Context, key string, data []byte) error {
	if f.values == nil {
		f.values = map[string][]byte{}
	}
	f.values[key] = data
	return nil
}

func (f *fakeCache) LoadCheckpoint(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := f.values[key]
	return data, ok, nil
}

func (f *fakeCache) ClearCheckpoint(_ context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func TestRedisStoreRoundTrip(t *testing.T) {
	cache := &fakeCache{}
	store := NewRedisStore(cache, "migration")
	ctx := context.Background()

	cp, err := store.Load(ctx)
	if err != nil || cp != nil {
		t.Fatalf("empty store: cp=%v err=%v", cp, err)
	}

	saved := &Checkpoint{RunID: "run-9", Mode: "keys", Completed: []string{"37_"}}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil || loaded.RunID != "run-9" || !loaded.Done("37_") {
		t.Errorf("loaded = %+v", loaded)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	cp, err = store.Load(ctx)
	if err != nil || cp != nil {
		t.Fatalf("after Clear: cp=%v err=%v", cp, err)
	}
}
