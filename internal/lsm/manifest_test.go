package lsm

import "testing"

func TestManifestLoadMissingReturnsEmpty(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Runs) != 0 {
		t.Errorf("expected empty manifest, got %d runs", len(m.Runs))
	}
}

func TestManifestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{
		Runs: []ManifestRun{
			{Level: 0, ID: "r1", FileName: "r1.sst", MinKey: []byte("a"), MaxKey: []byte("m"), NumEntries: 10},
			{Level: 1, ID: "r2", FileName: "r2.sst", MinKey: []byte("n"), MaxKey: []byte("z"), NumEntries: 20},
		},
	}

	if err := m.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(loaded.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(loaded.Runs))
	}
	if loaded.Runs[0].ID != "r1" || loaded.Runs[1].ID != "r2" {
		t.Errorf("unexpected run ids: %+v", loaded.Runs)
	}
}

func TestManifestByLevel(t *testing.T) {
	m := &Manifest{
		Runs: []ManifestRun{
			{Level: 0, ID: "a"},
			{Level: 0, ID: "b"},
			{Level: 1, ID: "c"},
		},
	}

	byLevel := m.ByLevel()
	if len(byLevel[0]) != 2 {
		t.Errorf("expected 2 runs at level 0, got %d", len(byLevel[0]))
	}
	if len(byLevel[1]) != 1 {
		t.Errorf("expected 1 run at level 1, got %d", len(byLevel[1]))
	}
}

func TestManifestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Runs: []ManifestRun{{Level: 0, ID: "a"}}}
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2 := &Manifest{Runs: []ManifestRun{{Level: 0, ID: "b"}, {Level: 0, ID: "c"}}}
	if err := m2.Save(dir); err != nil {
		t.Fatalf("Save (overwrite): %v", err)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(loaded.Runs) != 2 {
		t.Fatalf("expected manifest overwritten with 2 runs, got %d", len(loaded.Runs))
	}
}
