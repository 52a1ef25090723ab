package lsm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// manifestFileName is the name of the durable catalogue of committed runs
// (spec §6 "on-disk layout").
const manifestFileName = "MANIFEST"

// ManifestRun is one sorted run's catalogue entry.
type ManifestRun struct {
	Level      int    `json:"level"`
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	MinKey     []byte `json:"min_key"`
	MaxKey     []byte `json:"max_key"`
	NumEntries uint64 `json:"num_entries"`
}

// Manifest is the latest committed set of sorted runs across all levels.
// It is written atomically (write-temp + rename) so a crash mid-write never
// leaves a half-updated catalogue on disk (spec §4.6 publication, §6).
type Manifest struct {
	Runs []ManifestRun `json:"runs"`
}

// LoadManifest reads the manifest from dataDir, returning an empty manifest
// if none exists yet (a brand new store).
func LoadManifest(dataDir string) (*Manifest, error) {
	path := filepath.Join(dataDir, manifestFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: malformed manifest: %v", ErrCorruption, err)
	}
	return &m, nil
}

// Save publishes the manifest atomically: marshal, write to a temp file in
// the same directory, fsync, then rename over the live manifest. The
// rename is the single point of publication a reader can observe.
func (m *Manifest) Save(dataDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	finalPath := filepath.Join(dataDir, manifestFileName)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync manifest temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// ByLevel groups the manifest's runs by level.
func (m *Manifest) ByLevel() map[int][]ManifestRun {
	byLevel := make(map[int][]ManifestRun)
	for _, r := range m.Runs {
		byLevel[r.Level] = append(byLevel[r.Level], r)
	}
	return byLevel
}
