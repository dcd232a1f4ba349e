package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	latestFile = "model.json"
	bestFile   = "model_best.json"
)

// Store manages the save directory for one (device, config) pair: the
// "latest" and "best" checkpoints plus the plain-text loss reports written
// next to them.
type Store struct {
	dir string
}

// NewStore creates the save directory if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save directory %s: %v", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the save directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the path of a file inside the save directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// SaveLatest overwrites the per-epoch checkpoint.
func (s *Store) SaveLatest(cp *Checkpoint) error {
	return cp.Save(s.Path(latestFile))
}

// SaveBest overwrites the best-validation checkpoint.
func (s *Store) SaveBest(cp *Checkpoint) error {
	return cp.Save(s.Path(bestFile))
}

// LoadLatest reads the per-epoch checkpoint.
func (s *Store) LoadLatest() (*Checkpoint, error) {
	return Load(s.Path(latestFile))
}

// LoadBest reads the best-validation checkpoint.
func (s *Store) LoadBest() (*Checkpoint, error) {
	return Load(s.Path(bestFile))
}

// HasLatest reports whether a resumable checkpoint exists.
func (s *Store) HasLatest() bool {
	_, err := os.Stat(s.Path(latestFile))
	return err == nil
}

// WriteScalar writes a single float value to a text file in the save
// directory, matching the bestvloss.txt / testloss_*.txt report format.
func (s *Store) WriteScalar(name string, value float64) error {
	text := strconv.FormatFloat(value, 'g', -1, 64)
	if err := os.WriteFile(s.Path(name), []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	return nil
}
