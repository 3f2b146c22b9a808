package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/ml"
)

const (
	riskFile     = "risk_rf.json"
	anomalyFile  = "anomaly_if.json"
	metadataFile = "metadata.json"
)

// Store persists trained models as JSON files in a directory.
//
// Loaded models are cached and reused until the files on disk change, so a
// model retrained by another process is picked up on the next Load.
type Store struct {
	dir string

	mu       sync.Mutex
	cached   *Models
	cachedAt fileStamp
}

type fileStamp struct {
	riskMod    time.Time
	anomalyMod time.Time
}

// NewStore returns a store rooted at dir. The directory is created on Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the model files.
func (s *Store) Dir() string { return s.dir }

// Exists reports whether both model files are present.
func (s *Store) Exists() bool {
	_, err := s.stamp()
	return err == nil
}

// Save writes both models and their metadata. Each file is written to a
// temporary name and renamed into place.
func (s *Store) Save(m *Models) error {
	if m == nil || m.Risk == nil || m.Anomaly == nil {
		return errors.New("cannot save incomplete models")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.dir, riskFile), m.Risk.Snapshot()); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, anomalyFile), m.Anomaly.Snapshot()); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(s.dir, metadataFile), m.Meta); err != nil {
		return err
	}

	if stamp, err := s.stamp(); err == nil {
		s.cached, s.cachedAt = m, stamp
	}
	return nil
}

// Load returns the saved models. It returns ErrModelsNotTrained when either
// model file is missing.
func (s *Store) Load() (*Models, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp, err := s.stamp()
	if err != nil {
		return nil, err
	}
	if s.cached != nil && stamp == s.cachedAt {
		return s.cached, nil
	}

	var riskSnap ml.RandomForestSnapshot
	if err := readJSON(filepath.Join(s.dir, riskFile), &riskSnap); err != nil {
		return nil, err
	}
	var anomalySnap ml.IsolationForestSnapshot
	if err := readJSON(filepath.Join(s.dir, anomalyFile), &anomalySnap); err != nil {
		return nil, err
	}

	risk, err := ml.RandomForestFromSnapshot(&riskSnap)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", riskFile, err)
	}
	anomaly, err := ml.IsolationForestFromSnapshot(&anomalySnap)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", anomalyFile, err)
	}

	m := &Models{Risk: risk, Anomaly: anomaly}
	// Metadata is informational; models saved without it still load.
	if err := readJSON(filepath.Join(s.dir, metadataFile), &m.Meta); err != nil && !errors.Is(err, ErrModelsNotTrained) {
		return nil, err
	}

	s.cached, s.cachedAt = m, stamp
	return m, nil
}

// Version identifies the saved models by their files' modification times.
// It changes whenever either model is rewritten, by this process or another.
// ok is false when no complete model set is on disk.
func (s *Store) Version() (version string, ok bool) {
	stamp, err := s.stamp()
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d.%d", stamp.riskMod.UnixNano(), stamp.anomalyMod.UnixNano()), true
}

func (s *Store) stamp() (fileStamp, error) {
	risk, err := os.Stat(filepath.Join(s.dir, riskFile))
	if err != nil {
		return fileStamp{}, statError(err)
	}
	anomaly, err := os.Stat(filepath.Join(s.dir, anomalyFile))
	if err != nil {
		return fileStamp{}, statError(err)
	}
	return fileStamp{riskMod: risk.ModTime(), anomalyMod: anomaly.ModTime()}, nil
}

func statError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrModelsNotTrained
	}
	return fmt.Errorf("stat model file: %w", err)
}

func writeJSON(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrModelsNotTrained
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
