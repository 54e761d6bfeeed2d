package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ahrav/go-gauntlet/internal/domain"
	"github.com/ahrav/go-gauntlet/internal/ports"
)

var _ ports.CheckpointStore = (*Store)(nil)

// Store is the single-writer checkpoint store. All mutations flow
// through one Store instance guarded by its mutex and are persisted
// atomically on every change; workers never touch the file themselves.
// This resolves the last-writer-wins race a naive per-worker
// read-modify-write would have.
type Store struct {
	fs   afero.Fs
	path string

	mu sync.Mutex
	cp *Checkpoint
}

// Load reads a checkpoint from path. A missing file returns
// domain.ErrCheckpointNotFound; an undecodable file returns
// domain.ErrCheckpointCorrupt. Corruption is never papered over.
func Load(fs afero.Fs, path string) (*Checkpoint, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCheckpointCorrupt, path, err)
	}
	if cp.Version != 1 {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", domain.ErrCheckpointCorrupt, path, cp.Version)
	}
	if cp.CompletedRuns == nil {
		cp.CompletedRuns = make(map[string]map[string]map[string]string)
	}
	return &cp, nil
}

// Create initializes a fresh checkpoint at path and returns its store.
func Create(fs afero.Fs, path, experimentID, fingerprint string) (*Store, error) {
	s := &Store{fs: fs, path: path, cp: New(experimentID, fingerprint, os.Getpid())}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing checkpoint for resume, validating that the
// supplied configuration fingerprint matches the one recorded at
// experiment start.
func Open(fs afero.Fs, path, fingerprint string) (*Store, error) {
	cp, err := Load(fs, path)
	if err != nil {
		return nil, err
	}
	if err := cp.ValidateConfig(fingerprint); err != nil {
		return nil, err
	}
	cp.PID = os.Getpid()
	s := &Store{fs: fs, path: path, cp: cp}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns a decoded copy of the current checkpoint state.
func (s *Store) Snapshot() Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, _ := json.Marshal(s.cp)
	var copy Checkpoint
	_ = json.Unmarshal(data, &copy)
	return copy
}

// MarkCompleted implements ports.CheckpointStore.
func (s *Store) MarkCompleted(id domain.TrialID, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := OutcomeFailed
	if passed {
		outcome = OutcomePassed
	}
	s.cp.Mark(id, outcome)
	return s.save()
}

// Unmark implements ports.CheckpointStore.
func (s *Store) Unmark(id domain.TrialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.Unmark(id)
	return s.save()
}

// IsCompleted implements ports.CheckpointStore.
func (s *Store) IsCompleted(id domain.TrialID) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.cp.Outcome(id)
	return ok, outcome == OutcomePassed
}

// SetLifecycle implements ports.CheckpointStore.
func (s *Store) SetLifecycle(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.Status = status
	return s.save()
}

// RecordPause implements ports.CheckpointStore.
func (s *Store) RecordPause(info domain.RateLimitInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.Status = StatusPausedRateLimit
	s.cp.RateLimit = &info
	s.cp.PauseCount++
	return s.save()
}

// RecordResume implements ports.CheckpointStore.
func (s *Store) RecordResume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp.Status = StatusRunning
	s.cp.RateLimit = nil
	return s.save()
}

// save persists the checkpoint via write-temp-rename. Callers hold mu.
func (s *Store) save() error {
	s.cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s.cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}
	return nil
}
