// Package dataset persists the versioned person-summary collection.
//
// Every committed version is an immutable file person_data_v{N}.json holding the full collection.
// versions.json names the latest committed version and is always written last, so a crash between
// the two writes leaves the previous version in effect.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/rostertrack/internal/clock/system"
	"github.com/JakeFAU/rostertrack/internal/metrics"
	"github.com/JakeFAU/rostertrack/internal/tracker"
)

const (
	pointerName     = "versions.json"
	jsonContentType = "application/json"
)

// Version is one committed snapshot of the dataset.
type Version struct {
	Number    int
	Summaries []tracker.PersonSummary
}

// Pointer is the persisted record of the latest committed version.
type Pointer struct {
	LatestVersion int       `json:"latest_version"`
	RunID         string    `json:"run_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Mirror receives every committed version, e.g. to copy it into a database or announce it.
type Mirror interface {
	Mirror(ctx context.Context, version int, summaries []tracker.PersonSummary) error
}

// Config controls where versions are written.
type Config struct {
	// Prefix is prepended to every object path, e.g. "dataset/".
	Prefix string
	// RunID is recorded in the pointer of versions committed by this process.
	RunID string
}

// Store merges summary batches into the dataset. It is the only writer of its prefix.
type Store struct {
	blobs   tracker.BlobStore
	clock   tracker.Clock
	cfg     Config
	mirrors []Mirror
	logger  *zap.Logger

	mu sync.Mutex
}

// New constructs a Store. A nil clock uses the system clock.
func New(blobs tracker.BlobStore, clock tracker.Clock, cfg Config, logger *zap.Logger) *Store {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		blobs:  blobs,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("dataset"),
	}
}

// Register adds a Mirror notified after each commit. Mirror failures are logged and never undo
// the commit.
func (s *Store) Register(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrors = append(s.mirrors, m)
}

// VersionPath is the object path of version n.
func (s *Store) VersionPath(n int) string {
	return fmt.Sprintf("%sperson_data_v%d.json", s.cfg.Prefix, n)
}

// PointerPath is the object path of the latest-version pointer.
func (s *Store) PointerPath() string {
	return s.cfg.Prefix + pointerName
}

// Latest returns the latest committed version. With no pointer the dataset is empty (version 0).
// A pointer naming an unreadable version is an error.
func (s *Store) Latest(ctx context.Context) (Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(ctx)
}

// MergeAndPersist appends summaries to the latest version and commits the result as a new version.
// Names already present win over incoming duplicates. Nothing is written when the batch is empty
// or contributes no new name; written reports whether a version was committed.
func (s *Store) MergeAndPersist(ctx context.Context, summaries []tracker.PersonSummary) (version int, written bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.latest(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(summaries) == 0 {
		return current.Number, false, nil
	}

	merged, added := Merge(current.Summaries, summaries)
	log := s.logger.With(zap.Int("incoming", len(summaries)), zap.Int("duplicates", len(summaries)-added))
	if added == 0 {
		log.Info("no new names, dataset unchanged", zap.Int("version", current.Number))
		return current.Number, false, nil
	}

	next := current.Number + 1
	payload, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, false, fmt.Errorf("encode version %d: %w", next, err)
	}
	if _, err := s.blobs.PutObject(ctx, s.VersionPath(next), jsonContentType, bytes.NewReader(payload)); err != nil {
		return 0, false, fmt.Errorf("write version %d: %w", next, err)
	}

	ptr, err := json.Marshal(Pointer{LatestVersion: next, RunID: s.cfg.RunID, UpdatedAt: s.clock.Now().UTC()})
	if err != nil {
		return 0, false, fmt.Errorf("encode pointer: %w", err)
	}
	if _, err := s.blobs.PutObject(ctx, s.PointerPath(), jsonContentType, bytes.NewReader(ptr)); err != nil {
		return 0, false, fmt.Errorf("advance pointer to version %d: %w", next, err)
	}

	metrics.ObserveDatasetVersion(next)
	log.Info("dataset version committed", zap.Int("version", next), zap.Int("added", added), zap.Int("total", len(merged)))

	for _, m := range s.mirrors {
		if err := m.Mirror(ctx, next, merged); err != nil {
			log.Warn("dataset mirror failed", zap.Int("version", next), zap.Error(err))
		}
	}
	return next, true, nil
}

// Merge concatenates existing and incoming and drops repeated names, keeping the first
// occurrence. added counts the incoming entries that survived.
func Merge(existing, incoming []tracker.PersonSummary) (merged []tracker.PersonSummary, added int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]tracker.PersonSummary, 0, len(existing)+len(incoming))
	for i, s := range append(append([]tracker.PersonSummary(nil), existing...), incoming...) {
		if _, dup := seen[s.Name]; dup {
			continue
		}
		seen[s.Name] = struct{}{}
		merged = append(merged, s)
		if i >= len(existing) {
			added++
		}
	}
	return merged, added
}

func (s *Store) latest(ctx context.Context) (Version, error) {
	raw, err := s.blobs.GetObject(ctx, s.PointerPath())
	if errors.Is(err, tracker.ErrObjectNotFound) {
		return Version{}, nil
	}
	if err != nil {
		return Version{}, fmt.Errorf("read dataset pointer: %w", err)
	}
	var ptr Pointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return Version{}, fmt.Errorf("decode dataset pointer: %w", err)
	}
	if ptr.LatestVersion <= 0 {
		return Version{}, nil
	}

	raw, err = s.blobs.GetObject(ctx, s.VersionPath(ptr.LatestVersion))
	if err != nil {
		return Version{}, fmt.Errorf("pointer references unreadable version %d: %w", ptr.LatestVersion, err)
	}
	var summaries []tracker.PersonSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return Version{}, fmt.Errorf("decode version %d: %w", ptr.LatestVersion, err)
	}
	return Version{Number: ptr.LatestVersion, Summaries: summaries}, nil
}
