package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hpckit/alloc-notifier/internal/domain"
)

// BatchStore is the durable home of batch records. One record per batch, one
// file per record; Save is the unit of crash-safety and must be called after
// every single entry mutation.
type BatchStore interface {
	Create(batch *domain.Batch) (string, error)
	Load(location string) (*domain.Batch, error)
	Save(batch *domain.Batch) error
	Location(meta domain.BatchMetadata) string
	ListIncomplete() ([]string, error)
	ValidateDir() error
}

// FileBatchStore keeps batch records as flat, human-inspectable JSON files in
// one directory. File-based on purpose: expiry notifications must still go
// out when the relational database or other shared infrastructure is down.
type FileBatchStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileBatchStore(dir string, logger *zap.Logger) (*FileBatchStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: batch directory is required", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileBatchStore{dir: dir, logger: logger}, nil
}

// Location derives the record path from the batch identity. Deterministic, so
// records are discoverable and sortable without an index.
func (s *FileBatchStore) Location(meta domain.BatchMetadata) string {
	return filepath.Join(s.dir, meta.BatchID+".json")
}

// Create persists a brand-new batch record. It refuses to overwrite an
// existing record at the derived location: progress already on disk belongs
// to an earlier run and must be resumed, not replaced.
func (s *FileBatchStore) Create(batch *domain.Batch) (string, error) {
	if err := batch.Validate(); err != nil {
		return "", err
	}

	location := s.Location(batch.Metadata)
	if _, err := os.Stat(location); err == nil {
		return "", fmt.Errorf("%w: batch record %s", domain.ErrAlreadyExists, location)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to probe batch record %s: %w", location, err)
	}

	if err := s.write(batch, location); err != nil {
		return "", err
	}
	return location, nil
}

// Load reads and fully validates one batch record. A record that cannot be
// parsed into a well-formed batch is corrupt; it is never partially trusted
// or treated as empty.
func (s *FileBatchStore) Load(location string) (*domain.Batch, error) {
	data, err := os.ReadFile(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: batch record %s", domain.ErrNotFound, location)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch record %s: %w", location, err)
	}

	var batch domain.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorrupt, location, err)
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrCorrupt, location, err)
	}

	// Stored counts are display-only; the entry list is the authority.
	batch.Recompute()
	return &batch, nil
}

// Save atomically overwrites the full record at the batch's derived location.
func (s *FileBatchStore) Save(batch *domain.Batch) error {
	return s.write(batch, s.Location(batch.Metadata))
}

// write refreshes derived counts, then replaces the record atomically: temp
// file in the same directory, fsync, rename. A crash mid-write leaves the
// previous record intact.
func (s *FileBatchStore) write(batch *domain.Batch, location string) error {
	batch.Recompute()

	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", batch.Metadata.BatchID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+batch.Metadata.BatchID+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: %s (%v); point the batch directory at a writable location", domain.ErrDirNotWritable, s.dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write batch record %s: %w", location, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync batch record %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close batch record %s: %w", location, err)
	}

	if err := os.Rename(tmpName, location); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace batch record %s: %w", location, err)
	}
	return nil
}

// ListIncomplete returns the locations of records whose derived status is not
// completed, sorted by file name (and therefore by type and creation time).
// Unreadable records are skipped with a warning, never fatal to the listing.
func (s *FileBatchStore) ListIncomplete() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list batch directory %s: %w", s.dir, err)
	}

	var locations []string
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}

		location := filepath.Join(s.dir, de.Name())
		batch, err := s.Load(location)
		if err != nil {
			s.logger.Warn("skipping unreadable batch record",
				zap.String("location", location),
				zap.Error(err),
			)
			continue
		}

		if batch.Metadata.Status != domain.BatchStatusCompleted {
			locations = append(locations, location)
		}
	}
	return locations, nil
}

// ValidateDir ensures the batch directory exists and is writable by writing
// and removing a probe file. Called before any notification goes out, so a
// storage failure can never be discovered mid-batch.
func (s *FileBatchStore) ValidateDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: cannot create %s (%v); point the batch directory at a writable location", domain.ErrDirNotWritable, s.dir, err)
	}

	probe, err := os.CreateTemp(s.dir, ".probe*")
	if err != nil {
		return fmt.Errorf("%w: cannot write to %s (%v); point the batch directory at a writable location", domain.ErrDirNotWritable, s.dir, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: cannot clean probe file in %s (%v)", domain.ErrDirNotWritable, s.dir, err)
	}
	return nil
}
