package similarity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/vector"
)

// stagedSuffix marks a completed save that has not been promoted yet.
const stagedSuffix = "_staged"

func stagedName(collection string) string {
	return collection + stagedSuffix
}

// promoteStaged settles the staged files left by earlier saves and removes leftover temp
// pairs. It runs before the worker starts.
func promoteStaged(dir, collection string, logger *zap.Logger) error {
	if err := promote(dir, collection, logger); err != nil {
		return err
	}
	removeTemporaries(dir, collection, logger)
	return nil
}

// promote moves a verified staged pair over the canonical files. The canonical pair is only
// replaced by a staged pair written by one save; anything else is discarded and the
// canonical snapshot is left alone.
func promote(dir, collection string, logger *zap.Logger) error {
	staged := stagedName(collection)
	stagedData, stagedGraph := vector.DataPath(dir, staged), vector.GraphPath(dir, staged)
	canonicalData, canonicalGraph := vector.DataPath(dir, collection), vector.GraphPath(dir, collection)
	hasData, err := exists(stagedData)
	if err != nil {
		return err
	}
	hasGraph, err := exists(stagedGraph)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("collection", collection))

	switch {
	case hasData && hasGraph:
		if err := vector.CheckPair(stagedData, stagedGraph); err != nil {
			logger.Warn("discarding staged index snapshot that does not match", zap.Error(err))
			discard(stagedData, stagedGraph)
			break
		}
		if err := os.Rename(stagedData, canonicalData); err != nil {
			return fmt.Errorf("promote data file: %w", err)
		}
		if err := os.Rename(stagedGraph, canonicalGraph); err != nil {
			return fmt.Errorf("promote graph file: %w", err)
		}
		logger.Info("promoted staged index snapshot")
	case hasGraph:
		// Promotion stopped after the data rename.
		if err := vector.CheckPair(canonicalData, stagedGraph); err != nil {
			logger.Warn("discarding orphaned staged graph file", zap.Error(err))
			discard(stagedGraph)
			break
		}
		if err := os.Rename(stagedGraph, canonicalGraph); err != nil {
			return fmt.Errorf("promote graph file: %w", err)
		}
		logger.Info("finished interrupted index snapshot promotion")
	case hasData:
		logger.Warn("discarding incomplete staged index snapshot")
		discard(stagedData)
	}
	return nil
}

func discard(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// removeTemporaries deletes temp pairs left behind by saves that crashed before renaming.
func removeTemporaries(dir, collection string, logger *zap.Logger) {
	for _, suffix := range []string{vector.DataSuffix, vector.GraphSuffix} {
		matches, _ := filepath.Glob(filepath.Join(dir, collection+".*.tmp"+suffix))
		for _, m := range matches {
			if err := os.Remove(m); err == nil {
				logger.Debug("removed leftover snapshot file", zap.String("path", m))
			}
		}
	}
}

// stage renames the temp pair written by vector.Persist to the staged name, data first and
// graph last. A staged pair from an earlier save is promoted first, so the staged name only
// ever holds files of the save in progress and the last complete save stays loadable.
func stage(dir, tmp, collection string, logger *zap.Logger) error {
	if err := promote(dir, collection, logger); err != nil {
		discard(vector.DataPath(dir, tmp), vector.GraphPath(dir, tmp))
		return err
	}
	staged := stagedName(collection)
	if err := os.Rename(vector.DataPath(dir, tmp), vector.DataPath(dir, staged)); err != nil {
		_ = os.Remove(vector.DataPath(dir, tmp))
		_ = os.Remove(vector.GraphPath(dir, tmp))
		return fmt.Errorf("stage data file: %w", err)
	}
	if err := os.Rename(vector.GraphPath(dir, tmp), vector.GraphPath(dir, staged)); err != nil {
		_ = os.Remove(vector.GraphPath(dir, tmp))
		return fmt.Errorf("stage graph file: %w", err)
	}
	return nil
}

// RemoveSnapshot deletes every persisted file of collection in dir. The collection must not
// be open.
func RemoveSnapshot(dir, collection string) error {
	var errs []error
	for _, name := range []string{collection, stagedName(collection)} {
		for _, p := range []string{vector.DataPath(dir, name), vector.GraphPath(dir, name)} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	removeTemporaries(dir, collection, zap.NewNop())
	return errors.Join(errs...)
}

// SnapshotUsage is the on-disk size of one collection's snapshot files.
type SnapshotUsage struct {
	Canonical int64 `json:"canonical_bytes"`
	Staged    int64 `json:"staged_bytes"`
	Temporary int64 `json:"temporary_bytes"`
}

// Total returns the size of all snapshot files.
func (u SnapshotUsage) Total() int64 {
	return u.Canonical + u.Staged + u.Temporary
}

// MeasureSnapshot sums the canonical, staged and temp files of collection in dir. Missing
// files count as zero.
func MeasureSnapshot(dir, collection string) (SnapshotUsage, error) {
	var u SnapshotUsage
	pairs := []struct {
		name string
		dst  *int64
	}{
		{collection, &u.Canonical},
		{stagedName(collection), &u.Staged},
	}
	for _, p := range pairs {
		for _, path := range []string{vector.DataPath(dir, p.name), vector.GraphPath(dir, p.name)} {
			n, err := fileSize(path)
			if err != nil {
				return SnapshotUsage{}, err
			}
			*p.dst += n
		}
	}
	for _, suffix := range []string{vector.DataSuffix, vector.GraphSuffix} {
		matches, err := filepath.Glob(filepath.Join(dir, collection+".*.tmp"+suffix))
		if err != nil {
			return SnapshotUsage{}, err
		}
		for _, m := range matches {
			n, err := fileSize(m)
			if err != nil {
				return SnapshotUsage{}, err
			}
			u.Temporary += n
		}
	}
	return u, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
