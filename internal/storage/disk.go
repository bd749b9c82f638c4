package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// DiskUsage is the on-disk size of the document store and the keyword index.
type DiskUsage struct {
	Database     int64 `json:"database_bytes"`
	KeywordIndex int64 `json:"keyword_index_bytes"`
}

// Total returns the combined size.
func (u DiskUsage) Total() int64 {
	return u.Database + u.KeywordIndex
}

// MeasureDiskUsage sums the database file with its WAL sidecars and every file under the
// keyword index directory. Missing paths count as zero.
func MeasureDiskUsage(databasePath, keywordIndexPath string) (DiskUsage, error) {
	var u DiskUsage
	if databasePath != "" {
		for _, suffix := range append([]string{""}, sqliteSidecars...) {
			n, err := fileSize(databasePath + suffix)
			if err != nil {
				return DiskUsage{}, err
			}
			u.Database += n
		}
	}
	if keywordIndexPath != "" {
		n, err := treeSize(keywordIndexPath)
		if err != nil {
			return DiskUsage{}, err
		}
		u.KeywordIndex = n
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

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return total, err
}
