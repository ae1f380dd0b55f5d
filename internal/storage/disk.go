package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths contribute 0; other errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		n, err := pathSize(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DataFiles names the files the ingestion side writes.
type DataFiles struct {
	Snapshot string
	Marker   string
	Database string
}

// Usage reports the size of each data file; missing files report 0.
func (d DataFiles) Usage() (map[string]int64, error) {
	out := make(map[string]int64, 3)
	for name, p := range map[string]string{"snapshot": d.Snapshot, "marker": d.Marker, "database": d.Database} {
		n, err := pathSize(p)
		if err != nil {
			return nil, err
		}
		// SQLite in WAL mode keeps recent writes beside the main file.
		if name == "database" && p != "" {
			wal, err := pathSize(p + "-wal")
			if err != nil {
				return nil, err
			}
			n += wal
		}
		out[name] = n
	}
	return out, nil
}

func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
