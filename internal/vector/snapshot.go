package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/newsrag/internal/models"
	"go.uber.org/zap"
)

// maxStringLen bounds a single length-prefixed string read from a snapshot.
const maxStringLen = 64 << 20

// Save persists the index to path. Format (little-endian): dimensions (4), group count (4),
// then per group: name, record count (4), and per record: id, url, title, text,
// dimensions*4 bytes of vector. Strings are a 4-byte length followed by the bytes.
// The file is written to a temp file in the same directory and renamed over path.
// An empty index is not saved and any existing file is left as it is. An empty path is an error.
func (x *Index) Save(path string) error {
	if path == "" {
		return ErrNoSnapshotPath
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.sizeLocked() == 0 {
		x.logger.Warn("index is empty, snapshot not written", zap.String("path", path))
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := x.encodeLocked(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	committed = true

	x.logger.Info("snapshot saved",
		zap.String("path", path),
		zap.Int("groups", len(x.groups)),
		zap.Int("records", x.sizeLocked()),
	)
	return nil
}

func (x *Index) encodeLocked(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	names := x.groupNamesLocked()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return fmt.Errorf("write group count: %w", err)
	}
	for _, name := range names {
		recs := x.groups[name]
		if err := writeString(w, name); err != nil {
			return fmt.Errorf("write group name: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(recs))); err != nil {
			return fmt.Errorf("write record count: %w", err)
		}
		for _, r := range recs {
			for _, s := range []string{r.ID, r.URL, r.Title, r.Text} {
				if err := writeString(w, s); err != nil {
					return fmt.Errorf("write record %s: %w", r.ID, err)
				}
			}
			if _, err := w.Write(float32SliceToBytes(r.Embedding)); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	return nil
}

// Load reads a snapshot from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is left empty.
func (x *Index) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			x.logger.Info("no snapshot found, index is empty", zap.String("path", path))
			x.Reset()
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	groups, err := x.decode(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", path, err)
	}

	x.mu.Lock()
	x.groups = groups
	n := x.sizeLocked()
	x.mu.Unlock()

	x.logger.Info("snapshot loaded",
		zap.String("path", path),
		zap.Int("groups", len(groups)),
		zap.Int("records", n),
	)
	return nil
}

func (x *Index) decode(r io.Reader) (map[string][]*models.Record, error) {
	var dim, groupCount uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != x.dimensions {
		return nil, fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dim, x.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &groupCount); err != nil {
		return nil, fmt.Errorf("read group count: %w", err)
	}

	groups := make(map[string][]*models.Record, groupCount)
	buf := make([]byte, x.dimensions*4)
	for g := uint32(0); g < groupCount; g++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("read group name: %w", err)
		}
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read record count: %w", err)
		}
		recs := make([]*models.Record, 0, n)
		for i := uint32(0); i < n; i++ {
			var fields [4]string
			for j := range fields {
				if fields[j], err = readString(r); err != nil {
					return nil, fmt.Errorf("read record field: %w", err)
				}
			}
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("read vector: %w", err)
			}
			recs = append(recs, &models.Record{
				ID:        fields[0],
				Group:     name,
				URL:       fields[1],
				Title:     fields[2],
				Text:      fields[3],
				Embedding: bytesToFloat32Slice(buf),
			})
		}
		groups[name] = append(groups[name], recs...)
	}
	return groups, nil
}

func (x *Index) sizeLocked() int {
	n := 0
	for _, recs := range x.groups {
		n += len(recs)
	}
	return n
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", errors.New("string length exceeds limit")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
