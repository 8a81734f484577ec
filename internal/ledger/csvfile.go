// Package ledger writes completed trades and window statistics to
// append-only CSV files.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	_ "time/tzdata"
)

const (
	// TimeLayout renders event times.
	TimeLayout = "2006/01/02 15:04:05"
	// WindowLayout renders window starts.
	WindowLayout = "2006/01/02 15:04"
)

type appendFile interface {
	io.WriteCloser
	Stat() (os.FileInfo, error)
}

var openAppend = func(path string) (appendFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// DefaultTimezone is the zone every ledger timestamp is rendered in unless
// configured otherwise.
const DefaultTimezone = "Asia/Shanghai"

// LoadLocation resolves a timezone name, falling back to DefaultTimezone
// for an empty name.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("ledger: load timezone %q: %w", name, err)
	}
	return loc, nil
}

// CSVFile appends rows to a delimited file, writing header first when the
// file is empty. It is safe for concurrent use.
type CSVFile struct {
	path   string
	header []string
	mu     sync.Mutex
}

// NewCSVFile creates a CSVFile. The file is created lazily on first append.
func NewCSVFile(path string, header []string) *CSVFile {
	return &CSVFile{path: path, header: header}
}

// Path returns the file path.
func (c *CSVFile) Path() string { return c.path }

// Append writes rows in one flush.
func (c *CSVFile) Append(rows ...[]string) (err error) {
	if len(rows) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ledger: create dir %s: %w", dir, err)
		}
	}
	f, err := openAppend(c.path)
	if err != nil {
		return fmt.Errorf("ledger: open %s: %w", c.path, err)
	}
	// Some filesystems only report a full disk on close.
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("ledger: close %s: %w", c.path, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("ledger: stat %s: %w", c.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(c.header); err != nil {
			return fmt.Errorf("ledger: write header %s: %w", c.path, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("ledger: append %s: %w", c.path, err)
	}
	return nil
}
