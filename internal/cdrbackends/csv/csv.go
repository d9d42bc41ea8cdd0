// Package csv implements a flat-file CDR backend, writing each
// finalized record as one CSV row in the classic billing-column order.
package csv

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/flowpbx/cdrengine/internal/cdr"
)

var columns = []string{
	"accountcode", "src", "clid", "dst", "dcontext", "channel", "dstchannel",
	"lastapp", "lastdata", "start", "answer", "end", "duration", "billsec",
	"disposition", "amaflags", "uniqueid", "linkedid", "userfield", "sequence",
}

// Backend writes CDR rows to a single append-only CSV file, one writer
// goroutine's worth of mutex-guarded access at a time.
type Backend struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// Open creates (or appends to) the CSV file at path, writing a header
// row only if the file is new.
func Open(path string) (*Backend, error) {
	existing, statErr := os.Stat(path)
	needsHeader := statErr != nil || existing.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening cdr csv file %q: %w", path, err)
	}

	b := &Backend{file: f, writer: csv.NewWriter(f)}
	if needsHeader {
		if err := b.writer.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing cdr csv header: %w", err)
		}
		b.writer.Flush()
	}
	return b, nil
}

// Close flushes and closes the underlying file.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writer.Flush()
	return b.file.Close()
}

// Sink implements cdr.SinkFunc, appending one row per record.
func (b *Backend) Sink(r *cdr.ExternalRecord) error {
	row := []string{
		r.AccountCode,
		r.Src,
		r.CallerID,
		r.Dst,
		r.DstContext,
		r.Channel,
		r.DstChannel,
		r.LastApp,
		r.LastData,
		formatTime(r.Start),
		formatTime(r.Answer),
		formatTime(r.End),
		strconv.FormatInt(r.Duration, 10),
		strconv.FormatInt(r.BillSec, 10),
		r.Disposition.String(),
		strconv.Itoa(r.AMAFlags),
		r.UniqueID,
		r.LinkedID,
		r.UserField,
		strconv.FormatInt(r.Sequence, 10),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.writer.Write(row); err != nil {
		return fmt.Errorf("writing cdr csv row: %w", err)
	}
	b.writer.Flush()
	return b.writer.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
