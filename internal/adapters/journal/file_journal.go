// Package journal keeps an append-only, crash-tolerant audit trail of diagnostic
// results on local disk.
package journal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

const (
	fileName        = "results.journal"
	recordHeaderLen = 16
	maxRecordLen    = 16 << 20
)

var (
	ErrCorrupt = errors.New("journal: corrupt record")
	// ErrFailed is returned by Append after a write error left a partial record in the
	// buffer. Reopening the journal truncates the torn tail.
	ErrFailed = errors.New("journal: failed after write error")
)

// FileJournal appends length-prefixed JSON records:
// [8 bytes id][4 bytes len][4 bytes crc32][len bytes json].
// A torn tail left by a crash is truncated on open.
type FileJournal struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	lastID    ports.JournalEntryID
	entries   uint64
	sizeBytes int64
	closed    bool
	failed    error
}

func Open(dir string) (*FileJournal, error) {
	if dir == "" {
		return nil, errors.New("journal: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	j := &FileJournal{path: path, file: f}
	if err := j.recover(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	j.writer = bufio.NewWriterSize(f, 64<<10)
	return j, nil
}

// recover scans every intact record and cuts the file after the last one.
func (j *FileJournal) recover() error {
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(j.file)

	var offset int64
	for {
		id, body, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrCorrupt) {
				// torn write
				break
			}
			return fmt.Errorf("journal scan: %w", err)
		}
		offset += recordHeaderLen + int64(len(body))
		j.lastID = id
		j.entries++
	}

	if err := j.file.Truncate(offset); err != nil {
		return err
	}
	j.sizeBytes = offset
	return nil
}

func readRecord(r io.Reader) (ports.JournalEntryID, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	id := ports.JournalEntryID(binary.BigEndian.Uint64(hdr[0:8]))
	length := binary.BigEndian.Uint32(hdr[8:12])
	sum := binary.BigEndian.Uint32(hdr[12:16])
	if length > maxRecordLen {
		return 0, nil, fmt.Errorf("%w: length %d", ErrCorrupt, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(body) != sum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch at id %d", ErrCorrupt, id)
	}
	return id, body, nil
}

func (j *FileJournal) Append(res domain.DiagnosticResult) (ports.JournalEntryID, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, errors.New("journal: closed")
	}
	if j.failed != nil {
		return 0, fmt.Errorf("%w: %v", ErrFailed, j.failed)
	}

	id := j.lastID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))
	binary.BigEndian.PutUint32(hdr[12:16], crc32.ChecksumIEEE(b))

	if _, err := j.writer.Write(hdr[:]); err != nil {
		j.failed = err
		return 0, err
	}
	if _, err := j.writer.Write(b); err != nil {
		j.failed = err
		return 0, err
	}

	j.lastID = id
	j.entries++
	j.sizeBytes += int64(len(b) + recordHeaderLen)
	return id, nil
}

// Iterate replays every record with id >= from in append order.
func (j *FileJournal) Iterate(from ports.JournalEntryID, fn func(id ports.JournalEntryID, r domain.DiagnosticResult) error) error {
	j.mu.Lock()
	if !j.closed {
		if err := j.writer.Flush(); err != nil {
			j.mu.Unlock()
			return err
		}
	}
	size := j.sizeBytes
	j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(io.LimitReader(f, size))
	for {
		id, body, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("journal iterate: %w", err)
		}
		if id < from {
			continue
		}
		var res domain.DiagnosticResult
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("%w: id %d: %v", ErrCorrupt, id, err)
		}
		if err := fn(id, res); err != nil {
			return err
		}
	}
}

// Sync flushes buffered records and fsyncs the file.
func (j *FileJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *FileJournal) Stats() ports.JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ports.JournalStats{
		Entries:   j.entries,
		LastID:    j.lastID,
		SizeBytes: j.sizeBytes,
	}
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	ferr := j.writer.Flush()
	serr := j.file.Sync()
	cerr := j.file.Close()
	return errors.Join(ferr, serr, cerr)
}

var _ ports.Journal = (*FileJournal)(nil)
