// Package recorder journals rows to an append-only file so a session can be
// replayed or exported after the fact.
package recorder

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cadigan/CortexFlow/internal/domain"
	"github.com/cadigan/CortexFlow/internal/ports"
)

const recordHeaderLen = 12

// FileRecorder writes length-prefixed JSON rows. On open it scans the
// existing journal and truncates any torn tail left by a crash, so the file
// always ends on a complete record.
type FileRecorder struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	lastSeq   uint64
	sizeBytes int64
	closed    bool
}

// NewFileRecorder opens (or creates) the journal for one stream under dir.
func NewFileRecorder(dir, streamID string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, streamID+".rows")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	r := &FileRecorder{
		path:   path,
		file:   f,
		writer: bufio.NewWriterSize(f, 1<<20),
	}
	if err := r.scanExisting(); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := r.file.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// scanExisting walks the journal, remembers the last complete record, and
// truncates anything after it.
func (r *FileRecorder) scanExisting() error {
	stat, err := os.Stat(r.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil || stat.Size() == 0 {
		return nil
	}

	rf, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset  int64
		lastSeq uint64
	)

	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("recorder scan header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])

		if length > 0 {
			if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					break
				}
				return fmt.Errorf("recorder scan body: %w", err)
			}
		}
		offset += recordHeaderLen + int64(length)
		lastSeq = seq
	}

	if err := r.file.Truncate(offset); err != nil {
		return err
	}
	r.sizeBytes = offset
	r.lastSeq = lastSeq
	return nil
}

// Append journals one row and returns its sequence number.
func (r *FileRecorder) Append(row domain.Row) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fmt.Errorf("recorder %s: closed", r.path)
	}

	seq := r.lastSeq + 1
	b, err := json.Marshal(row)
	if err != nil {
		return 0, err
	}

	// record format: [8 bytes seq][4 bytes len][len bytes json]
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], seq)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := r.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := r.writer.Write(b); err != nil {
		return 0, err
	}

	r.lastSeq = seq
	r.sizeBytes += int64(len(b) + len(hdr))
	return seq, nil
}

// Iterate replays records with seq >= from in append order.
func (r *FileRecorder) Iterate(from uint64, fn func(seq uint64, row domain.Row) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("recorder iterate header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])

		b := make([]byte, length)
		if _, err := io.ReadFull(reader, b); err != nil {
			return fmt.Errorf("corrupt journal: %w", err)
		}
		if seq < from {
			continue
		}

		var row domain.Row
		if err := json.Unmarshal(b, &row); err != nil {
			return fmt.Errorf("corrupt journal entry %d: %w", seq, err)
		}
		if err := fn(seq, row); err != nil {
			return err
		}
	}
}

// Flush forces buffered records to the file.
func (r *FileRecorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Flush()
}

func (r *FileRecorder) Stats() ports.RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ports.RecorderStats{
		LastSeq:   r.lastSeq,
		SizeBytes: r.sizeBytes,
	}
}

func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	flushErr := r.writer.Flush()
	closeErr := r.file.Close()
	return errors.Join(flushErr, closeErr)
}

var _ ports.Recorder = (*FileRecorder)(nil)
