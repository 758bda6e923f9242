package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RawLogMagic opens every raw log file. Each record that follows is an
// 8-byte little-endian unix-nano receive time, a 4-byte little-endian
// payload length and the payload as received from the wire.
const RawLogMagic = "DVRAWLG1"

const rawRecordHeaderSize = 12

var (
	ErrBadMagic     = errors.New("not a raw log file")
	errRawLogClosed = errors.New("raw log writer is closed")
)

// RawLogWriter appends ingest messages to a raw log. Payloads are stored
// verbatim, so a frames record keeps its tag 40 depth (uint16 LE) and color
// (BGRA uint8) arrays and replays through the same decoder as live traffic.
// Every record is flushed as it is written; a crash loses at most the record
// in flight.
type RawLogWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// NewRawLogWriter creates <outputDir>/<timestamp>_<prefix>.bin and writes
// the magic.
func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", Timestamp(), prefix))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(RawLogMagic); err == nil {
		err = w.Flush()
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{path: path, f: f, w: w}, nil
}

func (r *RawLogWriter) Path() string { return r.path }

// Record stamps payload with the current time. It satisfies the ingest
// recorder.
func (r *RawLogWriter) Record(payload []byte) error {
	return r.RecordAt(time.Now(), payload)
}

// RecordAt appends one record: receive time in unix nanoseconds, payload
// length, payload.
func (r *RawLogWriter) RecordAt(at time.Time, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return errRawLogClosed
	}
	if _, err := r.w.Write(recordHeader(at, len(payload))); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

// Close flushes and closes the file. Later records fail; a second Close is
// a no-op.
func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	flushErr := r.w.Flush()
	closeErr := r.f.Close()
	r.w = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func recordHeader(at time.Time, size int) []byte {
	header := make([]byte, rawRecordHeaderSize)
	binary.LittleEndian.PutUint64(header[:8], uint64(at.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(size))
	return header
}

type RawRecord struct {
	Time    time.Time
	Payload []byte
}

// RawLogReader walks the records of a raw log file in order.
type RawLogReader struct {
	f *os.File
	r *bufio.Reader
}

func OpenRawLog(path string) (*RawLogReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReaderSize(f, 1024*1024)
	magic := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != RawLogMagic {
		_ = f.Close()
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, magic)
	}
	return &RawLogReader{f: f, r: r}, nil
}

// Next returns the next record, or io.EOF after the last complete one. A
// record cut short by a crash also ends the log.
func (l *RawLogReader) Next() (RawRecord, error) {
	var header [rawRecordHeaderSize]byte
	if _, err := io.ReadFull(l.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:12])
	payload := make([]byte, size)
	if _, err := io.ReadFull(l.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	return RawRecord{Time: time.Unix(0, ts), Payload: payload}, nil
}

func (l *RawLogReader) Close() error {
	return l.f.Close()
}
