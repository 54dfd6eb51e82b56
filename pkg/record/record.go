package record

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

var (
	ErrCapacityExceeded = errors.New("log buffer capacity exceeded")
	ErrLogWrite         = errors.New("log write error")
)

type Record struct {
	Seq     uint16
	Latency int64 // microseconds
}

// Log buffers records in memory so that nothing is written while measuring.
// It never grows past the capacity given to New.
type Log struct {
	records []Record
	dropped int
}

func New(capacity int) *Log {
	return &Log{
		records: make([]Record, 0, capacity),
	}
}

// Append returns ErrCapacityExceeded, and counts the record as dropped, once
// the buffer is full.
func (l *Log) Append(r Record) error {
	if len(l.records) == cap(l.records) {
		l.dropped++
		return ErrCapacityExceeded
	}
	l.records = append(l.records, r)
	return nil
}

func (l *Log) Len() int {
	return len(l.records)
}

func (l *Log) Dropped() int {
	return l.dropped
}

func (l *Log) Records() []Record {
	return l.records
}

// WriteTo writes one "<seq> <latency>" line per record.
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	var (
		line  []byte
		total int64
	)
	for _, r := range l.records {
		line = strconv.AppendUint(line[:0], uint64(r.Seq), 10)
		line = append(line, ' ')
		line = strconv.AppendInt(line, r.Latency, 10)
		line = append(line, '\n')
		n, err := w.Write(line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Flush writes the whole buffer to path, replacing any existing file.
func (l *Log) Flush(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogWrite, err)
	}

	bw := bufio.NewWriter(f)
	if _, err = l.WriteTo(bw); err == nil {
		err = bw.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLogWrite, path, err)
	}
	return nil
}
