// Package eventlog implements a durable append-only log of JSON records,
// one object per line. Each canvas owns exactly one log file; replaying it
// in file order reconstructs the canvas event history.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Log is an open append-only record store. Appends are synchronous and
// ordered; the caller owns serialization of access (the coordinator never
// shares a log between goroutines).
type Log[T any] struct {
	file *os.File

	// TornTail is true when the final line of the file failed to decode on
	// open. A torn tail is the footprint of a crash mid-append; the record
	// is dropped and the next append starts a fresh line.
	TornTail bool
}

// Open opens (creating if absent) the log at path and replays every stored
// record in file order. A record that fails to decode is a fatal error
// unless it is the very last line of the file.
func Open[T any](path string) ([]T, *Log[T], error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}

	events, goodEnd, torn, err := replay[T](file)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if torn {
		// Drop the half-written record so the next append starts a fresh
		// line instead of gluing onto the torn one.
		if err := file.Truncate(goodEnd); err != nil {
			file.Close()
			return nil, nil, fmt.Errorf("truncate torn tail: %w", err)
		}
	}

	return events, &Log[T]{file: file, TornTail: torn}, nil
}

func replay[T any](file *os.File) ([]T, int64, bool, error) {
	var events []T

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	var goodEnd int64
	var pendingErr error
	for scanner.Scan() {
		lineNo++
		if pendingErr != nil {
			// The bad line was not the last one: the file is corrupt.
			return nil, 0, false, pendingErr
		}

		var event T
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			pendingErr = fmt.Errorf("decode event log line %d: %w", lineNo, err)
			continue
		}
		events = append(events, event)
		goodEnd += int64(len(scanner.Bytes())) + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, false, fmt.Errorf("read event log: %w", err)
	}

	return events, goodEnd, pendingErr != nil, nil
}

// Append serializes the record and writes it as one line. The write is
// synchronous; on return the record is handed to the OS in log order.
func (l *Log[T]) Append(event T) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	// Single Write keeps record+newline in one syscall, so concurrent logs
	// for different canvases cannot interleave lines within a file.
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (l *Log[T]) Close() error {
	return l.file.Close()
}
