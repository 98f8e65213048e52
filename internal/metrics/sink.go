package metrics

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gofrs/flock"
)

// Sink receives one formatted report line per counter per report cycle.
type Sink interface {
	WriteLine(line string) error
}

// FileSink appends report lines to a file. Each write takes an advisory lock
// on a sibling ".lock" file so several harness processes can share one output.
type FileSink struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// NewFileSink returns a sink appending to path. The file is created on first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the output file path.
func (s *FileSink) Path() string {
	return s.path
}

// WriteLine appends line followed by a newline.
func (s *FileSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return f.Close()
}

// WriterSink writes report lines to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w. A nil writer discards all lines.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = io.Discard
	}
	return &WriterSink{w: w}
}

func (s *WriterSink) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, line)
	return err
}
