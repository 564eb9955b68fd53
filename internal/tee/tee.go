// Package tee implements the single-writer transcript sink shared by the
// relay and replay engines: every emitted line is duplicated to an optional
// capture file and an optional live display, under one mutex, with a
// byte-precise rewind operation used to retract already-printed hex when a
// multi-byte start delimiter completes retroactively.
package tee

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Sink is the shared transcript writer. The zero value is usable: no
// capture file, no live display.
type Sink struct {
	mu      sync.Mutex
	file    *os.File
	size    int64
	watch   atomic.Bool
	session uuid.UUID
}

// New returns a ready Sink with the live display enabled or disabled.
func New(watching bool) *Sink {
	s := &Sink{}
	s.watch.Store(watching)
	return s
}

// Watching reports whether the live display is currently enabled.
func (s *Sink) Watching() bool {
	return s.watch.Load()
}

// SetWatching toggles the live display. It does not affect capture.
func (s *Sink) SetWatching(on bool) {
	s.watch.Store(on)
}

// CaptureOpen reports whether a capture file is currently open.
func (s *Sink) CaptureOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil
}

// OpenCapture opens path for writing and starts a new capture session. It
// fails if a capture is already open.
func (s *Sink) OpenCapture(path string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return uuid.Nil, ErrCaptureOpen
	}
	f, err := os.Create(path)
	if err != nil {
		return uuid.Nil, err
	}
	s.session = uuid.New()
	header := "# session " + s.session.String() + "\n"
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return uuid.Nil, err
	}
	s.file = f
	s.size = int64(len(header))
	return s.session, nil
}

// CloseCapture closes the open capture file, if any. The session id is not
// reset here; the next OpenCapture replaces it with a fresh one.
func (s *Sink) CloseCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.size = 0
	return err
}

// Emit appends text+end to the display (if enabled) and to the capture file
// (if open). If text begins with a backspace byte, the capture file is
// instead rewound by len(text) bytes (clamped at zero) and nothing is
// written to it; the display, if enabled, still receives text+end as-is, so
// a terminal moves its cursor back over the retracted hex.
func (s *Sink) Emit(text, end string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		if len(text) > 0 && text[0] == '\b' {
			n := int64(len(text))
			if s.size >= n {
				s.size -= n
			} else {
				s.size = 0
			}
			_, _ = s.file.Seek(s.size, 0)
		} else {
			// The counter, not the file's current offset, is authoritative:
			// a prior rewind may have left the write position behind the
			// file's actual length, so truncate to it before extending.
			_ = s.file.Truncate(s.size)
			s.file.WriteString(text)
			s.file.WriteString(end)
			s.size += int64(len(text) + len(end))
		}
	}
	if s.watch.Load() {
		os.Stdout.WriteString(text)
		os.Stdout.WriteString(end)
	}
}

// Size returns the authoritative capture byte counter, for tests.
func (s *Sink) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
