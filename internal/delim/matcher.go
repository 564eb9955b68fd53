// Package delim implements the streaming delimiter classifier that drives
// message framing: a per-direction rolling window of the most recently seen
// bytes, compared against configured start- and end-of-message sequences.
package delim

import "github.com/akrelay/akrelay/internal/direction"

// Delimiter is a nonempty ordered sequence of byte values.
type Delimiter []byte

// MatchKind classifies the outcome of feeding one byte into the window.
type MatchKind int

const (
	NoMatch MatchKind = iota
	StartMatched
	EndMatched
)

// Result is returned by Matcher.Feed for each byte processed.
type Result struct {
	Kind  MatchKind
	Delim Delimiter
}

// window is a bounded FIFO of the most recently seen bytes for one direction.
type window struct {
	buf []byte
	cap int
}

func newWindow(capacity int) *window {
	return &window{buf: make([]byte, 0, capacity), cap: capacity}
}

func (w *window) push(b byte) {
	if w.cap == 0 {
		return
	}
	if len(w.buf) == w.cap {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:len(w.buf)-1]
	}
	w.buf = append(w.buf, b)
}

func (w *window) clear() {
	w.buf = w.buf[:0]
}

func tailEquals(buf []byte, d Delimiter) bool {
	if len(buf) < len(d) {
		return false
	}
	tail := buf[len(buf)-len(d):]
	for i := range d {
		if tail[i] != d[i] {
			return false
		}
	}
	return true
}

// Matcher classifies, per direction, whether the tail of the rolling window
// equals any configured start- or end-of-message delimiter. Matching is
// strict byte equality; overlapping delimiters resolve by insertion order.
type Matcher struct {
	start []Delimiter
	end   []Delimiter
	width int
	wins  map[direction.Direction]*window
}

// New builds a Matcher for the given start/end delimiter sets. Width is the
// capacity of each per-direction window: the maximum length over all
// configured delimiters. An empty start and end set disables framing; Width
// is then 0 and every Feed call returns NoMatch without allocating.
func New(start, end []Delimiter) *Matcher {
	width := 0
	for _, d := range start {
		if len(d) > width {
			width = len(d)
		}
	}
	for _, d := range end {
		if len(d) > width {
			width = len(d)
		}
	}
	m := &Matcher{start: start, end: end, width: width}
	m.wins = map[direction.Direction]*window{
		direction.A: newWindow(width),
		direction.B: newWindow(width),
	}
	return m
}

// Width returns the rolling window capacity, i.e. the longest configured
// delimiter. Zero means framing is disabled.
func (m *Matcher) Width() int {
	return m.width
}

// Framed reports whether any start or end delimiter is configured.
func (m *Matcher) Framed() bool {
	return len(m.start) > 0 || len(m.end) > 0
}

// Feed processes one incoming byte for dir and reports whether it completed
// a start- or end-of-message delimiter. On any match the window is cleared.
func (m *Matcher) Feed(dir direction.Direction, b byte) Result {
	if m.width == 0 {
		return Result{Kind: NoMatch}
	}
	w := m.wins[dir]
	w.push(b)
	for _, d := range m.start {
		if tailEquals(w.buf, d) {
			w.clear()
			return Result{Kind: StartMatched, Delim: d}
		}
	}
	for _, d := range m.end {
		if tailEquals(w.buf, d) {
			w.clear()
			return Result{Kind: EndMatched, Delim: d}
		}
	}
	return Result{Kind: NoMatch}
}

// PeekEnd reports whether the current window tail for dir equals any
// end-delimiter, without mutating the window. The relay engine does not
// call it: it decides transcript line breaks from Feed's own results.
func (m *Matcher) PeekEnd(dir direction.Direction) (Delimiter, bool) {
	if m.width == 0 {
		return nil, false
	}
	w := m.wins[dir]
	for _, d := range m.end {
		if tailEquals(w.buf, d) {
			return d, true
		}
	}
	return nil, false
}
