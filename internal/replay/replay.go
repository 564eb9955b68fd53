// Package replay implements ReplayEngine: parsing a capture file written by
// Tee, resolving a line selector, determining which direction to replay,
// and injecting the rewritten bytes into the live relay.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/relay"
	"github.com/akrelay/akrelay/internal/rewrite"
)

// ErrNotRunning is returned when Run is called while the relay is not in
// the Running state; the replay piggybacks on live endpoints.
var ErrNotRunning = errors.New("relay is not running")

// ErrDirectionUnknown is returned when no header in the capture applies to
// any selected line, so a replay direction cannot be determined.
var ErrDirectionUnknown = errors.New("replay direction could not be determined")

// ParseError reports a malformed capture file or line selector. Line is 0
// for selector errors that are not tied to a specific capture line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("capture line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// Selector is a resolved line selector: either "all lines" or an explicit
// set of 1-based line numbers.
type Selector struct {
	all   bool
	lines map[int]bool
}

// ParseSelector parses a comma-separated list of positive integers and
// hyphenated inclusive ranges ("1,3" or "2-3"). An empty selector matches
// every line.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{all: true}, nil
	}
	sel := Selector{lines: make(map[int]bool)}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if i := strings.IndexByte(tok, '-'); i > 0 {
			lo, errLo := strconv.Atoi(tok[:i])
			hi, errHi := strconv.Atoi(tok[i+1:])
			if errLo != nil || errHi != nil || lo <= 0 || hi < lo {
				return Selector{}, &ParseError{Msg: fmt.Sprintf("bad range %q", tok)}
			}
			for n := lo; n <= hi; n++ {
				sel.lines[n] = true
			}
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return Selector{}, &ParseError{Msg: fmt.Sprintf("bad line number %q", tok)}
		}
		sel.lines[n] = true
	}
	return sel, nil
}

// Includes reports whether line number n (1-based) is selected.
func (s Selector) Includes(n int) bool {
	if s.all {
		return true
	}
	return s.lines[n]
}

// parsedLine is one line of a capture file after header/continuation
// resolution. dir and bytes are only meaningful when data is true.
type parsedLine struct {
	num   int
	dir   direction.Direction
	data  bool
	bytes []byte
}

const (
	headerAB = "A -> B:"
	headerBA = "B -> A:"
)

func parseCapture(path string) ([]parsedLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []parsedLine
	var current direction.Direction

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Text()

		var payload string
		hasPayload := false
		switch {
		case strings.HasPrefix(raw, headerAB):
			current = direction.A
			payload = raw[len(headerAB):]
			hasPayload = true
		case strings.HasPrefix(raw, headerBA):
			current = direction.B
			payload = raw[len(headerBA):]
			hasPayload = true
		case current.Valid():
			payload = raw
			hasPayload = true
		}

		pl := parsedLine{num: n}
		if hasPayload {
			bs, err := parseHexTokens(payload)
			if err != nil {
				return nil, &ParseError{Line: n, Msg: err.Error()}
			}
			pl.dir = current
			pl.data = true
			pl.bytes = bs
		}
		lines = append(lines, pl)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseHexTokens(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		if len(f) != 4 || f[0] != '0' || (f[1] != 'x' && f[1] != 'X') {
			return nil, fmt.Errorf("malformed token %q", f)
		}
		v, err := strconv.ParseUint(f[2:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed token %q", f)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// replayDirection returns the direction of the first selected line, found
// by scanning lines in file order and returning on the first match. Every
// data line's dir field already carries its governing header's direction,
// so this is equivalent to finding the header whose scope contains a
// selected line.
func replayDirection(lines []parsedLine, sel Selector) (direction.Direction, error) {
	for _, l := range lines {
		if !l.data || !l.dir.Valid() {
			continue
		}
		if sel.Includes(l.num) {
			return l.dir, nil
		}
	}
	return 0, ErrDirectionUnknown
}

// Engine replays a capture file into the live relay.
type Engine struct {
	rel     *relay.Engine
	running func() bool
}

// New builds a replay Engine bound to rel. running reports whether the
// relay is currently in the Running state; Run refuses to inject bytes
// otherwise.
func New(rel *relay.Engine, running func() bool) *Engine {
	return &Engine{rel: rel, running: running}
}

// Run parses the capture at path, resolves selector against it, determines
// the replay direction, and writes the selected, direction-matching lines'
// rewritten bytes to the opposite endpoint. No bytes are written if any
// parse step fails.
func (e *Engine) Run(path, selector string) error {
	if e.running != nil && !e.running() {
		return ErrNotRunning
	}

	sel, err := ParseSelector(selector)
	if err != nil {
		return err
	}
	lines, err := parseCapture(path)
	if err != nil {
		return err
	}
	source, err := replayDirection(lines, sel)
	if err != nil {
		return err
	}
	sink := source.Opposite()

	table := e.rel.Substitution(source)
	method := e.rel.Checksum(source)

	var writeErr error
	e.rel.WriteLocked(sink, func() {
		for _, l := range lines {
			if !l.data || l.dir != source || !sel.Includes(l.num) {
				continue
			}
			msg := rewrite.Apply(append([]byte(nil), l.bytes...), table, method)
			if err := e.rel.WriteDirect(sink, msg); err != nil {
				writeErr = err
				return
			}
			e.rel.EmitTranscript(source, sink, msg)
		}
	})
	return writeErr
}

// DumpCapture writes path to w with each line prefixed by its 1-based line
// number, for the capturedump CLI verb.
func DumpCapture(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		if _, err := fmt.Fprintf(w, "%5d: %s\n", n, sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}
