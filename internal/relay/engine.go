// Package relay implements RelayEngine: the component that binds two
// SerialEndpoints, routes bytes A<->B through the delimiter matcher,
// buffers between delimiters when framing is active, rewrites and
// checksums completed messages, and emits a transcript through Tee.
package relay

import (
	"fmt"
	"strings"
	"sync"

	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/endpoint"
	"github.com/akrelay/akrelay/internal/rewrite"
	"github.com/akrelay/akrelay/internal/tee"
)

// Writer is the subset of Endpoint the engine needs to forward bytes. It
// exists so tests can substitute a fake without opening real devices.
type Writer interface {
	Write([]byte) error
}

// FatalFunc is invoked whenever a write to a peer fails; the Supervisor
// wires this to transition the relay to Stopped when a device I/O
// failure is encountered mid-relay.
type FatalFunc func(dir direction.Direction, err error)

// Engine is the bidirectional byte-relay core. The zero value is not
// usable; construct with New.
type Engine struct {
	matcher *delim.Matcher
	framed  bool

	peerA, peerB Writer

	wlA, wlB sync.Mutex // write_lock[A], write_lock[B]

	bufA, bufB []byte // MessageBuffer[A], MessageBuffer[B] (per OUTPUT direction)

	// Owned exclusively by the reader goroutine for the matching source
	// direction: endMatchA is only touched while processing bytes read
	// from A, endMatchB only while processing bytes read from B. No lock
	// is needed for these two fields.
	endMatchA, endMatchB bool

	cfgMu    sync.RWMutex
	subTable map[direction.Direction]rewrite.Table
	checksum map[direction.Direction]rewrite.Checksum

	// Shared across both reader goroutines; every read-modify-write goes
	// through transcriptMu, per the design note on encapsulating shared
	// transcript counters.
	transcriptMu sync.Mutex
	lastDir      direction.Direction // zero value means "none printed yet"
	bytesOnLine  int

	sink *tee.Sink

	onFatal FatalFunc
}

// New builds an Engine around matcher and sink. Peers are bound separately
// via BindPeers once the corresponding SerialEndpoints exist, because the
// endpoints themselves need a reference to the engine's byte-received
// callback before they can be constructed.
func New(matcher *delim.Matcher, sink *tee.Sink, onFatal FatalFunc) *Engine {
	return &Engine{
		matcher:  matcher,
		framed:   matcher.Framed(),
		subTable: map[direction.Direction]rewrite.Table{direction.A: nil, direction.B: nil},
		checksum: map[direction.Direction]rewrite.Checksum{direction.A: rewrite.None, direction.B: rewrite.None},
		sink:     sink,
		onFatal:  onFatal,
	}
}

// BindPeers attaches the two endpoints the engine forwards between.
func (e *Engine) BindPeers(a, b Writer) {
	e.peerA, e.peerB = a, b
}

// SetMatcher replaces the delimiter matcher. Callers (Supervisor) must
// ensure the engine is not Running: delimiters and the framing flag are
// immutable while relaying.
func (e *Engine) SetMatcher(m *delim.Matcher) {
	e.matcher = m
	e.framed = m.Framed()
}

// Framed reports whether the current matcher has any delimiter configured.
func (e *Engine) Framed() bool {
	return e.framed
}

// Reset clears per-direction runtime state: message buffers, end-match
// memory, and transcript counters. Called by Supervisor.Start before
// spawning readers.
func (e *Engine) Reset() {
	e.bufA, e.bufB = nil, nil
	e.endMatchA, e.endMatchB = false, false
	e.transcriptMu.Lock()
	e.lastDir, e.bytesOnLine = 0, 0
	e.transcriptMu.Unlock()
}

// SetSubstitution replaces the substitution table for messages sourced from
// src. Safe to call while the engine is running.
func (e *Engine) SetSubstitution(src direction.Direction, table rewrite.Table) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.subTable[src] = table
}

// Substitution returns the substitution table currently configured for src.
func (e *Engine) Substitution(src direction.Direction) rewrite.Table {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.subTable[src]
}

// SetChecksum replaces the checksum method applied after a substitution on
// messages sourced from src. Safe to call while the engine is running.
func (e *Engine) SetChecksum(src direction.Direction, c rewrite.Checksum) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.checksum[src] = c
}

// Checksum returns the checksum method currently configured for src.
func (e *Engine) Checksum(src direction.Direction) rewrite.Checksum {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.checksum[src]
}

// OnBytes returns the callback SerialEndpoint should invoke for every chunk
// it reads from src.
func (e *Engine) OnBytes(src direction.Direction) endpoint.OnBytes {
	return func(chunk []byte) { e.processChunk(src, chunk) }
}

func (e *Engine) writeLock(dir direction.Direction) *sync.Mutex {
	if dir == direction.A {
		return &e.wlA
	}
	return &e.wlB
}

func (e *Engine) bufferPtr(dir direction.Direction) *[]byte {
	if dir == direction.A {
		return &e.bufA
	}
	return &e.bufB
}

func (e *Engine) endMatch(src direction.Direction) bool {
	if src == direction.A {
		return e.endMatchA
	}
	return e.endMatchB
}

func (e *Engine) setEndMatch(src direction.Direction, v bool) {
	if src == direction.A {
		e.endMatchA = v
	} else {
		e.endMatchB = v
	}
}

func (e *Engine) peer(dir direction.Direction) Writer {
	if dir == direction.A {
		return e.peerA
	}
	return e.peerB
}

func (e *Engine) writeTo(dir direction.Direction, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := e.peer(dir).Write(data); err != nil && e.onFatal != nil {
		e.onFatal(dir, err)
	}
}

func hexJoin(bs []byte) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = fmt.Sprintf("0x%02x", b)
	}
	return strings.Join(parts, " ")
}

// processChunk handles one chunk read from src: matching delimiters,
// substituting and recomputing checksums, and forwarding to the peer
// direction. It holds the write lock for the opposite direction for the
// whole chunk, so a buffered message is never forwarded partially and two
// chunks racing for the same output are never interleaved.
func (e *Engine) processChunk(src direction.Direction, data []byte) {
	if len(data) == 0 {
		return
	}
	dst := src.Opposite()

	lock := e.writeLock(dst)
	lock.Lock()
	defer lock.Unlock()

	e.transcriptMu.Lock()
	changedDir := e.lastDir != src
	if changedDir {
		if e.lastDir != 0 {
			e.sink.Emit("", "\n")
		}
		e.sink.Emit(fmt.Sprintf("%c -> %c: ", byte(src), byte(dst)), "")
		e.lastDir = src
		e.bytesOnLine = 0
	} else if e.endMatch(src) {
		e.sink.Emit("", "\n")
		e.sink.Emit("        ", "")
		e.bytesOnLine = 0
	}
	e.transcriptMu.Unlock()

	lastKind := delim.NoMatch
	for _, b := range data {
		res := e.matcher.Feed(src, b)
		lastKind = res.Kind
		switch res.Kind {
		case delim.StartMatched:
			e.handleStart(src, dst, b, res.Delim)
		case delim.EndMatched:
			e.handleEnd(src, dst, b)
		default:
			e.handleNoMatch(src, dst, b)
		}
	}
	e.setEndMatch(src, lastKind == delim.EndMatched)
}

func (e *Engine) handleStart(src, dst direction.Direction, b byte, d delim.Delimiter) {
	buf := e.bufferPtr(dst)
	*buf = append(*buf, b)

	if len(d) > 1 {
		e.sink.Emit(strings.Repeat("\b", 5*(len(d)-1)), "")
	}

	e.transcriptMu.Lock()
	if e.bytesOnLine >= len(d) {
		e.sink.Emit(strings.Repeat(" ", 5*(len(d)-1)), "")
		e.sink.Emit("", "\n")
		e.sink.Emit("        ", "")
	}
	e.sink.Emit(hexJoin(d)+" ", "")
	e.bytesOnLine = len(d)
	e.transcriptMu.Unlock()

	tailLen := len(*buf) - len(d)
	tail := append([]byte(nil), (*buf)[:tailLen]...)
	e.writeTo(dst, tail)
	*buf = append([]byte(nil), d...)
}

func (e *Engine) handleEnd(src, dst direction.Direction, b byte) {
	e.transcriptMu.Lock()
	e.sink.Emit(fmt.Sprintf("0x%02x ", b), "")
	e.bytesOnLine++
	e.transcriptMu.Unlock()

	buf := e.bufferPtr(dst)
	if e.framed {
		*buf = append(*buf, b)
	}

	e.cfgMu.RLock()
	table := e.subTable[src]
	method := e.checksum[src]
	e.cfgMu.RUnlock()

	msg := rewrite.Apply(*buf, table, method)
	e.writeTo(dst, msg)
	*buf = (*buf)[:0]
}

func (e *Engine) handleNoMatch(src, dst direction.Direction, b byte) {
	e.transcriptMu.Lock()
	e.sink.Emit(fmt.Sprintf("0x%02x ", b), "")
	e.bytesOnLine++
	e.transcriptMu.Unlock()

	if e.framed {
		buf := e.bufferPtr(dst)
		*buf = append(*buf, b)
		return
	}
	e.writeTo(dst, []byte{b})
}

// WriteLocked runs fn while holding the write lock for dst. ReplayEngine
// uses this to inject bytes into a live endpoint without racing a reader
// goroutine's forwarding of a buffered message to the same destination.
func (e *Engine) WriteLocked(dst direction.Direction, fn func()) {
	lock := e.writeLock(dst)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// WriteDirect writes data straight to the peer bound to dst, bypassing the
// relay's own per-chunk bookkeeping. Callers must already hold dst's write
// lock, e.g. via WriteLocked.
func (e *Engine) WriteDirect(dst direction.Direction, data []byte) error {
	return e.peer(dst).Write(data)
}

// EmitTranscript writes a replay-sourced transcript line to the shared sink:
// a fresh line prefixed "<source> -> <sink>: " followed by the hex bytes
// that were actually written to sink.
func (e *Engine) EmitTranscript(source, sink direction.Direction, data []byte) {
	e.sink.Emit(fmt.Sprintf("\n%c -> %c: %s ", byte(source), byte(sink), hexJoin(data)), "")
}
