// Package supervisor implements the top-level lifecycle controller:
// Configured -> Running -> Stopped, guarding illegal reconfiguration while
// the relay is live and wiring the other components together for the CLI.
package supervisor

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/endpoint"
	"github.com/akrelay/akrelay/internal/relay"
	"github.com/akrelay/akrelay/internal/replay"
	"github.com/akrelay/akrelay/internal/rewrite"
	"github.com/akrelay/akrelay/internal/tee"
)

// State is one of the supervisor's three lifecycle states.
type State int

const (
	Configured State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Configured"
	}
}

// PortConfig is one endpoint's device path and baud rate.
type PortConfig struct {
	Device string
	Baud   int
}

func (p PortConfig) ready() bool {
	return p.Device != "" && p.Baud > 0
}

// ErrBusy is returned when a reconfiguration is attempted while Running.
type ErrBusy struct {
	Op string
}

func (e *ErrBusy) Error() string {
	return fmt.Sprintf("cannot %s while running", e.Op)
}

// ErrConfig reports a configuration problem: missing port settings at
// Start, or similar preconditions.
type ErrConfig struct {
	Msg string
}

func (e *ErrConfig) Error() string { return e.Msg }

// Supervisor owns the configuration tree and the live relay/replay/tee
// components built from it. The zero value is not usable; construct with
// New.
type Supervisor struct {
	mu    sync.Mutex
	state State
	log   *log.Logger

	portA, portB PortConfig
	startDelims  []delim.Delimiter
	endDelims    []delim.Delimiter

	sink    *tee.Sink
	engine  *relay.Engine
	replayE *replay.Engine

	epA, epB *endpoint.Endpoint
}

// New builds a Supervisor in the Configured state. logger receives all
// diagnostic output; pass log.New(os.Stderr) (or similar) from the CLI.
func New(logger *log.Logger) *Supervisor {
	s := &Supervisor{
		log:  logger,
		sink: tee.New(false),
	}
	s.engine = relay.New(delim.New(nil, nil), s.sink, s.handleFatal)
	s.replayE = replay.New(s.engine, s.isRunning)
	return s
}

func (s *Supervisor) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Running
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sink exposes the shared transcript sink, for the capturestart/stop/dump
// and watch CLI verbs.
func (s *Supervisor) Sink() *tee.Sink { return s.sink }

// Replay exposes the replay engine, for the replay CLI verb.
func (s *Supervisor) Replay() *replay.Engine { return s.replayE }

// SetPort configures one side's device and baud rate. Returns ErrBusy while
// Running.
func (s *Supervisor) SetPort(dir direction.Direction, device string, baud int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return &ErrBusy{Op: "reconfigure port " + dir.String()}
	}
	cfg := PortConfig{Device: device, Baud: baud}
	if dir == direction.A {
		s.portA = cfg
	} else {
		s.portB = cfg
	}
	if s.portA.Device != "" && s.portA.Device == s.portB.Device {
		s.log.Warn("both ports bound to the same device", "device", s.portA.Device)
	}
	return nil
}

// Port returns the configured PortConfig for dir.
func (s *Supervisor) Port(dir direction.Direction) PortConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == direction.A {
		return s.portA
	}
	return s.portB
}

// SetDelimiters replaces the start/end delimiter sets. Returns ErrBusy
// while Running, since framing is immutable during a live relay.
func (s *Supervisor) SetDelimiters(start, end []delim.Delimiter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return &ErrBusy{Op: "reconfigure delimiters"}
	}
	s.startDelims = start
	s.endDelims = end
	s.engine.SetMatcher(delim.New(start, end))
	return nil
}

// Delimiters returns the currently configured start and end delimiter sets.
func (s *Supervisor) Delimiters() (start, end []delim.Delimiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startDelims, s.endDelims
}

// SetSubstitution replaces the substitution table for messages sourced from
// dir. Safe to call while Running.
func (s *Supervisor) SetSubstitution(dir direction.Direction, table rewrite.Table) {
	s.engine.SetSubstitution(dir, table)
}

// Substitution returns the substitution table configured for dir.
func (s *Supervisor) Substitution(dir direction.Direction) rewrite.Table {
	return s.engine.Substitution(dir)
}

// SetChecksum replaces the checksum method for messages sourced from dir.
// Safe to call while Running.
func (s *Supervisor) SetChecksum(dir direction.Direction, c rewrite.Checksum) {
	s.engine.SetChecksum(dir, c)
}

// Checksum returns the checksum method configured for dir.
func (s *Supervisor) Checksum(dir direction.Direction) rewrite.Checksum {
	return s.engine.Checksum(dir)
}

// Start transitions Configured/Stopped -> Running: opens both devices,
// binds them to the relay engine, and spawns their reader goroutines. On
// any open failure, any endpoint that did open is closed before returning.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		return &ErrBusy{Op: "start"}
	}
	if !s.portA.ready() || !s.portB.ready() {
		return &ErrConfig{Msg: "both port A and port B must be configured before start"}
	}

	s.engine.Reset()
	epA := endpoint.New(s.portA.Device, s.portA.Baud, s.engine.OnBytes(direction.A))
	epB := endpoint.New(s.portB.Device, s.portB.Baud, s.engine.OnBytes(direction.B))

	if err := epA.Start(); err != nil {
		return err
	}
	if err := epB.Start(); err != nil {
		_ = epA.Close()
		return err
	}

	s.epA, s.epB = epA, epB
	s.engine.BindPeers(epA, epB)
	s.state = Running

	go s.watch(direction.A, epA)
	go s.watch(direction.B, epB)
	return nil
}

// watch observes ep's reader for a fatal termination and stops the relay
// when one occurs. It exits quietly on a clean Close (Err() == nil).
func (s *Supervisor) watch(dir direction.Direction, ep *endpoint.Endpoint) {
	<-ep.Done()
	if err := ep.Err(); err != nil {
		s.log.Error("reader terminated", "direction", dir.String(), "err", err)
		_ = s.Stop()
	}
}

// handleFatal is the relay engine's write-failure hook. It runs on one of
// the reader goroutines, so it must never synchronously join that same
// goroutine; Stop is dispatched on its own goroutine to avoid a self-join
// deadlock against Endpoint.Close.
func (s *Supervisor) handleFatal(dir direction.Direction, err error) {
	s.log.Error("write failed", "direction", dir.String(), "err", err)
	go func() { _ = s.Stop() }()
}

// Stop transitions Running -> Stopped: closes both endpoints and joins
// their reader goroutines. Idempotent; calling it when not Running is a
// no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return nil
	}
	epA, epB := s.epA, s.epB
	s.state = Stopped
	s.mu.Unlock()

	errA := epA.Close()
	errB := epB.Close()
	if errA != nil {
		return errA
	}
	return errB
}
