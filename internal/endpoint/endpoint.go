// Package endpoint implements SerialEndpoint: the owner of one physical
// device handle and its dedicated reader goroutine, delivering received
// byte chunks to a caller-supplied callback and serializing writes.
package endpoint

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/akrelay/akrelay/internal/serial"
)

// OnBytes is invoked by the reader goroutine for every nonempty chunk read
// from the device. It must not block for long: it runs on the endpoint's
// only reader goroutine, and a slow callback stalls that direction's
// ingestion.
type OnBytes func(chunk []byte)

// readTimeout bounds each blocking read so the reader goroutine can poll its
// running flag and exit promptly on Close, without a forced cancel.
const readTimeout = 200 * time.Millisecond

const chunkSize = 256

// Endpoint owns one serial device handle and its reader goroutine.
type Endpoint struct {
	device string
	baud   int
	onByte OnBytes

	writeMu sync.Mutex
	port    *serial.Port

	running   chan struct{} // closed to signal the reader to stop
	done      chan struct{} // closed once the reader has returned
	err       atomic.Value  // holds the reader's terminal error, if any
	closeOnce sync.Once
}

// New constructs an Endpoint for device at baud, bound to onBytes. The
// device is not opened until Start is called.
func New(device string, baud int, onBytes OnBytes) *Endpoint {
	return &Endpoint{device: device, baud: baud, onByte: onBytes}
}

// Device returns the configured device path.
func (e *Endpoint) Device() string { return e.device }

// Baud returns the configured baud rate.
func (e *Endpoint) Baud() int { return e.baud }

// Start opens the device in raw 8N1 mode and spawns the reader goroutine.
// It returns DeviceOpenError if the device cannot be opened.
func (e *Endpoint) Start() error {
	p, err := serial.OpenRaw(e.device, e.baud, readTimeout)
	if err != nil {
		return &DeviceOpenError{Device: e.device, Err: err}
	}
	e.port = p
	e.running = make(chan struct{})
	e.done = make(chan struct{})
	go e.readLoop()
	return nil
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-e.running:
			close(e.done)
			return
		default:
		}
		n, err := e.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.onByte(chunk)
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			e.err.Store(&DeviceIOError{Device: e.device, Err: err})
			close(e.done)
			return
		}
	}
}

// Write synchronously writes data to the device. Writes from multiple
// goroutines are serialized by an internal mutex; callers composing
// SerialEndpoint into a relay additionally hold the relay's per-output-
// direction write lock around the whole forwarding step, not just this call.
func (e *Endpoint) Write(data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.port == nil {
		return ErrNotStarted
	}
	_, err := e.port.Write(data)
	if err != nil {
		return &DeviceIOError{Device: e.device, Err: err}
	}
	return nil
}

// Close stops the reader, waits for it to return, and releases the device
// handle.
func (e *Endpoint) Close() error {
	var closeErr error
	e.closeOnce.Do(func() {
		if e.running == nil {
			return
		}
		close(e.running)
		<-e.done
		closeErr = e.port.Close()
	})
	return closeErr
}

// Done returns a channel that is closed once the reader goroutine has
// returned, whether from Close or from a fatal read error. Unlike a
// value-carrying channel it may be observed by any number of goroutines
// (e.g. both Close and a Supervisor watchdog) without racing over who
// consumes the signal.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the reader's terminal error, if it stopped because of one.
// Valid only after Done is closed; nil if the reader stopped cleanly via
// Close.
func (e *Endpoint) Err() error {
	v := e.err.Load()
	if v == nil {
		return nil
	}
	return v.(error)
}
