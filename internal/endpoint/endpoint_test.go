package endpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akrelay/akrelay/internal/serial"
)

// openLoopback opens a PTY pair and returns the slave side's device path.
// The master must stay open for the pty pair to remain valid, so it is
// registered for cleanup rather than closed immediately; the already-open
// slave handle returned by OpenPTY is closed right away since the test
// reopens the slave by path through Endpoint.Start, the way a real device
// would be opened by a separate process.
func openLoopback(t *testing.T) (slavePath string) {
	t.Helper()
	master, slave, err := serial.OpenPTY(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	require.NoError(t, slave.Close())

	slavePath, err = master.Ptsname()
	require.NoError(t, err)
	return slavePath
}

func TestEndpoint_StartCloseCleanStop(t *testing.T) {
	slavePath := openLoopback(t)

	var mu sync.Mutex
	var received []byte
	ep := New(slavePath, 9600, func(chunk []byte) {
		mu.Lock()
		received = append(received, chunk...)
		mu.Unlock()
	})

	require.NoError(t, ep.Start())
	require.NoError(t, ep.Close())

	select {
	case <-ep.Done():
	default:
		t.Fatal("Done() must be closed after Close returns")
	}
	require.NoError(t, ep.Err())
}

func TestEndpoint_WriteBeforeStartFails(t *testing.T) {
	ep := New("/dev/does-not-matter", 9600, func([]byte) {})
	err := ep.Write([]byte{0x01})
	require.ErrorIs(t, err, ErrNotStarted)
}

func TestEndpoint_OpenNonexistentDeviceFails(t *testing.T) {
	ep := New("/dev/akrelay-test-missing-device", 9600, func([]byte) {})
	err := ep.Start()
	require.Error(t, err)
	var openErr *DeviceOpenError
	require.ErrorAs(t, err, &openErr)
}

func TestEndpoint_CloseIsIdempotent(t *testing.T) {
	slavePath := openLoopback(t)
	ep := New(slavePath, 9600, func([]byte) {})
	require.NoError(t, ep.Start())
	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
}

func TestEndpoint_DoneObservableByMultipleGoroutines(t *testing.T) {
	slavePath := openLoopback(t)
	ep := New(slavePath, 9600, func([]byte) {})
	require.NoError(t, ep.Start())

	var wg sync.WaitGroup
	observed := make([]bool, 3)
	for i := range observed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case <-ep.Done():
				observed[i] = true
			case <-time.After(2 * time.Second):
			}
		}(i)
	}

	require.NoError(t, ep.Close())
	wg.Wait()
	for i, ok := range observed {
		require.Truef(t, ok, "observer %d did not see Done close", i)
	}
}
