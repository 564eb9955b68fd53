package supervisor

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/rewrite"
	"github.com/akrelay/akrelay/internal/serial"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func openLoopback(t *testing.T) (slavePath string) {
	t.Helper()
	_, slavePath = openLoopbackKeepMaster(t)
	return slavePath
}

// openLoopbackKeepMaster is like openLoopback but also returns the open
// master *serial.Port, for tests that need to act as the far-end device
// (write bytes in, or sever the connection by closing the master early).
func openLoopbackKeepMaster(t *testing.T) (master *serial.Port, slavePath string) {
	t.Helper()
	master, slave, err := serial.OpenPTY(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { master.Close() })
	require.NoError(t, slave.Close())

	slavePath, err = master.Ptsname()
	require.NoError(t, err)
	return master, slavePath
}

func TestSupervisor_InitialStateIsConfigured(t *testing.T) {
	s := New(testLogger())
	assert.Equal(t, Configured, s.State())
}

func TestSupervisor_StartFailsWithoutBothPorts(t *testing.T) {
	s := New(testLogger())
	require.NoError(t, s.SetPort(direction.A, "/dev/fake-a", 9600))
	err := s.Start()
	var cfgErr *ErrConfig
	require.ErrorAs(t, err, &cfgErr)
}

func TestSupervisor_StartStopLifecycle(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)

	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))

	require.NoError(t, s.Start())
	assert.Equal(t, Running, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())

	// Stop is idempotent.
	require.NoError(t, s.Stop())
}

func TestSupervisor_ReconfigurePortWhileRunningFails(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	err := s.SetPort(direction.A, "/dev/other", 9600)
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
}

func TestSupervisor_ReconfigureDelimitersWhileRunningFails(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	err := s.SetDelimiters([]delim.Delimiter{{0xAA}}, nil)
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
}

func TestSupervisor_SubstitutionAndChecksumAllowedWhileRunning(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	s.SetSubstitution(direction.A, rewrite.Table{{Match: []byte{0x01}, Replace: []byte{0x02}}})
	s.SetChecksum(direction.A, rewrite.Xor8)

	assert.Len(t, s.Substitution(direction.A), 1)
	assert.Equal(t, rewrite.Xor8, s.Checksum(direction.A))
}

func TestSupervisor_StartTwiceFails(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	err := s.Start()
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
}

func TestSupervisor_ConfigurationSurvivesStopStartCycle(t *testing.T) {
	s := New(testLogger())
	pathA := openLoopback(t)
	pathB := openLoopback(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	s.SetSubstitution(direction.A, rewrite.Table{{Match: []byte{0x01}, Replace: []byte{0x02}}})

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	assert.Len(t, s.Substitution(direction.A), 1)

	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	assert.Len(t, s.Substitution(direction.A), 1)
}

func TestSupervisor_StopWithoutStartIsNoop(t *testing.T) {
	s := New(testLogger())
	require.NoError(t, s.Stop())
	assert.Equal(t, Configured, s.State())
}

func TestSupervisor_StateString(t *testing.T) {
	assert.Equal(t, "Configured", Configured.String())
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Stopped", Stopped.String())
}

func TestSupervisor_FatalWriteFailureStopsSupervisor(t *testing.T) {
	s := New(testLogger())
	masterA, pathA := openLoopbackKeepMaster(t)
	masterB, pathB := openLoopbackKeepMaster(t)
	require.NoError(t, s.SetPort(direction.A, pathA, 9600))
	require.NoError(t, s.SetPort(direction.B, pathB, 9600))
	require.NoError(t, s.Start())

	// Sever B's side of the pty pair, so that when the relay forwards a
	// byte from A to B the write to B's device fails. That failure must
	// reach Supervisor.handleFatal and asynchronously stop the
	// supervisor, without the caller ever invoking Stop directly.
	require.NoError(t, masterB.Close())

	_, err := masterA.Write([]byte{0x01})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.State() == Stopped
	}, 2*time.Second, 20*time.Millisecond)
}
