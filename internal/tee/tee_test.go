package tee

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_OpenCaptureWritesSessionHeader(t *testing.T) {
	s := New(false)
	path := filepath.Join(t.TempDir(), "capture.log")
	session, err := s.OpenCapture(path)
	require.NoError(t, err)
	require.NotEmpty(t, session.String())
	require.NoError(t, s.CloseCapture())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# session "+session.String())
}

func TestSink_OpenCaptureTwiceFails(t *testing.T) {
	s := New(false)
	path := filepath.Join(t.TempDir(), "capture.log")
	_, err := s.OpenCapture(path)
	require.NoError(t, err)
	defer s.CloseCapture()

	_, err = s.OpenCapture(path)
	require.ErrorIs(t, err, ErrCaptureOpen)
}

func TestSink_EmitAppendsToCapture(t *testing.T) {
	s := New(false)
	path := filepath.Join(t.TempDir(), "capture.log")
	_, err := s.OpenCapture(path)
	require.NoError(t, err)

	s.Emit("0x01 ", "")
	s.Emit("0x02 ", "\n")
	require.NoError(t, s.CloseCapture())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "0x01 0x02 \n")
}

func TestSink_RewindRetractsPreviouslyWrittenBytes(t *testing.T) {
	s := New(false)
	path := filepath.Join(t.TempDir(), "capture.log")
	_, err := s.OpenCapture(path)
	require.NoError(t, err)

	sizeAfterHeader := s.Size()

	s.Emit("0x01 0x02 ", "")
	require.Equal(t, sizeAfterHeader+10, s.Size())

	// retract the 5 trailing chars ("0x02 ") as if a multi-byte delimiter
	// had just completed retroactively.
	s.Emit("\b\b\b\b\b", "")
	require.Equal(t, sizeAfterHeader+5, s.Size())

	s.Emit("0xAA ", "")
	require.NoError(t, s.CloseCapture())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "0x01 0xAA ")
	require.NotContains(t, string(data), "0x02")
}

func TestSink_RewindNeverUnderflows(t *testing.T) {
	s := New(false)
	path := filepath.Join(t.TempDir(), "capture.log")
	_, err := s.OpenCapture(path)
	require.NoError(t, err)

	s.Emit("\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b\b", "")
	require.GreaterOrEqual(t, s.Size(), int64(0))
}

func TestSink_NoCaptureOpenEmitIsANoop(t *testing.T) {
	s := New(false)
	require.NotPanics(t, func() {
		s.Emit("0x01 ", "\n")
	})
	require.False(t, s.CaptureOpen())
}

func TestSink_SetWatching(t *testing.T) {
	s := New(false)
	require.False(t, s.Watching())
	s.SetWatching(true)
	require.True(t, s.Watching())
}
