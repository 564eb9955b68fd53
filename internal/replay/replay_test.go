package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/direction"
	"github.com/akrelay/akrelay/internal/relay"
	"github.com/akrelay/akrelay/internal/tee"
)

type recorder struct{ calls [][]byte }

func (r *recorder) Write(data []byte) error {
	r.calls = append(r.calls, append([]byte(nil), data...))
	return nil
}

func (r *recorder) flat() []byte {
	var out []byte
	for _, c := range r.calls {
		out = append(out, c...)
	}
	return out
}

func writeCapture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCapture = "A -> B: 0x01 0x02 \nB -> A: 0x03 \nA -> B: 0x04 \n"

func TestParseSelector_AllWhenEmpty(t *testing.T) {
	sel, err := ParseSelector("")
	require.NoError(t, err)
	require.True(t, sel.Includes(1))
	require.True(t, sel.Includes(9999))
}

func TestParseSelector_CommaList(t *testing.T) {
	sel, err := ParseSelector("1,3")
	require.NoError(t, err)
	require.True(t, sel.Includes(1))
	require.False(t, sel.Includes(2))
	require.True(t, sel.Includes(3))
}

func TestParseSelector_Range(t *testing.T) {
	sel, err := ParseSelector("2-3")
	require.NoError(t, err)
	require.False(t, sel.Includes(1))
	require.True(t, sel.Includes(2))
	require.True(t, sel.Includes(3))
	require.False(t, sel.Includes(4))
}

func TestParseSelector_BadRangeFails(t *testing.T) {
	_, err := ParseSelector("3-1")
	require.Error(t, err)
	_, err = ParseSelector("x-3")
	require.Error(t, err)
}

func TestParseSelector_BadNumberFails(t *testing.T) {
	_, err := ParseSelector("0")
	require.Error(t, err)
	_, err = ParseSelector("abc")
	require.Error(t, err)
}

func newRunningEngine(t *testing.T) (*relay.Engine, *recorder, *recorder) {
	t.Helper()
	sink := tee.New(false)
	e := relay.New(delim.New(nil, nil), sink, nil)
	a, b := &recorder{}, &recorder{}
	e.BindPeers(a, b)
	return e, a, b
}

func TestReplay_LineSelectorOneAndThree(t *testing.T) {
	path := writeCapture(t, sampleCapture)
	rel, _, b := newRunningEngine(t)
	re := New(rel, func() bool { return true })

	err := re.Run(path, "1,3")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x04}, b.flat())
}

func TestReplay_RangeTwoToThree(t *testing.T) {
	path := writeCapture(t, sampleCapture)
	rel, a, _ := newRunningEngine(t)
	re := New(rel, func() bool { return true })

	err := re.Run(path, "2-3")
	require.NoError(t, err)
	require.Equal(t, []byte{0x03}, a.flat())
}

func TestReplay_NotRunningFails(t *testing.T) {
	path := writeCapture(t, sampleCapture)
	rel, _, _ := newRunningEngine(t)
	re := New(rel, func() bool { return false })

	err := re.Run(path, "")
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestReplay_DirectionUnknownWhenNoHeaderAppliesToSelection(t *testing.T) {
	path := writeCapture(t, sampleCapture)
	rel, _, _ := newRunningEngine(t)
	re := New(rel, func() bool { return true })

	err := re.Run(path, "99")
	require.ErrorIs(t, err, ErrDirectionUnknown)
}

func TestReplay_MalformedCaptureFailsBeforeAnyWrite(t *testing.T) {
	path := writeCapture(t, "A -> B: 0xZZ \n")
	rel, _, b := newRunningEngine(t)
	re := New(rel, func() bool { return true })

	err := re.Run(path, "")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Empty(t, b.flat())
}

func TestDumpCapture_LineNumbersAreOneBased(t *testing.T) {
	path := writeCapture(t, sampleCapture)
	var buf bytes.Buffer
	require.NoError(t, DumpCapture(path, &buf))
	require.Contains(t, buf.String(), "    1: A -> B: 0x01 0x02 ")
	require.Contains(t, buf.String(), "    3: A -> B: 0x04 ")
}
