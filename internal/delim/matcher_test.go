package delim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akrelay/akrelay/internal/direction"
)

func feedAll(t *testing.T, m *Matcher, dir direction.Direction, bs []byte) []Result {
	t.Helper()
	out := make([]Result, len(bs))
	for i, b := range bs {
		out[i] = m.Feed(dir, b)
	}
	return out
}

func TestMatcher_NoDelimitersDisablesFraming(t *testing.T) {
	m := New(nil, nil)
	assert.False(t, m.Framed())
	assert.Equal(t, 0, m.Width())
	res := feedAll(t, m, direction.A, []byte{0x01, 0x02, 0x03})
	for _, r := range res {
		assert.Equal(t, NoMatch, r.Kind)
	}
}

func TestMatcher_SingleByteStartDelimiter(t *testing.T) {
	m := New([]Delimiter{{0xAA}}, nil)
	res := feedAll(t, m, direction.A, []byte{0x01, 0xAA, 0x02})
	require.Equal(t, NoMatch, res[0].Kind)
	require.Equal(t, StartMatched, res[1].Kind)
	assert.Equal(t, Delimiter{0xAA}, res[1].Delim)
	require.Equal(t, NoMatch, res[2].Kind)
}

func TestMatcher_MultiByteStartDelimiterRequiresFullTail(t *testing.T) {
	m := New([]Delimiter{{0xDE, 0xAD}}, nil)
	res := feedAll(t, m, direction.A, []byte{0xDE, 0x01, 0xDE, 0xAD})
	assert.Equal(t, NoMatch, res[0].Kind)
	assert.Equal(t, NoMatch, res[1].Kind)
	assert.Equal(t, NoMatch, res[2].Kind)
	require.Equal(t, StartMatched, res[3].Kind)
	assert.Equal(t, Delimiter{0xDE, 0xAD}, res[3].Delim)
}

func TestMatcher_EndDelimiter(t *testing.T) {
	m := New(nil, []Delimiter{{0x0D, 0x0A}})
	res := feedAll(t, m, direction.A, []byte{0x05, 0x0D, 0x0A})
	assert.Equal(t, NoMatch, res[0].Kind)
	assert.Equal(t, NoMatch, res[1].Kind)
	require.Equal(t, EndMatched, res[2].Kind)
}

func TestMatcher_InsertionOrderWinsOnOverlap(t *testing.T) {
	// "AB" and "B" both end the window after feeding 'A','B'; "AB" must win
	// since it was registered first.
	m := New([]Delimiter{{0x41, 0x42}, {0x42}}, nil)
	res := feedAll(t, m, direction.A, []byte{0x41, 0x42})
	require.Equal(t, StartMatched, res[1].Kind)
	assert.Equal(t, Delimiter{0x41, 0x42}, res[1].Delim)
}

func TestMatcher_DirectionsAreIndependent(t *testing.T) {
	m := New([]Delimiter{{0xAA}}, nil)
	resA := m.Feed(direction.A, 0xAA)
	resB := m.Feed(direction.B, 0x01)
	assert.Equal(t, StartMatched, resA.Kind)
	assert.Equal(t, NoMatch, resB.Kind)
}

func TestMatcher_MatchClearsWindow(t *testing.T) {
	m := New([]Delimiter{{0xAA, 0xBB}}, nil)
	feedAll(t, m, direction.A, []byte{0xAA, 0xBB})
	// window cleared; feeding 0xBB alone must not immediately re-match
	res := m.Feed(direction.A, 0xBB)
	assert.Equal(t, NoMatch, res.Kind)
	res = m.Feed(direction.A, 0xAA)
	assert.Equal(t, NoMatch, res.Kind)
	res = m.Feed(direction.A, 0xBB)
	assert.Equal(t, StartMatched, res.Kind)
}

func TestMatcher_PeekEndDoesNotMutate(t *testing.T) {
	m := New(nil, []Delimiter{{0x0D}})
	// Feed would match and clear the window, so place the byte in the
	// window directly to leave an end-delimiter at its tail.
	m.wins[direction.A].push(0x0D)
	d, ok := m.PeekEnd(direction.A)
	require.True(t, ok)
	assert.Equal(t, Delimiter{0x0D}, d)
	// calling PeekEnd again must see the same result, proving no mutation
	d2, ok2 := m.PeekEnd(direction.A)
	assert.True(t, ok2)
	assert.Equal(t, d, d2)
}
