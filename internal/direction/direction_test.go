package direction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirection_Opposite(t *testing.T) {
	assert.Equal(t, B, A.Opposite())
	assert.Equal(t, A, B.Opposite())
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "A", A.String())
	assert.Equal(t, "B", B.String())
}

func TestDirection_Valid(t *testing.T) {
	assert.True(t, A.Valid())
	assert.True(t, B.Valid())
	assert.False(t, Direction(0).Valid())
	assert.False(t, Direction('C').Valid())
}
