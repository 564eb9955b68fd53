package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akrelay/akrelay/internal/rewrite"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	v := viper.New()
	v.SetConfigName("akrelay")
	v.AddConfigPath(t.TempDir())

	f, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Port{}, f.PortA)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "akrelay.yaml")
	v := viper.New()
	v.SetConfigType("yaml")

	in := File{
		PortA:           Port{Device: "/dev/ttyUSB0", Baud: 115200},
		PortB:           Port{Device: "/dev/ttyUSB1", Baud: 9600},
		StartDelimiters: []string{"0xaa"},
		EndDelimiters:   []string{"0x0a"},
		A: DirectionConfig{
			Substitution: []Pattern{{Match: "0x31", Replace: "0x41"}},
			Checksum:     "xor8",
		},
	}
	require.NoError(t, Save(v, in, path))

	v2 := viper.New()
	v2.SetConfigFile(path)
	out, err := Load(v2)
	require.NoError(t, err)
	assert.Equal(t, in.PortA, out.PortA)
	assert.Equal(t, in.PortB, out.PortB)
	assert.Equal(t, in.StartDelimiters, out.StartDelimiters)
	assert.Equal(t, in.A.Checksum, out.A.Checksum)
	require.Len(t, out.A.Substitution, 1)
	assert.Equal(t, "0x31", out.A.Substitution[0].Match)
}

func TestChecksumFromName(t *testing.T) {
	cases := map[string]rewrite.Checksum{
		"":                rewrite.None,
		"none":            rewrite.None,
		"xor8":            rewrite.Xor8,
		"Mod256":          rewrite.Mod256,
		"mod256plus1":     rewrite.Mod256Plus1,
		"TwosComplement8": rewrite.TwosComplement8,
	}
	for name, want := range cases {
		got, err := ChecksumFromName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChecksumFromName_Unknown(t *testing.T) {
	_, err := ChecksumFromName("bogus")
	assert.Error(t, err)
}

func TestDelimiterSet(t *testing.T) {
	ds, err := DelimiterSet([]string{"0xaa", "0xde 0xad"})
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, []byte{0xAA}, []byte(ds[0]))
	assert.Equal(t, []byte{0xDE, 0xAD}, []byte(ds[1]))
}

func TestSubstitutionTable(t *testing.T) {
	tbl, err := SubstitutionTable([]Pattern{{Match: "0x31 0x32", Replace: "0x41 0x42"}})
	require.NoError(t, err)
	require.Len(t, tbl, 1)
	assert.Equal(t, []byte{0x31, 0x32}, tbl[0].Match)
	assert.Equal(t, []byte{0x41, 0x42}, tbl[0].Replace)
}
