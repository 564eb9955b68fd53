// Package config persists the supervisor's settings, port assignments,
// delimiters, substitution tables, and checksum methods, across restarts,
// backed by viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/akrelay/akrelay/internal/delim"
	"github.com/akrelay/akrelay/internal/hexcodec"
	"github.com/akrelay/akrelay/internal/rewrite"
)

// Port mirrors supervisor.PortConfig in a viper-friendly shape.
type Port struct {
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

// Pattern mirrors rewrite.Pattern with hex-string fields, for persistence.
type Pattern struct {
	Match   string `mapstructure:"match"`
	Replace string `mapstructure:"replace"`
}

// DirectionConfig is the persisted substitution table and checksum method
// for one source direction.
type DirectionConfig struct {
	Substitution []Pattern `mapstructure:"substitution"`
	Checksum     string    `mapstructure:"checksum"`
}

// File is the full persisted configuration tree.
type File struct {
	PortA           Port            `mapstructure:"port_a"`
	PortB           Port            `mapstructure:"port_b"`
	StartDelimiters []string        `mapstructure:"start_delimiters"`
	EndDelimiters   []string        `mapstructure:"end_delimiters"`
	A               DirectionConfig `mapstructure:"a"`
	B               DirectionConfig `mapstructure:"b"`
}

// New returns a viper instance configured to look for "akrelay" config
// files (.yaml/.json/.toml) in the current directory and $HOME/.config/akrelay.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("akrelay")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/akrelay")
	v.SetDefault("port_a", Port{})
	v.SetDefault("port_b", Port{})
	return v
}

// Load reads the config file if present; a missing file is not an error,
// the returned File is simply empty.
func Load(v *viper.Viper) (File, error) {
	var f File
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return f, err
		}
	}
	if err := v.Unmarshal(&f); err != nil {
		return f, err
	}
	return f, nil
}

// Save writes f back to disk at path (created if it does not exist).
func Save(v *viper.Viper, f File, path string) error {
	v.Set("port_a", f.PortA)
	v.Set("port_b", f.PortB)
	v.Set("start_delimiters", f.StartDelimiters)
	v.Set("end_delimiters", f.EndDelimiters)
	v.Set("a", f.A)
	v.Set("b", f.B)
	return v.WriteConfigAs(path)
}

// ChecksumFromName resolves a CLI-friendly checksum name to rewrite.Checksum.
func ChecksumFromName(name string) (rewrite.Checksum, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return rewrite.None, nil
	case "xor8":
		return rewrite.Xor8, nil
	case "mod256":
		return rewrite.Mod256, nil
	case "mod256plus1":
		return rewrite.Mod256Plus1, nil
	case "twoscomplement8":
		return rewrite.TwosComplement8, nil
	default:
		return rewrite.None, fmt.Errorf("unknown checksum method %q", name)
	}
}

// DelimiterSet converts persisted hex-string delimiters into delim.Delimiter.
func DelimiterSet(raw []string) ([]delim.Delimiter, error) {
	out := make([]delim.Delimiter, 0, len(raw))
	for _, s := range raw {
		bs, err := hexcodec.ParseBytes(s)
		if err != nil {
			return nil, err
		}
		out = append(out, delim.Delimiter(bs))
	}
	return out, nil
}

// SubstitutionTable converts a persisted DirectionConfig's patterns into a
// rewrite.Table.
func SubstitutionTable(patterns []Pattern) (rewrite.Table, error) {
	out := make(rewrite.Table, 0, len(patterns))
	for _, p := range patterns {
		match, err := hexcodec.ParseBytes(p.Match)
		if err != nil {
			return nil, err
		}
		replace, err := hexcodec.ParseBytes(p.Replace)
		if err != nil {
			return nil, err
		}
		out = append(out, rewrite.Pattern{Match: match, Replace: replace})
	}
	return out, nil
}
