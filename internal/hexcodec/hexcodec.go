// Package hexcodec parses and formats the "0xHH" byte-sequence notation
// used throughout the CLI surface: delimiter sets, substitution patterns,
// and ad-hoc byte literals.
package hexcodec

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBytes parses a whitespace- or comma-separated sequence of "0xHH"
// tokens into raw bytes.
func ParseBytes(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		if len(f) < 3 || f[0] != '0' || (f[1] != 'x' && f[1] != 'X') {
			return nil, fmt.Errorf("malformed byte literal %q", f)
		}
		v, err := strconv.ParseUint(f[2:], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("malformed byte literal %q", f)
		}
		out = append(out, byte(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty byte literal")
	}
	return out, nil
}

// FormatBytes renders bs as space-separated "0xHH" tokens.
func FormatBytes(bs []byte) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = fmt.Sprintf("0x%02x", b)
	}
	return strings.Join(parts, " ")
}

// ParseDelimiterSet parses a comma-separated list of delimiters, each
// itself a space-separated run of "0xHH" tokens, e.g. "0xaa,0xde 0xad".
func ParseDelimiterSet(s string) ([][]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	groups := strings.Split(s, ",")
	out := make([][]byte, 0, len(groups))
	for _, g := range groups {
		bs, err := ParseBytes(g)
		if err != nil {
			return nil, err
		}
		out = append(out, bs)
	}
	return out, nil
}
