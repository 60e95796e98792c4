// Package jsoncodec wraps sonic for the JSON surfaces of the module: the
// debug API, recorded metadata and the line format of the file transport.
//
// Marshal, Encode and friends use the standard-compatible configuration.
// MarshalLine uses the fastest one, which skips HTML escaping and map key
// sorting; lines are only read back by this package.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var (
	std  = sonic.ConfigStd
	fast = sonic.ConfigFastest
)

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return std.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return std.NewDecoder(r).Decode(v)
}

// MarshalLine encodes v on a single line terminated by a newline.
func MarshalLine(v any) ([]byte, error) {
	b, err := fast.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// UnmarshalLine decodes a line written by MarshalLine. The trailing newline
// is optional.
func UnmarshalLine(line []byte, v any) error {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return fast.Unmarshal(line, v)
}
