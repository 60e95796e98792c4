// Package metadata builds and reads the broker headers of bus envelopes.
//
// The envelope payload is authoritative. The headers exist so brokers and log
// pipelines can filter without decoding it, and so a receiver can drop stray
// traffic on a shared topic early.
package metadata

import "strconv"

// Header keys set on every bus envelope.
const (
	KeyWorld  = "onesided_world"
	KeyKind   = "onesided_kind"
	KeySource = "onesided_source"
	KeyDest   = "onesided_dest"
)

// Metadata holds the headers of one envelope.
type Metadata map[string]string

// Envelope returns the headers of an envelope of kind sent from src to dest.
func Envelope(world, kind string, src, dest int) Metadata {
	return Metadata{
		KeyWorld:  world,
		KeyKind:   kind,
		KeySource: strconv.Itoa(src),
		KeyDest:   strconv.Itoa(dest),
	}
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

func (m Metadata) World() string { return m[KeyWorld] }
func (m Metadata) Kind() string  { return m[KeyKind] }

// Source returns the sending rank, or -1 when the header is missing or
// malformed.
func (m Metadata) Source() int { return m.rank(KeySource) }

// Dest returns the addressed rank, or -1 when the header is missing or
// malformed.
func (m Metadata) Dest() int { return m.rank(KeyDest) }

func (m Metadata) rank(key string) int {
	v, ok := m[key]
	if !ok {
		return -1
	}
	r, err := strconv.Atoi(v)
	if err != nil || r < 0 {
		return -1
	}
	return r
}

// AddressedTo reports whether the headers are compatible with an envelope for
// rank in world. Backends that drop headers on the way are let through.
func (m Metadata) AddressedTo(world string, rank int) bool {
	if w, ok := m[KeyWorld]; ok && w != world {
		return false
	}
	if _, ok := m[KeyDest]; ok && m.Dest() != rank {
		return false
	}
	return true
}
