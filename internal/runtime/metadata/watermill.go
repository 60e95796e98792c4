package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies Watermill metadata. The result is never nil.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	maps.Copy(out, md)
	return out
}

// ToWatermill copies m into a Watermill map.
func ToWatermill(m Metadata) message.Metadata {
	out := make(message.Metadata, len(m))
	maps.Copy(out, m)
	return out
}

// LogFields converts the headers into Watermill log fields, dropping the key
// prefix.
func (m Metadata) LogFields() watermill.LogFields {
	fields := make(watermill.LogFields, len(m))
	for k, v := range m {
		switch k {
		case KeyWorld:
			fields["world"] = v
		case KeyKind:
			fields["kind"] = v
		case KeySource:
			fields["source"] = v
		case KeyDest:
			fields["dest"] = v
		default:
			fields[k] = v
		}
	}
	return fields
}
