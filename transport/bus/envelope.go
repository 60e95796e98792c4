package bus

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

type kind uint8

const (
	kindUnknown kind = iota
	kindHello
	kindWelcome
	kindFence
	kindBroadcast
	kindData
	kindGet
	kindGetReply
)

var kindNames = [...]string{
	kindUnknown:   "unknown",
	kindHello:     "hello",
	kindWelcome:   "welcome",
	kindFence:     "fence",
	kindBroadcast: "broadcast",
	kindData:      "data",
	kindGet:       "get",
	kindGetReply:  "get-reply",
}

func (k kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error codes carried by get replies.
const (
	codeOK uint64 = iota
	codeNoWindow
	codeOutOfBounds
	codeTooLarge
)

// envelopeOverhead bounds the encoded size of an envelope without its data.
const envelopeOverhead = 128

// Field numbers of the envelope encoding.
const (
	fieldKind protowire.Number = iota + 1
	fieldSource
	fieldTag
	fieldSeq
	fieldOffset
	fieldLength
	fieldID
	fieldData
	fieldErr
	fieldCode
)

// envelope is the unit exchanged between ranks. It is encoded with the
// protobuf wire format so any backend can carry it as an opaque payload.
type envelope struct {
	Kind   kind
	Source int
	Tag    int64
	Seq    uint64
	Offset int64
	Length int64
	ID     string
	Data   []byte
	Err    string
	Code   uint64
}

func (e envelope) marshal() []byte {
	b := make([]byte, 0, 48+len(e.ID)+len(e.Data)+len(e.Err))
	b = appendVarint(b, fieldKind, uint64(e.Kind))
	b = appendVarint(b, fieldSource, uint64(e.Source))
	if e.Tag != 0 {
		b = appendVarint(b, fieldTag, protowire.EncodeZigZag(e.Tag))
	}
	if e.Seq != 0 {
		b = appendVarint(b, fieldSeq, e.Seq)
	}
	if e.Offset != 0 {
		b = appendVarint(b, fieldOffset, protowire.EncodeZigZag(e.Offset))
	}
	if e.Length != 0 {
		b = appendVarint(b, fieldLength, protowire.EncodeZigZag(e.Length))
	}
	if e.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, e.ID)
	}
	if e.Data != nil {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Data)
	}
	if e.Err != "" {
		b = protowire.AppendTag(b, fieldErr, protowire.BytesType)
		b = protowire.AppendString(b, e.Err)
	}
	if e.Code != codeOK {
		b = appendVarint(b, fieldCode, e.Code)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func unmarshalEnvelope(b []byte) (envelope, error) {
	var e envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return envelope{}, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return envelope{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKind:
				e.Kind = kind(v)
			case fieldSource:
				e.Source = int(v)
			case fieldTag:
				e.Tag = protowire.DecodeZigZag(v)
			case fieldSeq:
				e.Seq = v
			case fieldOffset:
				e.Offset = protowire.DecodeZigZag(v)
			case fieldLength:
				e.Length = protowire.DecodeZigZag(v)
			case fieldCode:
				e.Code = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return envelope{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				e.ID = string(v)
			case fieldData:
				e.Data = v
				if e.Data == nil {
					e.Data = []byte{}
				}
			case fieldErr:
				e.Err = string(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return envelope{}, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if e.Kind == kindUnknown {
		return envelope{}, malformed(fmt.Errorf("missing kind"))
	}
	return e, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", errspkg.ErrMalformedEnvelope, err)
}
