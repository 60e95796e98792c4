package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	errspkg "github.com/drblury/onesided/internal/runtime/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := envelope{
		Kind:   kindGetReply,
		Source: 3,
		Tag:    -7,
		Seq:    42,
		Offset: 128,
		Length: 16,
		ID:     "01J9Z6",
		Data:   []byte{1, 2, 3},
		Err:    "boom",
		Code:   codeOutOfBounds,
	}
	out, err := unmarshalEnvelope(in.marshal())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEnvelopeKeepsEmptyData(t *testing.T) {
	out, err := unmarshalEnvelope(envelope{Kind: kindData, Data: []byte{}}.marshal())
	require.NoError(t, err)
	assert.NotNil(t, out.Data)
	assert.Empty(t, out.Data)

	out, err = unmarshalEnvelope(envelope{Kind: kindFence, Seq: 1}.marshal())
	require.NoError(t, err)
	assert.Nil(t, out.Data)
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	b := envelope{Kind: kindHello, Source: 1}.marshal()
	b = protowire.AppendTag(b, 99, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	out, err := unmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, envelope{Kind: kindHello, Source: 1}, out)
}

func TestEnvelopeMalformed(t *testing.T) {
	tests := map[string][]byte{
		"truncated varint": {0x08},
		"truncated bytes":  {0x42, 0x05, 0x01},
		"missing kind":     envelope{Source: 1}.marshal(),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := unmarshalEnvelope(b)
			assert.ErrorIs(t, err, errspkg.ErrMalformedEnvelope)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "get-reply", kindGetReply.String())
	assert.Equal(t, "kind(200)", kind(200).String())
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, mailKey{kind: kindFence, source: 1, seq: 4}, keyOf(envelope{Kind: kindFence, Source: 1, Seq: 4, Tag: 9}))
	assert.Equal(t, mailKey{kind: kindData, source: 2, tag: 9, seq: 4}, keyOf(envelope{Kind: kindData, Source: 2, Seq: 4, Tag: 9}))
	assert.Equal(t, mailKey{kind: kindGetReply, source: 0, id: "x"}, keyOf(envelope{Kind: kindGetReply, ID: "x", Seq: 3}))
}
