package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		payload []byte
	}{
		{name: "update with payload", label: TypeUpdate, payload: []byte{0x01, 0x02, 0x00, 0xff}},
		{name: "awareness with payload", label: TypeAwareness, payload: []byte("cursor at 12")},
		{name: "sync with empty payload", label: TypeSync, payload: nil},
		{name: "clients count", label: TypeClients, payload: []byte("3")},
		{name: "unrecognised label", label: "future-thing", payload: []byte{0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.label, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, byte(len(tt.label)), frame[0])

			label, payload, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.payload, payload)
		})
	}
}

func TestEncodeRejectsBadLabels(t *testing.T) {
	_, err := Encode("", []byte("x"))
	assert.Error(t, err)

	_, err = Encode(strings.Repeat("a", 256), nil)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty frame", frame: nil},
		{name: "zero label length", frame: []byte{0x00, 'a', 'b'}},
		{name: "label length exceeds frame", frame: []byte{0x10, 'u', 'p'}},
		{name: "only a length byte", frame: []byte{0x05}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.frame)
			assert.Error(t, err)
		})
	}
}

func TestDecodeLabelOnlyFrame(t *testing.T) {
	frame, err := Encode(TypeAwareness, nil)
	require.NoError(t, err)
	label, payload, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeAwareness, label)
	assert.Empty(t, payload)
}
