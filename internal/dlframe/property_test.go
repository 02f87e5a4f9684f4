package dlframe_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bigbag/tinyboot/internal/dlframe"
)

func genFrame(t *rapid.T) dlframe.Frame {
	typ := dlframe.Type(rapid.SampledFrom([]byte{
		byte(dlframe.TypeCmd), byte(dlframe.TypeHeader), byte(dlframe.TypeData),
	}).Draw(t, "type"))
	payload := rapid.SliceOfN(rapid.Byte(), 0, dlframe.MaxPayload).Draw(t, "payload")
	return dlframe.Frame{Type: typ, Payload: payload}
}

// Round-trip law: Decode(Encode(frame)) == frame for any well-formed frame.
func TestFrame_RoundTripLaw(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frame := genFrame(t)

		encoded, err := frame.Encode()
		require.NoError(t, err)

		decoded, err := dlframe.ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
		require.NoError(t, err)

		assert.Equal(t, frame.Type, decoded.Type)
		assert.Equal(t, frame.Payload, decoded.Payload)
	})
}

// Round-trip law: a single-bit corruption of an encoded frame is detected
// as a CRC mismatch (unless it happens to land on SOF/EOF/LEN in a way that
// fails earlier, which is an even stronger rejection).
func TestFrame_BitCorruptionDetected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frame := genFrame(t)
		encoded, err := frame.Encode()
		require.NoError(t, err)
		if len(encoded) == 0 {
			return
		}

		bit := rapid.IntRange(0, len(encoded)*8-1).Draw(t, "bit")
		corrupted := append([]byte(nil), encoded...)
		corrupted[bit/8] ^= 1 << uint(bit%8)

		if bytes.Equal(corrupted, encoded) {
			return
		}

		_, err = dlframe.ReadFrame(bufio.NewReader(bytes.NewReader(corrupted)))
		assert.Error(t, err)
	})
}
