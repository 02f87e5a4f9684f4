package flashstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/tinyboot/internal/flashstore"
)

func newTestMemory() *flashstore.Memory {
	return flashstore.NewMemory(0x1000, 256, 4)
}

func TestMemory_ProgramRequiresErase(t *testing.T) {
	m := newTestMemory()
	data := make([]byte, 32)

	err := m.Program(0x1000, data)
	assert.NoError(t, err)

	// Second program of the same (now un-erased) region must fail.
	err = m.Program(0x1000, data)
	assert.ErrorIs(t, err, flashstore.ErrNotErased)
}

func TestMemory_EraseThenProgramSucceeds(t *testing.T) {
	m := newTestMemory()
	data := make([]byte, 32)
	require.NoError(t, m.Program(0x1000, data))

	require.NoError(t, m.Erase(0, 0, 1))
	err := m.Program(0x1000, data)
	assert.NoError(t, err)
}

func TestMemory_MisalignedProgramRejected(t *testing.T) {
	m := newTestMemory()
	err := m.Program(0x1001, make([]byte, 32))
	assert.ErrorIs(t, err, flashstore.ErrMisaligned)

	err = m.Program(0x1000, make([]byte, 31))
	assert.ErrorIs(t, err, flashstore.ErrMisaligned)
}

func TestMemory_OutOfRangeRejected(t *testing.T) {
	m := newTestMemory()
	_, err := m.Read(0x2000, 32)
	assert.ErrorIs(t, err, flashstore.ErrOutOfRange)
}

func TestMemory_ReadReflectsProgram(t *testing.T) {
	m := newTestMemory()
	data := []byte{1, 2, 3, 4}
	payload := make([]byte, 32)
	copy(payload, data)
	require.NoError(t, m.Program(0x1000, payload))

	got, err := m.Read(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMemory_EraseFillsWithFF(t *testing.T) {
	m := newTestMemory()
	require.NoError(t, m.Erase(0, 1, 1))
	got, err := m.Read(0x1000+256, 256)
	require.NoError(t, err)
	for _, b := range got {
		assert.Equal(t, byte(0xFF), b)
	}
}
