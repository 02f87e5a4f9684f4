package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbag/tinyboot/internal/transport"
)

func TestPipe_WriteDoesNotBlockWithoutReader(t *testing.T) {
	host, _ := transport.Pipe()

	done := make(chan struct{})
	go func() {
		_, err := host.Write([]byte{1, 2, 3})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write blocked with no reader present")
	}
}

func TestPipe_ReadSeesWrite(t *testing.T) {
	host, device := transport.Pipe()

	_, err := host.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := device.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestPipe_ReadDeadlineTimesOut(t *testing.T) {
	_, device := transport.Pipe()
	require.NoError(t, device.SetReadDeadline(time.Now().Add(20*time.Millisecond)))

	buf := make([]byte, 1)
	_, err := device.Read(buf)
	require.Error(t, err)

	var te interface{ Timeout() bool }
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout())
}
