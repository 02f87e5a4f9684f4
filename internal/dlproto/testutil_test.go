package dlproto_test

import (
	"bufio"
	"bytes"
)

func newBufReader(b []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(b))
}
