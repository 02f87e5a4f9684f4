package dlproto

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/bigbag/tinyboot/internal/crc32x"
	"github.com/bigbag/tinyboot/internal/dlframe"
	"github.com/bigbag/tinyboot/internal/transport"
)

// maxRetries is how many times the host retransmits a frame after a NACK
// before giving up.
const maxRetries = 3

// responseTimeout bounds how long the host waits for an ACK/NACK to a sent
// frame.
const responseTimeout = 10 * time.Second

// ProgressFunc is called after each fragment is ACKed, with the number of
// fragments sent so far and the total fragment count.
type ProgressFunc func(sent, total int)

// Host drives the host-side download state machine over one Link.
type Host struct {
	link           transport.Link
	interByteDelay time.Duration
	onProgress     ProgressFunc
}

// NewHost builds a Host. interByteDelay, when non-zero, is applied between
// every byte written — a compatibility knob for single-byte UART receive
// paths on the device, not a correctness requirement. The in-memory test
// transport should pass 0.
func NewHost(link transport.Link, interByteDelay time.Duration) *Host {
	return &Host{link: link, interByteDelay: interByteDelay}
}

// SetProgressCallback installs fn to be called after every ACKed fragment.
func (h *Host) SetProgressCallback(fn ProgressFunc) {
	h.onProgress = fn
}

func (h *Host) writeFrame(encoded []byte) error {
	if h.interByteDelay <= 0 {
		_, err := h.link.Write(encoded)
		return err
	}
	for _, b := range encoded {
		if _, err := h.link.Write([]byte{b}); err != nil {
			return err
		}
		time.Sleep(h.interByteDelay)
	}
	return nil
}

// sendAndAwaitACK writes encoded, waits for a response, and retries up to
// maxRetries times on NACK or a malformed/timed-out response.
func (h *Host) sendAndAwaitACK(r *bufio.Reader, encoded []byte) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := h.writeFrame(encoded); err != nil {
			return fmt.Errorf("dlproto: write frame: %w", err)
		}

		h.link.SetReadDeadline(time.Now().Add(responseTimeout))
		resp, err := dlframe.ReadResponse(r)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Code == dlframe.ResponseACK {
			return nil
		}
		lastErr = fmt.Errorf("dlproto: device NACKed")
	}
	return fmt.Errorf("%w: %v", ErrNackBudgetExceeded, lastErr)
}

func (h *Host) sendCmd(r *bufio.Reader, cmd dlframe.Cmd) error {
	frame := dlframe.Frame{Type: dlframe.TypeCmd, Payload: []byte{byte(cmd)}}
	encoded, err := frame.Encode()
	if err != nil {
		return err
	}
	return h.sendAndAwaitACK(r, encoded)
}

// SendImage drives START -> HEADER -> DATA* -> END against the device,
// retransmitting on NACK. END is sent without waiting for a response: the
// device may already be rebooting into the newly flashed application by
// the time it would ACK.
func (h *Host) SendImage(ctx context.Context, image []byte) error {
	r := bufio.NewReader(h.link)
	crc := crc32x.Compute(image)
	size := uint32(len(image))

	if err := h.sendCmd(r, dlframe.CmdStart); err != nil {
		return fmt.Errorf("dlproto: START: %w", err)
	}

	header := dlframe.Frame{Type: dlframe.TypeHeader, Payload: dlframe.EncodeHeaderPayload(size, crc)}
	encoded, err := header.Encode()
	if err != nil {
		return err
	}
	if err := h.sendAndAwaitACK(r, encoded); err != nil {
		return fmt.Errorf("dlproto: HEADER: %w", err)
	}

	total := int((size + fragmentSize - 1) / fragmentSize)
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := i * fragmentSize
		end := start + fragmentSize
		if end > len(image) {
			end = len(image)
		}
		frame := dlframe.Frame{Type: dlframe.TypeData, Payload: image[start:end]}
		encoded, err := frame.Encode()
		if err != nil {
			return err
		}
		if err := h.sendAndAwaitACK(r, encoded); err != nil {
			return fmt.Errorf("dlproto: DATA fragment %d/%d: %w", i+1, total, err)
		}
		if h.onProgress != nil {
			h.onProgress(i+1, total)
		}
	}

	endFrame := dlframe.Frame{Type: dlframe.TypeCmd, Payload: []byte{byte(dlframe.CmdEnd)}}
	endEncoded, err := endFrame.Encode()
	if err != nil {
		return err
	}
	if err := h.writeFrame(endEncoded); err != nil {
		return fmt.Errorf("dlproto: END: %w", err)
	}
	return nil
}
