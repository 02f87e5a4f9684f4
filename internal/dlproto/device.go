// Package dlproto implements both sides of the download protocol's state
// machine: Device (on-target receiver) and Host (PC-side sender). Both run
// over a transport.Link and speak the frames defined in internal/dlframe.
package dlproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigbag/tinyboot/internal/bootconfig"
	"github.com/bigbag/tinyboot/internal/dlframe"
	"github.com/bigbag/tinyboot/internal/flashstore"
	"github.com/bigbag/tinyboot/internal/transport"
)

// DeviceState is one state of the device-side download state machine.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateHeader
	StateData
	StateSuccess
	StateFailed
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateHeader:
		return "HEADER"
	case StateData:
		return "DATA"
	case StateSuccess:
		return "SUCCESS"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
}

// nackBudget is the number of consecutive NACKs the device tolerates
// before giving up on the current download.
const nackBudget = 3

// fragmentSize is the fixed size of every DATA fragment except possibly the
// last.
const fragmentSize = 1024

// frameTimeout bounds each frame read once a download is in progress. The
// deadline is set once before each frame, so all of that frame's bytes must
// arrive within it; it is not restarted per byte. IDLE waits indefinitely
// for START.
const frameTimeout = 10 * time.Second

var (
	ErrNackBudgetExceeded = errors.New("dlproto: nack budget exceeded")
	ErrFlashFault         = errors.New("dlproto: flash operation failed")
)

// DeviceConfig describes the flash geometry the Device writes into: the
// application slot's bank/sector range (erased on the first DATA frame)
// and its byte address/size.
type DeviceConfig struct {
	AppBase        uint32
	AppSlotSize    uint32
	AppBank        int
	AppFirstSector int
	AppNumSectors  int
}

// Outcome summarizes how a Device.Run call ended.
type Outcome struct {
	State   DeviceState
	AppSize uint32
	AppCRC  uint32
}

// Device runs the device-side download state machine against one Link,
// persisting results through a Store and a bootconfig Save.
type Device struct {
	link  transport.Link
	store flashstore.Store
	cfg   DeviceConfig
	log   *slog.Logger

	state             DeviceState
	nackCount         int
	receivedFragments int
	totalFragments    int
	appSize           uint32
	expectedCRC       uint32
	erasedForDownload bool
	anyWriteOccurred  bool
}

// NewDevice builds a Device ready to Run once.
func NewDevice(link transport.Link, store flashstore.Store, cfg DeviceConfig, log *slog.Logger) *Device {
	if log == nil {
		log = slog.Default()
	}
	return &Device{link: link, store: store, cfg: cfg, log: log, state: StateIdle}
}

func (d *Device) ack(w *bufio.Writer) error {
	d.nackCount = 0
	_, err := w.Write(dlframe.Response{Code: dlframe.ResponseACK}.Encode())
	if err == nil {
		err = w.Flush()
	}
	return err
}

// nack sends a NACK and reports whether the nack budget has now been
// exhausted (caller should transition to StateFailed when true).
func (d *Device) nack(w *bufio.Writer) (budgetExceeded bool, err error) {
	d.nackCount++
	_, err = w.Write(dlframe.Response{Code: dlframe.ResponseNACK}.Encode())
	if err == nil {
		err = w.Flush()
	}
	return d.nackCount >= nackBudget, err
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

// Run drives the device state machine to completion (SUCCESS or FAILED),
// persisting config via store as described in the download protocol's
// terminal-state table.
func (d *Device) Run(ctx context.Context) (Outcome, error) {
	r := bufio.NewReader(d.link)
	w := bufio.NewWriter(d.link)

	for d.state != StateSuccess && d.state != StateFailed {
		select {
		case <-ctx.Done():
			return Outcome{State: d.state}, ctx.Err()
		default:
		}

		if d.state == StateIdle {
			d.link.SetReadDeadline(time.Time{})
		} else {
			d.link.SetReadDeadline(time.Now().Add(frameTimeout))
		}

		frame, err := dlframe.ReadFrame(r)
		if err != nil {
			if d.state == StateData && isTimeout(err) {
				// Transient: re-enter the receive loop without counting
				// against the NACK budget.
				continue
			}
			exceeded, nerr := d.nack(w)
			if nerr != nil {
				return Outcome{State: d.state}, fmt.Errorf("dlproto: send nack: %w", nerr)
			}
			if exceeded {
				d.state = StateFailed
			}
			continue
		}

		if err := d.handleFrame(w, frame); err != nil {
			return Outcome{State: d.state}, err
		}
	}

	if d.state == StateSuccess {
		return d.finishSuccess()
	}
	return d.finishFailed()
}

func (d *Device) handleFrame(w *bufio.Writer, frame dlframe.Frame) error {
	switch d.state {
	case StateIdle:
		return d.handleIdle(w, frame)
	case StateHeader:
		return d.handleHeader(w, frame)
	case StateData:
		return d.handleData(w, frame)
	}
	return nil
}

func isCmd(frame dlframe.Frame, cmd dlframe.Cmd) bool {
	return frame.Type == dlframe.TypeCmd && len(frame.Payload) == 1 && dlframe.Cmd(frame.Payload[0]) == cmd
}

func (d *Device) handleIdle(w *bufio.Writer, frame dlframe.Frame) error {
	switch {
	case isCmd(frame, dlframe.CmdStart):
		if err := d.ack(w); err != nil {
			return err
		}
		d.state = StateHeader
		return nil
	case isCmd(frame, dlframe.CmdAbort):
		return d.ack(w)
	default:
		exceeded, err := d.nack(w)
		if err != nil {
			return err
		}
		if exceeded {
			d.state = StateFailed
		}
		return nil
	}
}

func (d *Device) handleHeader(w *bufio.Writer, frame dlframe.Frame) error {
	switch {
	case frame.Type == dlframe.TypeHeader && len(frame.Payload) == 8:
		size, crc, err := dlframe.DecodeHeaderPayload(frame.Payload)
		if err != nil {
			exceeded, nerr := d.nack(w)
			if nerr != nil {
				return nerr
			}
			if exceeded {
				d.state = StateFailed
			}
			return nil
		}
		d.appSize = size
		d.expectedCRC = crc
		d.totalFragments = int((size + fragmentSize - 1) / fragmentSize)
		if err := d.ack(w); err != nil {
			return err
		}
		d.state = StateData
		return nil
	case isCmd(frame, dlframe.CmdAbort):
		// No writes have started yet: clean return to IDLE.
		if err := d.ack(w); err != nil {
			return err
		}
		d.state = StateIdle
		return nil
	default:
		exceeded, err := d.nack(w)
		if err != nil {
			return err
		}
		if exceeded {
			d.state = StateFailed
		}
		return nil
	}
}

func (d *Device) handleData(w *bufio.Writer, frame dlframe.Frame) error {
	switch {
	case frame.Type == dlframe.TypeData && len(frame.Payload) > 0:
		if !d.erasedForDownload {
			if err := d.store.Erase(d.cfg.AppBank, d.cfg.AppFirstSector, d.cfg.AppNumSectors); err != nil {
				d.log.Error("app slot erase failed", "err", err)
				d.state = StateFailed
				return nil
			}
			d.erasedForDownload = true
		}

		offset := uint32(d.receivedFragments) * fragmentSize
		padded := padToProgramUnit(frame.Payload)
		if err := d.store.Program(d.cfg.AppBase+offset, padded); err != nil {
			d.log.Error("app fragment program failed", "err", err)
			d.state = StateFailed
			return nil
		}
		d.anyWriteOccurred = true
		d.receivedFragments++

		if err := d.ack(w); err != nil {
			return err
		}
		if d.receivedFragments >= d.totalFragments {
			d.state = StateSuccess
		}
		return nil

	case isCmd(frame, dlframe.CmdEnd):
		if err := d.ack(w); err != nil {
			return err
		}
		d.state = StateSuccess
		return nil

	case isCmd(frame, dlframe.CmdAbort):
		if !d.erasedForDownload {
			// No DATA frame accepted yet, so nothing was erased: clean
			// return to IDLE.
			if err := d.ack(w); err != nil {
				return err
			}
			d.state = StateIdle
			return nil
		}
		// A write has already started; the erase cannot be rolled back.
		exceeded, err := d.nack(w)
		if err != nil {
			return err
		}
		if exceeded {
			d.state = StateFailed
		}
		return nil

	default:
		exceeded, err := d.nack(w)
		if err != nil {
			return err
		}
		if exceeded {
			d.state = StateFailed
		}
		return nil
	}
}

func padToProgramUnit(payload []byte) []byte {
	rem := len(payload) % flashstore.ProgramUnit
	if rem == 0 {
		return payload
	}
	padded := make([]byte, len(payload)+(flashstore.ProgramUnit-rem))
	copy(padded, payload)
	return padded
}

func (d *Device) finishSuccess() (Outcome, error) {
	cfg := bootconfig.Config{
		RebootReason:  bootconfig.RebootNormalBoot,
		IsAppFlashed:  true,
		IsAppBootable: false,
		AppSize:       d.appSize,
		AppCRC:        d.expectedCRC,
	}
	if err := bootconfig.Save(d.store, cfg); err != nil {
		return Outcome{State: StateFailed}, fmt.Errorf("%w: %v", ErrFlashFault, err)
	}
	return Outcome{State: StateSuccess, AppSize: d.appSize, AppCRC: d.expectedCRC}, nil
}

func (d *Device) finishFailed() (Outcome, error) {
	if d.anyWriteOccurred {
		cfg := bootconfig.Config{
			RebootReason:  bootconfig.RebootAppFailed,
			IsAppFlashed:  false,
			IsAppBootable: false,
		}
		if err := bootconfig.Save(d.store, cfg); err != nil {
			return Outcome{State: StateFailed}, fmt.Errorf("%w: %v", ErrFlashFault, err)
		}
	}
	return Outcome{State: StateFailed}, ErrNackBudgetExceeded
}
