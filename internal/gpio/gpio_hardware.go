//go:build hardware

package gpio

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/host/v3"
)

var hostInitialized atomic.Bool

func ensureHostInit() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("gpio: host init: %w", err)
		}
	}
	return nil
}

// PinButton is a Button backed by a periph.io gpio.PinIO, read high-active.
type PinButton struct {
	pin gpio.PinIO
}

// NewPinButton opens pin as an input and returns a Button reading it.
func NewPinButton(pin gpio.PinIO) (*PinButton, error) {
	if err := ensureHostInit(); err != nil {
		return nil, err
	}
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure button pin: %w", err)
	}
	return &PinButton{pin: pin}, nil
}

func (b *PinButton) Pressed() bool {
	return b.pin.Read() == gpio.High
}

// PinLED is an LED backed by three periph.io gpio.PinIO outputs, one per
// non-zero FailureClass (pin i lights for class i+1), matching the bootloader's one-LED-per-failure-class
// diagnostic scheme.
type PinLED struct {
	pins [3]gpio.PinIO
}

// NewPinLED opens pins as outputs and returns an LED driving them. Exactly
// one pin is set high per non-zero FailureClass.
func NewPinLED(pins [3]gpio.PinIO) (*PinLED, error) {
	if err := ensureHostInit(); err != nil {
		return nil, err
	}
	for i, pin := range pins {
		if err := pin.Out(gpio.Low); err != nil {
			return nil, fmt.Errorf("gpio: configure LED pin %d: %w", i, err)
		}
	}
	return &PinLED{pins: pins}, nil
}

func (l *PinLED) Set(class FailureClass) {
	for i, pin := range l.pins {
		level := gpio.Low
		if int(class) == i+1 {
			level = gpio.High
		}
		pin.Out(level)
	}
}
