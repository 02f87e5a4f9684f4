// Package serial implements the host side of the byte-oriented transport
// the download protocol runs over: a serial port opened at the protocol's
// download baud rate, exposing the transport.Link interface.
package serial

import (
	"fmt"
	"runtime"
	"time"

	goserial "go.bug.st/serial"
)

// DefaultBaudRate is the download link's baud rate (§6): both sides must
// agree, and this is the build-time default absent a CLI override.
const DefaultBaudRate = 921600

// Port wraps an open serial port and implements transport.Link.
type Port struct {
	port     goserial.Port
	raw      *RawPort // used on Linux for raw termios access
	portName string
	baudRate int
	deadline time.Time
}

// Open opens portName at baudRate, 8N1. On Linux it prefers raw termios
// syscalls (better behavior with USB-CDC virtual ports); elsewhere it uses
// go.bug.st/serial.
func Open(portName string, baudRate int) (*Port, error) {
	if runtime.GOOS == "linux" {
		raw, err := OpenRaw(portName, baudRate)
		if err != nil {
			return nil, err
		}
		return &Port{raw: raw, portName: portName, baudRate: baudRate}, nil
	}

	mode := &goserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}

	port, err := goserial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}

	return &Port{port: port, portName: portName, baudRate: baudRate}, nil
}

// Close closes the underlying port.
func (p *Port) Close() error {
	if p.raw != nil {
		return p.raw.Close()
	}
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the port.
func (p *Port) Write(data []byte) (int, error) {
	if p.raw != nil {
		return p.raw.Write(data)
	}
	return p.port.Write(data)
}

// Read reads into buf, honoring the most recent SetReadDeadline.
func (p *Port) Read(buf []byte) (int, error) {
	timeout := time.Until(p.deadline)
	if p.deadline.IsZero() {
		timeout = 0
	} else if timeout <= 0 {
		return 0, errTimeout{}
	}

	if p.raw != nil {
		if timeout > 0 {
			return p.raw.ReadWithTimeout(buf, timeout)
		}
		return p.raw.Read(buf)
	}

	if timeout > 0 {
		if err := p.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
	}
	n, err := p.port.Read(buf)
	if n == 0 && err == nil && timeout > 0 {
		return 0, errTimeout{}
	}
	return n, err
}

// SetReadDeadline sets the deadline applied to subsequent Read calls,
// implementing transport.Link. A zero time disables the deadline.
func (p *Port) SetReadDeadline(t time.Time) error {
	p.deadline = t
	return nil
}

// Flush discards any buffered input data.
func (p *Port) Flush() error {
	if p.raw != nil {
		return p.raw.Flush()
	}
	return p.port.ResetInputBuffer()
}

// PortName returns the configured port name.
func (p *Port) PortName() string { return p.portName }

// BaudRate returns the configured baud rate.
func (p *Port) BaudRate() int { return p.baudRate }

// ListPorts returns the names of available serial ports.
func ListPorts() ([]string, error) {
	return goserial.GetPortsList()
}

// errTimeout is returned by Read when the deadline set via SetReadDeadline
// has elapsed; it implements the unexported `interface{ Timeout() bool }`
// that internal/dlproto checks for to distinguish a transient timeout from
// a hard link error.
type errTimeout struct{}

func (errTimeout) Error() string   { return "serial: i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
