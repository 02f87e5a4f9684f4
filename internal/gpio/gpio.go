// Package gpio defines the boot orchestrator's external-input and
// diagnostic-output interfaces: a single download-request button and a set
// of failure-class LEDs. The default build uses in-memory fakes; a real
// board backend lives in gpio_hardware.go behind the "hardware" build tag.
package gpio

import "time"

// Button reports whether the user is pressing the download-request input.
// The boot orchestrator polls it once per millisecond for a bounded window.
type Button interface {
	Pressed() bool
}

// FailureClass names an LED diagnostic pattern the boot orchestrator can
// signal when it stays resident instead of jumping to the application.
type FailureClass int

const (
	// FailureNone turns every diagnostic LED off.
	FailureNone FailureClass = iota
	// FailureCRCMismatch signals a verified-bad application image.
	FailureCRCMismatch
	// FailureDownload signals a download that ended in FAILED.
	FailureDownload
	// FailureNotFlashed signals that no application has ever been flashed.
	FailureNotFlashed
)

// LED drives the bootloader's diagnostic indicator.
type LED interface {
	Set(class FailureClass)
}

// FakeButton is an in-memory Button for tests and non-hardware builds; set
// IsPressed to control what Pressed() returns.
type FakeButton struct {
	IsPressed bool
}

func (b *FakeButton) Pressed() bool { return b.IsPressed }

// FakeLED is an in-memory LED that records the most recent FailureClass set
// and a full history, for test assertions.
type FakeLED struct {
	Current FailureClass
	History []FailureClass
}

func (l *FakeLED) Set(class FailureClass) {
	l.Current = class
	l.History = append(l.History, class)
}

// PollButton samples b once per millisecond until window elapses or it
// reports pressed, matching the boot orchestrator's NORMAL_BOOT window.
func PollButton(b Button, window time.Duration) bool {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	if b.Pressed() {
		return true
	}
	for time.Now().Before(deadline) {
		<-ticker.C
		if b.Pressed() {
			return true
		}
	}
	return false
}
