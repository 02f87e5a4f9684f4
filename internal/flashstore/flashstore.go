// Package flashstore exposes the erase/program/read interface the config
// manager and download protocol use to touch flash, without depending on a
// concrete flash controller. The real controller is an external
// collaborator reached through this interface; Memory below is an
// in-process stand-in used by tests and by anything embedding this module
// in a simulator.
package flashstore

import "errors"

// ProgramUnit is the minimum programming granularity, in bytes. Program
// calls must supply a length that is a multiple of this and an address
// aligned to it.
const ProgramUnit = 32

var (
	// ErrNotErased is returned by Program when the target region has not
	// been erased since its last program, matching the "programming an
	// un-erased location is a fatal error" rule.
	ErrNotErased = errors.New("flashstore: target region not erased")
	// ErrMisaligned is returned when an address or length is not a
	// multiple of ProgramUnit.
	ErrMisaligned = errors.New("flashstore: misaligned address or length")
	// ErrOutOfRange is returned when an operation falls outside the
	// store's addressable range or sector bounds.
	ErrOutOfRange = errors.New("flashstore: out of range")
)

// Store is the flash interface consumed by the config manager and the
// download protocol's device side.
type Store interface {
	// Erase erases nSectors sectors starting at firstSector within bank.
	// On failure the store's lock state is unaffected by the caller's
	// perspective: no partial erase is observable.
	Erase(bank, firstSector, nSectors int) error
	// Program writes data at address. len(data) and address must both be
	// multiples of ProgramUnit. The target range must have been erased
	// since its last program.
	Program(address uint32, data []byte) error
	// Read returns length bytes starting at address.
	Read(address uint32, length int) ([]byte, error)
}
