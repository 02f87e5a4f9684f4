package flashstore

import (
	"fmt"
	"sync"
)

// Memory is an in-process flash simulator. It tracks, per sector, whether
// the sector has been erased since its last program, and rejects a Program
// call that would write into an un-erased region — mirroring the fatal
// "write to un-erased flash" condition a real NOR/NAND controller reports.
//
// Geometry is a single bank of uniform-size sectors starting at Base.
type Memory struct {
	mu sync.Mutex

	Base       uint32
	SectorSize int
	NumSectors int

	data   []byte
	erased []bool
}

// NewMemory builds a Memory covering [base, base+sectorSize*numSectors).
// All sectors start erased (0xFF-filled), matching a freshly manufactured
// part.
func NewMemory(base uint32, sectorSize, numSectors int) *Memory {
	m := &Memory{
		Base:       base,
		SectorSize: sectorSize,
		NumSectors: numSectors,
		data:       make([]byte, sectorSize*numSectors),
		erased:     make([]bool, numSectors),
	}
	for i := range m.data {
		m.data[i] = 0xFF
	}
	for i := range m.erased {
		m.erased[i] = true
	}
	return m
}

func (m *Memory) sectorOffset(sector int) (int, error) {
	if sector < 0 || sector >= m.NumSectors {
		return 0, fmt.Errorf("%w: sector %d", ErrOutOfRange, sector)
	}
	return sector * m.SectorSize, nil
}

// Erase marks nSectors sectors starting at firstSector as erased and resets
// their content to 0xFF. bank is accepted for interface parity with a real
// multi-bank controller but is not otherwise interpreted here.
func (m *Memory) Erase(bank, firstSector, nSectors int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if nSectors <= 0 {
		return fmt.Errorf("%w: nSectors must be positive", ErrOutOfRange)
	}
	if firstSector < 0 || firstSector+nSectors > m.NumSectors {
		return fmt.Errorf("%w: sectors [%d,%d)", ErrOutOfRange, firstSector, firstSector+nSectors)
	}

	for s := firstSector; s < firstSector+nSectors; s++ {
		off, err := m.sectorOffset(s)
		if err != nil {
			return err
		}
		for i := off; i < off+m.SectorSize; i++ {
			m.data[i] = 0xFF
		}
		m.erased[s] = true
	}
	return nil
}

// Program writes data at address, rejecting misaligned requests and writes
// into sectors that have not been erased since their last program.
func (m *Memory) Program(address uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if address%ProgramUnit != 0 || len(data)%ProgramUnit != 0 {
		return fmt.Errorf("%w: address=0x%X len=%d", ErrMisaligned, address, len(data))
	}
	if address < m.Base || int(address-m.Base)+len(data) > len(m.data) {
		return fmt.Errorf("%w: address=0x%X len=%d", ErrOutOfRange, address, len(data))
	}

	startOff := int(address - m.Base)
	firstSector := startOff / m.SectorSize
	lastSector := (startOff + len(data) - 1) / m.SectorSize
	for sector := firstSector; sector <= lastSector; sector++ {
		if !m.erased[sector] {
			return fmt.Errorf("%w: sector %d", ErrNotErased, sector)
		}
	}

	copy(m.data[startOff:startOff+len(data)], data)
	for sector := firstSector; sector <= lastSector; sector++ {
		m.erased[sector] = false
	}
	return nil
}

// Read returns a copy of length bytes starting at address.
func (m *Memory) Read(address uint32, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if address < m.Base || int(address-m.Base)+length > len(m.data) {
		return nil, fmt.Errorf("%w: address=0x%X len=%d", ErrOutOfRange, address, length)
	}
	startOff := int(address - m.Base)
	out := make([]byte, length)
	copy(out, m.data[startOff:startOff+length])
	return out, nil
}
