// Package bootconfig manages the bootloader's durable configuration block:
// the reboot reason, application bootability flags, image metadata, and the
// marker + CRC that let Load distinguish a valid block from flash that has
// never been written (or was interrupted mid-save) and recover by falling
// back to defaults.
package bootconfig

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/tinyboot/internal/crc32x"
	"github.com/bigbag/tinyboot/internal/flashstore"
)

// RebootReason classifies why the bootloader is running.
type RebootReason uint32

const (
	RebootFirstTimeBoot RebootReason = iota
	RebootNormalBoot
	RebootDLRequest
	RebootAppFailed
)

func (r RebootReason) String() string {
	switch r {
	case RebootFirstTimeBoot:
		return "FIRST_TIME_BOOT"
	case RebootNormalBoot:
		return "NORMAL_BOOT"
	case RebootDLRequest:
		return "DL_REQUEST"
	case RebootAppFailed:
		return "APP_FAILED"
	default:
		return fmt.Sprintf("RebootReason(%d)", uint32(r))
	}
}

// validMarker is the sentinel that, combined with a matching ConfigCRC,
// marks a block as valid.
const validMarker uint32 = 0xDEADBEEF

const reservedWords = 10

// rawSize is the size of the block's on-flash prefix, up to but excluding
// ConfigCRC: 4 (RebootReason) + 1 + 1 (bools) + 4 (AppSize) + 4 (AppCRC) +
// 10*4 (reserved) + 4 (marker) = 58 bytes.
const rawSize = 4 + 1 + 1 + 4 + 4 + reservedWords*4 + 4

// blockSize is rawSize padded up to a multiple of flashstore.ProgramUnit.
const blockSize = 64

// Config is the canonical, single-slot configuration shape. Earlier
// iterations of this design carried a second, A/B-slot shape; this is the
// only one a rewrite keeps (see design notes).
type Config struct {
	RebootReason  RebootReason
	IsAppBootable bool
	IsAppFlashed  bool
	AppSize       uint32
	AppCRC        uint32
	ConfigCRC     uint32
}

// Defaults returns the configuration written to a fresh or corrupted
// device: first-time boot, nothing bootable, nothing flashed.
func Defaults() Config {
	return Config{
		RebootReason:  RebootFirstTimeBoot,
		IsAppBootable: false,
		IsAppFlashed:  false,
		AppSize:       0,
		AppCRC:        0,
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// marshalPrefix serializes every field up to (but not including) ConfigCRC,
// little-endian, matching rawSize.
func marshalPrefix(cfg Config) []byte {
	buf := make([]byte, rawSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(cfg.RebootReason))
	buf[4] = boolByte(cfg.IsAppBootable)
	buf[5] = boolByte(cfg.IsAppFlashed)
	binary.LittleEndian.PutUint32(buf[6:10], cfg.AppSize)
	binary.LittleEndian.PutUint32(buf[10:14], cfg.AppCRC)
	// buf[14 : 14+reservedWords*4] stays zero-filled (reserved).
	binary.LittleEndian.PutUint32(buf[14+reservedWords*4:14+reservedWords*4+4], validMarker)
	return buf
}

// marshalBlock returns the full on-flash block, padded to blockSize.
func marshalBlock(cfg Config) []byte {
	prefix := marshalPrefix(cfg)
	cfg.ConfigCRC = crc32x.Compute(prefix)

	block := make([]byte, blockSize)
	copy(block, prefix)
	binary.LittleEndian.PutUint32(block[rawSize:rawSize+4], cfg.ConfigCRC)
	return block
}

// unmarshalBlock parses a raw block and validates its marker and CRC.
func unmarshalBlock(block []byte) (Config, bool) {
	if len(block) < blockSize {
		return Config{}, false
	}

	prefix := block[:rawSize]
	marker := binary.LittleEndian.Uint32(prefix[14+reservedWords*4 : 14+reservedWords*4+4])
	storedCRC := binary.LittleEndian.Uint32(block[rawSize : rawSize+4])

	if marker != validMarker {
		return Config{}, false
	}
	if crc32x.Compute(prefix) != storedCRC {
		return Config{}, false
	}

	return Config{
		RebootReason:  RebootReason(binary.LittleEndian.Uint32(prefix[0:4])),
		IsAppBootable: prefix[4] != 0,
		IsAppFlashed:  prefix[5] != 0,
		AppSize:       binary.LittleEndian.Uint32(prefix[6:10]),
		AppCRC:        binary.LittleEndian.Uint32(prefix[10:14]),
		ConfigCRC:     storedCRC,
	}, true
}

// Address and geometry of the config sector. These are representative
// constants fixed at build time, matching the flash layout a real target
// would define in its linker script.
const (
	FlashAddress = 0x08040000
	FlashBank    = 0
	FlashSector  = 0
)

// Load reads the config block from store, validating marker and CRC. An
// invalid block (fresh device, or a crash mid-Save) is recovered by
// returning Defaults() and attempting to persist them — a corrupted config
// is always interpretable as "fresh device," which routes to download mode
// rather than an incorrect jump.
func Load(store flashstore.Store) (Config, error) {
	raw, err := store.Read(FlashAddress, blockSize)
	if err != nil {
		return Config{}, fmt.Errorf("bootconfig: read block: %w", err)
	}

	if cfg, ok := unmarshalBlock(raw); ok {
		return cfg, nil
	}

	defaults := Defaults()
	if err := Save(store, defaults); err != nil {
		return Config{}, fmt.Errorf("bootconfig: save defaults after invalid block: %w", err)
	}
	return defaults, nil
}

// Save recomputes ConfigCRC, erases the config sector, and programs the
// block. This is not atomic with respect to power loss: a crash between
// Erase and Program leaves a block that will fail validation on the next
// Load, which is the intended recovery path.
func Save(store flashstore.Store, cfg Config) error {
	block := marshalBlock(cfg)

	if err := store.Erase(FlashBank, FlashSector, 1); err != nil {
		return fmt.Errorf("bootconfig: erase config sector: %w", err)
	}
	if err := store.Program(FlashAddress, block); err != nil {
		return fmt.Errorf("bootconfig: program config block: %w", err)
	}
	return nil
}
