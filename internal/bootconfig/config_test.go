package bootconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bigbag/tinyboot/internal/bootconfig"
	"github.com/bigbag/tinyboot/internal/flashstore"
)

func newStore() *flashstore.Memory {
	return flashstore.NewMemory(bootconfig.FlashAddress, 128*1024, 1)
}

func TestLoad_FreshDeviceReturnsDefaults(t *testing.T) {
	store := newStore()

	cfg, err := bootconfig.Load(store)
	require.NoError(t, err)

	assert.Equal(t, bootconfig.Defaults(), cfg)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	store := newStore()

	cfg := bootconfig.Config{
		RebootReason:  bootconfig.RebootNormalBoot,
		IsAppBootable: true,
		IsAppFlashed:  true,
		AppSize:       5120,
		AppCRC:        0xDEADC0DE,
	}
	require.NoError(t, bootconfig.Save(store, cfg))

	got, err := bootconfig.Load(store)
	require.NoError(t, err)

	assert.Equal(t, cfg.RebootReason, got.RebootReason)
	assert.Equal(t, cfg.IsAppBootable, got.IsAppBootable)
	assert.Equal(t, cfg.IsAppFlashed, got.IsAppFlashed)
	assert.Equal(t, cfg.AppSize, got.AppSize)
	assert.Equal(t, cfg.AppCRC, got.AppCRC)
	assert.NotZero(t, got.ConfigCRC)
}

// Property: Load(Save(cfg)) preserves every non-CRC field and yields a
// block whose ConfigCRC verifies.
func TestSaveLoad_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newStore()

		cfg := bootconfig.Config{
			RebootReason:  bootconfig.RebootReason(rapid.IntRange(0, 3).Draw(t, "reason")),
			IsAppBootable: rapid.Bool().Draw(t, "bootable"),
			IsAppFlashed:  rapid.Bool().Draw(t, "flashed"),
			AppSize:       rapid.Uint32().Draw(t, "size"),
			AppCRC:        rapid.Uint32().Draw(t, "crc"),
		}

		require.NoError(t, bootconfig.Save(store, cfg))
		got, err := bootconfig.Load(store)
		require.NoError(t, err)

		assert.Equal(t, cfg.RebootReason, got.RebootReason)
		assert.Equal(t, cfg.IsAppBootable, got.IsAppBootable)
		assert.Equal(t, cfg.IsAppFlashed, got.IsAppFlashed)
		assert.Equal(t, cfg.AppSize, got.AppSize)
		assert.Equal(t, cfg.AppCRC, got.AppCRC)
	})
}

func TestLoad_CorruptedBlockRecoversToDefaults(t *testing.T) {
	store := newStore()

	cfg := bootconfig.Config{RebootReason: bootconfig.RebootNormalBoot, IsAppFlashed: true, AppSize: 10, AppCRC: 1}
	require.NoError(t, bootconfig.Save(store, cfg))

	// Simulate power loss mid-save: rewrite only the first 32 bytes of the
	// block (its first 4 bytes kept, the first of them flipped, the rest
	// zero) and leave everything after them erased, marker included.
	raw, err := store.Read(bootconfig.FlashAddress, 4)
	require.NoError(t, err)
	require.NoError(t, store.Erase(bootconfig.FlashBank, bootconfig.FlashSector, 1))
	corrupted := append([]byte(nil), raw...)
	corrupted = append(corrupted, make([]byte, 28)...)
	corrupted[0] ^= 0xFF
	require.NoError(t, store.Program(bootconfig.FlashAddress, corrupted))

	got, err := bootconfig.Load(store)
	require.NoError(t, err)
	assert.Equal(t, bootconfig.Defaults(), got)
}
