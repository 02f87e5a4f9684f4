// Package bootorch implements the boot orchestrator (C5): the decision
// engine that reads persisted configuration, decides whether a download is
// required, drives one if so, verifies the flashed application's CRC, and
// hands off control — or stays resident with a diagnostic LED pattern.
package bootorch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigbag/tinyboot/internal/bootconfig"
	"github.com/bigbag/tinyboot/internal/crc32x"
	"github.com/bigbag/tinyboot/internal/dlproto"
	"github.com/bigbag/tinyboot/internal/flashstore"
	"github.com/bigbag/tinyboot/internal/gpio"
	"github.com/bigbag/tinyboot/internal/transport"
)

// ButtonWindow is the duration the orchestrator polls the user button for
// during a NORMAL_BOOT, before proceeding to verify-and-jump.
const ButtonWindow = 5 * time.Second

// ErrStayResident is returned by Run when the orchestrator decided not to
// jump to the application (not bootable, and no download was requested or
// one failed). This is not itself a failure of Run — remaining resident is
// a valid, deliberate outcome.
var ErrStayResident = errors.New("bootorch: staying resident in bootloader")

// AppCRCResult distinguishes "no valid CRC computed" from a CRC value,
// replacing the original design's overloaded negative-sentinel return
// (a uint32-returning function using -1/-2 to mean "no value", which
// collides with the legitimate-if-vanishingly-unlikely CRC values 0 and
// 0xFFFFFFFF).
type AppCRCResult struct {
	Value uint32
	Valid bool
}

// Orchestrator holds every external collaborator the boot decision engine
// needs: flash, the download link, the button/LED, and the handoff.
type Orchestrator struct {
	Store        flashstore.Store
	Link         transport.Link
	Button       gpio.Button
	LED          gpio.LED
	Handoff      Handoff
	Log          *slog.Logger
	AppBase      uint32
	DeviceConfig dlproto.DeviceConfig
	ButtonWindow time.Duration
}

// New builds an Orchestrator with ButtonWindow defaulted to the spec's 5
// second NORMAL_BOOT polling window.
func New(store flashstore.Store, link transport.Link, button gpio.Button, led gpio.LED, handoff Handoff, appBase uint32, deviceCfg dlproto.DeviceConfig, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		Store:        store,
		Link:         link,
		Button:       button,
		LED:          led,
		Handoff:      handoff,
		Log:          log,
		AppBase:      appBase,
		DeviceConfig: deviceCfg,
		ButtonWindow: ButtonWindow,
	}
}

func downloadMandatory(reason bootconfig.RebootReason) bool {
	switch reason {
	case bootconfig.RebootFirstTimeBoot, bootconfig.RebootDLRequest, bootconfig.RebootAppFailed:
		return true
	default:
		return false
	}
}

// Run executes one full boot decision: classify, optionally download,
// optionally verify and jump. It returns nil only when Handoff.Transfer
// succeeded (on real hardware this call never returns at all); it returns
// ErrStayResident when the orchestrator deliberately remains in the
// bootloader, and any other error for a collaborator failure.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg, err := bootconfig.Load(o.Store)
	if err != nil {
		return fmt.Errorf("bootorch: load config: %w", err)
	}

	needDownload := downloadMandatory(cfg.RebootReason)
	if !needDownload && cfg.RebootReason == bootconfig.RebootNormalBoot {
		if gpio.PollButton(o.Button, o.ButtonWindow) {
			needDownload = true
		}
	}

	if needDownload {
		device := dlproto.NewDevice(o.Link, o.Store, o.DeviceConfig, o.Log)
		outcome, derr := device.Run(ctx)
		if derr != nil || outcome.State != dlproto.StateSuccess {
			o.Log.Warn("download did not complete", "err", derr, "state", outcome.State.String())
			cfg, err = bootconfig.Load(o.Store)
			if err != nil {
				return fmt.Errorf("bootorch: reload config after failed download: %w", err)
			}
			if cfg.IsAppBootable {
				cfg.IsAppBootable = false
				if err := bootconfig.Save(o.Store, cfg); err != nil {
					return fmt.Errorf("bootorch: save config after failed download: %w", err)
				}
			}
			o.LED.Set(gpio.FailureDownload)
			return ErrStayResident
		}
		cfg, err = bootconfig.Load(o.Store)
		if err != nil {
			return fmt.Errorf("bootorch: reload config after download: %w", err)
		}
	}

	if cfg.IsAppFlashed {
		result := o.verifyApp(cfg)
		if result.Valid && result.Value == cfg.AppCRC {
			cfg.IsAppBootable = true
			if err := bootconfig.Save(o.Store, cfg); err != nil {
				return fmt.Errorf("bootorch: save config before jump: %w", err)
			}
			return o.jump()
		}

		cfg.IsAppBootable = false
		if err := bootconfig.Save(o.Store, cfg); err != nil {
			return fmt.Errorf("bootorch: save config after crc mismatch: %w", err)
		}
		o.LED.Set(gpio.FailureCRCMismatch)
		return ErrStayResident
	}

	o.LED.Set(gpio.FailureNotFlashed)
	return ErrStayResident
}

// verifyApp computes the CRC over [AppBase, AppBase+cfg.AppSize) and
// reports it via AppCRCResult, treating a zero size, a read failure, or a
// CRC landing on the 0/0xFFFFFFFF sentinels as "no valid CRC".
func (o *Orchestrator) verifyApp(cfg bootconfig.Config) AppCRCResult {
	if cfg.AppSize == 0 {
		return AppCRCResult{Valid: false}
	}
	data, err := o.Store.Read(o.AppBase, int(cfg.AppSize))
	if err != nil {
		o.Log.Error("app region read failed", "err", err)
		return AppCRCResult{Valid: false}
	}
	crc := crc32x.Compute(data)
	if crc == 0x00000000 || crc == 0xFFFFFFFF {
		return AppCRCResult{Valid: false}
	}
	return AppCRCResult{Value: crc, Valid: true}
}

// jump reads the application's initial stack pointer and reset vector from
// its base address and hands off control.
func (o *Orchestrator) jump() error {
	header, err := o.Store.Read(o.AppBase, 8)
	if err != nil {
		return fmt.Errorf("bootorch: read app vector table: %w", err)
	}
	sp := binary.LittleEndian.Uint32(header[0:4])
	entry := binary.LittleEndian.Uint32(header[4:8])

	if entry == 0x00000000 || entry == 0xFFFFFFFF {
		o.LED.Set(gpio.FailureCRCMismatch)
		return ErrHandoffRejected
	}

	return o.Handoff.Transfer(entry, sp)
}
