package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/tinyboot/internal/dlproto"
	"github.com/bigbag/tinyboot/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	baudFlag        int
	interByteFlag   time.Duration
	portTimeoutFlag time.Duration
)

// maxImageSize caps the firmware file the host will read and stream, per
// the flasher's 1 MiB limit.
const maxImageSize = 1 << 20

func main() {
	rootCmd := &cobra.Command{
		Use:   "tinyboot-flasher",
		Short: "Stream firmware to a tinyboot bootloader over serial",
		Long: `tinyboot-flasher drives the host side of the tinyboot download
protocol: it frames a firmware image over a serial link and streams it to a
device running the tinyboot bootloader, retrying on NACK and reporting
progress as it goes.`,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <port> <firmware.bin>",
		Short: "Flash firmware to a device",
		Long: `Flash sends START, HEADER, and DATA frames carrying firmware.bin over
port, retrying up to 3 times on a NACK'd frame, then sends END without
waiting for a reply: the device may already be rebooting into the new
application.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(2)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: runFlash,
	}
	flashCmd.Flags().IntVarP(&baudFlag, "baud", "b", serial.DefaultBaudRate, "Baud rate")
	flashCmd.Flags().DurationVar(&interByteFlag, "inter-byte-delay", 0, "Delay between bytes written to the link (for slow USB-serial bridges)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tinyboot-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(flashCmd, listCmd, versionCmd)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	if err := rootCmd.Execute(); err != nil {
		if _, ok := err.(usageError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// usageError marks a failure in argument/port handling, distinct from a
// protocol failure, so main can pick the conventional exit code for each.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func runFlash(cmd *cobra.Command, args []string) error {
	portName, firmwarePath := args[0], args[1]

	image, err := os.ReadFile(firmwarePath)
	if err != nil {
		return usageError{fmt.Errorf("read firmware file: %w", err)}
	}
	if len(image) > maxImageSize {
		return usageError{fmt.Errorf("firmware image is %d bytes, exceeds %d byte limit", len(image), maxImageSize)}
	}
	fmt.Printf("Firmware: %s (%d bytes)\n", firmwarePath, len(image))

	port, err := serial.Open(portName, baudFlag)
	if err != nil {
		return usageError{fmt.Errorf("open port: %w", err)}
	}
	defer port.Close()
	fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)

	host := dlproto.NewHost(port, interByteFlag)

	totalFragments := (len(image) + 1023) / 1024
	bar := progressbar.NewOptions(totalFragments,
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	host.SetProgressCallback(func(sent, total int) {
		bar.Set(sent)
	})

	cmd.SilenceUsage = true
	fmt.Println("Sending image...")
	if err := host.SendImage(context.Background(), image); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	bar.Finish()

	fmt.Println("\nImage sent. END was not ACKed by design: the device may")
	fmt.Println("already be rebooting into the newly flashed application.")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return usageError{err}
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}
	return nil
}
