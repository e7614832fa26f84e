// Package stm32rng drives the true random number generator peripheral of
// the STM32 SoC family. The peripheral produces one 32-bit random word at a
// time and is accessed through three registers: control, status and data.
//
// The driver only runs the generator while a fill is in flight: every call
// to Fill gates the clock and the generator on, drains ready words into the
// caller's buffer and unconditionally switches both off again before
// returning. Callers must serialize access to a Device themselves, the
// peripheral has no concept of concurrent consumers.
package stm32rng

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tevino/abool"

	"github.com/safing/portbase/log"

	"github.com/safing/hwrng/clock"
)

// Register offsets and bits of the RNG peripheral.
const (
	regCR   = 0x00 // control register
	crRNGEN = 1 << 2

	regSR    = 0x04   // status register
	srSEIS   = 1 << 6 // seed error, latched
	srCEIS   = 1 << 5 // clock error, latched
	srDRDY   = 1 << 0 // data ready
	srErrors = srSEIS | srCEIS

	regDR = 0x08 // data register, one random word while DRDY is set
)

// WordSize is the granularity of the peripheral: random data arrives in
// 32-bit words. Fill never writes partial words.
const WordSize = 4

// It takes 40 cycles @ 48MHz to generate each random word (e.g. <1us).
// Current parts max out at ~200MHz, so a budget of 500 poll iterations
// leaves a very comfortable margin for error, even accounting for the
// handful of instructions each iteration costs.
const pollBudget = 500

// RegisterBlock is the register access surface the driver needs from the
// platform binding. mmio.Region satisfies it for real hardware.
type RegisterBlock interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, value uint32)
}

// Errors returned by the driver.
var (
	// ErrNoData is returned by a blocking Fill that could not extract a
	// single word within the poll budget.
	ErrNoData = errors.New("stm32rng: device did not deliver any random data")

	// ErrNotInitialized is returned when the device is used before Init or
	// after Shutdown.
	ErrNotInitialized = errors.New("stm32rng: device not initialized")
)

// Device is a single RNG peripheral instance. It owns its register block
// and gating clock for its whole lifetime.
type Device struct {
	regs  RegisterBlock
	clk   clock.Clock
	ready *abool.AtomicBool
}

// New returns a driver for the peripheral behind regs, gated by clk. The
// device must be initialized with Init before use.
func New(regs RegisterBlock, clk clock.Clock) *Device {
	return &Device{
		regs:  regs,
		clk:   clk,
		ready: abool.NewBool(false),
	}
}

// Init prepares the gating clock and clears stale error latches of the
// status register, so that faults of a previous user do not poison the
// first fill. Call exactly once per device.
func (dev *Device) Init() error {
	if err := dev.clk.Prepare(); err != nil {
		return fmt.Errorf("stm32rng: failed to prepare clock: %w", err)
	}

	// clear error indicators left over from before
	sr := dev.regs.Read32(regSR)
	dev.regs.Write32(regSR, sr&^uint32(srErrors))

	dev.ready.Set()
	return nil
}

// Fill attempts to fill buf with random words and returns the number of
// bytes written. The request is rounded down to whole words; a trailing
// remainder below WordSize stays untouched.
//
// In non-blocking mode Fill takes whatever the peripheral has ready and
// returns, possibly with n == 0 and no error. In blocking mode it busy
// polls for every word within a fixed budget; if not even one word arrives
// it returns ErrNoData. A detected hardware fault (seed or clock error)
// ends the fill early, delivered bytes are still returned.
//
// On every exit path the generator and its clock are switched back off, the
// control register is restored to the exact value it held before the call.
func (dev *Device) Fill(buf []byte, wait bool) (n int, err error) {
	if dev.ready.IsNotSet() {
		return 0, ErrNotInitialized
	}

	// enable random number generation
	if err := dev.clk.Enable(); err != nil {
		return 0, fmt.Errorf("stm32rng: failed to enable clock: %w", err)
	}
	cr := dev.regs.Read32(regCR)
	dev.regs.Write32(regCR, cr|crRNGEN)

	defer func() {
		// disable the generator, restoring whatever was in CR before
		dev.regs.Write32(regCR, cr)
		dev.clk.Disable()
	}()

	for len(buf)-n >= WordSize {
		sr := dev.regs.Read32(regSR)
		if sr&srDRDY == 0 && wait {
			for budget := pollBudget; budget > 0 && sr&(srDRDY|srErrors) == 0; budget-- {
				sr = dev.regs.Read32(regSR)
			}
		}

		// has hardware error detection been triggered?
		if sr&srErrors != 0 {
			log.Warningf("stm32rng: hardware fault reported (SR=%#x), ending fill early", sr)
			break
		}

		// no data ready
		if sr&srDRDY == 0 {
			break
		}

		binary.LittleEndian.PutUint32(buf[n:], dev.regs.Read32(regDR))
		n += WordSize
	}

	if n == 0 && wait {
		return 0, ErrNoData
	}
	return n, nil
}

// Read fills p with random data, blocking until the peripheral delivers.
// It adapts the device to io.Reader so it can serve as an entropy source.
func (dev *Device) Read(p []byte) (int, error) {
	return dev.Fill(p, true)
}

// Shutdown releases the clock preparation done by Init and marks the
// device unusable. Call exactly once at teardown.
func (dev *Device) Shutdown() {
	dev.ready.UnSet()
	dev.clk.Unprepare()
}
