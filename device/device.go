// Package device binds the RNG peripheral to the running platform: it maps
// the register window, obtains the gating clock, drives the
// initialize/shutdown lifecycle and feeds extracted randomness into the
// entropy pool.
package device

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/safing/portbase/config"
	"github.com/safing/portbase/modules"

	"github.com/safing/hwrng/clock"
	"github.com/safing/hwrng/mmio"
	"github.com/safing/hwrng/stm32rng"
)

// The peripheral exposes three registers: control, status, data.
const regionSize = 12

var (
	module *modules.Module

	mmioPath     config.StringOption
	baseAddress  config.StringOption
	feedChunk    config.IntOption
	feedInterval config.IntOption

	region *mmio.Region
	dev    *stm32rng.Device
)

func init() {
	module = modules.Register("hwrng", prep, start, stop, "entropy")
}

func prep() error {
	err := config.Register(&config.Option{
		Name:            "Memory Device Path",
		Key:             "hwrng/mmio_path",
		Description:     "Memory device file used to map the RNG register window.",
		OptType:         config.OptTypeString,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelStable,
		DefaultValue:    "/dev/mem",
		ValidationRegex: "^/.*$",
	})
	if err != nil {
		return err
	}
	mmioPath = config.GetAsString("hwrng/mmio_path", "/dev/mem")

	err = config.Register(&config.Option{
		Name:            "RNG Base Address",
		Key:             "hwrng/base_address",
		Description:     "Physical base address of the RNG peripheral, as hex.",
		OptType:         config.OptTypeString,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelStable,
		DefaultValue:    "0x50060800",
		ValidationRegex: "^0x[0-9a-fA-F]+$",
	})
	if err != nil {
		return err
	}
	baseAddress = config.GetAsString("hwrng/base_address", "0x50060800")

	err = config.Register(&config.Option{
		Name:            "Feed Chunk Size",
		Key:             "hwrng/feed_chunk_size",
		Description:     "Number of bytes extracted from the device per feed round.",
		OptType:         config.OptTypeInt,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelStable,
		DefaultValue:    64,
		ValidationRegex: "^[0-9]{1,4}$",
	})
	if err != nil {
		return err
	}
	feedChunk = config.Concurrent.GetAsInt("hwrng/feed_chunk_size", 64)

	err = config.Register(&config.Option{
		Name:            "Feed Interval",
		Key:             "hwrng/feed_interval",
		Description:     "Milliseconds between feed rounds.",
		OptType:         config.OptTypeInt,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelStable,
		DefaultValue:    100,
		ValidationRegex: "^[1-9][0-9]{0,5}$",
	})
	if err != nil {
		return err
	}
	feedInterval = config.Concurrent.GetAsInt("hwrng/feed_interval", 100)

	return nil
}

func start() error {
	base, err := parseBaseAddress(baseAddress())
	if err != nil {
		return err
	}

	region, err = mmio.MapDevice(mmioPath(), base, regionSize)
	if err != nil {
		return fmt.Errorf("failed to map RNG registers: %w", err)
	}

	dev = stm32rng.New(region, clock.NewShared(clock.AlwaysOn{}))
	if err := dev.Init(); err != nil {
		_ = region.Close()
		region = nil
		return err
	}

	module.StartServiceWorker("hwrng feeder", 0, hwFeeder)
	return nil
}

func stop() error {
	var errs *multierror.Error

	if dev != nil {
		dev.Shutdown()
		dev = nil
	}
	if region != nil {
		errs = multierror.Append(errs, region.Close())
		region = nil
	}

	return errs.ErrorOrNil()
}

func parseBaseAddress(s string) (uintptr, error) {
	base, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid RNG base address %q: %w", s, err)
	}
	if base == 0 {
		return 0, fmt.Errorf("invalid RNG base address %q: must not be zero", s)
	}
	return uintptr(base), nil
}
