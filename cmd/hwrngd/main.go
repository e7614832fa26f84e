package main

import (
	"os"

	"github.com/safing/portbase/info"
	"github.com/safing/portbase/run"

	_ "github.com/safing/hwrng/device"
)

func main() {
	// Set Info
	info.Set("HWRNG Daemon", "0.1.0", "AGPLv3")

	// Run
	os.Exit(run.Run())
}
