package entropy

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/aead/serpent"
	"github.com/seehuhn/fortuna"

	"github.com/safing/portbase/config"
	"github.com/safing/portbase/modules"
)

var (
	module *modules.Module

	pool      *fortuna.Generator
	poolLock  sync.Mutex
	poolReady = false

	poolCipherOption   config.StringOption
	minFeedEntropy     config.IntOption
	reseedAfterSeconds config.IntOption
	reseedAfterBytes   config.IntOption

	shutdownSignal = make(chan struct{})
)

func init() {
	module = modules.Register("entropy", prep, start, stop)
}

func prep() error {
	err := config.Register(&config.Option{
		Name:            "Entropy Pool Cipher",
		Key:             "entropy/pool_cipher",
		Description:     "Cipher to use for the Fortuna entropy pool. Requires restart to take effect.",
		OptType:         config.OptTypeString,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelExperimental,
		DefaultValue:    "aes",
		ValidationRegex: "^(aes|serpent)$",
	})
	if err != nil {
		return err
	}
	poolCipherOption = config.GetAsString("entropy/pool_cipher", "aes")

	err = config.Register(&config.Option{
		Name:            "Minimum Feed Entropy",
		Key:             "entropy/min_feed_entropy",
		Description:     "The minimum amount of entropy before a source's contribution is mixed into the pool, in bits.",
		OptType:         config.OptTypeInt,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelExperimental,
		DefaultValue:    256,
		ValidationRegex: "^[0-9]{3,5}$",
	})
	if err != nil {
		return err
	}
	minFeedEntropy = config.Concurrent.GetAsInt("entropy/min_feed_entropy", 256)

	err = config.Register(&config.Option{
		Name:            "Reseed after x seconds",
		Key:             "entropy/reseed_after_seconds",
		Description:     "Number of seconds until the pool asks its sources for fresh entropy.",
		OptType:         config.OptTypeInt,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelExperimental,
		DefaultValue:    360,
		ValidationRegex: "^[1-9][0-9]{1,5}$",
	})
	if err != nil {
		return err
	}
	reseedAfterSeconds = config.Concurrent.GetAsInt("entropy/reseed_after_seconds", 360)

	err = config.Register(&config.Option{
		Name:            "Reseed after x bytes",
		Key:             "entropy/reseed_after_bytes",
		Description:     "Number of served bytes until the pool asks its sources for fresh entropy.",
		OptType:         config.OptTypeInt,
		ExpertiseLevel:  config.ExpertiseLevelDeveloper,
		ReleaseLevel:    config.ReleaseLevelExperimental,
		DefaultValue:    1000000,
		ValidationRegex: "^[1-9][0-9]{2,9}$",
	})
	if err != nil {
		return err
	}
	reseedAfterBytes = config.GetAsInt("entropy/reseed_after_bytes", 1000000)

	return nil
}

func newCipher(key []byte) (cipher.Block, error) {
	c := poolCipherOption()
	switch c {
	case "aes":
		return aes.NewCipher(key)
	case "serpent":
		return serpent.NewCipher(key)
	default:
		return nil, fmt.Errorf("unknown or unsupported cipher: %s", c)
	}
}

// start initializes the entropy pool and its workers. It is only called by
// the modules framework.
func start() error {
	poolLock.Lock()
	defer poolLock.Unlock()

	pool = fortuna.NewGenerator(newCipher)

	// start from an OS seed, sources reseed continuously from here on
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("failed to get initial seed: %w", err)
	}
	pool.Reseed(seed)
	poolReady = true

	module.StartServiceWorker("pool feeder", 0, feedPool)

	// fallback source: OS
	module.StartServiceWorker("os feeder", 0, osFeeder)

	return nil
}

func stop() error {
	close(shutdownSignal)
	return nil
}

// feedPool mixes flushed source contributions into the pool and asks the
// sources for fresh entropy when the reseed interval passes.
func feedPool(ctx context.Context) error {
	for {
		select {
		case data := <-poolFeed:
			poolLock.Lock()
			pool.Reseed(data)
			poolLock.Unlock()
		case <-time.After(time.Duration(reseedAfterSeconds()) * time.Second):
			markEntropyNeeded()
		case <-ctx.Done():
			return nil
		}
	}
}
