package entropy

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// osFeeder is the fallback entropy source: it periodically reseeds the pool
// from the operating system's RNG. Hardware sources register their own
// feeders and usually outpace it.
func osFeeder(ctx context.Context) error {
	feeder := NewFeeder()
	defer feeder.CloseFeeder()

	for {
		// gather
		minEntropyBytes := int(minFeedEntropy()) / 8
		if minEntropyBytes < 32 {
			minEntropyBytes = 64
		}
		osEntropy := make([]byte, minEntropyBytes)
		n, err := rand.Read(osEntropy)
		if err != nil {
			return fmt.Errorf("could not read entropy from os: %w", err)
		}
		if n != minEntropyBytes {
			return fmt.Errorf("could not read enough entropy from os: got only %d bytes instead of %d", n, minEntropyBytes)
		}

		// feed
		feeder.SupplyEntropy(osEntropy, minEntropyBytes*8)

		select {
		case <-time.After(time.Duration(reseedAfterSeconds()) * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}
