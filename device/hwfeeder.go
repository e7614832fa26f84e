package device

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/safing/portbase/log"

	"github.com/safing/hwrng/entropy"
)

var (
	bytesFed   = metrics.GetOrCreateCounter("hwrng_bytes_fed_total")
	fillErrors = metrics.GetOrCreateCounter("hwrng_fill_errors_total")
)

// wordSource is the part of the driver the feed loop needs.
type wordSource interface {
	Fill(buf []byte, wait bool) (int, error)
}

// entropySink is the part of an entropy.Feeder the feed loop needs.
type entropySink interface {
	NeedsEntropy() bool
	SupplyEntropy(data []byte, entropy int)
}

func hwFeeder(ctx context.Context) error {
	feeder := entropy.NewFeeder()
	defer feeder.CloseFeeder()

	return feedFrom(ctx, dev, feeder)
}

// feedFrom periodically extracts randomness from src and supplies it to the
// pool, but only while the pool asks for fresh entropy.
func feedFrom(ctx context.Context, src wordSource, sink entropySink) error {
	for {
		if sink.NeedsEntropy() {
			chunk := make([]byte, int(feedChunk()))
			n, err := src.Fill(chunk, true)
			switch {
			case err != nil:
				fillErrors.Inc()
				log.Warningf("hwrng: failed to read from device: %s", err)
			case n > 0:
				// the raw hardware words count as full entropy, the pool
				// conditions them anyway
				sink.SupplyEntropy(chunk[:n], n*8)
				bytesFed.Add(n)
			}
		}

		select {
		case <-time.After(time.Duration(feedInterval()) * time.Millisecond):
		case <-ctx.Done():
			return nil
		}
	}
}
