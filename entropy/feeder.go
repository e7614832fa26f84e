package entropy

import (
	"sync"

	"github.com/tevino/abool"

	"github.com/safing/portbase/container"
)

var (
	poolFeed = make(chan []byte)

	feeders     []*Feeder
	feedersLock sync.Mutex
)

// A Feeder lets one entropy source contribute to the pool. Supplied data is
// buffered per feeder and only flushed into the pool once the configured
// minimum amount of entropy has accumulated.
type Feeder struct {
	input        chan *entropyData
	needsEntropy *abool.AtomicBool
	buffer       *container.Container
	bufferedBits int
}

type entropyData struct {
	data    []byte
	entropy int
}

// NewFeeder returns a new entropy source attached to the pool.
func NewFeeder() *Feeder {
	feeder := &Feeder{
		input:        make(chan *entropyData),
		needsEntropy: abool.NewBool(true),
		buffer:       container.New(),
	}

	feedersLock.Lock()
	defer feedersLock.Unlock()
	feeders = append(feeders, feeder)

	go feeder.run()
	return feeder
}

// NeedsEntropy returns whether the pool currently wants data from this
// source.
func (f *Feeder) NeedsEntropy() bool {
	return f.needsEntropy.IsSet()
}

// SupplyEntropy hands data with the given estimated amount of entropy (in
// bits) to the pool. It blocks until the data is accepted or the entropy
// module shuts down.
func (f *Feeder) SupplyEntropy(data []byte, entropy int) {
	select {
	case f.input <- &entropyData{
		data:    data,
		entropy: entropy,
	}:
	case <-shutdownSignal:
	}
}

// SupplyEntropyIfNeeded supplies data only if the pool currently asks for
// fresh entropy. Sources with a harvesting cost should prefer this over
// SupplyEntropy.
func (f *Feeder) SupplyEntropyIfNeeded(data []byte, entropy int) {
	if f.needsEntropy.IsSet() {
		f.SupplyEntropy(data, entropy)
	}
}

// CloseFeeder detaches the source from the pool.
func (f *Feeder) CloseFeeder() {
	feedersLock.Lock()
	defer feedersLock.Unlock()

	for i, active := range feeders {
		if active == f {
			feeders = append(feeders[:i], feeders[i+1:]...)
			break
		}
	}
	close(f.input)
}

func (f *Feeder) run() {
	for {
		select {
		case data := <-f.input:
			if data == nil {
				// feeder was closed
				return
			}
			f.buffer.Append(data.data)
			f.bufferedBits += data.entropy
			if f.bufferedBits < int(minFeedEntropy()) {
				continue
			}
			select {
			case poolFeed <- f.buffer.CompileData():
				f.buffer = container.New()
				f.bufferedBits = 0
				f.needsEntropy.UnSet()
			case <-shutdownSignal:
				return
			}
		case <-shutdownSignal:
			return
		}
	}
}

// markEntropyNeeded asks all sources for fresh entropy.
func markEntropyNeeded() {
	feedersLock.Lock()
	defer feedersLock.Unlock()

	for _, f := range feeders {
		f.needsEntropy.Set()
	}
}
