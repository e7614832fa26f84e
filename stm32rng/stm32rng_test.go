package stm32rng

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simPeripheral simulates the RNG register block. It hands out words from a
// queue while the generator enable bit is set and can be scripted to raise
// the latched error bits once the queue is drained.
type simPeripheral struct {
	cr uint32
	sr uint32

	words      []uint32 // words handed out via the data register
	fault      uint32   // error bits raised once words run out
	neverReady bool     // suppress data ready entirely

	statusReads int
	dataReads   int
	crWrites    []uint32
}

func (p *simPeripheral) Read32(offset uintptr) uint32 {
	switch offset {
	case regCR:
		return p.cr
	case regSR:
		p.statusReads++
		sr := p.sr
		if p.cr&crRNGEN != 0 && !p.neverReady {
			if len(p.words) > 0 {
				sr |= srDRDY
			} else {
				sr |= p.fault
			}
		}
		return sr
	case regDR:
		p.dataReads++
		if len(p.words) == 0 {
			return 0
		}
		word := p.words[0]
		p.words = p.words[1:]
		return word
	}
	panic("unknown register")
}

func (p *simPeripheral) Write32(offset uintptr, value uint32) {
	switch offset {
	case regCR:
		p.cr = value
		p.crWrites = append(p.crWrites, value)
	case regSR:
		p.sr = value
	default:
		panic("unknown register")
	}
}

// trackingClock records the prepare/enable lifecycle.
type trackingClock struct {
	prepared bool
	enabled  bool

	enables  int
	disables int

	failPrepare bool
}

func (c *trackingClock) Prepare() error {
	if c.failPrepare {
		return errors.New("clock unavailable")
	}
	c.prepared = true
	return nil
}

func (c *trackingClock) Unprepare() { c.prepared = false }

func (c *trackingClock) Enable() error {
	c.enabled = true
	c.enables++
	return nil
}

func (c *trackingClock) Disable() {
	c.enabled = false
	c.disables++
}

func newTestDevice(t *testing.T, sim *simPeripheral) (*Device, *trackingClock) {
	t.Helper()

	clk := &trackingClock{}
	dev := New(sim, clk)
	require.NoError(t, dev.Init())
	return dev, clk
}

func TestFillDeliversWords(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{words: []uint32{0x01020304, 0xcafebabe, 0xdeadbeef}}
	dev, clk := newTestDevice(t, sim)

	buf := make([]byte, 12)
	n, err := dev.Fill(buf, true)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(0xcafebabe), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(buf[8:12]))

	// generator and clock are off again
	assert.Zero(t, sim.cr&crRNGEN)
	assert.False(t, clk.enabled)
	assert.Equal(t, clk.enables, clk.disables)
}

func TestFillSingleWord(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{words: []uint32{0x11223344}}
	dev, _ := newTestDevice(t, sim)

	buf := make([]byte, 4)
	n, err := dev.Fill(buf, true)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint32(0x11223344), binary.LittleEndian.Uint32(buf))
}

func TestFillTruncatesToWordSize(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{words: []uint32{0xaaaaaaaa, 0xbbbbbbbb, 0xcccccccc}}
	dev, _ := newTestDevice(t, sim)

	// 11 bytes of space allow only two whole words
	buf := make([]byte, 11)
	for i := range buf {
		buf[i] = 0xff
	}

	n, err := dev.Fill(buf, true)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// the remainder below one word stays untouched
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, buf[8:])
}

func TestFillNonBlockingEmpty(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{neverReady: true}
	dev, clk := newTestDevice(t, sim)

	buf := make([]byte, 16)
	n, err := dev.Fill(buf, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the wait budget must not be spent in non-blocking mode
	assert.Less(t, sim.statusReads, 10)
	assert.False(t, clk.enabled)
}

func TestFillBlockingTimeout(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{neverReady: true}
	dev, clk := newTestDevice(t, sim)

	buf := make([]byte, 16)
	n, err := dev.Fill(buf, true)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, n)

	// bounded: one initial status read plus the poll budget
	assert.LessOrEqual(t, sim.statusReads, pollBudget+2)
	assert.Zero(t, sim.dataReads)
	assert.False(t, clk.enabled)
}

func TestFillStopsOnSeedError(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{
		words: []uint32{0x11111111, 0x22222222},
		fault: srSEIS,
	}
	dev, clk := newTestDevice(t, sim)

	buf := make([]byte, 16)
	n, err := dev.Fill(buf, true)

	// two words came through before the fault, partial success is success
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, 2, sim.dataReads)
	assert.False(t, clk.enabled)
}

func TestFillFaultWithoutDataBlocks(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{fault: srCEIS}
	dev, _ := newTestDevice(t, sim)

	buf := make([]byte, 8)
	n, err := dev.Fill(buf, true)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Zero(t, n)
	assert.Zero(t, sim.dataReads)

	// the error snapshot must end the wait before the budget runs out
	assert.Less(t, sim.statusReads, pollBudget)
}

func TestFillRestoresControlRegister(t *testing.T) {
	t.Parallel()

	// another control bit is already set by the platform
	const otherBit = 1 << 3
	sim := &simPeripheral{cr: otherBit, words: []uint32{0x1}}
	dev, _ := newTestDevice(t, sim)

	buf := make([]byte, 4)
	_, err := dev.Fill(buf, true)
	require.NoError(t, err)

	// read-modify-write preserved the foreign bit, last write restored
	// the exact pre-call value
	require.NotEmpty(t, sim.crWrites)
	assert.Equal(t, uint32(otherBit|crRNGEN), sim.crWrites[0])
	assert.Equal(t, uint32(otherBit), sim.crWrites[len(sim.crWrites)-1])
	assert.Equal(t, uint32(otherBit), sim.cr)
}

func TestInitClearsStaleErrorLatches(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{sr: srSEIS | srCEIS | 1<<2}
	clk := &trackingClock{}
	dev := New(sim, clk)

	require.NoError(t, dev.Init())

	// latches cleared, unrelated bits preserved
	assert.Zero(t, sim.sr&srErrors)
	assert.Equal(t, uint32(1<<2), sim.sr)
	assert.True(t, clk.prepared)

	dev.Shutdown()
	assert.False(t, clk.prepared)
}

func TestInitClockFailure(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{}
	clk := &trackingClock{failPrepare: true}
	dev := New(sim, clk)

	require.Error(t, dev.Init())

	// the device must refuse to operate
	_, err := dev.Fill(make([]byte, 4), true)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestFillAfterShutdown(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{words: []uint32{0x1}}
	dev, _ := newTestDevice(t, sim)
	dev.Shutdown()

	_, err := dev.Fill(make([]byte, 4), true)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestReadAdapter(t *testing.T) {
	t.Parallel()

	sim := &simPeripheral{words: []uint32{0x55667788, 0x99aabbcc}}
	dev, _ := newTestDevice(t, sim)

	buf := make([]byte, 8)
	n, err := dev.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
