package entropy

import (
	"errors"
	"io"
)

// ErrNotReady is returned when the entropy pool is used before the entropy
// module was started.
var ErrNotReady = errors.New("entropy: pool is not initialized")

// Reader provides global io.Reader access to the pool.
var Reader io.Reader = reader{}

type reader struct{}

func (reader) Read(b []byte) (int, error) {
	return Read(b)
}

var servedBytes int64

// Read fills b with random data from the pool.
func Read(b []byte) (int, error) {
	poolLock.Lock()
	defer poolLock.Unlock()

	if !poolReady {
		return 0, ErrNotReady
	}

	copy(b, pool.PseudoRandomData(uint(len(b))))
	noteServed(len(b))
	return len(b), nil
}

// Bytes returns n random bytes from the pool.
func Bytes(n int) ([]byte, error) {
	poolLock.Lock()
	defer poolLock.Unlock()

	if !poolReady {
		return nil, ErrNotReady
	}

	b := pool.PseudoRandomData(uint(n))
	noteServed(n)
	return b, nil
}

// noteServed tracks pool usage and asks the sources for fresh entropy when
// the configured amount of bytes was served. Callers must hold poolLock.
func noteServed(n int) {
	servedBytes += int64(n)
	if servedBytes >= reseedAfterBytes() {
		servedBytes = 0
		markEntropyNeeded()
	}
}
