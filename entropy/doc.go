// Package entropy maintains a feedable entropy pool.
//
// The pool is a Fortuna generator: github.com/seehuhn/fortuna
// It starts from a seed taken from `crypto/rand` and is then continuously
// reseeded by its sources. Sources attach through a Feeder; the primary
// source is the hardware RNG driver, the OS RNG serves as fallback.
package entropy
