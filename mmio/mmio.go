// Package mmio maps peripheral register windows into the process and
// provides 32-bit register access on them. A window is mapped from a
// physical base address through a memory device file (usually /dev/mem) and
// stays valid until it is closed.
package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Region is a mapped register window. All register access is 32 bits wide
// and offsets are relative to the base address the region was mapped at.
type Region struct {
	mem  []byte
	skip int // offset of the base address within the page aligned mapping
	size int
}

// MapDevice maps size bytes of physical address space starting at base
// through the given memory device file. The base address does not need to
// be page aligned.
func MapDevice(path string, base uintptr, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close() // the mapping outlives the fd
	}()

	pageSize := uintptr(os.Getpagesize())
	pageBase := base &^ (pageSize - 1)
	skip := int(base - pageBase)

	mem, err := unix.Mmap(int(f.Fd()), int64(pageBase), skip+size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: failed to map %#x+%d from %s: %w", base, size, path, err)
	}

	return &Region{
		mem:  mem,
		skip: skip,
		size: size,
	}, nil
}

// MapAnonymous maps a zeroed anonymous region of the given size. It behaves
// like a device window, but is backed by plain memory. Intended for
// peripheral simulation.
func MapAnonymous(size int) (*Region, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmio: failed to map anonymous region: %w", err)
	}

	return &Region{
		mem:  mem,
		size: size,
	}, nil
}

// Read32 reads the 32-bit register at the given offset.
func (r *Region) Read32(offset uintptr) uint32 {
	return atomic.LoadUint32(r.reg32(offset))
}

// Write32 writes the 32-bit register at the given offset.
func (r *Region) Write32(offset uintptr, value uint32) {
	atomic.StoreUint32(r.reg32(offset), value)
}

func (r *Region) reg32(offset uintptr) *uint32 {
	if r.mem == nil {
		panic("mmio: access to closed region")
	}
	if offset%4 != 0 || int(offset)+4 > r.size {
		panic(fmt.Sprintf("mmio: invalid register offset %#x", offset))
	}
	return (*uint32)(unsafe.Pointer(&r.mem[r.skip+int(offset)]))
}

// Size returns the usable size of the region in bytes.
func (r *Region) Size() int {
	return r.size
}

// Close unmaps the region. The region must not be used afterwards.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	mem := r.mem
	r.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("mmio: failed to unmap region: %w", err)
	}
	return nil
}
