package shm

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Region is a shared memory file together with a read-write mapping
// of the whole file. It is mapped exactly once and never resized.
type Region struct {
	file *os.File
	mmap Mmap
}

// NewRegion creates a shared memory file named name, sizes it to size
// bytes, and maps it. Anything created along the way is released if a
// later step fails. Errors are of type *Error.
func NewRegion(name string, size int) (r *Region, err error) {
	r = &Region{}
	defer func() {
		if err != nil {
			r.Close()
			r = nil
		}
	}()

	r.file, err = Create(name)
	if err != nil {
		return r, err
	}

	err = SetSize(r.file, int64(size))
	if err != nil {
		return r, err
	}

	r.mmap, err = Map(r.file, size, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return r, err
	}

	return r, nil
}

// File returns the region's backing file. It remains owned by r.
func (r *Region) File() *os.File {
	return r.file
}

// Fd returns the backing file's descriptor, or -1 if r is closed.
func (r *Region) Fd() int {
	if r.file == nil {
		return -1
	}
	return int(r.file.Fd())
}

// Size returns the size of the mapping in bytes.
func (r *Region) Size() int {
	return len(r.mmap)
}

// Bytes returns the whole mapping.
func (r *Region) Bytes() []byte {
	return r.mmap
}

// Slice returns the n bytes of the mapping starting at off. The
// returned slice's capacity is limited to n so that appending to it
// can never spill into a neighbouring buffer.
func (r *Region) Slice(off, n int) ([]byte, bool) {
	if (off < 0) || (n < 0) || (off+n > len(r.mmap)) {
		return nil, false
	}
	return r.mmap[off : off+n : off+n], true
}

// Close unmaps the region and closes its file. It is safe to call more
// than once.
func (r *Region) Close() error {
	var errs []error
	if r.mmap != nil {
		errs = append(errs, r.mmap.Unmap())
		r.mmap = nil
	}
	if r.file != nil {
		errs = append(errs, r.file.Close())
		r.file = nil
	}
	return errors.Join(errs...)
}
