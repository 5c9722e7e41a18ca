// Package shm provides helpers for dealing with shared memory.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// Operations reported by Error.
const (
	OpCreate  = "create"
	OpSetSize = "set size"
	OpMap     = "map"
)

// Error records a failed shared memory operation.
type Error struct {
	Op   string
	Name string
	Err  error
}

func (err *Error) Error() string {
	return fmt.Sprintf("shm %v %q: %v", err.Op, err.Name, err.Err)
}

func (err *Error) Unwrap() error {
	return err.Err
}

// Create creates an anonymous shared memory file. The name is only
// used for debugging, such as in /proc/self/fd. If memfd_create is
// unavailable, a file is created and immediately unlinked in /dev/shm
// instead.
func Create(name string) (*os.File, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		return os.NewFile(uintptr(fd), "memfd:"+name), nil
	}
	if !errors.Is(err, unix.ENOSYS) {
		return nil, &Error{Op: OpCreate, Name: name, Err: os.NewSyscallError("memfd_create", err)}
	}

	path := "/dev/shm/" + name + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, &Error{Op: OpCreate, Name: name, Err: err}
	}

	err = os.Remove(path)
	if err != nil {
		file.Close()
		return nil, &Error{Op: OpCreate, Name: name, Err: err}
	}
	return file, nil
}

// SetSize sets the size of a shared memory file.
func SetSize(file *os.File, size int64) error {
	err := file.Truncate(size)
	if err != nil {
		return &Error{Op: OpSetSize, Name: file.Name(), Err: err}
	}
	return nil
}

// PageSize returns the system's memory page size.
func PageSize() int {
	return os.Getpagesize()
}

// RoundUpToPageSize rounds n up to the nearest multiple of the page
// size.
func RoundUpToPageSize(n int) int {
	page := PageSize()
	return (n + page - 1) &^ (page - 1)
}

type Mmap []byte

// Map maps size bytes of file into memory with the given protection
// flags. The mapping is shared, so writes are visible to every other
// process that maps the same file.
func Map(file *os.File, size int, prot int) (mmap Mmap, err error) {
	sc, err := file.SyscallConn()
	if err != nil {
		return nil, &Error{Op: OpMap, Name: file.Name(), Err: err}
	}

	cerr := sc.Control(func(fd uintptr) {
		m, merr := unix.Mmap(int(fd), 0, size, prot, unix.MAP_SHARED)
		mmap, err = Mmap(m), merr
	})
	if err = errors.Join(cerr, err); err != nil {
		return nil, &Error{Op: OpMap, Name: file.Name(), Err: err}
	}

	return mmap, nil
}

func (mmap Mmap) Unmap() error {
	return unix.Munmap(mmap)
}
