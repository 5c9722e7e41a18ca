package gpudisplay

import (
	"errors"
	"fmt"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/shm"
)

var (
	// ErrAllocate is returned if the native context could not be
	// allocated.
	ErrAllocate = errors.New("failed to allocate native context")

	// ErrConnect is returned if the connection to the compositor could
	// not be set up.
	ErrConnect = errors.New("failed to connect to compositor")

	// ErrCreateShm is returned if the shared memory backing a surface
	// could not be created or mapped. The system error is wrapped.
	ErrCreateShm = errors.New("failed to create shared memory")

	// ErrSetSize is returned if the shared memory backing a surface
	// could not be resized. The system error is wrapped.
	ErrSetSize = errors.New("failed to set shared memory size")

	// ErrCreateSurface is returned if the native layer refused to create
	// a surface.
	ErrCreateSurface = errors.New("failed to create surface")

	// ErrFailedImport is returned if the native layer refused to import
	// a buffer.
	ErrFailedImport = errors.New("failed to import buffer")

	// ErrInvalidSurfaceID is returned if a parent surface ID does not
	// refer to a live surface.
	ErrInvalidSurfaceID = errors.New("invalid surface id")

	// ErrInvalidPath is returned if the compositor path is not a valid
	// socket path.
	ErrInvalidPath = errors.New("invalid compositor path")

	// ErrClosed is returned by operations on a Display that has been
	// closed.
	ErrClosed = errors.New("display is closed")
)

// wrap tags cause with the sentinel kind. A nil cause yields kind
// itself.
func wrap(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// shmError classifies a failure from package shm.
func shmError(err error) error {
	var serr *shm.Error
	if errors.As(err, &serr) && (serr.Op == shm.OpSetSize) {
		return wrap(ErrSetSize, err)
	}
	return wrap(ErrCreateShm, err)
}

// invalidID reports use of an ID that this package never issued or
// that has been released. Builds with the gpudisplay_debug tag panic.
func invalidID(op, kind string, id uint32) {
	if debugAssertions {
		panic(fmt.Errorf("gpudisplay: %v: invalid %v id %v", op, kind, id))
	}
	debug.Logger().Warn("invalid id", "op", op, "kind", kind, "id", id)
}
