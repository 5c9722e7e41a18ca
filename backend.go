package gpudisplay

// Backend creates native contexts. The default backend speaks the
// Wayland protocol through package dwl. Other backends can be supplied
// with WithBackend.
type Backend interface {
	// NewContext allocates an unconnected context. A nil context
	// without an error is treated as an allocation failure.
	NewContext() (NativeContext, error)
}

// NativeContext is a connection to a compositor.
type NativeContext interface {
	// Setup connects to the compositor socket at path. An empty path
	// selects the socket from the environment.
	Setup(path string) error

	// Fd returns a descriptor that becomes readable when Dispatch has
	// work to do.
	Fd() int

	// Dispatch processes queued events without blocking.
	Dispatch() error

	// NewSurface creates a surface over the shared memory referred to
	// by fd. The memory holds totalSize bytes, divided into frames of
	// frameSize bytes. parent is nil for a top-level surface.
	NewSurface(parent NativeSurface, fd int, totalSize, frameSize int, width, height, stride uint32) (NativeSurface, error)

	// NewDmabuf imports a single-plane dmabuf.
	NewDmabuf(fd int, offset, stride uint32, modifiers uint64, width, height, fourcc uint32) (NativeDmabuf, error)

	Destroy()
}

// NativeSurface is a surface created by a NativeContext. Buffer
// indices passed to it are in [0, BufferCount).
type NativeSurface interface {
	Commit()
	Flip(buffer int)
	FlipTo(dmabuf NativeDmabuf)
	BufferInUse(buffer int) bool
	CloseRequested() bool
	SetPosition(x, y int32)
	Destroy()
}

// NativeDmabuf is a buffer imported by a NativeContext.
type NativeDmabuf interface {
	Destroy()
}
