// Package gpudisplay manages double-buffered display surfaces on a
// compositor.
//
// A Display owns a connection to the compositor along with every
// surface and imported buffer created through it. Surfaces and imports
// are referred to by integer IDs that are never reused. Each surface
// has BufferCount framebuffers in shared memory: FramebufferMemory
// always returns the buffer that is not currently being shown, and
// Flip presents it.
//
// A Display is not safe for concurrent use. Nothing happens in the
// background: poll the descriptor returned by Fd and call
// DispatchEvents when it is readable so that buffer releases and close
// requests from the compositor are noticed.
package gpudisplay

import (
	"errors"
	"fmt"
	"image/draw"
	"runtime"
	"strings"
	"unicode/utf8"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/internal/objstore"
	"deedles.dev/gpudisplay/shm"
)

// Display is a connection to a compositor and the owner of every
// surface and imported buffer created through it.
type Display struct {
	ctx      guard[NativeContext]
	imports  *objstore.Store[*guard[NativeDmabuf]]
	surfaces *objstore.Store[*surface]
}

// Connect connects to the compositor listening on the socket at path.
// An empty path selects the socket from $WAYLAND_DISPLAY and
// $XDG_RUNTIME_DIR.
func Connect(path string, opts ...Option) (*Display, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	backend := o.backend
	if backend == nil {
		backend = waylandBackend{appID: o.appID, title: o.title}
	}

	native, err := backend.NewContext()
	if (err != nil) || (native == nil) {
		return nil, wrap(ErrAllocate, err)
	}
	ctx := newGuard(native)
	defer ctx.release()

	if !utf8.ValidString(path) || strings.ContainsRune(path, 0) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	err = native.Setup(path)
	if err != nil {
		return nil, wrap(ErrConnect, err)
	}

	d := Display{
		ctx:      ctx.take(),
		imports:  objstore.New[*guard[NativeDmabuf]](0),
		surfaces: objstore.New[*surface](0),
	}
	runtime.SetFinalizer(&d, (*Display).Close)

	debug.Logger().Debug("display connected", "path", path, "fd", native.Fd())
	return &d, nil
}

func (d *Display) native() (NativeContext, bool) {
	return d.ctx.get()
}

// Close releases every surface, newest first, then every imported
// buffer and finally the connection. It is safe to call Close more
// than once. Errors unmapping surface memory are returned together.
func (d *Display) Close() error {
	if _, ok := d.native(); !ok {
		return nil
	}
	runtime.SetFinalizer(d, nil)

	var errs []error
	ids := d.surfaces.IDs()
	for i := len(ids) - 1; i >= 0; i-- {
		s, _ := d.surfaces.Delete(ids[i])
		err := s.release()
		if err != nil {
			errs = append(errs, fmt.Errorf("release surface %v: %w", ids[i], err))
		}
	}

	for _, id := range d.imports.IDs() {
		g, _ := d.imports.Delete(id)
		g.release()
	}

	d.ctx.release()
	debug.Logger().Debug("display closed")
	return errors.Join(errs...)
}

// Fd returns the descriptor of the connection to the compositor. When
// it is readable, DispatchEvents should be called. It returns -1 after
// Close.
func (d *Display) Fd() int {
	native, ok := d.native()
	if !ok {
		return -1
	}
	return native.Fd()
}

// DispatchEvents processes every event that has arrived from the
// compositor. It never blocks. The returned error means that the
// connection has failed, for example because the compositor reported a
// protocol error; it never reflects an invalid ID.
func (d *Display) DispatchEvents() error {
	native, ok := d.native()
	if !ok {
		return ErrClosed
	}
	return native.Dispatch()
}

// ImportDmabuf imports a single-plane dmabuf that can then be shown on
// any surface with FlipTo. The caller keeps ownership of fd.
func (d *Display) ImportDmabuf(fd int, offset, stride uint32, modifiers uint64, width, height, fourcc uint32) (uint32, error) {
	native, ok := d.native()
	if !ok {
		return 0, ErrClosed
	}

	dmabuf, err := native.NewDmabuf(fd, offset, stride, modifiers, width, height, fourcc)
	if (err != nil) || (dmabuf == nil) {
		return 0, wrap(ErrFailedImport, err)
	}

	g := newGuard(dmabuf)
	id := d.imports.Add(&g)
	debug.Logger().Debug("imported dmabuf", "import", id, "width", width, "height", height)
	return id, nil
}

// ReleaseImport releases an imported buffer. Unknown IDs are ignored.
func (d *Display) ReleaseImport(id uint32) {
	g, ok := d.imports.Delete(id)
	if !ok {
		return
	}
	g.release()
}

// CreateSurface creates a surface of the given size. If parent is not
// nil, the new surface is a sub-surface of the surface it refers to and
// is positioned with SetPosition. Otherwise it is a top-level window.
func (d *Display) CreateSurface(parent *uint32, width, height uint32) (uint32, error) {
	native, ok := d.native()
	if !ok {
		return 0, ErrClosed
	}

	var parentNative NativeSurface
	if parent != nil {
		p, ok := d.surfaces.Get(*parent)
		if !ok {
			return 0, fmt.Errorf("%w: parent %v", ErrInvalidSurfaceID, *parent)
		}
		parentNative, _ = p.native.get()
	}

	if (width == 0) || (height == 0) {
		return 0, fmt.Errorf("%w: invalid size %vx%v", ErrCreateSurface, width, height)
	}

	rowSize, frameSize, totalSize, ok := surfaceSizes(width, height)
	if !ok {
		return 0, fmt.Errorf("%w: size %vx%v is too large", ErrCreateSurface, width, height)
	}

	region, err := shm.NewRegion(shmName, totalSize)
	if err != nil {
		return 0, shmError(err)
	}
	defer func() {
		if region != nil {
			region.Close()
		}
	}()

	ns, err := native.NewSurface(parentNative, region.Fd(), totalSize, frameSize, width, height, uint32(rowSize))
	if (err != nil) || (ns == nil) {
		return 0, wrap(ErrCreateSurface, err)
	}

	s := surface{
		native:    newGuard(ns),
		region:    region,
		frameSize: frameSize,
		width:     int(width),
		height:    int(height),
	}
	if parent != nil {
		p := *parent
		s.parent = &p
	}
	region = nil

	id := d.surfaces.Add(&s)
	debug.Logger().Debug("created surface",
		"surface", id,
		"width", width,
		"height", height,
		"size", totalSize,
		"subsurface", parent != nil,
	)
	return id, nil
}

// ReleaseSurface destroys a surface and unmaps its memory. Unknown IDs
// are ignored.
func (d *Display) ReleaseSurface(id uint32) {
	s, ok := d.surfaces.Delete(id)
	if !ok {
		return
	}

	err := s.release()
	if err != nil {
		debug.Logger().Warn("release surface", "surface", id, "err", err)
	}
}

// surface looks up a surface for op, reporting unknown IDs.
func (d *Display) surface(op string, id uint32) (*surface, bool) {
	s, ok := d.surfaces.Get(id)
	if !ok {
		invalidID(op, "surface", id)
	}
	return s, ok
}

// FramebufferMemory returns the framebuffer that the next Flip will
// present. It is never the buffer currently on screen. Check
// NextBufferInUse before writing to avoid tearing. It returns nil for
// an unknown ID.
func (d *Display) FramebufferMemory(id uint32) []byte {
	s, ok := d.surfaces.Get(id)
	if !ok {
		return nil
	}
	return s.memory()
}

// FramebufferImage is like FramebufferMemory but wraps the memory in
// an image with the surface's bounds.
func (d *Display) FramebufferImage(id uint32) draw.Image {
	s, ok := d.surfaces.Get(id)
	if !ok {
		return nil
	}
	return s.image()
}

// SurfaceSize returns the size of a surface in pixels.
func (d *Display) SurfaceSize(id uint32) (width, height int, ok bool) {
	s, ok := d.surfaces.Get(id)
	if !ok {
		return 0, 0, false
	}
	return s.width, s.height, true
}

// SurfaceParent returns the ID of the surface that a sub-surface was
// created under. ok is false for top-level surfaces and unknown IDs.
// The parent may have since been released.
func (d *Display) SurfaceParent(id uint32) (parent uint32, ok bool) {
	s, ok := d.surfaces.Get(id)
	if !ok || (s.parent == nil) {
		return 0, false
	}
	return *s.parent, true
}

// Surfaces returns the IDs of the live surfaces in increasing order.
func (d *Display) Surfaces() []uint32 {
	return d.surfaces.IDs()
}

// Imports returns the IDs of the live imported buffers in increasing
// order.
func (d *Display) Imports() []uint32 {
	return d.imports.IDs()
}

// NextBufferInUse reports whether the compositor is still reading the
// buffer returned by FramebufferMemory.
func (d *Display) NextBufferInUse(id uint32) bool {
	s, ok := d.surface("NextBufferInUse", id)
	if !ok {
		return false
	}

	native, ok := s.native.get()
	if !ok {
		return false
	}
	return native.BufferInUse(s.candidate())
}

// Commit applies a surface's pending state, such as the positions of
// its sub-surfaces, without changing what it shows.
func (d *Display) Commit(id uint32) {
	s, ok := d.surface("Commit", id)
	if !ok {
		return
	}

	if native, ok := s.native.get(); ok {
		native.Commit()
	}
}

// Flip presents the framebuffer last returned by FramebufferMemory.
func (d *Display) Flip(id uint32) {
	s, ok := d.surface("Flip", id)
	if !ok {
		return
	}

	s.index = s.candidate()
	if native, ok := s.native.get(); ok {
		native.Flip(s.index)
	}
}

// FlipTo presents an imported buffer on a surface. The surface's own
// framebuffers are left as they are.
func (d *Display) FlipTo(id, importID uint32) {
	s, ok := d.surface("FlipTo", id)
	if !ok {
		return
	}
	g, ok := d.imports.Get(importID)
	if !ok {
		invalidID("FlipTo", "import", importID)
		return
	}

	native, ok := s.native.get()
	if !ok {
		return
	}
	dmabuf, ok := g.get()
	if !ok {
		return
	}
	native.FlipTo(dmabuf)
}

// CloseRequested reports whether the compositor has asked a top-level
// surface to close. It is false for sub-surfaces and unknown IDs.
func (d *Display) CloseRequested(id uint32) bool {
	s, ok := d.surfaces.Get(id)
	if !ok {
		return false
	}

	native, ok := s.native.get()
	return ok && native.CloseRequested()
}

// SetPosition moves a sub-surface relative to its parent. The move
// takes effect when the parent is next committed.
func (d *Display) SetPosition(id uint32, x, y int32) {
	s, ok := d.surface("SetPosition", id)
	if !ok {
		return
	}

	if native, ok := s.native.get(); ok {
		native.SetPosition(x, y)
	}
}
