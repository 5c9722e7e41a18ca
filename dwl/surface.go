package dwl

import (
	"errors"
	"fmt"
	"math"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/wire"
)

// maxBuffers is the most buffers a single Surface will carve out of
// its shared memory.
const maxBuffers = 2

// ErrNotConfigured is returned by NewSurface if the compositor never
// configured a new top-level surface.
var ErrNotConfigured = errors.New("top-level surface was not configured")

// Surface is a compositor surface backed by a ring of buffers in a
// caller-provided shared memory file.
type Surface struct {
	ctx           *Context
	width, height uint32

	surface *proxy
	pool    *proxy
	buffers []*proxy
	inUse   []bool

	subsurface *proxy
	xdgSurface *proxy
	toplevel   *proxy

	configured     bool
	closeRequested bool
}

// NewSurface creates a surface whose buffers live in the shared memory
// referred to by shmFD. The memory is totalSize bytes long and is split
// into frames of frameSize bytes, each holding a width by height image
// with the given stride. The caller keeps ownership of shmFD.
//
// If parent is nil, the surface is a top-level window and NewSurface
// blocks until the compositor has configured it. Otherwise it is a
// sub-surface of parent, positioned with SetPosition.
func (ctx *Context) NewSurface(parent *Surface, shmFD int, totalSize, frameSize int, width, height, stride uint32) (*Surface, error) {
	if ctx.conn == nil {
		return nil, ErrNotConnected
	}
	if ctx.err != nil {
		return nil, ctx.err
	}

	switch {
	case shmFD < 0:
		return nil, fmt.Errorf("invalid shared memory fd %v", shmFD)
	case (width == 0) || (height == 0):
		return nil, fmt.Errorf("invalid surface size %vx%v", width, height)
	case uint64(stride) < uint64(width)*4:
		return nil, fmt.Errorf("stride %v too small for width %v", stride, width)
	case (frameSize <= 0) || (uint64(frameSize) < uint64(stride)*uint64(height)):
		return nil, fmt.Errorf("frame size %v too small for %v rows of %v bytes", frameSize, height, stride)
	case totalSize < frameSize:
		return nil, fmt.Errorf("total size %v smaller than frame size %v", totalSize, frameSize)
	case totalSize > math.MaxInt32:
		return nil, fmt.Errorf("total size %v exceeds the largest shared memory pool", totalSize)
	case (parent != nil) && (parent.ctx != ctx):
		return nil, errors.New("parent surface belongs to a different context")
	}

	s := Surface{
		ctx:    ctx,
		width:  width,
		height: height,
	}

	s.pool = ctx.newProxy("wl_shm_pool")
	ctx.shm.send(shmCreatePool, s.pool, fd(shmFD), int32(totalSize))

	count := min(totalSize/frameSize, maxBuffers)
	s.buffers = make([]*proxy, count)
	s.inUse = make([]bool, count)
	for i := range s.buffers {
		buffer := ctx.newProxy("wl_buffer")
		buffer.on("release", func(*wire.MessageBuffer) {
			if i < len(s.inUse) {
				s.inUse[i] = false
			}
		})
		s.pool.send(
			shmPoolCreateBuffer,
			buffer,
			int32(i*frameSize),
			int32(width),
			int32(height),
			int32(stride),
			ShmFormatXrgb8888,
		)
		s.buffers[i] = buffer
	}

	s.surface = ctx.newProxy("wl_surface")
	ctx.compositor.send(compositorCreateSurface, s.surface)

	if parent != nil {
		s.subsurface = ctx.newProxy("wl_subsurface")
		ctx.subcompositor.send(subcompositorGetSubsurface, s.subsurface, s.surface, parent.surface)
		s.subsurface.send(subsurfaceSetDesync)
		s.configured = true
	} else {
		s.xdgSurface = ctx.newProxy("xdg_surface")
		s.xdgSurface.on("configure", func(msg *wire.MessageBuffer) {
			serial := msg.ReadUint()
			s.xdgSurface.send(xdgSurfaceAckConfigure, serial)
			s.configured = true
		})
		ctx.wmBase.send(wmBaseGetXdgSurface, s.xdgSurface, s.surface)

		s.toplevel = ctx.newProxy("xdg_toplevel")
		s.toplevel.on("close", func(*wire.MessageBuffer) { s.closeRequested = true })
		s.xdgSurface.send(xdgSurfaceGetToplevel, s.toplevel)
		if ctx.Title != "" {
			s.toplevel.send(toplevelSetTitle, ctx.Title)
		}
		if ctx.AppID != "" {
			s.toplevel.send(toplevelSetAppID, ctx.AppID)
		}
		s.surface.send(surfaceCommit)
	}

	err := ctx.RoundTrip()
	if err != nil {
		s.Destroy()
		return nil, fmt.Errorf("create surface: %w", err)
	}
	if !s.configured {
		s.Destroy()
		return nil, ErrNotConfigured
	}

	debug.Logger().Debug("surface created",
		"surface", wire.Name(s.surface),
		"buffers", count,
		"width", width,
		"height", height,
		"subsurface", parent != nil,
	)
	return &s, nil
}

// Commit applies the surface's pending state, such as the position of
// its sub-surfaces.
func (s *Surface) Commit() {
	s.surface.send(surfaceCommit)
}

// Flip presents buffer i. The buffer is considered in use until the
// compositor releases it. An out of range i is ignored.
func (s *Surface) Flip(i int) {
	if (i < 0) || (i >= len(s.buffers)) {
		return
	}

	s.present(s.buffers[i])
	s.inUse[i] = true
}

// FlipTo presents an imported dmabuf instead of the surface's own
// buffers.
func (s *Surface) FlipTo(d *Dmabuf) {
	if (d == nil) || (d.buffer == nil) || (d.ctx != s.ctx) {
		return
	}

	s.present(d.buffer)
}

func (s *Surface) present(buffer *proxy) {
	s.surface.send(surfaceAttach, buffer, int32(0), int32(0))
	s.surface.send(surfaceDamage, int32(0), int32(0), int32(s.width), int32(s.height))
	s.surface.send(surfaceCommit)
}

// BufferInUse reports whether the compositor may still be reading
// buffer i.
func (s *Surface) BufferInUse(i int) bool {
	if (i < 0) || (i >= len(s.inUse)) {
		return false
	}
	return s.inUse[i]
}

// Buffers returns the number of buffers in the surface's ring.
func (s *Surface) Buffers() int {
	return len(s.buffers)
}

// CloseRequested reports whether the compositor has asked the surface
// to close. It is always false for sub-surfaces.
func (s *Surface) CloseRequested() bool {
	return s.closeRequested
}

// SetPosition sets the offset of a sub-surface relative to its parent.
// It takes effect when the parent is next committed. It does nothing
// for top-level surfaces.
func (s *Surface) SetPosition(x, y int32) {
	if s.subsurface == nil {
		return
	}
	s.subsurface.send(subsurfaceSetPosition, x, y)
}

// Destroy destroys the surface and its buffers. It is safe to call
// Destroy more than once.
func (s *Surface) Destroy() {
	if s.surface == nil {
		return
	}

	if s.toplevel != nil {
		s.toplevel.send(toplevelDestroy)
	}
	if s.xdgSurface != nil {
		s.xdgSurface.send(xdgSurfaceDestroy)
	}
	if s.subsurface != nil {
		s.subsurface.send(subsurfaceDestroy)
	}
	for _, buffer := range s.buffers {
		buffer.send(bufferDestroy)
	}
	s.pool.send(shmPoolDestroy)
	s.surface.send(surfaceDestroy)

	s.toplevel = nil
	s.xdgSurface = nil
	s.subsurface = nil
	s.buffers = nil
	s.inUse = nil
	s.pool = nil
	s.surface = nil
}
