package gpudisplay

import (
	"fmt"
)

// fakeBackend is a native layer that records what is done to it.
type fakeBackend struct {
	allocErr   error
	nilContext bool
	setupErr   error
	surfaceErr error
	nilSurface bool
	dmabufErr  error
	nilDmabuf  bool

	ctx *fakeContext

	// destroyed lists native handles in the order they were destroyed.
	destroyed []string
}

func (b *fakeBackend) NewContext() (NativeContext, error) {
	if b.allocErr != nil {
		return nil, b.allocErr
	}
	if b.nilContext {
		return nil, nil
	}

	b.ctx = &fakeContext{backend: b, fd: 42}
	return b.ctx, nil
}

type fakeContext struct {
	backend     *fakeBackend
	fd          int
	path        string
	destroyed   int
	dispatched  int
	dispatchErr error
	surfaces    []*fakeSurface
	dmabufs     []*fakeDmabuf
}

func (ctx *fakeContext) Setup(path string) error {
	ctx.path = path
	return ctx.backend.setupErr
}

func (ctx *fakeContext) Fd() int {
	return ctx.fd
}

func (ctx *fakeContext) Dispatch() error {
	ctx.dispatched++
	return ctx.dispatchErr
}

func (ctx *fakeContext) NewSurface(parent NativeSurface, fd int, totalSize, frameSize int, width, height, stride uint32) (NativeSurface, error) {
	if ctx.backend.surfaceErr != nil {
		return nil, ctx.backend.surfaceErr
	}
	if ctx.backend.nilSurface {
		return nil, nil
	}

	s := fakeSurface{
		ctx:       ctx,
		name:      fmt.Sprintf("surface %v", len(ctx.surfaces)),
		fd:        fd,
		totalSize: totalSize,
		frameSize: frameSize,
		width:     width,
		height:    height,
		stride:    stride,
	}
	if parent != nil {
		s.parent = parent.(*fakeSurface)
	}
	ctx.surfaces = append(ctx.surfaces, &s)
	return &s, nil
}

func (ctx *fakeContext) NewDmabuf(fd int, offset, stride uint32, modifiers uint64, width, height, fourcc uint32) (NativeDmabuf, error) {
	if ctx.backend.dmabufErr != nil {
		return nil, ctx.backend.dmabufErr
	}
	if ctx.backend.nilDmabuf {
		return nil, nil
	}

	d := fakeDmabuf{
		ctx:  ctx,
		name: fmt.Sprintf("dmabuf %v", len(ctx.dmabufs)),
	}
	ctx.dmabufs = append(ctx.dmabufs, &d)
	return &d, nil
}

func (ctx *fakeContext) Destroy() {
	ctx.destroyed++
	ctx.backend.destroyed = append(ctx.backend.destroyed, "context")
}

type fakeSurface struct {
	ctx    *fakeContext
	name   string
	parent *fakeSurface

	fd                   int
	totalSize, frameSize int
	width, height        uint32
	stride               uint32

	commits        int
	flips          []int
	flippedTo      []NativeDmabuf
	queried        []int
	inUse          [BufferCount]bool
	closeRequested bool
	x, y           int32
	destroyed      int
}

func (s *fakeSurface) Commit() {
	s.commits++
}

func (s *fakeSurface) Flip(buffer int) {
	s.flips = append(s.flips, buffer)
	s.inUse[buffer] = true
}

func (s *fakeSurface) FlipTo(dmabuf NativeDmabuf) {
	s.flippedTo = append(s.flippedTo, dmabuf)
}

func (s *fakeSurface) BufferInUse(buffer int) bool {
	s.queried = append(s.queried, buffer)
	return s.inUse[buffer]
}

func (s *fakeSurface) CloseRequested() bool {
	return s.closeRequested
}

func (s *fakeSurface) SetPosition(x, y int32) {
	s.x, s.y = x, y
}

func (s *fakeSurface) Destroy() {
	s.destroyed++
	s.ctx.backend.destroyed = append(s.ctx.backend.destroyed, s.name)
}

type fakeDmabuf struct {
	ctx       *fakeContext
	name      string
	destroyed int
}

func (d *fakeDmabuf) Destroy() {
	d.destroyed++
	d.ctx.backend.destroyed = append(d.ctx.backend.destroyed, d.name)
}
