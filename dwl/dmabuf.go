package dwl

import (
	"errors"
	"fmt"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/wire"
	"golang.org/x/sys/unix"
)

// ErrImportRejected is returned by NewDmabuf if the compositor refuses
// to create a buffer from the dmabuf.
var ErrImportRejected = errors.New("compositor rejected dmabuf")

// Dmabuf is a single-plane GPU buffer imported into the compositor.
type Dmabuf struct {
	ctx    *Context
	buffer *proxy
}

// NewDmabuf imports the dmabuf referred to by fd as a single-plane
// buffer. It blocks until the compositor has accepted or rejected the
// buffer. The caller keeps ownership of fd.
func (ctx *Context) NewDmabuf(dmabufFD int, offset, stride uint32, modifiers uint64, width, height, fourcc uint32) (*Dmabuf, error) {
	if ctx.conn == nil {
		return nil, ErrNotConnected
	}
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.linuxDmabuf == nil {
		return nil, ErrNoDmabuf
	}

	if (width == 0) || (height == 0) {
		return nil, fmt.Errorf("invalid dmabuf size %vx%v", width, height)
	}
	if dmabufFD < 0 {
		return nil, fmt.Errorf("invalid dmabuf fd %v", dmabufFD)
	}
	_, err := unix.FcntlInt(uintptr(dmabufFD), unix.F_GETFD, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid dmabuf fd %v: %w", dmabufFD, err)
	}

	d := Dmabuf{ctx: ctx}

	var failed bool
	params := ctx.newProxy("zwp_linux_buffer_params_v1")
	params.on("created", func(msg *wire.MessageBuffer) {
		id := msg.ReadUint()
		if msg.Err() != nil {
			return
		}
		d.buffer = ctx.newProxyID("wl_buffer", id)
	})
	params.on("failed", func(*wire.MessageBuffer) { failed = true })

	ctx.linuxDmabuf.send(linuxDmabufCreateParams, params)
	params.send(
		paramsAdd,
		fd(dmabufFD),
		uint32(0),
		offset,
		stride,
		uint32(modifiers>>32),
		uint32(modifiers),
	)
	params.send(paramsCreate, int32(width), int32(height), fourcc, uint32(0))

	err = ctx.RoundTrip()
	params.send(paramsDestroy)
	switch {
	case err != nil:
		d.Destroy()
		return nil, fmt.Errorf("import dmabuf: %w", err)
	case failed || (d.buffer == nil):
		d.Destroy()
		return nil, ErrImportRejected
	}

	debug.Logger().Debug("dmabuf imported",
		"buffer", wire.Name(d.buffer),
		"width", width,
		"height", height,
		"format", fmt.Sprintf("%#08x", fourcc),
	)
	return &d, nil
}

// Destroy releases the imported buffer. It is safe to call Destroy
// more than once.
func (d *Dmabuf) Destroy() {
	if d.buffer == nil {
		return
	}

	d.buffer.send(bufferDestroy)
	d.buffer = nil
}
