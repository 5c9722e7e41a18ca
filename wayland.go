package gpudisplay

import (
	"fmt"

	"deedles.dev/gpudisplay/dwl"
)

// waylandBackend creates contexts that talk to a Wayland compositor
// directly.
type waylandBackend struct {
	appID string
	title string
}

func (b waylandBackend) NewContext() (NativeContext, error) {
	ctx := dwl.NewContext()
	ctx.AppID = b.appID
	ctx.Title = b.title
	return waylandContext{ctx}, nil
}

type waylandContext struct {
	*dwl.Context
}

func (ctx waylandContext) NewSurface(parent NativeSurface, fd int, totalSize, frameSize int, width, height, stride uint32) (NativeSurface, error) {
	var p *dwl.Surface
	if parent != nil {
		ws, ok := parent.(waylandSurface)
		if !ok {
			return nil, fmt.Errorf("parent %T is not a Wayland surface", parent)
		}
		p = ws.Surface
	}

	s, err := ctx.Context.NewSurface(p, fd, totalSize, frameSize, width, height, stride)
	if err != nil {
		return nil, err
	}
	return waylandSurface{s}, nil
}

func (ctx waylandContext) NewDmabuf(fd int, offset, stride uint32, modifiers uint64, width, height, fourcc uint32) (NativeDmabuf, error) {
	d, err := ctx.Context.NewDmabuf(fd, offset, stride, modifiers, width, height, fourcc)
	if err != nil {
		return nil, err
	}
	return d, nil
}

type waylandSurface struct {
	*dwl.Surface
}

func (s waylandSurface) FlipTo(dmabuf NativeDmabuf) {
	d, ok := dmabuf.(*dwl.Dmabuf)
	if !ok {
		return
	}
	s.Surface.FlipTo(d)
}
