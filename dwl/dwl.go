// Package dwl is a small Wayland client library with a handle-based
// API. A Context is a connection to a compositor, a Surface is a
// window or sub-surface backed by caller-provided shared memory, and a
// Dmabuf is an imported GPU buffer that can be presented on any
// Surface of the same Context.
//
// Every operation runs on the caller's goroutine. Nothing is read from
// the connection except during Setup, the blocking constructors, and
// Dispatch, so a caller can poll the descriptor returned by Fd and call
// Dispatch whenever it becomes readable. A Context and everything
// created from it must only be used by one goroutine at a time.
package dwl

import (
	"errors"
	"fmt"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/internal/objstore"
	"deedles.dev/gpudisplay/protocol"
	"deedles.dev/gpudisplay/wire"
	"golang.org/x/exp/maps"
)

var (
	// ErrNotConnected is returned by operations on a Context that has
	// not been set up or has been destroyed.
	ErrNotConnected = errors.New("not connected")

	// ErrMissingGlobal is returned by Setup if the compositor does not
	// advertise an interface that is required.
	ErrMissingGlobal = errors.New("required global not advertised")

	// ErrNoDmabuf is returned by NewDmabuf if the compositor does not
	// support zwp_linux_dmabuf_v1.
	ErrNoDmabuf = errors.New("compositor does not support dmabuf import")
)

// serverIDStart is the first object ID allocated by the compositor.
const serverIDStart = 0xFF000000

// Maximum versions of each global that this package knows how to use.
const (
	compositorVersion    = 4
	subcompositorVersion = 1
	shmVersion           = 1
	wmBaseVersion        = 1
	linuxDmabufVersion   = 3
)

// Global is a global object advertised by the compositor's registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Context is a connection to a compositor.
type Context struct {
	// AppID and Title are applied to every top-level surface created
	// after they are set.
	AppID string
	Title string

	conn    *wire.Conn
	objects *objstore.Store[*proxy]
	err     error

	display       *proxy
	registry      *proxy
	globals       map[uint32]Global
	compositor    *proxy
	subcompositor *proxy
	shm           *proxy
	wmBase        *proxy
	linuxDmabuf   *proxy

	shmFormats    map[uint32]struct{}
	dmabufFormats map[uint32][]uint64
}

// NewContext allocates a Context. It does not connect to anything
// until Setup is called.
func NewContext() *Context {
	return &Context{
		globals:       make(map[uint32]Global),
		shmFormats:    make(map[uint32]struct{}),
		dmabufFormats: make(map[uint32][]uint64),
	}
}

// Setup connects to the compositor socket at path and binds the
// globals that surfaces need. An empty path selects the socket from
// the environment. If Setup fails, the Context is left disconnected.
func (ctx *Context) Setup(path string) (err error) {
	if ctx.conn != nil {
		return errors.New("context is already set up")
	}

	conn, err := wire.Dial(path)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ctx.conn = conn
	ctx.objects = objstore.New[*proxy](1)
	ctx.err = nil
	defer func() {
		if err != nil {
			ctx.disconnect()
		}
	}()

	ctx.display = ctx.newProxy("wl_display")
	ctx.display.on("error", ctx.handleError)
	ctx.display.on("delete_id", ctx.handleDeleteID)

	ctx.registry = ctx.newProxy("wl_registry")
	ctx.registry.on("global", ctx.handleGlobal)
	ctx.registry.on("global_remove", func(msg *wire.MessageBuffer) {
		delete(ctx.globals, msg.ReadUint())
	})
	ctx.display.send(displayGetRegistry, ctx.registry)

	err = ctx.RoundTrip()
	if err != nil {
		return fmt.Errorf("get registry: %w", err)
	}

	ctx.compositor = ctx.bind("wl_compositor", compositorVersion)
	ctx.subcompositor = ctx.bind("wl_subcompositor", subcompositorVersion)
	ctx.shm = ctx.bind("wl_shm", shmVersion)
	ctx.wmBase = ctx.bind("xdg_wm_base", wmBaseVersion)
	ctx.linuxDmabuf = ctx.bind("zwp_linux_dmabuf_v1", linuxDmabufVersion)

	var missing []error
	for name, p := range map[string]*proxy{
		"wl_compositor":    ctx.compositor,
		"wl_subcompositor": ctx.subcompositor,
		"wl_shm":           ctx.shm,
		"xdg_wm_base":      ctx.wmBase,
	} {
		if p == nil {
			missing = append(missing, fmt.Errorf("%w: %v", ErrMissingGlobal, name))
		}
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	ctx.shm.on("format", func(msg *wire.MessageBuffer) {
		ctx.shmFormats[msg.ReadUint()] = struct{}{}
	})
	ctx.wmBase.on("ping", func(msg *wire.MessageBuffer) {
		serial := msg.ReadUint()
		ctx.wmBase.send(wmBasePong, serial)
	})
	if ctx.linuxDmabuf != nil {
		ctx.linuxDmabuf.on("format", func(msg *wire.MessageBuffer) {
			format := msg.ReadUint()
			if _, ok := ctx.dmabufFormats[format]; !ok {
				ctx.dmabufFormats[format] = nil
			}
		})
		ctx.linuxDmabuf.on("modifier", func(msg *wire.MessageBuffer) {
			format := msg.ReadUint()
			hi, lo := msg.ReadUint(), msg.ReadUint()
			ctx.dmabufFormats[format] = append(ctx.dmabufFormats[format], uint64(hi)<<32|uint64(lo))
		})
	}

	err = ctx.RoundTrip()
	if err != nil {
		return fmt.Errorf("bind globals: %w", err)
	}

	debug.Logger().Debug("connected to compositor", "path", path, "globals", len(ctx.globals))
	return nil
}

// bind binds the first advertised global implementing iface, or
// returns nil if there is none.
func (ctx *Context) bind(iface string, version uint32) *proxy {
	var found *Global
	for _, g := range ctx.globals {
		if (g.Interface == iface) && ((found == nil) || (g.Name < found.Name)) {
			g := g
			found = &g
		}
	}
	if found == nil {
		return nil
	}

	p := ctx.newProxy(iface)
	ctx.registry.send(registryBind, found.Name, wire.NewID{
		Interface: iface,
		Version:   min(version, found.Version),
		ID:        p.id,
	})
	return p
}

func (ctx *Context) newProxy(iface string) *proxy {
	p := proxy{
		ctx:   ctx,
		iface: protocol.MustLookup(iface),
	}
	p.id = ctx.objects.Add(&p)
	return &p
}

// newProxyID registers a proxy for an object that the compositor
// created with its own ID.
func (ctx *Context) newProxyID(iface string, id uint32) *proxy {
	p := proxy{
		ctx:   ctx,
		id:    id,
		iface: protocol.MustLookup(iface),
	}
	ctx.objects.Set(id, &p)
	return &p
}

func (ctx *Context) handleError(msg *wire.MessageBuffer) {
	err := wire.ProtocolError{
		ObjectID: msg.ReadUint(),
		Code:     msg.ReadUint(),
		Message:  msg.ReadString(),
	}
	if obj, ok := ctx.objects.Get(err.ObjectID); ok {
		err.Interface = obj.iface.Name
	}
	ctx.fail(err)
}

func (ctx *Context) handleDeleteID(msg *wire.MessageBuffer) {
	id := msg.ReadUint()
	if msg.Err() != nil {
		return
	}
	ctx.objects.Delete(id)
}

func (ctx *Context) handleGlobal(msg *wire.MessageBuffer) {
	g := Global{
		Name:      msg.ReadUint(),
		Interface: msg.ReadString(),
		Version:   msg.ReadUint(),
	}
	if msg.Err() != nil {
		return
	}
	ctx.globals[g.Name] = g
}

// fail records the first fatal error on the connection.
func (ctx *Context) fail(err error) {
	if ctx.err == nil {
		ctx.err = err
		debug.Logger().Warn("compositor connection failed", "err", err)
	}
}

// Globals returns a snapshot of the globals advertised by the
// compositor, keyed by their registry name.
func (ctx *Context) Globals() map[uint32]Global {
	return maps.Clone(ctx.globals)
}

// ShmFormats reports the wl_shm pixel formats advertised by the
// compositor.
func (ctx *Context) ShmFormats() []uint32 {
	formats := make([]uint32, 0, len(ctx.shmFormats))
	for f := range ctx.shmFormats {
		formats = append(formats, f)
	}
	return formats
}

// DmabufFormats reports the dmabuf fourcc formats and modifiers
// advertised by the compositor.
func (ctx *Context) DmabufFormats() map[uint32][]uint64 {
	return maps.Clone(ctx.dmabufFormats)
}

// Fd returns the connection's file descriptor, which becomes readable
// when events are waiting to be dispatched. It returns -1 if the
// Context is not connected.
func (ctx *Context) Fd() int {
	if ctx.conn == nil {
		return -1
	}
	return ctx.conn.Fd()
}

// Err returns the fatal error that broke the connection, if any.
func (ctx *Context) Err() error {
	return ctx.err
}

// Dispatch processes every event that has already arrived from the
// compositor. It never blocks. It returns the connection's fatal error
// if one has occurred, either now or earlier.
func (ctx *Context) Dispatch() error {
	if ctx.conn == nil {
		return ErrNotConnected
	}

	for ctx.err == nil {
		msg, err := ctx.conn.TryReadMessage()
		if err != nil {
			ctx.fail(fmt.Errorf("read: %w", err))
			break
		}
		if msg == nil {
			break
		}
		ctx.dispatch(msg)
	}
	return ctx.err
}

// RoundTrip blocks until the compositor has processed every request
// sent so far, dispatching events as they arrive.
func (ctx *Context) RoundTrip() error {
	if ctx.conn == nil {
		return ErrNotConnected
	}

	var done bool
	callback := ctx.newProxy("wl_callback")
	callback.on("done", func(*wire.MessageBuffer) { done = true })
	ctx.display.send(displaySync, callback)

	for !done && (ctx.err == nil) {
		msg, err := ctx.conn.ReadMessage()
		if err != nil {
			ctx.fail(fmt.Errorf("read: %w", err))
			break
		}
		ctx.dispatch(msg)
	}
	return ctx.err
}

func (ctx *Context) dispatch(msg *wire.MessageBuffer) {
	obj, ok := ctx.objects.Get(msg.Sender())
	if !ok {
		ctx.fail(wire.UnknownSenderIDError{Msg: msg})
		return
	}

	err := obj.Dispatch(msg)
	debug.Printf("%v", msg.Debug(obj))
	if err != nil {
		ctx.fail(fmt.Errorf("dispatch %v.%v: %w", wire.Name(obj), obj.MethodName(msg.Op()), err))
	}
}

func (ctx *Context) disconnect() {
	if ctx.conn == nil {
		return
	}

	err := ctx.conn.Close()
	if err != nil {
		debug.Logger().Warn("close compositor connection", "err", err)
	}
	ctx.conn = nil
	ctx.display = nil
	ctx.registry = nil
	ctx.compositor = nil
	ctx.subcompositor = nil
	ctx.shm = nil
	ctx.wmBase = nil
	ctx.linuxDmabuf = nil
	clear(ctx.globals)
}

// Destroy closes the connection. Surfaces and dmabufs created from the
// Context become inert. It is safe to call Destroy more than once.
func (ctx *Context) Destroy() {
	ctx.disconnect()
}
