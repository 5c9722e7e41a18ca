package wltest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"slices"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/protocol"
	"deedles.dev/gpudisplay/wire"
	"golang.org/x/sys/unix"
)

// serverIDStart is the first object ID allocated by the server.
const serverIDStart = 0xFF000000

// errInvalidMethod is the wl_display.error code for a malformed
// request.
const errInvalidMethod uint32 = 1

// FourCC codes advertised for dmabuf imports.
const (
	FormatXRGB8888 uint32 = 0x34325258
	FormatARGB8888 uint32 = 0x34325241
)

type client struct {
	server  *Server
	conn    *wire.Conn
	objects map[uint32]*object
	nextID  uint32
	serial  uint32
	files   []*os.File

	// gone is set once the client has hung up. Events are dropped from
	// then on.
	gone bool
}

func newClient(server *Server, conn *wire.Conn) *client {
	c := client{
		server:  server,
		conn:    conn,
		objects: make(map[uint32]*object),
		nextID:  serverIDStart,
	}
	c.objects[1] = &object{
		client: &c,
		id:     1,
		iface:  protocol.MustLookup("wl_display"),
	}

	return &c
}

func (c *client) serve() {
	defer c.server.wg.Done()
	defer c.close()

	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !hungUp(err) {
				debug.Logger().Warn("read request", "err", err)
			}
			return
		}

		c.server.m.Lock()
		err = c.dispatch(msg)
		if err != nil {
			debug.Logger().Warn("dispatch request", "err", err)
			c.postError(msg.Sender(), errInvalidMethod, err.Error())
		}
		c.server.m.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.conn.Close()
	for _, file := range c.files {
		file.Close()
	}
	c.server.removeClient(c)
}

func (c *client) display() *object {
	return c.objects[1]
}

func (c *client) add(id uint32, iface string) (*object, error) {
	inter := protocol.Lookup(iface)
	if inter == nil {
		return nil, fmt.Errorf("unknown interface %q", iface)
	}
	if _, ok := c.objects[id]; ok {
		return nil, fmt.Errorf("object %v already exists", id)
	}

	obj := object{
		client: c,
		id:     id,
		iface:  inter,
	}
	c.objects[id] = &obj
	return &obj, nil
}

func (c *client) dispatch(msg *wire.MessageBuffer) error {
	obj, ok := c.objects[msg.Sender()]
	if !ok {
		return wire.UnknownSenderIDError{Msg: msg}
	}
	return obj.Dispatch(msg)
}

// send sends an event from obj.
func (c *client) send(obj *object, event string, args ...any) error {
	op, ok := obj.iface.Event(event)
	if !ok {
		return fmt.Errorf("%v has no event %q", obj.iface.Name, event)
	}

	mb := wire.NewMessage(obj, op)
	mb.Method = event
	for _, arg := range args {
		switch arg := arg.(type) {
		case uint32:
			mb.WriteUint(arg)
		case int32:
			mb.WriteInt(arg)
		case string:
			mb.WriteString(arg)
		case []byte:
			mb.WriteArray(arg)
		default:
			panic(fmt.Errorf("unsupported event argument type %T", arg))
		}
	}

	if c.gone {
		return nil
	}

	debug.Printf(" -> %v", mb)
	err := mb.Build(c.conn)
	if hungUp(err) {
		// Requests sent before the hang up are still buffered and the
		// read loop keeps handling them until EOF.
		debug.Logger().Debug("client hung up", "event", event, "err", err)
		c.gone = true
		return nil
	}
	return err
}

// hungUp reports whether err means the peer has closed its end of the
// connection.
func hungUp(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

func (c *client) postError(id, code uint32, message string) error {
	return c.send(c.display(), "error", id, code, message)
}

func (c *client) handle(obj *object, msg *wire.MessageBuffer) error {
	op := msg.Op()
	if int(op) >= len(obj.iface.Requests) {
		return wire.UnknownOpError{Interface: obj.iface.Name, Type: "request", Op: op}
	}
	req := obj.iface.Requests[op]

	args, err := protocol.ReadArgs(msg, req)
	defer c.closeFiles(args)
	if err != nil {
		return fmt.Errorf("%v.%v: %w", wire.Name(obj), req.Name, err)
	}
	debug.Printf("%v", msg.Debug(obj))

	c.server.record(Request{
		Object:    obj.id,
		Interface: obj.iface.Name,
		Name:      req.Name,
		Args:      args,
	})

	for i, arg := range req.Args {
		if arg.Type != "new_id" {
			continue
		}

		var err error
		switch v := args[i].(type) {
		case uint32:
			_, err = c.add(v, arg.Interface)
		case wire.NewID:
			_, err = c.add(v.ID, v.Interface)
		}
		if err != nil {
			return fmt.Errorf("%v.%v: %w", wire.Name(obj), req.Name, err)
		}
	}

	err = c.handleRequest(obj, req.Name, args)
	if err != nil {
		return fmt.Errorf("%v.%v: %w", wire.Name(obj), req.Name, err)
	}

	if req.IsDestructor() {
		delete(c.objects, obj.id)
		if obj.id < serverIDStart {
			return c.send(c.display(), "delete_id", obj.id)
		}
	}
	return nil
}

// closeFiles closes received file descriptors that no handler kept.
func (c *client) closeFiles(args []any) {
	for _, arg := range args {
		file, ok := arg.(*os.File)
		if ok && !slices.Contains(c.files, file) {
			file.Close()
		}
	}
}

func (c *client) handleRequest(obj *object, name string, args []any) error {
	switch obj.iface.Name + "." + name {
	case "wl_display.sync":
		id := args[0].(uint32)
		c.serial++
		err := c.send(c.objects[id], "done", c.serial)
		if err != nil {
			return err
		}
		delete(c.objects, id)
		return c.send(c.display(), "delete_id", id)

	case "wl_display.get_registry":
		registry := c.objects[args[0].(uint32)]
		for i, g := range c.server.cfg.Globals {
			err := c.send(registry, "global", uint32(i+1), g.Interface, g.Version)
			if err != nil {
				return err
			}
		}
		return nil

	case "wl_registry.bind":
		return c.bind(args[0].(uint32), args[1].(wire.NewID))

	case "wl_shm.create_pool":
		file := args[1].(*os.File)
		c.files = append(c.files, file)
		c.objects[args[0].(uint32)].data = &shmPool{file: file, size: args[2].(int32)}
		return nil

	case "wl_shm_pool.create_buffer":
		pool := obj.data.(*shmPool)
		buffer := shmBuffer{
			file:   pool.file,
			offset: args[1].(int32),
			width:  args[2].(int32),
			height: args[3].(int32),
			stride: args[4].(int32),
			format: args[5].(uint32),
		}
		if (buffer.offset < 0) || (int64(buffer.offset)+int64(buffer.stride)*int64(buffer.height) > int64(pool.size)) {
			return fmt.Errorf("buffer at %v does not fit in pool of size %v", buffer.offset, pool.size)
		}
		c.objects[args[0].(uint32)].data = &buffer
		return nil

	case "wl_compositor.create_surface":
		c.objects[args[0].(uint32)].data = &surface{}
		return nil

	case "wl_surface.attach":
		s := obj.data.(*surface)
		s.pending = args[0].(uint32)
		s.attached = true
		return nil

	case "wl_surface.commit":
		return c.commit(obj)

	case "xdg_wm_base.get_xdg_surface":
		target, ok := c.objects[args[1].(uint32)]
		if !ok {
			return fmt.Errorf("no surface %v", args[1])
		}
		xdg := c.objects[args[0].(uint32)]
		xdg.data = &xdgSurface{}
		target.data.(*surface).role = xdg
		return nil

	case "xdg_surface.get_toplevel":
		obj.data.(*xdgSurface).toplevel = c.objects[args[0].(uint32)]
		return nil

	case "zwp_linux_dmabuf_v1.create_params":
		c.objects[args[0].(uint32)].data = &bufferParams{}
		return nil

	case "zwp_linux_buffer_params_v1.add":
		obj.data.(*bufferParams).planes++
		return nil

	case "zwp_linux_buffer_params_v1.create":
		params := obj.data.(*bufferParams)
		if c.server.cfg.FailDmabuf || (params.planes == 0) {
			return c.send(obj, "failed")
		}

		id := c.nextID
		c.nextID++
		_, err := c.add(id, "wl_buffer")
		if err != nil {
			return err
		}
		return c.send(obj, "created", id)
	}

	return nil
}

func (c *client) bind(name uint32, id wire.NewID) error {
	globals := c.server.cfg.Globals
	if (name == 0) || (int(name) > len(globals)) {
		return fmt.Errorf("no global %v", name)
	}
	g := globals[name-1]
	if g.Interface != id.Interface {
		return fmt.Errorf("global %v is %v, not %v", name, g.Interface, id.Interface)
	}
	if id.Version > g.Version {
		return fmt.Errorf("%v version %v is not supported", id.Interface, id.Version)
	}

	obj := c.objects[id.ID]
	switch g.Interface {
	case "wl_shm":
		for _, format := range []uint32{0, 1} {
			err := c.send(obj, "format", format)
			if err != nil {
				return err
			}
		}

	case "zwp_linux_dmabuf_v1":
		for _, format := range []uint32{FormatXRGB8888, FormatARGB8888} {
			err := c.send(obj, "format", format)
			if err != nil {
				return err
			}
			if id.Version >= 3 {
				err = c.send(obj, "modifier", format, uint32(0), uint32(0))
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *client) commit(obj *object) error {
	s := obj.data.(*surface)
	if s.attached {
		prev := s.committed
		s.committed = s.pending
		s.attached = false

		if (prev != 0) && (prev != s.committed) && !c.server.cfg.HoldBuffers {
			if buffer, ok := c.objects[prev]; ok {
				err := c.send(buffer, "release")
				if err != nil {
					return err
				}
			}
		}
	}

	if (s.role == nil) || c.server.cfg.NoConfigure {
		return nil
	}
	xdg := s.role.data.(*xdgSurface)
	if xdg.configured || (xdg.toplevel == nil) {
		return nil
	}

	err := c.send(xdg.toplevel, "configure", int32(0), int32(0), []byte{})
	if err != nil {
		return err
	}
	c.serial++
	err = c.send(s.role, "configure", c.serial)
	if err != nil {
		return err
	}
	xdg.configured = true
	return nil
}

type object struct {
	client *client
	id     uint32
	iface  *protocol.Interface
	data   any
}

func (obj *object) ID() uint32 {
	return obj.id
}

func (obj *object) Interface() string {
	return obj.iface.Name
}

func (obj *object) MethodName(op uint16) string {
	return obj.iface.RequestName(op)
}

func (obj *object) Dispatch(msg *wire.MessageBuffer) error {
	return obj.client.handle(obj, msg)
}

type shmPool struct {
	file *os.File
	size int32
}

type shmBuffer struct {
	file   *os.File
	offset int32
	width  int32
	height int32
	stride int32
	format uint32
}

type surface struct {
	pending   uint32
	attached  bool
	committed uint32
	role      *object
}

type xdgSurface struct {
	toplevel   *object
	configured bool
}

type bufferParams struct {
	planes int
}
