package dwl

import (
	"fmt"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/protocol"
	"deedles.dev/gpudisplay/wire"
)

// Request opcodes. They are checked against the protocol descriptions
// in the tests.
const (
	displaySync        uint16 = 0
	displayGetRegistry uint16 = 1

	registryBind uint16 = 0

	compositorCreateSurface uint16 = 0

	shmCreatePool uint16 = 0

	shmPoolCreateBuffer uint16 = 0
	shmPoolDestroy      uint16 = 1

	bufferDestroy uint16 = 0

	surfaceDestroy uint16 = 0
	surfaceAttach  uint16 = 1
	surfaceDamage  uint16 = 2
	surfaceCommit  uint16 = 6

	subcompositorGetSubsurface uint16 = 1

	subsurfaceDestroy     uint16 = 0
	subsurfaceSetPosition uint16 = 1
	subsurfaceSetDesync   uint16 = 5

	wmBasePong          uint16 = 3
	wmBaseGetXdgSurface uint16 = 2

	xdgSurfaceDestroy      uint16 = 0
	xdgSurfaceGetToplevel  uint16 = 1
	xdgSurfaceAckConfigure uint16 = 4

	toplevelDestroy  uint16 = 0
	toplevelSetTitle uint16 = 2
	toplevelSetAppID uint16 = 3

	linuxDmabufCreateParams uint16 = 1

	paramsDestroy uint16 = 0
	paramsAdd     uint16 = 1
	paramsCreate  uint16 = 2
)

// Formats shared by wl_shm and the DRM fourcc codes used for dmabufs.
const (
	ShmFormatArgb8888 uint32 = 0
	ShmFormatXrgb8888 uint32 = 1
)

// fd marks a request argument as a file descriptor to be passed over
// the socket.
type fd int

// proxy is the client side of a protocol object.
type proxy struct {
	ctx    *Context
	id     uint32
	iface  *protocol.Interface
	events []func(msg *wire.MessageBuffer)

	// zombie is set once a destructor has been sent. The ID stays
	// reserved until the compositor confirms with wl_display.delete_id,
	// and events that arrive in the meantime are dropped.
	zombie bool
}

func (p *proxy) ID() uint32 {
	return p.id
}

func (p *proxy) Interface() string {
	return p.iface.Name
}

func (p *proxy) MethodName(op uint16) string {
	return p.iface.EventName(op)
}

func (p *proxy) Dispatch(msg *wire.MessageBuffer) error {
	op := msg.Op()
	if int(op) >= len(p.iface.Events) {
		return wire.UnknownOpError{Interface: p.iface.Name, Type: "event", Op: op}
	}
	if p.zombie {
		return nil
	}

	if (int(op) < len(p.events)) && (p.events[op] != nil) {
		p.events[op](msg)
	}
	return msg.Err()
}

// on registers h as the handler for the named event.
func (p *proxy) on(event string, h func(msg *wire.MessageBuffer)) {
	op, ok := p.iface.Event(event)
	if !ok {
		panic(fmt.Errorf("%v has no event %q", p.iface.Name, event))
	}

	if int(op) >= len(p.events) {
		events := make([]func(*wire.MessageBuffer), op+1)
		copy(events, p.events)
		p.events = events
	}
	p.events[op] = h
}

// send sends a request. Arguments are encoded by their Go type: *proxy
// for objects and typed new_ids, wire.NewID for untyped new_ids and fd
// for file descriptors. A failed send is recorded on the context and
// reported by the next call to Dispatch. Sending from a nil proxy does
// nothing.
func (p *proxy) send(op uint16, args ...any) {
	if p == nil {
		return
	}
	ctx := p.ctx
	if (ctx.conn == nil) || (ctx.err != nil) || p.zombie {
		return
	}

	mb := wire.NewMessage(p, op)
	mb.Method = p.iface.RequestName(op)
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
		case *proxy:
			mb.WriteObject(arg)
		case wire.NewID:
			mb.WriteNewID(arg)
		case fd:
			mb.WriteFD(int(arg))
		default:
			panic(fmt.Errorf("unsupported argument type %T for %v.%v", arg, p.iface.Name, mb.Method))
		}
	}

	debug.Printf(" -> %v", mb)
	err := mb.Build(ctx.conn)
	if err != nil {
		ctx.fail(fmt.Errorf("send %v.%v: %w", wire.Name(p), mb.Method, err))
		return
	}

	if (int(op) < len(p.iface.Requests)) && p.iface.Requests[op].IsDestructor() {
		p.zombie = true
		if p.id >= serverIDStart {
			// The compositor does not confirm the deletion of objects
			// that it allocated.
			ctx.objects.Delete(p.id)
		}
	}
}
