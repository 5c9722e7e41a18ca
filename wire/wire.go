// Package wire defines types helpful for dealing with the Wayland
// wire protocol. It is primarly intended for usage by the dwl package
// and by the test compositor, both of which describe their protocol
// objects by hand on top of it.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// byteOrder is the host byte order.
var byteOrder binary.ByteOrder = binary.LittleEndian

func init() {
	n := uint32(1)
	b := (*[4]byte)(unsafe.Pointer(&n))
	if b[0] == 0 {
		byteOrder = binary.BigEndian
	}
}

// headerSize is the size of a message header: the sender ID followed
// by the combined size and opcode word.
const headerSize = 8

func read[T ~int32 | ~uint32](r io.Reader) (T, error) {
	var data [4]byte
	_, err := io.ReadFull(r, data[:])
	if err != nil {
		return 0, err
	}

	v := byteOrder.Uint32(data[:])
	return *(*T)(unsafe.Pointer(&v)), nil
}

func write[T ~int32 | ~uint32](w io.Writer, v T) error {
	var data [4]byte
	byteOrder.PutUint32(data[:], *(*uint32)(unsafe.Pointer(&v)))
	n, err := w.Write(data[:])
	if (err == nil) && (n < len(data)) {
		return io.ErrShortWrite
	}
	return err
}

// padding returns the number of bytes needed to pad length bytes out
// to a 32-bit boundary.
func padding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}

// Object represents a Wayland protocol object.
type Object interface {
	// ID is the object's ID in the connection's object table.
	ID() uint32

	// Interface is the protocol interface name, such as "wl_surface".
	Interface() string

	// MethodName returns the name of the incoming message with the
	// given opcode, for debugging purposes. For a client that is an
	// event and for a compositor it is a request.
	MethodName(op uint16) string

	// Dispatch pertforms the operation requested by the message in the
	// buffer.
	Dispatch(msg *MessageBuffer) error
}

// Name returns the conventional debug name of obj, such as
// "wl_surface@3".
func Name(obj Object) string {
	if isNil(obj) {
		return "nil"
	}
	return fmt.Sprintf("%v@%v", obj.Interface(), obj.ID())
}

// NewID is an untyped new_id argument. Untyped new_id arguments are
// sent with the interface name and version preceding the ID, which is
// how wl_registry.bind learns what it is binding.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}
