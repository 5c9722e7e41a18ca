package wire

import (
	"fmt"
)

// UnknownOpError is returned by Object.Dispatch if it is given a
// message with an invalid opcode.
type UnknownOpError struct {
	Interface string
	Type      string
	Op        uint16
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("unknown %v opcode for %v: %v", err.Type, err.Interface, err.Op)
}

// UnknownSenderIDError is returned by an attempt to dispatch an
// incoming message that indicates a method call on an object that the
// connection doesn't know about.
type UnknownSenderIDError struct {
	Msg *MessageBuffer
}

func (err UnknownSenderIDError) Error() string {
	return fmt.Sprintf("unknown sender object ID: %v", err.Msg.Sender())
}

// MessageSizeError is returned when a message header announces a size
// that cannot be valid.
type MessageSizeError struct {
	Sender uint32
	Size   uint32
}

func (err MessageSizeError) Error() string {
	return fmt.Sprintf("invalid message size from object %v: %v", err.Sender, err.Size)
}

// ProtocolError is a fatal error reported by the compositor through
// wl_display.error. The connection is unusable after one is received.
type ProtocolError struct {
	ObjectID uint32
	// Interface is the interface of the object, if it was known.
	Interface string
	Code      uint32
	Message   string
}

func (err ProtocolError) Error() string {
	obj := fmt.Sprint(err.ObjectID)
	if err.Interface != "" {
		obj = fmt.Sprintf("%v@%v", err.Interface, err.ObjectID)
	}
	return fmt.Sprintf("protocol error on %v: code %v: %v", obj, err.Code, err.Message)
}
