package wire

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MessageBuilder is a message that is under construction.
type MessageBuilder struct {
	// Method is the name of the method being called. It is included
	// purely for debugging purposes.
	Method string

	sender Object
	op     uint16
	data   bytes.Buffer
	fds    []int
	args   []any
	err    error
}

// NewMessage starts a message from sender with the given opcode.
func NewMessage(sender Object, op uint16) *MessageBuilder {
	return &MessageBuilder{
		sender: sender,
		op:     op,
	}
}

func (mb *MessageBuilder) Sender() Object {
	return mb.sender
}

func (mb *MessageBuilder) Op() uint16 {
	return mb.op
}

func (mb *MessageBuilder) WriteInt(v int32) {
	if mb.err != nil {
		return
	}

	write(&mb.data, v)
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteUint(v uint32) {
	if mb.err != nil {
		return
	}

	write(&mb.data, v)
	mb.args = append(mb.args, v)
}

// WriteObject writes a reference to v. A nil v is written as the null
// object.
func (mb *MessageBuilder) WriteObject(v Object) {
	var id uint32
	if !isNil(v) {
		id = v.ID()
	}
	mb.WriteUint(id)
}

func (mb *MessageBuilder) WriteNewID(v NewID) {
	if mb.err != nil {
		return
	}

	mb.WriteString(v.Interface)
	mb.WriteUint(v.Version)
	mb.WriteUint(v.ID)
}

func (mb *MessageBuilder) WriteFixed(v Fixed) {
	if mb.err != nil {
		return
	}

	write(&mb.data, v)
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteString(v string) {
	if mb.err != nil {
		return
	}

	pad := padding(uint32(len(v) + 1))
	write(&mb.data, uint32(len(v)+1))
	mb.data.WriteString(v)
	mb.data.WriteByte(0)
	for i := uint32(0); i < pad; i++ {
		mb.data.WriteByte(0)
	}
	mb.args = append(mb.args, v)
}

func (mb *MessageBuilder) WriteArray(v []byte) {
	if mb.err != nil {
		return
	}

	pad := padding(uint32(len(v)))
	write(&mb.data, uint32(len(v)))
	mb.data.Write(v)
	for i := uint32(0); i < pad; i++ {
		mb.data.WriteByte(0)
	}
	mb.args = append(mb.args, v)
}

// WriteFD attaches a duplicate of fd to the message. The caller keeps
// ownership of fd.
func (mb *MessageBuilder) WriteFD(fd int) {
	if mb.err != nil {
		return
	}

	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		mb.err = fmt.Errorf("dup fd %v: %w", fd, err)
		return
	}

	mb.fds = append(mb.fds, dup)
	mb.args = append(mb.args, fdArg(fd))
}

// WriteFile attaches a duplicate of v's descriptor to the message.
func (mb *MessageBuilder) WriteFile(v *os.File) {
	mb.WriteFD(int(v.Fd()))
}

// Err returns the first error encountered while building the message.
func (mb *MessageBuilder) Err() error {
	return mb.err
}

// Build builds the message and sends it to c. The MessageBuilder
// should not be used again after this method is called. Any attached
// file descriptors are closed whether or not sending succeeds.
func (mb *MessageBuilder) Build(c *Conn) error {
	defer mb.close()

	if mb.err != nil {
		return mb.err
	}

	length := uint32(headerSize + mb.data.Len())
	if length > 0xFFFF {
		return MessageSizeError{Sender: mb.sender.ID(), Size: length}
	}

	msg := bytes.NewBuffer(make([]byte, 0, length))
	write(msg, mb.sender.ID())
	write(msg, (length<<16)|uint32(mb.op))
	msg.Write(mb.data.Bytes())

	var oob []byte
	if len(mb.fds) > 0 {
		oob = unix.UnixRights(mb.fds...)
	}

	_, _, mb.err = c.conn.WriteMsgUnix(msg.Bytes(), oob, nil)
	return mb.err
}

func (mb *MessageBuilder) close() {
	errs := make([]error, 0, len(mb.fds))
	for _, fd := range mb.fds {
		errs = append(errs, unix.Close(fd))
	}
	if mb.err == nil {
		mb.err = errors.Join(errs...)
	}
	mb.fds = nil
}

func (mb *MessageBuilder) String() string {
	args := make([]string, 0, len(mb.args))
	for _, arg := range mb.args {
		args = append(args, formatArg(arg))
	}

	method := mb.Method
	if method == "" {
		method = fmt.Sprintf("op%v", mb.op)
	}
	return fmt.Sprintf("%v.%v(%v)", Name(mb.sender), method, strings.Join(args, ", "))
}

type fdArg int

func (fd fdArg) String() string {
	return fmt.Sprintf("fd %v", int(fd))
}

func isNil(v any) bool {
	return (v == nil) || ((*[2]uintptr)(unsafe.Pointer(&v))[1] == 0)
}
