package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"deedles.dev/gpudisplay/internal/set"
	"golang.org/x/sys/unix"
)

const (
	// recvSize is the amount of data requested from the socket per
	// read.
	recvSize = 4096

	// maxFDs is the largest number of file descriptors accepted in a
	// single read. It matches the limit used by libwayland.
	maxFDs = 28
)

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/var/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the Wayland Unix domain socket
// based on the contents of the $WAYLAND_DISPLAY environment variable.
// It does not attempt to determine if the value corresponds to an
// actual socket.
func SocketPath() string {
	v, ok := os.LookupEnv("WAYLAND_DISPLAY")
	if !ok {
		v = "wayland-0"
	}
	return ResolvePath(v)
}

// ResolvePath resolves a socket name relative to $XDG_RUNTIME_DIR.
// Absolute paths are returned unchanged.
func ResolvePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(xdgRuntimeDir(), name)
}

// NewSocketPath attempts to generate a valid path for opening a new
// socket to listen on in dir. If dir is empty, $XDG_RUNTIME_DIR is
// used.
func NewSocketPath(dir string) (string, error) {
	if dir == "" {
		dir = xdgRuntimeDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "wayland-")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("wayland-%v", num)), nil
}

// Conn represents a low-level Wayland connection. It buffers partially
// received messages and the file descriptors that arrived alongside
// them until the messages that own those descriptors are decoded.
type Conn struct {
	conn *net.UnixConn
	in   bytes.Buffer
	fds  []int
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn: c,
	}
}

// Dial opens a connection to the Wayland socket at path. If path is
// empty, the socket is determined from the current environment
// following the procedure outlined at
// https://wayland-book.com/protocol-design/wire-protocol.html#transports
func Dial(path string) (*Conn, error) {
	if path != "" {
		return dialPath(ResolvePath(path))
	}

	if v, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
		fd, err := strconv.ParseInt(v, 10, 0)
		if err != nil {
			return nil, fmt.Errorf("parse WAYLAND_SOCKET fd: %w", err)
		}
		file := os.NewFile(uintptr(fd), "WAYLAND_SOCKET")
		defer file.Close()

		c, err := net.FileConn(file)
		if err != nil {
			return nil, fmt.Errorf("open WAYLAND_SOCKET connection: %w", err)
		}
		uc, ok := c.(*net.UnixConn)
		if !ok {
			c.Close()
			return nil, fmt.Errorf("WAYLAND_SOCKET is not a Unix socket: %T", c)
		}
		return NewConn(uc), nil
	}

	return dialPath(SocketPath())
}

func dialPath(path string) (*Conn, error) {
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// Listen opens a Unix domain socket at path for a compositor to
// accept clients on.
func Listen(path string) (*net.UnixListener, error) {
	return net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
}

// Close closes the underlying connection and any received file
// descriptors that were never claimed by a decoded message.
func (c *Conn) Close() error {
	errs := make([]error, 0, len(c.fds)+1)
	for _, fd := range c.fds {
		errs = append(errs, unix.Close(fd))
	}
	c.fds = nil
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}

// Fd returns the connection's file descriptor for use with poll(2) and
// friends. The descriptor is readable when messages are waiting to be
// read. It returns -1 if the descriptor is unavailable.
func (c *Conn) Fd() int {
	rc, err := c.conn.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	rc.Control(func(v uintptr) { fd = int(v) })
	return fd
}

func (c *Conn) readFDs(data []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(data)
	if err != nil {
		return fmt.Errorf("parse socket control messages: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return fmt.Errorf("parse unix control message: %w", err)
		}
		c.fds = append(c.fds, fds...)
	}
	return nil
}

func (c *Conn) popFD() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}

	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// fill reads whatever is available on the socket into the input
// buffer. If block is false and nothing is available it returns false
// without waiting.
func (c *Conn) fill(block bool) (bool, error) {
	rc, err := c.conn.SyscallConn()
	if err != nil {
		return false, err
	}

	buf := make([]byte, recvSize)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	var n, oobn int
	var rerr error
	err = rc.Read(func(fd uintptr) bool {
		n, oobn, _, _, rerr = unix.Recvmsg(int(fd), buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
		if errors.Is(rerr, unix.EINTR) {
			return false
		}
		return !(block && errors.Is(rerr, unix.EAGAIN))
	})
	if err != nil {
		return false, err
	}

	switch {
	case errors.Is(rerr, unix.EAGAIN):
		return false, nil
	case rerr != nil:
		return false, os.NewSyscallError("recvmsg", rerr)
	}

	err = c.readFDs(oob[:oobn])
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, io.EOF
	}

	c.in.Write(buf[:n])
	return true, nil
}

// next decodes the next complete message in the input buffer. It
// returns nil without an error if no complete message is buffered.
func (c *Conn) next() (*MessageBuffer, error) {
	if c.in.Len() < headerSize {
		return nil, nil
	}

	header := c.in.Bytes()[:headerSize]
	sender := byteOrder.Uint32(header[:4])
	size := byteOrder.Uint32(header[4:]) >> 16
	if size < headerSize {
		return nil, MessageSizeError{Sender: sender, Size: size}
	}
	if uint32(c.in.Len()) < size {
		return nil, nil
	}

	data := make([]byte, size)
	c.in.Read(data)
	return parseMessage(c, data), nil
}

// ReadMessage reads the next message from the connection, blocking
// until one is available.
func (c *Conn) ReadMessage() (*MessageBuffer, error) {
	for {
		msg, err := c.next()
		if (msg != nil) || (err != nil) {
			return msg, err
		}

		_, err = c.fill(true)
		if err != nil {
			return nil, err
		}
	}
}

// TryReadMessage reads the next message from the connection if one is
// already available. It never blocks. If no complete message is
// available, it returns nil and a nil error.
func (c *Conn) TryReadMessage() (*MessageBuffer, error) {
	for {
		msg, err := c.next()
		if (msg != nil) || (err != nil) {
			return msg, err
		}

		ok, err := c.fill(false)
		if (err != nil) || !ok {
			return nil, err
		}
	}
}
