package wire

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

type testObject struct {
	id uint32
}

func (obj *testObject) ID() uint32 { return obj.id }
func (obj *testObject) Interface() string { return "test_object" }
func (obj *testObject) MethodName(op uint16) string { return "method" }
func (obj *testObject) Dispatch(msg *MessageBuffer) error { return nil }

func put32(b []byte, v uint32) []byte {
	var data [4]byte
	byteOrder.PutUint32(data[:], v)
	return append(b, data[:]...)
}

func socketPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	conns := make([]*Conn, 0, 2)
	for i, fd := range fds {
		file := os.NewFile(uintptr(fd), "socketpair")
		c, err := net.FileConn(file)
		file.Close()
		if err != nil {
			t.Fatalf("file conn %v: %v", i, err)
		}
		conn := NewConn(c.(*net.UnixConn))
		t.Cleanup(func() { conn.Close() })
		conns = append(conns, conn)
	}
	return conns[0], conns[1]
}

func TestMessageRoundTrip(t *testing.T) {
	a, b := socketPair(t)

	file, err := os.CreateTemp(t.TempDir(), "fd")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer file.Close()
	_, err = file.WriteString("payload")
	if err != nil {
		t.Fatalf("write temp: %v", err)
	}

	sender := &testObject{id: 7}
	mb := NewMessage(sender, 3)
	mb.WriteInt(-42)
	mb.WriteUint(42)
	mb.WriteFixed(FixedFloat(1.5))
	mb.WriteString("wl_compositor")
	mb.WriteString("")
	mb.WriteArray([]byte{1, 2, 3})
	mb.WriteNewID(NewID{Interface: "wl_shm", Version: 1, ID: 9})
	mb.WriteFile(file)
	err = mb.Build(a)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Sender() != 7 {
		t.Errorf("Sender() = %v, want 7", msg.Sender())
	}
	if msg.Op() != 3 {
		t.Errorf("Op() = %v, want 3", msg.Op())
	}

	if v := msg.ReadInt(); v != -42 {
		t.Errorf("ReadInt() = %v, want -42", v)
	}
	if v := msg.ReadUint(); v != 42 {
		t.Errorf("ReadUint() = %v, want 42", v)
	}
	if v := msg.ReadFixed(); v.Float() != 1.5 {
		t.Errorf("ReadFixed() = %v, want 1.5", v)
	}
	if v := msg.ReadString(); v != "wl_compositor" {
		t.Errorf("ReadString() = %q, want %q", v, "wl_compositor")
	}
	if v := msg.ReadString(); v != "" {
		t.Errorf("ReadString() = %q, want empty", v)
	}
	if v := msg.ReadArray(); string(v) != "\x01\x02\x03" {
		t.Errorf("ReadArray() = %v, want [1 2 3]", v)
	}
	if v := msg.ReadNewID(); v != (NewID{Interface: "wl_shm", Version: 1, ID: 9}) {
		t.Errorf("ReadNewID() = %+v", v)
	}
	got := msg.ReadFile()
	if err := msg.Err(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got == nil {
		t.Fatal("ReadFile() = nil")
	}
	defer got.Close()

	data := make([]byte, 7)
	_, err = got.ReadAt(data, 0)
	if err != nil {
		t.Fatalf("read received fd: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("received fd contents = %q, want %q", data, "payload")
	}
}

func TestTryReadMessageEmpty(t *testing.T) {
	_, b := socketPair(t)

	msg, err := b.TryReadMessage()
	if err != nil {
		t.Fatalf("TryReadMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("TryReadMessage() = %v, want nil", msg)
	}
}

func TestTryReadMessagePartial(t *testing.T) {
	a, b := socketPair(t)

	var full []byte
	full = put32(full, 1)
	full = put32(full, uint32(headerSize+4)<<16)
	full = put32(full, 0xCAFE)

	_, err := a.conn.Write(full[:6])
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err := b.TryReadMessage()
	if err != nil {
		t.Fatalf("TryReadMessage: %v", err)
	}
	if msg != nil {
		t.Fatalf("TryReadMessage() returned a message from a partial header")
	}

	_, err = a.conn.Write(full[6:])
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	msg, err = b.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if v := msg.ReadUint(); v != 0xCAFE {
		t.Errorf("ReadUint() = %#x, want 0xcafe", v)
	}
}

func TestMessageSizeError(t *testing.T) {
	a, b := socketPair(t)

	var data []byte
	data = put32(data, 1)
	data = put32(data, 4<<16)
	_, err := a.conn.Write(data)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err = b.ReadMessage()
	var serr MessageSizeError
	if !errors.As(err, &serr) {
		t.Fatalf("ReadMessage() error = %v, want MessageSizeError", err)
	}
	if serr.Size != 4 {
		t.Errorf("Size = %v, want 4", serr.Size)
	}
}

func TestReadMessageEOF(t *testing.T) {
	a, b := socketPair(t)
	a.Close()

	_, err := b.ReadMessage()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("ReadMessage() error = %v, want io.EOF", err)
	}
}

func TestTruncatedArguments(t *testing.T) {
	a, b := socketPair(t)

	mb := NewMessage(&testObject{id: 2}, 1)
	mb.WriteUint(5)
	err := mb.Build(a)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg.ReadUint()
	msg.ReadUint()
	if err := msg.Err(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Err() = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestFixed(t *testing.T) {
	tests := []struct {
		name  string
		in    Fixed
		float float64
		int   int
	}{
		{name: "Int", in: FixedInt(3), float: 3, int: 3},
		{name: "Half", in: FixedFloat(1.5), float: 1.5, int: 1},
		{name: "Negative", in: FixedFloat(-2.25), float: -2.25, int: -3},
		{name: "Zero", in: FixedInt(0), float: 0, int: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.in.Float(); got != test.float {
				t.Errorf("Float() = %v, want %v", got, test.float)
			}
			if got := test.in.Int(); got != test.int {
				t.Errorf("Int() = %v, want %v", got, test.int)
			}
		})
	}

	if s := FixedFloat(1.5).String(); s != "1.5" {
		t.Errorf("String() = %q, want %q", s, "1.5")
	}
}

func TestNewSocketPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"wayland-0", "wayland-1", "wayland-x"} {
		err := os.WriteFile(filepath.Join(dir, name), nil, 0600)
		if err != nil {
			t.Fatalf("write %v: %v", name, err)
		}
	}

	path, err := NewSocketPath(dir)
	if err != nil {
		t.Fatalf("NewSocketPath: %v", err)
	}
	if want := filepath.Join(dir, "wayland-2"); path != want {
		t.Errorf("NewSocketPath() = %q, want %q", path, want)
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	t.Setenv("WAYLAND_DISPLAY", "wayland-3")
	if got := SocketPath(); got != "/run/user/1000/wayland-3" {
		t.Errorf("SocketPath() = %q", got)
	}

	t.Setenv("WAYLAND_DISPLAY", "/tmp/compositor")
	if got := SocketPath(); got != "/tmp/compositor" {
		t.Errorf("SocketPath() = %q", got)
	}
}
