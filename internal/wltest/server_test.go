package wltest

import (
	"context"
	"slices"
	"testing"
	"time"

	"deedles.dev/gpudisplay/protocol"
	"deedles.dev/gpudisplay/wire"
)

type peerObject struct {
	id    uint32
	iface *protocol.Interface
}

func (obj peerObject) ID() uint32                         { return obj.id }
func (obj peerObject) Interface() string                  { return obj.iface.Name }
func (obj peerObject) MethodName(op uint16) string        { return obj.iface.EventName(op) }
func (obj peerObject) Dispatch(*wire.MessageBuffer) error { return nil }

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	srv, err := New(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dial(t *testing.T, srv *Server) *wire.Conn {
	t.Helper()

	conn, err := wire.Dial(srv.Path())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendSync(t *testing.T, conn *wire.Conn, callback uint32) {
	t.Helper()

	display := peerObject{id: 1, iface: protocol.MustLookup("wl_display")}
	op, _ := display.iface.Request("sync")
	mb := wire.NewMessage(display, op)
	mb.WriteUint(callback)
	err := mb.Build(conn)
	if err != nil {
		t.Fatalf("send sync: %v", err)
	}
}

func TestHangUpKeepsBufferedRequests(t *testing.T) {
	const n = 16

	srv := newServer(t, Config{})
	conn := dial(t, srv)
	for i := 0; i < n; i++ {
		sendSync(t, conn, uint32(i+2))
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqs, err := srv.Wait(ctx, "wl_display", "sync", n)
	if err != nil {
		t.Fatalf("%v, got %v requests", err, len(reqs))
	}
	for i, req := range reqs {
		if req.Args[0] != uint32(i+2) {
			t.Errorf("request %v has callback %v, want %v", i, req.Args[0], i+2)
		}
	}
}

func TestSyncReply(t *testing.T) {
	srv := newServer(t, Config{})
	conn := dial(t, srv)
	defer conn.Close()

	sendSync(t, conn, 2)

	var events []string
	for len(events) < 2 {
		msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch msg.Sender() {
		case 1:
			events = append(events, protocol.MustLookup("wl_display").EventName(msg.Op()))
		case 2:
			events = append(events, protocol.MustLookup("wl_callback").EventName(msg.Op()))
		default:
			t.Fatalf("event from unexpected object %v", msg.Sender())
		}
	}
	if !slices.Equal(events, []string{"done", "delete_id"}) {
		t.Errorf("events = %v, want [done delete_id]", events)
	}
}
