package gpudisplay

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"deedles.dev/gpudisplay/internal/wltest"
	"deedles.dev/gpudisplay/shm"
)

func newCompositor(t *testing.T, cfg wltest.Config) *wltest.Server {
	t.Helper()

	srv, err := wltest.New(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("start compositor: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connectWayland(t *testing.T, srv *wltest.Server, opts ...Option) *Display {
	t.Helper()

	d, err := Connect(srv.Path(), opts...)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func waitFor(t *testing.T, srv *wltest.Server, iface, name string, n int) []wltest.Request {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reqs, err := srv.Wait(ctx, iface, name, n)
	if err != nil {
		t.Fatal(err)
	}
	return reqs
}

func TestWaylandFlip(t *testing.T) {
	srv := newCompositor(t, wltest.Config{HoldBuffers: true})
	d := connectWayland(t, srv, WithTitle("flip"), WithAppID("dev.deedles.gpudisplay.test"))
	id := createSurface(t, d, nil, 8, 8)

	titles := srv.Find("xdg_toplevel", "set_title")
	if (len(titles) != 1) || (titles[0].Args[0] != "flip") {
		t.Errorf("set_title requests = %+v", titles)
	}

	buffers := srv.Objects("wl_buffer")
	if len(buffers) != BufferCount {
		t.Fatalf("compositor has %v buffers, want %v", len(buffers), BufferCount)
	}

	mem := d.FramebufferMemory(id)
	pattern := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0xFF}, len(mem)/4)
	copy(mem, pattern)
	d.Flip(id)

	attaches := waitFor(t, srv, "wl_surface", "attach", 1)
	if attaches[0].Args[0] != buffers[1] {
		t.Errorf("attached %v, want wl_buffer@%v", attaches[0].Args[0], buffers[1])
	}
	data, err := srv.BufferContents(buffers[1])
	if err != nil {
		t.Fatalf("buffer contents: %v", err)
	}
	if !bytes.Equal(data, pattern) {
		t.Error("compositor does not see the presented framebuffer")
	}

	d.Flip(id)
	waitFor(t, srv, "wl_surface", "attach", 2)
	if !d.NextBufferInUse(id) {
		t.Fatal("held buffer not reported in use")
	}

	err = srv.Release(buffers[1])
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	err = d.DispatchEvents()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.NextBufferInUse(id) {
		t.Error("released buffer still reported in use")
	}
}

func TestWaylandCloseRequested(t *testing.T) {
	srv := newCompositor(t, wltest.Config{})
	d := connectWayland(t, srv)
	id := createSurface(t, d, nil, 4, 4)

	toplevels := srv.Objects("xdg_toplevel")
	if len(toplevels) != 1 {
		t.Fatalf("compositor has %v toplevels, want 1", len(toplevels))
	}
	err := srv.RequestClose(toplevels[0])
	if err != nil {
		t.Fatalf("request close: %v", err)
	}
	err = d.DispatchEvents()
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !d.CloseRequested(id) {
		t.Error("close request not reported")
	}
}

func TestWaylandSubsurface(t *testing.T) {
	srv := newCompositor(t, wltest.Config{})
	d := connectWayland(t, srv)
	parent := createSurface(t, d, nil, 8, 8)
	child := createSurface(t, d, &parent, 4, 4)

	d.SetPosition(child, 2, -2)
	d.Commit(parent)

	positions := waitFor(t, srv, "wl_subsurface", "set_position", 1)
	if !slices.Equal(positions[0].Args, []any{int32(2), int32(-2)}) {
		t.Errorf("set_position arguments = %v", positions[0].Args)
	}
	if d.CloseRequested(child) {
		t.Error("sub-surface reports a close request")
	}
}

func TestWaylandImport(t *testing.T) {
	region, err := shm.NewRegion("gpudisplay-test", shm.PageSize())
	if err != nil {
		t.Fatalf("create region: %v", err)
	}
	defer region.Close()

	t.Run("Accepted", func(t *testing.T) {
		srv := newCompositor(t, wltest.Config{})
		d := connectWayland(t, srv)
		id := createSurface(t, d, nil, 4, 4)

		imp, err := d.ImportDmabuf(region.Fd(), 0, 16, 0, 4, 4, wltest.FormatXRGB8888)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		before := srv.Objects("wl_buffer")
		d.FlipTo(id, imp)

		attaches := waitFor(t, srv, "wl_surface", "attach", 1)
		if slices.Contains(before[:BufferCount], attaches[0].Args[0].(uint32)) {
			t.Errorf("FlipTo attached a framebuffer: %v", attaches[0].Args[0])
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		srv := newCompositor(t, wltest.Config{FailDmabuf: true})
		d := connectWayland(t, srv)

		_, err := d.ImportDmabuf(region.Fd(), 0, 16, 0, 4, 4, wltest.FormatXRGB8888)
		if !errors.Is(err, ErrFailedImport) {
			t.Fatalf("ImportDmabuf() error = %v, want ErrFailedImport", err)
		}
	})

	t.Run("InvalidFd", func(t *testing.T) {
		srv := newCompositor(t, wltest.Config{})
		d := connectWayland(t, srv)

		_, err := d.ImportDmabuf(-1, 0, 16, 0, 4, 4, wltest.FormatXRGB8888)
		if !errors.Is(err, ErrFailedImport) {
			t.Fatalf("ImportDmabuf() error = %v, want ErrFailedImport", err)
		}
		if err := d.DispatchEvents(); err != nil {
			t.Errorf("connection broken by a failed import: %v", err)
		}
	})
}

func TestWaylandConnectFailure(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "wayland-missing"))
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Connect() error = %v, want ErrConnect", err)
	}

	srv := newCompositor(t, wltest.Config{
		Globals: wltest.Without(wltest.DefaultGlobals(), "wl_compositor"),
	})
	_, err = Connect(srv.Path())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Connect() without wl_compositor error = %v, want ErrConnect", err)
	}
}

func TestWaylandClose(t *testing.T) {
	srv := newCompositor(t, wltest.Config{})
	d, err := Connect(srv.Path())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	parent := createSurface(t, d, nil, 4, 4)
	createSurface(t, d, &parent, 4, 4)

	err = d.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	destroyed := waitFor(t, srv, "wl_surface", "destroy", 2)
	if destroyed[0].Object <= destroyed[1].Object {
		t.Errorf("surfaces destroyed in order %v, %v, want the newest first", destroyed[0].Object, destroyed[1].Object)
	}
}
