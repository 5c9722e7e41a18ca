// Package wltest provides a scripted in-process compositor for tests.
// It speaks just enough of the core, xdg-shell and linux-dmabuf
// protocols for a client to create surfaces, present buffers and
// import dmabufs, and it records every request it receives.
package wltest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sync"

	"deedles.dev/gpudisplay/internal/debug"
	"deedles.dev/gpudisplay/internal/set"
	"deedles.dev/gpudisplay/wire"
)

// Global is a global advertised to clients.
type Global struct {
	Interface string
	Version   uint32
}

// DefaultGlobals returns the globals advertised when a Config does not
// list any.
func DefaultGlobals() []Global {
	return []Global{
		{Interface: "wl_compositor", Version: 4},
		{Interface: "wl_subcompositor", Version: 1},
		{Interface: "wl_shm", Version: 1},
		{Interface: "xdg_wm_base", Version: 2},
		{Interface: "zwp_linux_dmabuf_v1", Version: 3},
	}
}

// Without returns globals with every entry implementing iface removed.
func Without(globals []Global, iface string) []Global {
	return slices.DeleteFunc(slices.Clone(globals), func(g Global) bool {
		return g.Interface == iface
	})
}

// Config controls the behavior of a Server.
type Config struct {
	// Globals is the list of globals to advertise. If it is nil,
	// DefaultGlobals is used.
	Globals []Global

	// FailDmabuf causes every dmabuf import to be rejected.
	FailDmabuf bool

	// HoldBuffers stops the server from releasing a buffer when a
	// different one is committed to the same surface. Buffers are then
	// only released by Release.
	HoldBuffers bool

	// NoConfigure stops the server from configuring new top-level
	// surfaces.
	NoConfigure bool
}

// Request is a request received from a client.
type Request struct {
	Object    uint32
	Interface string
	Name      string

	// Args are decoded as by protocol.ReadArgs. File descriptor
	// arguments are closed once the request has been handled.
	Args []any
}

// Server is a test compositor listening on a Unix socket.
type Server struct {
	cfg  Config
	path string
	lis  *net.UnixListener
	wg   sync.WaitGroup

	m        sync.Mutex
	clients  set.Set[*client]
	requests []Request
	changed  chan struct{}
	closed   bool
}

// New starts a Server listening on a new socket in dir.
func New(dir string, cfg Config) (*Server, error) {
	if cfg.Globals == nil {
		cfg.Globals = DefaultGlobals()
	}

	path, err := wire.NewSocketPath(dir)
	if err != nil {
		return nil, fmt.Errorf("socket path: %w", err)
	}
	lis, err := wire.Listen(path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	server := Server{
		cfg:     cfg,
		path:    path,
		lis:     lis,
		clients: make(set.Set[*client]),
		changed: make(chan struct{}),
	}
	server.wg.Add(1)
	go server.listen()

	return &server, nil
}

// Path returns the path of the server's socket.
func (server *Server) Path() string {
	return server.path
}

func (server *Server) listen() {
	defer server.wg.Done()

	for {
		c, err := server.lis.AcceptUnix()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				debug.Logger().Warn("accept", "err", err)
			}
			return
		}

		server.m.Lock()
		if server.closed {
			server.m.Unlock()
			c.Close()
			return
		}
		client := newClient(server, wire.NewConn(c))
		server.clients.Add(client)
		server.m.Unlock()

		server.wg.Add(1)
		go client.serve()
	}
}

// Close disconnects every client and stops the server.
func (server *Server) Close() error {
	server.m.Lock()
	if server.closed {
		server.m.Unlock()
		return nil
	}
	server.closed = true
	err := server.lis.Close()
	for client := range server.clients {
		client.conn.Close()
	}
	server.m.Unlock()

	server.wg.Wait()
	os.Remove(server.path)
	return err
}

func (server *Server) record(req Request) {
	server.requests = append(server.requests, req)
	close(server.changed)
	server.changed = make(chan struct{})
}

// Requests returns every request received so far, in order.
func (server *Server) Requests() []Request {
	server.m.Lock()
	defer server.m.Unlock()

	return slices.Clone(server.requests)
}

// Find returns every request received so far with the given interface
// and name.
func (server *Server) Find(iface, name string) []Request {
	server.m.Lock()
	defer server.m.Unlock()

	return server.find(iface, name)
}

func (server *Server) find(iface, name string) []Request {
	var found []Request
	for _, req := range server.requests {
		if (req.Interface == iface) && (req.Name == name) {
			found = append(found, req)
		}
	}
	return found
}

// Wait blocks until at least n requests with the given interface and
// name have been received, returning them, or until ctx is canceled.
func (server *Server) Wait(ctx context.Context, iface, name string, n int) ([]Request, error) {
	for {
		server.m.Lock()
		found := server.find(iface, name)
		changed := server.changed
		server.m.Unlock()

		if len(found) >= n {
			return found, nil
		}

		select {
		case <-ctx.Done():
			return found, fmt.Errorf("waiting for %v %v.%v: %w", n, iface, name, ctx.Err())
		case <-changed:
		}
	}
}

// Objects returns the IDs of the live objects implementing iface
// across all clients, in increasing order.
func (server *Server) Objects(iface string) []uint32 {
	server.m.Lock()
	defer server.m.Unlock()

	var ids []uint32
	for client := range server.clients {
		for id, obj := range client.objects {
			if obj.iface.Name == iface {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

// lookup finds the client that owns the object with the given ID and
// interface.
func (server *Server) lookup(id uint32, iface string) (*client, *object, error) {
	for client := range server.clients {
		obj, ok := client.objects[id]
		if ok && (obj.iface.Name == iface) {
			return client, obj, nil
		}
	}
	return nil, nil, fmt.Errorf("no %v@%v", iface, id)
}

// Release sends wl_buffer.release for the given buffer.
func (server *Server) Release(buffer uint32) error {
	server.m.Lock()
	defer server.m.Unlock()

	client, obj, err := server.lookup(buffer, "wl_buffer")
	if err != nil {
		return err
	}
	return client.send(obj, "release")
}

// RequestClose sends xdg_toplevel.close for the given toplevel.
func (server *Server) RequestClose(toplevel uint32) error {
	server.m.Lock()
	defer server.m.Unlock()

	client, obj, err := server.lookup(toplevel, "xdg_toplevel")
	if err != nil {
		return err
	}
	return client.send(obj, "close")
}

// Ping sends xdg_wm_base.ping with the given serial to every client
// that has bound xdg_wm_base.
func (server *Server) Ping(serial uint32) error {
	server.m.Lock()
	defer server.m.Unlock()

	var errs []error
	for client := range server.clients {
		for _, obj := range client.objects {
			if obj.iface.Name == "xdg_wm_base" {
				errs = append(errs, client.send(obj, "ping", serial))
			}
		}
	}
	return errors.Join(errs...)
}

// PostError sends a fatal wl_display.error about the given object to
// the client that owns it.
func (server *Server) PostError(id, code uint32, message string) error {
	server.m.Lock()
	defer server.m.Unlock()

	for client := range server.clients {
		if _, ok := client.objects[id]; ok {
			return client.postError(id, code, message)
		}
	}
	return fmt.Errorf("no object %v", id)
}

// BufferContents returns a copy of the pixels of a shared memory
// buffer, read through the file descriptor that the client sent.
func (server *Server) BufferContents(buffer uint32) ([]byte, error) {
	server.m.Lock()
	defer server.m.Unlock()

	_, obj, err := server.lookup(buffer, "wl_buffer")
	if err != nil {
		return nil, err
	}
	shm, ok := obj.data.(*shmBuffer)
	if !ok {
		return nil, fmt.Errorf("wl_buffer@%v is not a shared memory buffer", buffer)
	}

	data := make([]byte, int(shm.stride)*int(shm.height))
	_, err = shm.file.ReadAt(data, int64(shm.offset))
	if err != nil {
		return nil, fmt.Errorf("read wl_buffer@%v: %w", buffer, err)
	}
	return data, nil
}

func (server *Server) removeClient(c *client) {
	server.m.Lock()
	defer server.m.Unlock()

	server.clients.Delete(c)
}
