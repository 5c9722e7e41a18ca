// Command gpudisplay-demo shows a scene of surfaces described in YAML
// on a Wayland compositor, redrawing each surface whenever its next
// framebuffer is free.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"deedles.dev/gpudisplay"
	"golang.org/x/sys/unix"
)

type shown struct {
	id       uint32
	toplevel bool
	painter  *painter
	frame    int
}

type state struct {
	display  *gpudisplay.Display
	surfaces []*shown
}

func (state *state) init(path string, scene Scene) error {
	display, err := gpudisplay.Connect(
		path,
		gpudisplay.WithTitle(scene.Title),
		gpudisplay.WithAppID(scene.AppID),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	state.display = display

	ids := make(map[string]uint32, len(scene.Surfaces))
	for _, sc := range scene.Surfaces {
		p, err := newPainter(sc)
		if err != nil {
			return err
		}

		var parent *uint32
		if sc.Parent != "" {
			id := ids[sc.Parent]
			parent = &id
		}

		id, err := display.CreateSurface(parent, sc.Width, sc.Height)
		if err != nil {
			return fmt.Errorf("create surface %q: %w", sc.Name, err)
		}
		ids[sc.Name] = id

		if parent != nil {
			display.SetPosition(id, sc.X, sc.Y)
			display.Commit(*parent)
		}

		state.surfaces = append(state.surfaces, &shown{
			id:       id,
			toplevel: parent == nil,
			painter:  p,
		})
	}

	return nil
}

// draw presents a new frame on every surface whose next framebuffer
// is not held by the compositor.
func (state *state) draw() {
	for _, s := range state.surfaces {
		if state.display.NextBufferInUse(s.id) {
			continue
		}

		s.painter.paint(state.display.FramebufferImage(s.id), s.frame)
		state.display.Flip(s.id)
		s.frame++
	}
}

func (state *state) closeRequested() bool {
	for _, s := range state.surfaces {
		if s.toplevel && state.display.CloseRequested(s.id) {
			return true
		}
	}
	return false
}

// wait blocks until the compositor sends something or timeout passes.
func (state *state) wait(timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(state.display.Fd()), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, int(max(timeout, 0).Milliseconds()))
	if (err != nil) && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

func (state *state) run(ctx context.Context, interval time.Duration, frames int) error {
	next := time.Now()
	for n := 0; (frames <= 0) || (n < frames); {
		if ctx.Err() != nil {
			return nil
		}

		if !time.Now().Before(next) {
			state.draw()
			next = next.Add(interval)
			n++
		}

		err := state.wait(time.Until(next))
		if err != nil {
			return err
		}
		err = state.display.DispatchEvents()
		if err != nil {
			return fmt.Errorf("dispatch: %w", err)
		}

		if state.closeRequested() {
			log.Print("close requested")
			return nil
		}
	}
	return nil
}

func main() {
	path := flag.String("display", "", "compositor socket (default $WAYLAND_DISPLAY)")
	scenefile := flag.String("scene", "", "YAML scene file (default built-in scene)")
	interval := flag.Duration("interval", time.Second/30, "time between frames")
	frames := flag.Int("frames", 0, "exit after this many frames, or never if 0")
	verbose := flag.Bool("v", false, "log display activity")
	flag.Parse()

	if *verbose {
		gpudisplay.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	scene, err := LoadSceneFile(*scenefile)
	if err != nil {
		log.Fatalf("load scene: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var state state
	err = state.init(*path, scene)
	if state.display != nil {
		defer state.display.Close()
	}
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	err = state.run(ctx, *interval, *frames)
	if err != nil {
		log.Fatalf("run: %v", err)
	}
}
