package gpudisplay

// destroyer is a native handle with an explicit destructor.
type destroyer interface {
	Destroy()
}

// guard owns a single native handle and destroys it exactly once. The
// zero guard owns nothing.
type guard[T destroyer] struct {
	handle T
	owned  bool
}

// newGuard takes ownership of handle. A nil handle yields a guard
// that owns nothing.
func newGuard[T destroyer](handle T) guard[T] {
	var d destroyer = handle
	return guard[T]{
		handle: handle,
		owned:  d != nil,
	}
}

// get returns the handle, reporting whether the guard still owns it.
func (g *guard[T]) get() (T, bool) {
	return g.handle, g.owned
}

// take moves ownership into a new guard, leaving g empty. It is used
// to hand a handle from a constructor's deferred cleanup to the
// structure that keeps it.
func (g *guard[T]) take() guard[T] {
	t := *g
	*g = guard[T]{}
	return t
}

// release destroys the handle if the guard still owns it.
func (g *guard[T]) release() {
	if !g.owned {
		return
	}

	handle := g.handle
	*g = guard[T]{}
	handle.Destroy()
}
