//go:build !gpudisplay_debug

package gpudisplay

import "testing"

func TestInvalidIDIgnored(t *testing.T) {
	var b fakeBackend
	d := connectFake(t, &b)
	id := createSurface(t, d, nil, 4, 4)
	d.ReleaseSurface(id)

	d.Commit(id)
	d.Flip(id)
	d.FlipTo(id, 7)
	d.SetPosition(id, 1, 1)
	if d.NextBufferInUse(id) {
		t.Error("NextBufferInUse() = true for a released surface")
	}

	live := createSurface(t, d, nil, 4, 4)
	d.FlipTo(live, 7)
	if s := b.ctx.surfaces[1]; len(s.flippedTo) != 0 {
		t.Errorf("flipped to an unknown import: %v", s.flippedTo)
	}
	if n := b.ctx.surfaces[0].commits; n != 0 {
		t.Errorf("released surface committed %v times", n)
	}
}
