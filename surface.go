package gpudisplay

import (
	"image"
	"image/draw"
	"math"
	"math/bits"

	"deedles.dev/gpudisplay/shm"
	"deedles.dev/ximage/format"
)

const (
	// BufferCount is the number of framebuffers behind every surface.
	BufferCount = 2

	// BytesPerPixel is the size of a pixel in a surface's framebuffers.
	BytesPerPixel = 4

	// shmName names the shared memory behind each surface.
	shmName = "GpuDisplaySurface"

	// maxRegionSize is the largest shared memory pool that the wire
	// protocol can describe.
	maxRegionSize = math.MaxInt32
)

// surfaceSizes computes the layout of a surface's shared memory. ok is
// false if the region would not fit in maxRegionSize.
func surfaceSizes(width, height uint32) (rowSize, frameSize, totalSize int, ok bool) {
	row := uint64(width) * BytesPerPixel
	hi, frame := bits.Mul64(row, uint64(height))
	if (hi != 0) || (frame > maxRegionSize/BufferCount) {
		return 0, 0, 0, false
	}

	page := uint64(shm.PageSize())
	total := (frame*BufferCount + page - 1) &^ (page - 1)
	if total > maxRegionSize {
		return 0, 0, 0, false
	}
	return int(row), int(frame), int(total), true
}

type surface struct {
	native guard[NativeSurface]
	region *shm.Region

	// frameSize is the size of one framebuffer, not of the whole
	// region.
	frameSize int

	// index is the buffer most recently presented by Flip. Only Flip
	// changes it.
	index int

	width, height int

	// parent is the ID the surface was created under. The native layer
	// keeps the actual relationship.
	parent *uint32
}

// candidate is the buffer that the next Flip will present.
func (s *surface) candidate() int {
	return (s.index + 1) % BufferCount
}

func (s *surface) memory() []byte {
	mem, ok := s.region.Slice(s.candidate()*s.frameSize, s.frameSize)
	if !ok {
		return nil
	}
	return mem
}

func (s *surface) image() draw.Image {
	mem := s.memory()
	if mem == nil {
		return nil
	}

	return &format.Image{
		Format: format.ARGB8888,
		Rect:   image.Rect(0, 0, s.width, s.height),
		Pix:    mem,
	}
}

// release destroys the native surface and then unmaps its memory.
func (s *surface) release() error {
	s.native.release()
	return s.region.Close()
}
