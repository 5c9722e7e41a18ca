package main

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gopkg.in/yaml.v3"
)

// defaultScene is shown when no scene file is given.
const defaultScene = `
title: gpudisplay demo
app_id: dev.deedles.gpudisplay.demo
surfaces:
  - name: main
    width: 640
    height: 480
    color: slategray
    checker: gainsboro
  - name: badge
    parent: main
    width: 96
    height: 96
    x: 32
    y: 32
    color: tomato
`

// Scene describes the surfaces that the demo shows.
type Scene struct {
	Title    string          `yaml:"title"`
	AppID    string          `yaml:"app_id"`
	Surfaces []SurfaceConfig `yaml:"surfaces"`
}

// SurfaceConfig describes one surface. A surface with a parent is a
// sub-surface positioned at X, Y relative to it.
type SurfaceConfig struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
	X      int32  `yaml:"x"`
	Y      int32  `yaml:"y"`

	// Color and Checker are SVG color names. If Checker is set, the
	// surface shows a checkerboard of the two that inverts every frame.
	Color   string `yaml:"color"`
	Checker string `yaml:"checker"`

	// Image is the path of an image scaled over the surface.
	Image string `yaml:"image"`
}

// LoadScene decodes and validates a scene. Unknown keys are errors.
func LoadScene(r io.Reader) (Scene, error) {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)

	var scene Scene
	err := d.Decode(&scene)
	if err != nil {
		return scene, fmt.Errorf("decode: %w", err)
	}
	return scene, scene.validate()
}

// LoadSceneFile is like LoadScene but reads from a file. An empty path
// loads the default scene.
func LoadSceneFile(path string) (Scene, error) {
	if path == "" {
		return LoadScene(strings.NewReader(defaultScene))
	}

	file, err := os.Open(path)
	if err != nil {
		return Scene{}, err
	}
	defer file.Close()

	return LoadScene(file)
}

func (scene *Scene) validate() error {
	if len(scene.Surfaces) == 0 {
		return errors.New("scene has no surfaces")
	}

	var errs []error
	seen := make(map[string]struct{}, len(scene.Surfaces))
	for i, s := range scene.Surfaces {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("surface %v has no name", i))
		}
		if _, ok := seen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("surface %q is defined twice", s.Name))
		}

		if (s.Width == 0) || (s.Height == 0) {
			errs = append(errs, fmt.Errorf("surface %q has invalid size %vx%v", s.Name, s.Width, s.Height))
		}
		if s.Parent != "" {
			if _, ok := seen[s.Parent]; !ok {
				errs = append(errs, fmt.Errorf("surface %q has parent %q, which is not defined before it", s.Name, s.Parent))
			}
		}
		if (s.Parent == "") && ((s.X != 0) || (s.Y != 0)) {
			errs = append(errs, fmt.Errorf("surface %q is positioned but has no parent", s.Name))
		}

		for _, name := range []string{s.Color, s.Checker} {
			if name == "" {
				continue
			}
			if _, ok := colornames.Map[name]; !ok {
				errs = append(errs, fmt.Errorf("surface %q: unknown color %q", s.Name, name))
			}
		}

		seen[s.Name] = struct{}{}
	}
	return errors.Join(errs...)
}

// painter draws one surface's frames.
type painter struct {
	bg, fg color.Color
	image  image.Image
}

func newPainter(s SurfaceConfig) (*painter, error) {
	p := painter{bg: color.Black}
	if s.Color != "" {
		p.bg = colornames.Map[s.Color]
	}
	if s.Checker != "" {
		p.fg = colornames.Map[s.Checker]
	}

	if s.Image != "" {
		img, err := loadImage(s.Image)
		if err != nil {
			return nil, fmt.Errorf("surface %q: %w", s.Name, err)
		}
		p.image = img
	}

	return &p, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %v: %w", path, err)
	}
	return img, nil
}

// checkerSize is the width of one checkerboard square.
const checkerSize = 16

// paint draws frame n into dst.
func (p *painter) paint(dst draw.Image, n int) {
	r := dst.Bounds()
	draw.Draw(dst, r, image.NewUniform(p.bg), image.Point{}, draw.Src)

	if p.fg != nil {
		fg := image.NewUniform(p.fg)
		for y := r.Min.Y; y < r.Max.Y; y += checkerSize {
			for x := r.Min.X; x < r.Max.X; x += checkerSize {
				if (x/checkerSize+y/checkerSize+n)%2 == 0 {
					continue
				}
				sq := image.Rect(x, y, x+checkerSize, y+checkerSize).Intersect(r)
				draw.Draw(dst, sq, fg, image.Point{}, draw.Src)
			}
		}
	}

	if p.image != nil {
		draw.ApproxBiLinear.Scale(dst, r, p.image, p.image.Bounds(), draw.Over, nil)
	}
}
