// Package render draws chair zones and person regions over a frame.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Default palette.
var (
	PersonColor   = color.RGBA{R: 255, A: 255}
	OccupiedColor = color.RGBA{B: 255, A: 255}
	FreeColor     = color.RGBA{G: 255, A: 255}
)

// Options controls the overlay style.
type Options struct {
	LineWidth     float64
	FontSize      float64
	PersonColor   color.Color
	OccupiedColor color.Color
	FreeColor     color.Color
	HidePeople    bool
}

// DefaultOptions returns the standard overlay style.
func DefaultOptions() Options {
	return Options{
		LineWidth:     2,
		FontSize:      20,
		PersonColor:   PersonColor,
		OccupiedColor: OccupiedColor,
		FreeColor:     FreeColor,
	}
}

// Renderer draws overlays. It holds no per-frame state and is safe for
// concurrent use.
type Renderer struct {
	opts Options
}

// NewRenderer creates a renderer. Zero-valued options fall back to defaults.
func NewRenderer(opts Options) *Renderer {
	def := DefaultOptions()
	if opts.LineWidth <= 0 {
		opts.LineWidth = def.LineWidth
	}
	if opts.FontSize <= 0 {
		opts.FontSize = def.FontSize
	}
	if opts.PersonColor == nil {
		opts.PersonColor = def.PersonColor
	}
	if opts.OccupiedColor == nil {
		opts.OccupiedColor = def.OccupiedColor
	}
	if opts.FreeColor == nil {
		opts.FreeColor = def.FreeColor
	}
	return &Renderer{opts: opts}
}

// Render returns a copy of frame with person outlines, chair outlines coloured
// by occupancy, and a "Chair <i>" label at each chair's first vertex. A chair
// is occupied when its index appears in occupied. frame is not modified.
func (r *Renderer) Render(frame image.Image, chairs, people []types.Polygon, occupied []types.OverlapPair) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), frame, b.Min, draw.Src)

	dc := gg.NewContextForRGBA(out)
	dc.SetLineWidth(r.opts.LineWidth)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: r.opts.FontSize}))

	if !r.opts.HidePeople {
		for _, p := range people {
			outline(dc, p, r.opts.PersonColor)
		}
	}

	busy := make(map[int]bool, len(occupied))
	for _, pair := range occupied {
		busy[pair.Chair] = true
	}
	for i, chair := range chairs {
		c := r.opts.FreeColor
		if busy[i] {
			c = r.opts.OccupiedColor
		}
		outline(dc, chair, c)
		if len(chair) > 0 {
			pt := chair.ImagePoints()[0]
			dc.SetColor(c)
			dc.DrawString(fmt.Sprintf("Chair %d", i), float64(pt.X), float64(pt.Y))
		}
	}
	return out
}

func outline(dc *gg.Context, p types.Polygon, c color.Color) {
	if len(p) < 2 {
		return
	}
	pts := p.ImagePoints()
	dc.NewSubPath()
	dc.MoveTo(float64(pts[0].X), float64(pts[0].Y))
	for _, pt := range pts[1:] {
		dc.LineTo(float64(pt.X), float64(pt.Y))
	}
	dc.ClosePath()
	dc.SetColor(c)
	dc.Stroke()
}
