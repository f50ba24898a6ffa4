package render

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

func blackFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	return img
}

func rect(x0, y0, x1, y1 float64) types.Polygon {
	return types.Polygon{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestRenderColours(t *testing.T) {
	frame := blackFrame(120, 120)
	chairs := []types.Polygon{
		rect(10, 30, 40, 60),
		rect(70, 30, 100, 60),
	}
	people := []types.Polygon{rect(10, 80, 40, 110)}
	occupied := []types.OverlapPair{{Chair: 0, Person: 0}}

	out := NewRenderer(DefaultOptions()).Render(frame, chairs, people, occupied)
	require.Equal(t, frame.Bounds(), out.Bounds())

	assert.Equal(t, OccupiedColor, rgba(out, 25, 60), "occupied chair edge")
	assert.Equal(t, FreeColor, rgba(out, 85, 60), "free chair edge")
	assert.Equal(t, PersonColor, rgba(out, 25, 110), "person edge")
	assert.Equal(t, PersonColor, rgba(out, 10, 95), "person left edge")

	// interiors stay untouched
	assert.Equal(t, color.RGBA{A: 255}, rgba(out, 25, 45))
	assert.Equal(t, color.RGBA{A: 255}, rgba(out, 25, 95))

	// the input frame is not modified
	assert.Equal(t, color.RGBA{A: 255}, rgba(frame, 25, 60))
}

func TestRenderLabelAtFirstPoint(t *testing.T) {
	frame := blackFrame(200, 100)
	chairs := []types.Polygon{rect(20, 60, 180, 90)}

	out := NewRenderer(Options{}).Render(frame, chairs, nil, nil)

	// text sits above the first vertex, clear of the outline
	lit := 0
	for y := 40; y < 57; y++ {
		for x := 20; x < 110; x++ {
			c := rgba(out, x, y)
			if c.G > 0 {
				lit++
				assert.Zero(t, c.R)
				assert.Zero(t, c.B)
			}
		}
	}
	assert.Greater(t, lit, 20)

	// nothing drawn left of the label origin
	for y := 40; y < 57; y++ {
		assert.Equal(t, color.RGBA{A: 255}, rgba(out, 5, y))
	}
}

func TestRenderOccupancyFollowsChairIndex(t *testing.T) {
	frame := blackFrame(120, 80)
	chairs := []types.Polygon{rect(10, 30, 40, 60), rect(70, 30, 100, 60)}

	// several pairs for the same chair colour it once; person indices are irrelevant
	occupied := []types.OverlapPair{{Chair: 1, Person: 3}, {Chair: 1, Person: 0}}
	out := NewRenderer(DefaultOptions()).Render(frame, chairs, nil, occupied)

	assert.Equal(t, FreeColor, rgba(out, 25, 60))
	assert.Equal(t, OccupiedColor, rgba(out, 85, 60))
}

func TestRenderSkipsDegenerateRegions(t *testing.T) {
	frame := blackFrame(50, 50)
	people := []types.Polygon{nil, {{X: 5, Y: 5}}}

	out := NewRenderer(DefaultOptions()).Render(frame, nil, people, nil)
	assert.Equal(t, frame.Pix, out.Pix)
}

func TestRenderHidePeople(t *testing.T) {
	frame := blackFrame(60, 60)
	opts := DefaultOptions()
	opts.HidePeople = true

	out := NewRenderer(opts).Render(frame, nil, []types.Polygon{rect(10, 10, 40, 40)}, nil)
	assert.Equal(t, frame.Pix, out.Pix)
}

func TestRenderSubImage(t *testing.T) {
	base := blackFrame(100, 100)
	sub := base.SubImage(image.Rect(50, 50, 100, 100))

	out := NewRenderer(DefaultOptions()).Render(sub, nil, []types.Polygon{rect(10, 10, 30, 30)}, nil)
	assert.Equal(t, image.Rect(0, 0, 50, 50), out.Bounds())
	assert.Equal(t, PersonColor, rgba(out, 20, 10))
}
