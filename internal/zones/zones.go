// Package zones loads the chair zone layout drawn over the camera view.
//
// The layout document is a polygon annotation export:
//
//	{"boxes": [{"label": "chair", "points": [[x, y], [x, y], ...]}, ...]}
//
// Each box becomes one chair zone; its index is its position in "boxes".
package zones

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// ErrMalformedZones is returned when the layout document cannot be used.
var ErrMalformedZones = errors.New("malformed chair zone document")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New()

type document struct {
	Boxes []box `json:"boxes" validate:"required,dive"`
}

type box struct {
	Label  string      `json:"label"`
	Points [][]float64 `json:"points" validate:"required,min=3,dive,len=2"`
}

// Zone is one chair polygon.
type Zone struct {
	Index   int           `json:"index"`
	Label   string        `json:"label,omitempty"`
	Polygon types.Polygon `json:"points"`
}

// Layout is the immutable set of chair zones of a session.
type Layout struct {
	zones []Zone
}

// NewLayout builds a layout from polygons, indexing them in order.
func NewLayout(polygons []types.Polygon) *Layout {
	zones := make([]Zone, len(polygons))
	for i, p := range polygons {
		zones[i] = Zone{Index: i, Polygon: append(types.Polygon(nil), p...)}
	}
	return &Layout{zones: zones}
}

// Len returns the number of chairs.
func (l *Layout) Len() int {
	return len(l.zones)
}

// Zones returns a copy of the zones in index order.
func (l *Layout) Zones() []Zone {
	out := make([]Zone, len(l.zones))
	copy(out, l.zones)
	return out
}

// Polygons returns the chair polygons in index order. The slice is shared;
// callers must not modify it.
func (l *Layout) Polygons() []types.Polygon {
	polys := make([]types.Polygon, len(l.zones))
	for i, z := range l.zones {
		polys[i] = z.Polygon
	}
	return polys
}

// Load parses a layout document.
func Load(r io.Reader) (*Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read chair zones: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedZones, err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedZones, err)
	}

	zones := make([]Zone, len(doc.Boxes))
	for i, b := range doc.Boxes {
		poly, err := types.PolygonFromPairs(b.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: box %d: %v", ErrMalformedZones, i, err)
		}
		zones[i] = Zone{Index: i, Label: b.Label, Polygon: poly}
	}
	return &Layout{zones: zones}, nil
}

// LoadFile parses the layout document at path.
func LoadFile(path string) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chair zones: %w", err)
	}
	defer f.Close()
	return Load(f)
}
