package types

import (
	"fmt"
	"image"
)

// Point is a vertex in source-image pixel space
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered vertex list. The closing vertex is optional.
type Polygon []Point

// Closed reports whether the last vertex repeats the first
func (p Polygon) Closed() bool {
	return len(p) > 1 && p[0] == p[len(p)-1]
}

// ImagePoints converts vertices to integer image points (truncating, like an
// int32 cast of the float contour)
func (p Polygon) ImagePoints() []image.Point {
	pts := make([]image.Point, len(p))
	for i, v := range p {
		pts[i] = image.Pt(int(v.X), int(v.Y))
	}
	return pts
}

// PolygonFromPairs builds a polygon from [[x, y], ...] coordinate pairs.
func PolygonFromPairs(pairs [][]float64) (Polygon, error) {
	poly := make(Polygon, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("point %d has %d coordinates, want 2", i, len(pair))
		}
		poly[i] = Point{X: pair[0], Y: pair[1]}
	}
	return poly, nil
}

// OverlapPair records that chair Chair and person Person (frame-local index)
// overlapped by more than the area threshold in one frame
type OverlapPair struct {
	Chair  int `json:"chair"`
	Person int `json:"person"`
}

func (p OverlapPair) String() string {
	return fmt.Sprintf("(%d, %d)", p.Chair, p.Person)
}
