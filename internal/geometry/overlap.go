// Package geometry computes intersection areas between chair zones and
// person regions and reduces them to overlap pairs.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/peterstace/simplefeatures/geom"
	"go.uber.org/multierr"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// DefaultOverlapThreshold is the minimum intersection area (exclusive) for a
// chair/person pair to count as an overlap.
const DefaultOverlapThreshold = 0.5

// ErrInvalidPolygon is returned for polygons the intersection cannot be
// computed on: one or two vertices, non-finite coordinates, or a
// self-intersecting ring.
var ErrInvalidPolygon = errors.New("invalid polygon")

// PairError is the failure of a single chair/person intersection.
type PairError struct {
	Chair  int
	Person int
	Err    error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("chair %d / person %d: %v", e.Chair, e.Person, e.Err)
}

func (e *PairError) Unwrap() error {
	return e.Err
}

// shape is a polygon converted once for repeated intersection tests.
type shape struct {
	poly     geom.Polygon
	area     float64
	bounds   bbox
	err      error // conversion error
	validErr error // lazily computed validation error
	checked  bool
}

type bbox struct {
	minX, minY, maxX, maxY float64
}

func (b bbox) disjoint(o bbox) bool {
	return b.maxX < o.minX || o.maxX < b.minX || b.maxY < o.minY || o.maxY < b.minY
}

func prepare(p types.Polygon) *shape {
	if len(p) == 0 {
		// an empty contour has no area; it never overlaps anything
		return &shape{}
	}
	if len(p) < 3 {
		return &shape{err: fmt.Errorf("%w: %d vertices", ErrInvalidPolygon, len(p))}
	}

	b := bbox{minX: math.Inf(1), minY: math.Inf(1), maxX: math.Inf(-1), maxY: math.Inf(-1)}
	coords := make([]float64, 0, 2*(len(p)+1))
	for i, v := range p {
		if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
			return &shape{err: fmt.Errorf("%w: vertex %d is not finite", ErrInvalidPolygon, i)}
		}
		b.minX = math.Min(b.minX, v.X)
		b.minY = math.Min(b.minY, v.Y)
		b.maxX = math.Max(b.maxX, v.X)
		b.maxY = math.Max(b.maxY, v.Y)
		coords = append(coords, v.X, v.Y)
	}
	if !p.Closed() {
		coords = append(coords, p[0].X, p[0].Y)
	}

	ring := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	poly := geom.NewPolygon([]geom.LineString{ring})
	return &shape{
		poly:   poly,
		area:   poly.Area(),
		bounds: b,
	}
}

// degenerate polygons have no area to share
func (s *shape) degenerate() bool {
	return s.area == 0
}

func (s *shape) validate() error {
	if !s.checked {
		s.checked = true
		if err := s.poly.Validate(); err != nil {
			s.validErr = fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
		}
	}
	return s.validErr
}

func overlap(a, b *shape) (float64, error) {
	if a.err != nil {
		return 0, a.err
	}
	if b.err != nil {
		return 0, b.err
	}
	if a.degenerate() || b.degenerate() || a.bounds.disjoint(b.bounds) {
		return 0, nil
	}
	if err := a.validate(); err != nil {
		return 0, err
	}
	if err := b.validate(); err != nil {
		return 0, err
	}

	inter, err := geom.Intersection(a.poly.AsGeometry(), b.poly.AsGeometry())
	if err != nil {
		return 0, fmt.Errorf("intersection: %w", err)
	}
	if inter.IsEmpty() {
		return 0, nil
	}
	return inter.Area(), nil
}

// Area returns the planar area of p, or 0 when p has fewer than 3 vertices.
func Area(p types.Polygon) float64 {
	s := prepare(p)
	if s.err != nil {
		return 0
	}
	return s.area
}

// OverlapArea returns the area of the intersection of p and q. Disjoint,
// empty and zero-area polygons yield 0. Invalid polygons yield an error wrapping
// ErrInvalidPolygon.
func OverlapArea(p, q types.Polygon) (float64, error) {
	return overlap(prepare(p), prepare(q))
}

// Engine reduces chair zones and person regions to overlap pairs.
type Engine struct {
	Threshold float64
}

// NewEngine returns an engine with the given area threshold. A non-positive
// threshold selects DefaultOverlapThreshold.
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultOverlapThreshold
	}
	return &Engine{Threshold: threshold}
}

// FindOverlaps evaluates every chair/person pair and returns those whose
// intersection area exceeds the threshold, ordered chair-major then
// person-minor. A pair that fails does not stop the others: all successful
// pairs are returned along with the combined *PairError failures.
func (e *Engine) FindOverlaps(chairs, people []types.Polygon) ([]types.OverlapPair, error) {
	pairs := make([]types.OverlapPair, 0)
	if len(chairs) == 0 || len(people) == 0 {
		return pairs, nil
	}

	personShapes := make([]*shape, len(people))
	for j, p := range people {
		personShapes[j] = prepare(p)
	}

	var errs error
	for i, c := range chairs {
		chair := prepare(c)
		for j, person := range personShapes {
			area, err := overlap(chair, person)
			if err != nil {
				errs = multierr.Append(errs, &PairError{Chair: i, Person: j, Err: err})
				continue
			}
			if area > e.Threshold {
				pairs = append(pairs, types.OverlapPair{Chair: i, Person: j})
			}
		}
	}
	return pairs, errs
}

// FindOverlaps runs FindOverlaps with DefaultOverlapThreshold.
func FindOverlaps(chairs, people []types.Polygon) ([]types.OverlapPair, error) {
	return NewEngine(DefaultOverlapThreshold).FindOverlaps(chairs, people)
}

// PairErrors unpacks the per-pair failures combined by FindOverlaps.
func PairErrors(err error) []*PairError {
	var out []*PairError
	for _, e := range multierr.Errors(err) {
		var pe *PairError
		if errors.As(e, &pe) {
			out = append(out, pe)
		}
	}
	return out
}
