// Package detector defines the person-detection capability the pipeline
// depends on, plus adapters for remote and recorded detectors.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"

	jsoniter "github.com/json-iterator/go"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

// PersonLabel is the class label of person instances.
const PersonLabel = "person"

// ErrNoImage is returned when a detector is called without a frame.
var ErrNoImage = errors.New("no image to run detection on")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Instance is one detected object.
type Instance struct {
	Label      string
	Confidence float64
	Contour    types.Polygon // Segmentation contour in input-image pixels; may be empty
}

// Result is the output of one detector call.
type Result struct {
	Instances []Instance
}

// Detector runs object detection on a single image. Implementations block
// until the result is available.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (Result, error)
}

// Func adapts a function to the Detector interface.
type Func func(ctx context.Context, img image.Image) (Result, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, img image.Image) (Result, error) {
	return f(ctx, img)
}

// PersonRegions returns the contours of person instances, in detector order.
func PersonRegions(r Result) []types.Polygon {
	people := make([]types.Polygon, 0, len(r.Instances))
	for _, inst := range r.Instances {
		if inst.Label == PersonLabel {
			people = append(people, inst.Contour)
		}
	}
	return people
}

// DetectPeople runs d on img and returns the person regions.
func DetectPeople(ctx context.Context, d Detector, img image.Image) ([]types.Polygon, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	res, err := d.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("object detection: %w", err)
	}
	return PersonRegions(res), nil
}

type frameIndexKey struct{}

// WithFrameIndex attaches the source frame index to ctx so detectors that
// serve recorded results can look it up.
func WithFrameIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, frameIndexKey{}, index)
}

// FrameIndex returns the frame index attached by WithFrameIndex.
func FrameIndex(ctx context.Context) (int, bool) {
	idx, ok := ctx.Value(frameIndexKey{}).(int)
	return idx, ok
}

// wireInstance is the JSON shape shared by the HTTP and replay detectors.
type wireInstance struct {
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Polygon    [][]float64 `json:"polygon"`
}

type wireResult struct {
	Frame     *int           `json:"frame,omitempty"`
	Instances []wireInstance `json:"instances"`
}

func (w wireResult) toResult() (Result, error) {
	res := Result{Instances: make([]Instance, len(w.Instances))}
	for i, wi := range w.Instances {
		contour, err := types.PolygonFromPairs(wi.Polygon)
		if err != nil {
			return Result{}, fmt.Errorf("instance %d: %w", i, err)
		}
		res.Instances[i] = Instance{
			Label:      wi.Label,
			Confidence: wi.Confidence,
			Contour:    contour,
		}
	}
	return res, nil
}
