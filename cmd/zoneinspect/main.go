// Command zoneinspect draws a chair zone document over a still image so the
// annotation can be checked before a session. With -replay it also overlays
// the people of one recorded frame and reports their chair overlaps.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/seat-monitor/internal/detector"
	"github.com/dj-oyu/seat-monitor/internal/geometry"
	"github.com/dj-oyu/seat-monitor/internal/logger"
	"github.com/dj-oyu/seat-monitor/internal/render"
	"github.com/dj-oyu/seat-monitor/internal/zones"
	"github.com/dj-oyu/seat-monitor/pkg/types"
)

func main() {
	var (
		zonesPath = flag.String("zones", "", "Chair zone JSON document")
		imagePath = flag.String("image", "", "Still image of the scene")
		outPath   = flag.String("out", "zones.png", "Output image (format from extension)")
		replay    = flag.String("replay", "", "JSON-lines detections to overlay")
		frame     = flag.Int("frame", 0, "Frame index to overlay from -replay")
		threshold = flag.Float64("overlap-threshold", geometry.DefaultOverlapThreshold, "Minimum chair/person intersection area")
		logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	)
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(logger.Options{Level: level, Output: os.Stderr, Color: true})

	if *zonesPath == "" || *imagePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	layout, err := zones.LoadFile(*zonesPath)
	if err != nil {
		log.Fatalf("Failed to load zones: %v", err)
	}
	img, err := imaging.Open(*imagePath, imaging.AutoOrientation(true))
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}

	chairs := layout.Polygons()
	for _, warning := range inspect(layout, img.Bounds()) {
		logger.Warn("Zones", "%s", warning)
	}
	for _, z := range layout.Zones() {
		logger.Info("Zones", "chair %d: %d points, area %.1f px", z.Index, len(z.Polygon), geometry.Area(z.Polygon))
	}

	var people []types.Polygon
	var pairs []types.OverlapPair
	if *replay != "" {
		d, err := detector.OpenReplay(*replay)
		if err != nil {
			log.Fatalf("Failed to load detections: %v", err)
		}
		ctx := detector.WithFrameIndex(context.Background(), *frame)
		people, err = detector.DetectPeople(ctx, d, img)
		if err != nil {
			log.Fatalf("Frame %d: %v", *frame, err)
		}
		pairs, err = geometry.NewEngine(*threshold).FindOverlaps(chairs, people)
		if err != nil {
			log.Fatalf("Frame %d: %v", *frame, err)
		}
		logger.Info("Zones", "frame %d: %d people, overlaps %v", *frame, len(people), pairs)
	}

	// overlapping pairs are drawn as occupied so they stand out
	out := render.NewRenderer(render.DefaultOptions()).Render(img, chairs, people, pairs)
	if err := imaging.Save(out, *outPath); err != nil {
		log.Fatalf("Failed to write %s: %v", *outPath, err)
	}
	logger.Info("Zones", "Wrote %s", *outPath)
}

// inspect reports zones that leave the image or overlap another zone.
func inspect(layout *zones.Layout, bounds image.Rectangle) []string {
	var warnings []string
	zs := layout.Zones()
	for _, z := range zs {
		for _, p := range z.Polygon {
			if p.X < float64(bounds.Min.X) || p.Y < float64(bounds.Min.Y) ||
				p.X > float64(bounds.Max.X) || p.Y > float64(bounds.Max.Y) {
				warnings = append(warnings, fmt.Sprintf("chair %d: point (%.1f, %.1f) outside the %dx%d image",
					z.Index, p.X, p.Y, bounds.Dx(), bounds.Dy()))
				break
			}
		}
	}
	for i := range zs {
		for j := i + 1; j < len(zs); j++ {
			area, err := geometry.OverlapArea(zs[i].Polygon, zs[j].Polygon)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("chairs %d/%d: %v", i, j, err))
				continue
			}
			if area > 0 {
				warnings = append(warnings, fmt.Sprintf("chairs %d and %d overlap by %.1f px", i, j, area))
			}
		}
	}
	return warnings
}
