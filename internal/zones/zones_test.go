package zones

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/seat-monitor/pkg/types"
)

const roboflowExport = `{
  "key": "classroom.jpg",
  "width": 1280,
  "height": 720,
  "boxes": [
    {"label": "chair", "type": "polygon", "points": [[10, 10], [60, 10], [60, 80], [10, 80]]},
    {"label": "chair", "type": "polygon", "points": [[100.5, 20], [150, 22.25], [140, 90]]}
  ]
}`

func TestLoadAssignsIndicesInOrder(t *testing.T) {
	layout, err := Load(strings.NewReader(roboflowExport))
	require.NoError(t, err)
	require.Equal(t, 2, layout.Len())

	zones := layout.Zones()
	assert.Equal(t, 0, zones[0].Index)
	assert.Equal(t, 1, zones[1].Index)
	assert.Equal(t, "chair", zones[1].Label)
	assert.Equal(t, types.Polygon{{X: 100.5, Y: 20}, {X: 150, Y: 22.25}, {X: 140, Y: 90}}, zones[1].Polygon)

	polys := layout.Polygons()
	assert.Len(t, polys, 2)
	assert.Len(t, polys[0], 4)
}

func TestLoadEmptyLayout(t *testing.T) {
	layout, err := Load(strings.NewReader(`{"boxes": []}`))
	require.NoError(t, err)
	assert.Equal(t, 0, layout.Len())
}

func TestLoadMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"boxes": [`,
		"missing boxes":   `{"images": []}`,
		"boxes not array": `{"boxes": {"points": []}}`,
		"too few points":  `{"boxes": [{"points": [[0, 0], [1, 1]]}]}`,
		"missing points":  `{"boxes": [{"label": "chair"}]}`,
		"bad coordinate":  `{"boxes": [{"points": [[0, 0], [1, 1, 1], [2, 0]]}]}`,
		"string coords":   `{"boxes": [{"points": [["a", 0], [1, 1], [2, 0]]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			require.ErrorIs(t, err, ErrMalformedZones)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.json")
	require.NoError(t, os.WriteFile(path, []byte(roboflowExport), 0o644))

	layout, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, layout.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestNewLayoutCopiesPolygons(t *testing.T) {
	src := []types.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}}
	layout := NewLayout(src)
	src[0][0].X = 42
	assert.Equal(t, 0.0, layout.Polygons()[0][0].X)
}
