package ascii

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridDimensionsOnePeerIsOneByOne(t *testing.T) {
	r, c := GridDimensions(1)
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, c)
}

func TestGridDimensionsCoversAllParticipants(t *testing.T) {
	for k := 1; k <= 20; k++ {
		r, c := GridDimensions(k)
		require.GreaterOrEqual(t, r*c, k)
		assert.GreaterOrEqual(t, c, r)
	}
}

func TestConvertCellProducesTargetDimensions(t *testing.T) {
	rgb := make([]byte, 4*4*3)
	for i := range rgb {
		rgb[i] = 0xFF
	}
	out := ConvertCell(rgb, 4, 4, 8, 4, ConvertOptions{Caps: ColorMono})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 4)
	for _, l := range lines {
		assert.Len(t, []rune(l), 8)
	}
}

func TestConvertCellEmptySourceYieldsBlank(t *testing.T) {
	out := ConvertCell(nil, 0, 0, 4, 2, ConvertOptions{})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestComposeGridTilesCellsRowMajor(t *testing.T) {
	cells := []string{"AA\nAA\n", "BB\nBB\n", "CC\nCC\n"}
	grid := ComposeGrid(cells, 3, 2)
	lines := strings.Split(strings.TrimRight(grid, "\n"), "\n")
	assert.Equal(t, "AABB", lines[0])
	assert.Equal(t, "AABB", lines[1])
	assert.Equal(t, "CC", lines[2])
}
