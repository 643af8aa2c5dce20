// Package ascii implements the two rendering primitives the video render
// worker calls into: converting one peer's RGB8 frame into a palette-glyph
// cell, and tiling cells into a grid. Both are pure functions over their
// inputs; all terminal state lives in the emitted escape sequences.
package ascii

import (
	"strings"
)

// ColorLevel is a client's negotiated color capability.
type ColorLevel int

const (
	ColorMono ColorLevel = iota
	Color16
	Color256
	ColorTrueColor
)

// RenderMode selects how glyphs paint over a cell's background.
type RenderMode int

const (
	RenderForeground RenderMode = iota
	RenderBackground
	RenderHalfBlock
)

// DefaultPalette is the glyph ramp used when a client supplies no custom
// palette, ordered dark to light.
const DefaultPalette = " .:-=+*#%@"

// ConvertOptions bundles a client's rendering capabilities.
type ConvertOptions struct {
	Caps           ColorLevel
	PreserveAspect bool
	Stretch        bool
	PaletteChars   string
}

// ConvertCell converts one peer's RGB8 frame into a UTF-8 cell string of
// exactly targetW*targetH glyphs (plus any embedded ANSI color escapes),
// matching the contract `(image RGB8, target_w, target_h, caps,
// preserve_aspect, stretch, palette_chars) -> UTF-8 string`.
func ConvertCell(rgb []byte, srcW, srcH, targetW, targetH int, opts ConvertOptions) string {
	palette := opts.PaletteChars
	if palette == "" {
		palette = DefaultPalette
	}

	var b strings.Builder
	if srcW <= 0 || srcH <= 0 || len(rgb) < srcW*srcH*3 {
		return strings.Repeat(strings.Repeat(" ", targetW)+"\n", targetH)
	}

	sampleW, sampleH := targetW, targetH
	if opts.PreserveAspect && !opts.Stretch {
		sampleW, sampleH = fitAspect(srcW, srcH, targetW, targetH)
	}

	for row := 0; row < targetH; row++ {
		for col := 0; col < targetW; col++ {
			if row >= sampleH || col >= sampleW {
				b.WriteByte(' ')
				continue
			}
			srcX := col * srcW / sampleW
			srcY := row * srcH / sampleH
			idx := (srcY*srcW + srcX) * 3
			r, g, bl := rgb[idx], rgb[idx+1], rgb[idx+2]
			lum := (int(r)*299 + int(g)*587 + int(bl)*114) / 1000
			glyph := palette[lum*len(palette)/256]
			if opts.Caps != ColorMono {
				b.WriteString(ansiColorEscape(r, g, bl, opts.Caps))
			}
			b.WriteByte(glyph)
			if opts.Caps != ColorMono {
				b.WriteString("\x1b[0m")
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func fitAspect(srcW, srcH, targetW, targetH int) (int, int) {
	srcAspect := float64(srcW) / float64(srcH)
	targetAspect := float64(targetW) / float64(targetH)
	if srcAspect > targetAspect {
		return targetW, int(float64(targetW) / srcAspect)
	}
	return int(float64(targetH) * srcAspect), targetH
}

func ansiColorEscape(r, g, b byte, caps ColorLevel) string {
	switch caps {
	case ColorTrueColor:
		return fgTrueColor(r, g, b)
	case Color256:
		return fg256(r, g, b)
	default:
		return fg16(r, g, b)
	}
}

func fgTrueColor(r, g, b byte) string {
	return "\x1b[38;2;" + itoa(int(r)) + ";" + itoa(int(g)) + ";" + itoa(int(b)) + "m"
}

func fg256(r, g, b byte) string {
	idx := 16 + 36*(int(r)/43) + 6*(int(g)/43) + int(b)/43
	return "\x1b[38;5;" + itoa(idx) + "m"
}

func fg16(r, g, b byte) string {
	bright := (int(r) + int(g) + int(b)) > 384
	code := 30
	if r > 127 {
		code += 1
	}
	if g > 127 {
		code += 2
	}
	if b > 127 {
		code += 4
	}
	if bright {
		code += 60
	}
	return "\x1b[" + itoa(code) + "m"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits [3]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

// ComposeGrid tiles the first k cells into a single grid string with cols
// cells per row. Cells are arranged row-major into an r x c grid as
// computed by GridDimensions.
func ComposeGrid(cells []string, k, cols int) string {
	if k == 0 {
		return ""
	}
	rows := (k + cols - 1) / cols

	cellLines := make([][]string, len(cells))
	for i, c := range cells {
		cellLines[i] = strings.Split(strings.TrimRight(c, "\n"), "\n")
	}

	var b strings.Builder
	for r := 0; r < rows; r++ {
		lineCount := 0
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			if idx >= len(cellLines) {
				continue
			}
			if len(cellLines[idx]) > lineCount {
				lineCount = len(cellLines[idx])
			}
		}
		for line := 0; line < lineCount; line++ {
			for c := 0; c < cols; c++ {
				idx := r*cols + c
				if idx >= len(cellLines) {
					continue
				}
				if line < len(cellLines[idx]) {
					b.WriteString(cellLines[idx][line])
				}
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// GridDimensions computes the deterministic r x c arrangement for k
// participants: r*c >= k, |r-c| minimized, c >= r preferred.
func GridDimensions(k int) (rows, cols int) {
	if k <= 0 {
		return 0, 0
	}

	bestDiff := k + 1
	for r := 1; r <= k; r++ {
		c := (k + r - 1) / r // ceil(k/r)
		if c < r {
			break // c only shrinks as r grows, so every larger r also has c < r
		}
		if diff := c - r; diff < bestDiff {
			bestDiff = diff
			rows, cols = r, c
		}
	}
	return rows, cols
}
