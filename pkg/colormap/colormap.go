// Package colormap provides the sequential color ramps used to fill hexbins by
// sample density.
package colormap

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
}

// LinearColormap interpolates between evenly spaced color stops.
type LinearColormap struct {
	stops []color.RGBA
}

// NewLinear returns a ramp through stops. At least two stops are required.
func NewLinear(stops ...color.RGBA) (LinearColormap, error) {
	if len(stops) < 2 {
		return LinearColormap{}, fmt.Errorf("colormap: need at least 2 stops, got %d", len(stops))
	}
	return LinearColormap{stops: append([]color.RGBA(nil), stops...)}, nil
}

// At returns the color at position t, clamped to [0, 1].
func (c LinearColormap) At(t float64) color.Color {
	if t <= 0 {
		return c.stops[0]
	}
	if t >= 1 {
		return c.stops[len(c.stops)-1]
	}

	idx := t * float64(len(c.stops)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.stops) {
		upper = len(c.stops) - 1
	}
	return interpolate(c.stops[lower], c.stops[upper], idx-float64(lower))
}

// Stops returns the number of color stops.
func (c LinearColormap) Stops() int { return len(c.stops) }

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Hex formats c as "#rrggbb".
func Hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// Viridis (matplotlib viridis)
var Viridis = LinearColormap{
	stops: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// YlOrRd is the ColorBrewer yellow-orange-red ramp, the default hexbin fill.
var YlOrRd = LinearColormap{
	stops: []color.RGBA{
		{255, 255, 204, 255},
		{255, 237, 160, 255},
		{254, 217, 118, 255},
		{254, 178, 76, 255},
		{253, 141, 60, 255},
		{252, 78, 42, 255},
		{227, 26, 28, 255},
		{189, 0, 38, 255},
		{128, 0, 38, 255},
	},
}

// Blues is the ColorBrewer sequential blue ramp.
var Blues = LinearColormap{
	stops: []color.RGBA{
		{247, 251, 255, 255},
		{222, 235, 247, 255},
		{198, 219, 239, 255},
		{158, 202, 225, 255},
		{107, 174, 214, 255},
		{66, 146, 198, 255},
		{33, 113, 181, 255},
		{8, 81, 156, 255},
		{8, 48, 107, 255},
	},
}

var byName = map[string]Colormap{
	"viridis": Viridis,
	"ylorrd":  YlOrRd,
	"blues":   Blues,
}

// ByName looks up a ramp case-insensitively. An empty name returns YlOrRd.
func ByName(name string) (Colormap, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return YlOrRd, nil
	}
	c, ok := byName[key]
	if !ok {
		return nil, fmt.Errorf("colormap: unknown colormap %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names returns the registered ramp names in sorted order.
func Names() []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
