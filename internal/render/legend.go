// Package render draws the hexbin density legend using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/dsc-hexbins/server/pkg/colormap"
)

// Config contains legend renderer configuration.
type Config struct {
	Width    int // default 256
	Height   int // default 48
	Ticks    int // labelled positions along the ramp, default 5
	Colormap colormap.Colormap
}

// LegendRenderer renders the count ramp used to fill hexbins.
type LegendRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewLegendRenderer creates a new legend renderer.
func NewLegendRenderer(cfg Config) *LegendRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 256
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.Ticks < 2 {
		cfg.Ticks = 5
	}
	if cfg.Colormap == nil {
		cfg.Colormap = colormap.YlOrRd
	}
	return &LegendRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 8*1024))
			},
		},
	}
}

// TickCounts returns the sample counts labelled on a legend for maxCount,
// on the same log scale hexbin fills use.
func TickCounts(maxCount, ticks int) []int {
	if ticks < 2 {
		ticks = 2
	}
	out := make([]int, ticks)
	denom := math.Log1p(float64(maxCount))
	for i := range out {
		t := float64(i) / float64(ticks-1)
		out[i] = int(math.Round(math.Expm1(t * denom)))
	}
	return out
}

// RenderLegend renders a PNG ramp from zero to maxCount samples.
func (r *LegendRenderer) RenderLegend(maxCount int) ([]byte, error) {
	if maxCount < 0 {
		return nil, fmt.Errorf("render: negative max count %d", maxCount)
	}

	// Get context from pool
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	// Clear canvas with white background
	dc.SetColor(color.White)
	dc.Clear()

	w := float64(r.config.Width)
	h := float64(r.config.Height)
	const margin = 8.0
	rampTop := margin
	// leave room below the ramp for one line of basicfont labels
	rampHeight := math.Max(h-margin-20, 4)
	rampWidth := w - 2*margin

	// One column per pixel along the ramp
	for x := 0; x < int(rampWidth); x++ {
		t := float64(x) / math.Max(rampWidth-1, 1)
		dc.SetColor(r.config.Colormap.At(t))
		dc.DrawRectangle(margin+float64(x), rampTop, 1, rampHeight)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(margin, rampTop, rampWidth, rampHeight)
	dc.Stroke()

	if maxCount == 0 {
		return r.encodeContext(dc)
	}

	ticks := TickCounts(maxCount, r.config.Ticks)
	labelY := rampTop + rampHeight + 4
	for i, count := range ticks {
		x := margin + rampWidth*float64(i)/float64(len(ticks)-1)
		dc.DrawLine(x, rampTop+rampHeight, x, labelY)
		dc.Stroke()
		ax := 0.5
		switch i {
		case 0:
			ax = 0
		case len(ticks) - 1:
			ax = 1
		}
		dc.DrawStringAnchored(fmt.Sprintf("%d", count), x, labelY, ax, 1)
	}

	return r.encodeContext(dc)
}

func (r *LegendRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
