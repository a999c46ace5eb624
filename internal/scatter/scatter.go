// Package scatter renders two numeric vectors as a scatter plot and exposes
// lasso-style polygon selection over the plotted points.
package scatter

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/spatialbridge/server/internal/sdata"
	"github.com/spatialbridge/server/pkg/colormap"
)

var (
	// ErrNoSelectionMade is returned by Export before any lasso completed.
	ErrNoSelectionMade = errors.New("no selection made")

	// ErrVectorLengthMismatch is returned when plot vectors disagree in
	// length.
	ErrVectorLengthMismatch = errors.New("vector length mismatch")
)

// Config contains plotter configuration.
type Config struct {
	Width           int
	Height          int
	PointRadius     float64
	DefaultColormap string
	Logger          *zap.Logger
}

// Request describes one plot. Color is optional: a numeric vector gets a
// continuous colormap with a colorbar, a categorical vector gets its
// palette and a legend, nil gets a single face color broadcast per point.
type Request struct {
	X, Y       []float64
	Color      *sdata.Vector
	XLabel     string
	YLabel     string
	ColorLabel string
}

// Plotter draws scatter plots and tracks the plotted point set so a lasso
// polygon can be resolved to a membership mask afterwards.
type Plotter struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	logger      *zap.Logger

	mu       sync.Mutex
	points   []orb.Point
	colors   []string
	lastMask []bool
}

// NewPlotter creates a plotter.
func NewPlotter(cfg Config) *Plotter {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 600
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = 2
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &Plotter{config: cfg, logger: cfg.Logger}
	p.contextPool = sync.Pool{
		New: func() interface{} {
			return gg.NewContext(cfg.Width, cfg.Height)
		},
	}
	p.bufferPool = sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 32*1024))
		},
	}
	return p
}

const (
	marginLeft   = 60.0
	marginRight  = 90.0
	marginTop    = 20.0
	marginBottom = 50.0
)

// Plot renders the request as a PNG and records the point set for later
// lasso selection.
func (p *Plotter) Plot(req Request) ([]byte, error) {
	if len(req.X) != len(req.Y) {
		return nil, fmt.Errorf("%w: x has %d, y has %d", ErrVectorLengthMismatch, len(req.X), len(req.Y))
	}
	faceColors, err := p.resolveColors(req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.points = make([]orb.Point, len(req.X))
	for i := range req.X {
		p.points[i] = orb.Point{req.X[i], req.Y[i]}
	}
	p.colors = faceColors
	p.lastMask = nil

	dc := p.contextPool.Get().(*gg.Context)
	defer p.contextPool.Put(dc)
	dc.SetColor(color.White)
	dc.Clear()

	plotW := float64(p.config.Width) - marginLeft - marginRight
	plotH := float64(p.config.Height) - marginTop - marginBottom
	xMin, xMax := bounds(req.X)
	yMin, yMax := bounds(req.Y)

	toPx := func(x, y float64) (float64, float64) {
		px := marginLeft + (x-xMin)/(xMax-xMin)*plotW
		py := marginTop + (1-(y-yMin)/(yMax-yMin))*plotH
		return px, py
	}

	for i, pt := range p.points {
		c, err := colormap.ParseHex(p.colors[i])
		if err != nil {
			c = color.RGBA{A: 255}
		}
		dc.SetColor(c)
		px, py := toPx(pt[0], pt[1])
		dc.DrawCircle(px, py, p.config.PointRadius)
		dc.Fill()
	}

	p.drawAxes(dc, req, plotW, plotH)
	if req.Color != nil {
		if req.Color.IsCategorical() {
			p.drawLegend(dc, req.Color)
		} else {
			p.drawColorbar(dc, req.ColorLabel, plotH)
		}
	}
	return p.encodeContext(dc)
}

// resolveColors produces one hex color per point. A missing or uniform
// face color is broadcast so that selection highlighting always has
// per-point colors to work with.
func (p *Plotter) resolveColors(req Request) ([]string, error) {
	n := len(req.X)
	out := make([]string, n)

	if req.Color == nil {
		for i := range out {
			out[i] = "#1f77b4"
		}
		return out, nil
	}
	if req.Color.IsCategorical() {
		if len(req.Color.Categories) != n {
			return nil, fmt.Errorf("%w: color has %d, points %d",
				ErrVectorLengthMismatch, len(req.Color.Categories), n)
		}
		for i, cat := range req.Color.Categories {
			out[i] = req.Color.Palette[cat]
		}
		return out, nil
	}
	if len(req.Color.Floats) != n {
		return nil, fmt.Errorf("%w: color has %d, points %d",
			ErrVectorLengthMismatch, len(req.Color.Floats), n)
	}
	cmap := colormap.ByName(p.config.DefaultColormap)
	lo, hi := bounds(req.Color.Floats)
	for i, v := range req.Color.Floats {
		out[i] = colormap.Hex(cmap.At((v - lo) / (hi - lo)))
	}
	return out, nil
}

// LassoSelect resolves a closed polygon to a membership mask over the last
// plotted point set, in data coordinates. The mask is retained for Export.
func (p *Plotter) LassoSelect(vertices [][2]float64) ([]bool, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("lasso needs at least 3 vertices, got %d", len(vertices))
	}
	ring := make(orb.Ring, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, orb.Point{v[0], v[1]})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	poly := orb.Polygon{ring}

	p.mu.Lock()
	defer p.mu.Unlock()
	mask := make([]bool, len(p.points))
	hits := 0
	for i, pt := range p.points {
		if planar.PolygonContains(poly, pt) {
			mask[i] = true
			hits++
		}
	}
	p.lastMask = mask
	p.logger.Info("lasso selection", zap.Int("selected", hits), zap.Int("of", len(mask)))
	out := make([]bool, len(mask))
	copy(out, mask)
	return out, nil
}

// Export writes the last lasso mask into the target table as a categorical
// column.
func (p *Plotter) Export(target *sdata.Table, column string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastMask == nil {
		return ErrNoSelectionMade
	}
	values := make([]string, len(p.lastMask))
	for i, in := range p.lastMask {
		if in {
			values[i] = "true"
		} else {
			values[i] = "false"
		}
	}
	return target.SetColumn(column, sdata.NewCategoricalColumn(values))
}

func (p *Plotter) drawAxes(dc *gg.Context, req Request, plotW, plotH float64) {
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawLine(marginLeft, marginTop, marginLeft, marginTop+plotH)
	dc.DrawLine(marginLeft, marginTop+plotH, marginLeft+plotW, marginTop+plotH)
	dc.Stroke()
	if req.XLabel != "" {
		dc.DrawStringAnchored(req.XLabel, marginLeft+plotW/2, marginTop+plotH+30, 0.5, 0.5)
	}
	if req.YLabel != "" {
		dc.Push()
		dc.RotateAbout(-math.Pi/2, 20, marginTop+plotH/2)
		dc.DrawStringAnchored(req.YLabel, 20, marginTop+plotH/2, 0.5, 0.5)
		dc.Pop()
	}
}

func (p *Plotter) drawColorbar(dc *gg.Context, label string, plotH float64) {
	cmap := colormap.ByName(p.config.DefaultColormap)
	x := float64(p.config.Width) - marginRight + 20
	barW := 15.0
	steps := int(plotH)
	for i := 0; i < steps; i++ {
		t := 1 - float64(i)/float64(steps-1)
		dc.SetColor(cmap.At(t))
		dc.DrawRectangle(x, marginTop+float64(i), barW, 1)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	if label != "" {
		dc.DrawStringAnchored(label, x+barW/2, marginTop+plotH+15, 0.5, 0.5)
	}
}

func (p *Plotter) drawLegend(dc *gg.Context, v *sdata.Vector) {
	seen := make(map[string]struct{})
	x := float64(p.config.Width) - marginRight + 15
	y := marginTop + 10
	for _, cat := range v.Categories {
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		c, err := colormap.ParseHex(v.Palette[cat])
		if err != nil {
			c = color.RGBA{A: 255}
		}
		dc.SetColor(c)
		dc.DrawRectangle(x, y-5, 10, 10)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(cat, x+15, y, 0, 0.5)
		y += 16
	}
}

func (p *Plotter) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := p.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		p.bufferPool.Put(buf)
	}()
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

func bounds(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if lo == hi {
		return lo - 0.5, hi + 0.5
	}
	return lo, hi
}
