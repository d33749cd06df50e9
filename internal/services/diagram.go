package services

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	diagramWidth  = 800
	diagramHeight = 600
)

// DiagramKind names a shape the renderer can draw deterministically.
type DiagramKind string

const (
	DiagramParabola      DiagramKind = "parabola"
	DiagramNeuralNetwork DiagramKind = "neural_network"
)

// diagramKindFor maps free-form topic text onto a renderable shape.
func diagramKindFor(topic string) (DiagramKind, bool) {
	t := strings.ToLower(topic)
	switch {
	case strings.Contains(t, "parabola") || strings.Contains(t, "quadratic"):
		return DiagramParabola, true
	case strings.Contains(t, "neural network") || strings.Contains(t, "deep learning") || strings.Contains(t, "perceptron"):
		return DiagramNeuralNetwork, true
	}
	return "", false
}

// RenderDiagram draws the named shape and returns PNG bytes. Output is fully
// deterministic for a given kind.
func RenderDiagram(kind DiagramKind) ([]byte, error) {
	dc := gg.NewContext(diagramWidth, diagramHeight)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	face, err := diagramFace(18)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)

	switch kind {
	case DiagramParabola:
		drawParabola(dc)
	case DiagramNeuralNetwork:
		drawNeuralNetwork(dc)
	default:
		return nil, fmt.Errorf("unknown diagram kind %q", kind)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func diagramFace(size float64) (font.Face, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

func drawParabola(dc *gg.Context) {
	cx := float64(diagramWidth) / 2
	baseY := float64(diagramHeight) - 80.0

	// Axes.
	dc.SetRGB(0.2, 0.2, 0.2)
	dc.SetLineWidth(2)
	dc.DrawLine(60, baseY, float64(diagramWidth)-60, baseY)
	dc.DrawLine(cx, 60, cx, float64(diagramHeight)-40)
	dc.Stroke()

	// y = x^2 scaled into the frame, vertex at the origin.
	dc.SetRGB(0.1, 0.35, 0.8)
	dc.SetLineWidth(3)
	first := true
	for px := -300.0; px <= 300.0; px += 2 {
		x := px / 60.0
		y := x * x
		sx := cx + px
		sy := baseY - y*16
		if sy < 40 {
			continue
		}
		if first {
			dc.MoveTo(sx, sy)
			first = false
		} else {
			dc.LineTo(sx, sy)
		}
	}
	dc.Stroke()

	dc.SetRGB(0.2, 0.2, 0.2)
	dc.DrawStringAnchored("y = x²", cx+120, 120, 0.5, 0.5)
	dc.DrawStringAnchored("vertex", cx, baseY+30, 0.5, 0.5)
}

func drawNeuralNetwork(dc *gg.Context) {
	layers := []int{3, 4, 2}
	labels := []string{"input", "hidden", "output"}
	xs := []float64{160, 400, 640}
	radius := 26.0

	centers := make([][]gg.Point, len(layers))
	for li, n := range layers {
		centers[li] = make([]gg.Point, n)
		gap := float64(diagramHeight-160) / float64(n+1)
		for i := 0; i < n; i++ {
			centers[li][i] = gg.Point{X: xs[li], Y: 110 + gap*float64(i+1)}
		}
	}

	// Edges first so nodes paint over them.
	dc.SetRGB(0.6, 0.6, 0.6)
	dc.SetLineWidth(1.5)
	for li := 0; li < len(layers)-1; li++ {
		for _, from := range centers[li] {
			for _, to := range centers[li+1] {
				angle := math.Atan2(to.Y-from.Y, to.X-from.X)
				dc.DrawLine(
					from.X+radius*math.Cos(angle), from.Y+radius*math.Sin(angle),
					to.X-radius*math.Cos(angle), to.Y-radius*math.Sin(angle),
				)
			}
		}
	}
	dc.Stroke()

	for li, layer := range centers {
		for _, p := range layer {
			dc.SetRGB(1, 1, 1)
			dc.DrawCircle(p.X, p.Y, radius)
			dc.FillPreserve()
			dc.SetRGB(0.1, 0.35, 0.8)
			dc.SetLineWidth(2.5)
			dc.Stroke()
		}
		dc.SetRGB(0.2, 0.2, 0.2)
		dc.DrawStringAnchored(labels[li], xs[li], float64(diagramHeight)-50, 0.5, 0.5)
	}
}
