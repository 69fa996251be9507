// Package scorecard renders a shareable PNG summary of an analysis.
package scorecard

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/lox/fairweather/internal/analysis"
	"github.com/lox/fairweather/internal/models"
)

// Width and Height are the Open Graph image dimensions.
const (
	Width  = 1200
	Height = 630
)

// Data is what the card shows.
type Data struct {
	Title          string
	Date           string
	Score          int
	Risk           string
	Path           string
	Preset         string
	Temperature    float64
	RainChance     float64
	AQI            int
	AQICategory    string
	Recommendation string
}

// FromResult extracts card data from an analysis.
func FromResult(r *analysis.Result) Data {
	title := r.Location.Name
	if title == "" {
		title = fmt.Sprintf("%.4f, %.4f", r.Location.Latitude, r.Location.Longitude)
	}
	d := Data{
		Title:       title,
		Date:        r.Date,
		Score:       int(r.SuitabilityScore),
		Risk:        string(r.RiskAssessment.OverallRisk),
		Path:        string(r.Path),
		Temperature: r.ExpectedTemperature(),
		RainChance:  r.Probabilities.Get(models.Rain),
		AQI:         r.AirQuality.AQI,
		AQICategory: r.AirQuality.Category,
	}
	if r.Preset != nil {
		d.Preset = r.Preset.Name
	}
	if len(r.RiskAssessment.Recommendations) > 0 {
		d.Recommendation = r.RiskAssessment.Recommendations[0]
	}
	return d
}

// Background returns the card colour for a score.
func Background(score int) color.RGBA {
	switch {
	case score >= 75:
		return color.RGBA{24, 110, 70, 255}
	case score >= 50:
		return color.RGBA{160, 110, 20, 255}
	default:
		return color.RGBA{150, 40, 40, 255}
	}
}

// Render draws the card and encodes it as PNG.
func Render(d Data) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))

	bg := Background(d.Score)
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			img.SetRGBA(x, y, bg)
		}
	}
	drawGradientOverlay(img)

	white := color.RGBA{255, 255, 255, 255}
	lightGray := color.RGBA{220, 220, 220, 255}

	drawText(img, truncate(d.Title, 40), 60, 60, 4, white)
	sub := d.Date
	if d.Preset != "" {
		sub += "  |  " + d.Preset
	}
	drawText(img, sub, 60, 130, 3, lightGray)

	drawText(img, fmt.Sprintf("%d", d.Score), 60, 200, 14, white)
	drawText(img, "/100", 60+len(fmt.Sprintf("%d", d.Score))*7*14+10, 320, 4, lightGray)

	drawText(img, fmt.Sprintf("Risk: %s", d.Risk), 700, 220, 3, white)
	drawText(img, fmt.Sprintf("Temp: %.1f C", d.Temperature), 700, 280, 3, white)
	drawText(img, fmt.Sprintf("Rain: %.0f%%", d.RainChance), 700, 340, 3, white)
	drawText(img, fmt.Sprintf("AQI: %d %s", d.AQI, d.AQICategory), 700, 400, 3, white)

	if d.Recommendation != "" {
		drawText(img, truncate(d.Recommendation, 80), 60, Height-110, 2, lightGray)
	}
	drawText(img, "fairweather  |  "+d.Path, 60, Height-60, 2, lightGray)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode score card: %w", err)
	}
	return buf.Bytes(), nil
}

// drawGradientOverlay darkens the bottom of the card.
func drawGradientOverlay(img *image.RGBA) {
	bounds := img.Bounds()
	gradientHeight := 250

	for y := bounds.Max.Y - gradientHeight; y < bounds.Max.Y; y++ {
		progress := float64(y-(bounds.Max.Y-gradientHeight)) / float64(gradientHeight)
		alpha := progress * progress * 0.6

		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			orig := img.RGBAAt(x, y)
			orig.R = uint8(float64(orig.R) * (1 - alpha))
			orig.G = uint8(float64(orig.G) * (1 - alpha))
			orig.B = uint8(float64(orig.B) * (1 - alpha))
			img.SetRGBA(x, y, orig)
		}
	}
}

// drawText renders text with the 7x13 bitmap face and blits it enlarged by
// an integer scale with nearest-neighbour sampling. (x, y) is the top-left.
func drawText(img *image.RGBA, text string, x, y, scale int, col color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	if w == 0 {
		return
	}
	h := face.Height
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(text)

	bounds := img.Bounds()
	for dy := 0; dy < h*scale; dy++ {
		for dx := 0; dx < w*scale; dx++ {
			px, py := x+dx, y+dy
			if !image.Pt(px, py).In(bounds) {
				continue
			}
			if mask.AlphaAt(dx/scale, dy/scale).A > 127 {
				img.SetRGBA(px, py, col)
			}
		}
	}
}

// basicfont only covers printable ASCII; anything else is replaced.
func truncate(s string, n int) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '?'
		}
		return r
	}, s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
